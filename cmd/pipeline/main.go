package main

import (
	"realestate-kb-pipeline/cmd/pipeline/cmd"
	"realestate-kb-pipeline/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
