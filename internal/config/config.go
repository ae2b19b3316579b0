package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full configuration for one pipeline run.
type Config struct {
	App       App       `mapstructure:"app"`
	Run       Run       `mapstructure:"run"`
	Embedding Embedding `mapstructure:"embedding"`
	Chunking  Chunking  `mapstructure:"chunking"`
	Sinks     Sinks     `mapstructure:"sinks"`
	Sources   Sources   `mapstructure:"sources"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Run holds top-level run configuration.
type Run struct {
	SampleSize  int  `mapstructure:"sample_size"`
	Parallelism int  `mapstructure:"parallelism"`
	StopOnError bool `mapstructure:"stop_on_error"`
}

// Embedding holds the embedding provider and engine configuration.
type Embedding struct {
	Provider     string       `mapstructure:"provider"` // ollama, openai, voyage, gemini, mock
	Model        string       `mapstructure:"model"`
	BatchSize    int          `mapstructure:"batch_size"`
	MaxRetries   int          `mapstructure:"max_retries"`
	RetryDelayMs int          `mapstructure:"retry_delay_ms"`
	TimeoutMs    int          `mapstructure:"timeout_ms"`
	Ollama       OllamaConfig `mapstructure:"ollama"`
	OpenAI       OpenAIConfig `mapstructure:"openai"`
	Voyage       VoyageConfig `mapstructure:"voyage"`
	Gemini       GeminiConfig `mapstructure:"gemini"`
}

// OllamaConfig holds Ollama-specific embedding settings.
type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

// OpenAIConfig holds OpenAI-specific embedding settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// VoyageConfig holds Voyage AI embedding settings.
type VoyageConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig holds Gemini embedding settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Chunking holds embedding-text chunking configuration.
type Chunking struct {
	Enable       bool   `mapstructure:"enable"`
	Method       string `mapstructure:"method"` // none, simple, sentence, semantic (falls back to sentence)
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// Sinks holds the configuration for every sink writer.
type Sinks struct {
	Enabled []string     `mapstructure:"enabled"` // subset of {parquet, search, graph}
	Parquet ParquetSink  `mapstructure:"parquet"`
	Search  SearchSink   `mapstructure:"search"`
	Graph   GraphSink    `mapstructure:"graph"`
	Vector  VectorMirror `mapstructure:"vector"`
}

// ParquetSink configures the columnar file sink.
type ParquetSink struct {
	Path        string   `mapstructure:"path"`
	PartitionBy []string `mapstructure:"partition_by"`
	Compression string   `mapstructure:"compression"` // snappy, zstd, gzip
	Mode        string   `mapstructure:"mode"`        // overwrite ("append" is rejected by validateConfig)
}

// SearchSink configures the search-index sink.
type SearchSink struct {
	Hosts         []string `mapstructure:"hosts"`
	IndexPrefix   string   `mapstructure:"index_prefix"`
	BulkSize      int      `mapstructure:"bulk_size"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	ExcludeFields []string `mapstructure:"exclude_fields"`
}

// GraphSink configures the graph-store sink.
type GraphSink struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// VectorMirror configures the optional pgvector semantic-search mirror.
type VectorMirror struct {
	Enabled          bool   `mapstructure:"enabled"`
	ConnectionString string `mapstructure:"connection_string"`
	Table            string `mapstructure:"table"`
}

// Sources holds the configuration for every source reader.
type Sources struct {
	PropertyPath     string `mapstructure:"property_path"`
	NeighborhoodPath string `mapstructure:"neighborhood_path"`
	WikipediaDSN     string `mapstructure:"wikipedia_dsn"`
	LocationRefPath  string `mapstructure:"location_ref_path"`
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

var globalConfig *Config

// Load loads the configuration from defaults, an optional config file, a
// .env file, and the environment, in that order of increasing precedence.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName("pipeline")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it with defaults if it has
// not been loaded yet.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets every recognized configuration default.
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".pipeline-cache")

	viper.SetDefault("run.sample_size", 0)
	viper.SetDefault("run.parallelism", runtime.NumCPU())
	viper.SetDefault("run.stop_on_error", false)

	viper.SetDefault("embedding.provider", "mock")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.batch_size", 20)
	viper.SetDefault("embedding.max_retries", 3)
	viper.SetDefault("embedding.retry_delay_ms", 1000)
	viper.SetDefault("embedding.timeout_ms", 60000)
	viper.SetDefault("embedding.ollama.host", "http://localhost:11434")
	viper.SetDefault("embedding.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("embedding.voyage.base_url", "https://api.voyageai.com/v1")

	viper.SetDefault("chunking.enable", false)
	viper.SetDefault("chunking.method", "sentence")
	viper.SetDefault("chunking.chunk_size", 512)
	viper.SetDefault("chunking.chunk_overlap", 50)

	viper.SetDefault("sinks.enabled", []string{})
	viper.SetDefault("sinks.parquet.compression", "snappy")
	viper.SetDefault("sinks.parquet.mode", "overwrite")
	viper.SetDefault("sinks.search.bulk_size", 1000)
	viper.SetDefault("sinks.vector.enabled", false)
	viper.SetDefault("sinks.vector.table", "gold_embeddings")

	viper.SetDefault("sources.property_path", "data/properties.json")
	viper.SetDefault("sources.neighborhood_path", "data/neighborhoods.json")
	viper.SetDefault("sources.location_ref_path", "data/locations.json")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// bindEnvironmentVariables wires the recognized secret environment
// variables onto their config keys.
func bindEnvironmentVariables() {
	bindEnvKeys("embedding.openai.api_key", []string{"OPENAI_API_KEY"})
	bindEnvKeys("embedding.voyage.api_key", []string{"VOYAGE_API_KEY"})
	bindEnvKeys("embedding.gemini.api_key", []string{"GEMINI_API_KEY"})
	bindEnvKeys("sinks.search.password", []string{"ES_PASSWORD"})
	bindEnvKeys("sinks.graph.password", []string{"GRAPH_STORE_PASSWORD"})
}

// bindEnvKeys binds the first found environment variable to a viper key.
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandPlaceholders substitutes every `${VAR_NAME}` occurrence in s with
// the named environment variable's value, leaving unset variables as an
// empty string.
func expandPlaceholders(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// postProcessConfig applies the `${VAR_NAME}` placeholder substitution pass
// over every string config field that plausibly carries a secret, and
// validates numeric/duration-shaped values.
func postProcessConfig(config *Config) error {
	config.Embedding.OpenAI.APIKey = expandPlaceholders(config.Embedding.OpenAI.APIKey)
	config.Embedding.Voyage.APIKey = expandPlaceholders(config.Embedding.Voyage.APIKey)
	config.Embedding.Gemini.APIKey = expandPlaceholders(config.Embedding.Gemini.APIKey)
	config.Sinks.Search.Password = expandPlaceholders(config.Sinks.Search.Password)
	config.Sinks.Graph.Password = expandPlaceholders(config.Sinks.Graph.Password)
	config.Sinks.Vector.ConnectionString = expandPlaceholders(config.Sinks.Vector.ConnectionString)

	if config.Run.Parallelism <= 0 {
		config.Run.Parallelism = runtime.NumCPU()
	}

	if config.Embedding.TimeoutMs > 0 {
		if _, err := time.ParseDuration(fmt.Sprintf("%dms", config.Embedding.TimeoutMs)); err != nil {
			return fmt.Errorf("invalid embedding.timeout_ms: %d", config.Embedding.TimeoutMs)
		}
	}

	return nil
}

// validateConfig ensures the configuration is internally consistent,
// returning a ConfigError-kind failure the caller maps to exit code 2.
func validateConfig(config *Config) error {
	var errs []string

	switch config.Embedding.Provider {
	case "ollama", "openai", "voyage", "gemini", "mock":
	default:
		errs = append(errs, fmt.Sprintf("unknown embedding.provider: %s (supported: ollama, openai, voyage, gemini, mock)", config.Embedding.Provider))
	}

	switch config.Embedding.Provider {
	case "openai":
		if config.Embedding.OpenAI.APIKey == "" {
			errs = append(errs, "embedding.provider=openai requires OPENAI_API_KEY")
		}
	case "voyage":
		if config.Embedding.Voyage.APIKey == "" {
			errs = append(errs, "embedding.provider=voyage requires VOYAGE_API_KEY")
		}
	case "gemini":
		if config.Embedding.Gemini.APIKey == "" {
			errs = append(errs, "embedding.provider=gemini requires GEMINI_API_KEY")
		}
	}

	switch config.Chunking.Method {
	case "none", "simple", "sentence", "semantic":
	default:
		errs = append(errs, fmt.Sprintf("unknown chunking.method: %s (supported: none, simple, sentence, semantic)", config.Chunking.Method))
	}

	for _, sink := range config.Sinks.Enabled {
		switch sink {
		case "parquet", "search", "graph":
		default:
			errs = append(errs, fmt.Sprintf("unknown sink in sinks.enabled: %s (supported: parquet, search, graph)", sink))
		}
	}

	switch config.Sinks.Parquet.Mode {
	case "overwrite":
	case "append":
		errs = append(errs, `sinks.parquet.mode="append" is not supported by the columnar sink (it can only overwrite a partition file); use "overwrite"`)
	default:
		errs = append(errs, fmt.Sprintf("unknown sinks.parquet.mode: %s (supported: overwrite)", config.Sinks.Parquet.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// Reset clears the global configuration. Used by tests that need to reload
// with different defaults.
func Reset() {
	globalConfig = nil
	viper.Reset()
}
