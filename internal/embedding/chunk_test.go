package embedding

import "testing"

func TestChunkerSplitNoneMode(t *testing.T) {
	c := NewChunker(ChunkNone, 0, 0)
	chunks := c.Split("hello world")
	if len(chunks) != 1 || chunks[0].Text != "hello world" {
		t.Fatalf("expected one whole-text chunk, got %+v", chunks)
	}
}

func TestChunkerSplitEmptyTextSkipsRow(t *testing.T) {
	c := NewChunker(ChunkSimple, 512, 50)
	if chunks := c.Split("   "); chunks != nil {
		t.Fatalf("expected nil chunks for empty text, got %+v", chunks)
	}
}

func TestChunkerSemanticFallsBackToSentence(t *testing.T) {
	c := NewChunker(ChunkSemantic, 512, 50)
	if c.Method != ChunkSentence {
		t.Fatalf("expected semantic to fall back to sentence, got %s", c.Method)
	}
}

func TestChunkerSimpleModeWindowing(t *testing.T) {
	// 1100-char text, chunk_size=512, overlap=50: a 462-char stride
	// yields exactly 3 chunks.
	text := make([]byte, 1100)
	for i := range text {
		text[i] = byte('a' + i%26)
	}
	c := NewChunker(ChunkSimple, 512, 50)
	chunks := c.Split(string(text))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d: expected index %d, got %d", i, i, ch.Index)
		}
		if ch.Total != 3 {
			t.Errorf("chunk %d: expected total 3, got %d", i, ch.Total)
		}
	}
}

func TestChunkerSentenceModeGroupsByBoundary(t *testing.T) {
	text := "First sentence here. Second sentence here. Third one follows. Fourth and final sentence."
	c := NewChunker(ChunkSentence, 40, 0)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks from sentence splitting, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch.Text) > 80 {
			t.Errorf("chunk exceeds a reasonable bound given size=40: %q", ch.Text)
		}
	}
}

func TestMergeShortTailFoldsTrailingSliver(t *testing.T) {
	pieces := []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "tiny"}
	merged := mergeShortTail(pieces, MinChunkSize)
	if len(merged) != 1 {
		t.Fatalf("expected tail merged into predecessor, got %d pieces", len(merged))
	}
}
