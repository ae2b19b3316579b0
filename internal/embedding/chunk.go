package embedding

import "strings"

// ChunkMethod names one of the chunking strategies.
type ChunkMethod string

const (
	ChunkNone     ChunkMethod = "none"
	ChunkSimple   ChunkMethod = "simple"
	ChunkSentence ChunkMethod = "sentence"
	// ChunkSemantic is accepted as a config value but falls back to
	// ChunkSentence — no true embedding-similarity chunking is
	// implemented.
	ChunkSemantic ChunkMethod = "semantic"
)

// DefaultChunkSize and DefaultChunkOverlap are the chunking defaults:
// DefaultChunkSize applies when the configured size is zero or negative,
// DefaultChunkOverlap when the configured overlap is negative (an overlap
// of zero is kept as zero).
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
	// MinChunkSize is the minimum retained chunk size; a trailing sliver
	// shorter than this is merged into the previous chunk instead of
	// being emitted as its own node.
	MinChunkSize = 100
)

// Chunk is one unit of text carved out of a row's embedding_text, destined
// to become one embedding node.
type Chunk struct {
	Index int
	Total int
	Text  string
}

// Chunker splits text into chunks according to one of the methods.
type Chunker struct {
	Method  ChunkMethod
	Size    int
	Overlap int
}

// NewChunker builds a Chunker from config values, applying the documented
// defaults for zero values and the semantic→sentence fallback.
func NewChunker(method ChunkMethod, size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if method == ChunkSemantic {
		method = ChunkSentence
	}
	if method == "" {
		method = ChunkNone
	}
	return Chunker{Method: method, Size: size, Overlap: overlap}
}

// Split breaks text into chunks per the configured method. A row whose
// text is empty produces no chunks — the row is skipped, not errored.
func (c Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	switch c.Method {
	case ChunkSimple:
		pieces = splitFixedWindow(text, c.Size, c.Overlap)
	case ChunkSentence:
		pieces = splitSentences(text, c.Size)
	default: // ChunkNone and any unrecognized value
		pieces = []string{text}
	}

	pieces = mergeShortTail(pieces, MinChunkSize)

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{Index: i, Total: len(pieces), Text: p}
	}
	return chunks
}

// splitFixedWindow implements the "simple" mode: a fixed-size character
// window advancing by (size - overlap) each step.
func splitFixedWindow(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}
	stride := size - overlap
	if stride <= 0 {
		stride = size
	}

	var out []string
	for start := 0; start < len(text); start += stride {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
		if end == len(text) {
			break
		}
	}
	return out
}

// splitSentences implements the "sentence" mode: split on `. ! ?`
// boundaries, then greedily group consecutive sentences into chunks no
// longer than size.
func splitSentences(text string, size int) []string {
	sentences := splitOnSentenceBoundaries(text)
	if len(sentences) == 0 {
		return []string{text}
	}

	var out []string
	var current strings.Builder
	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s)+1 > size {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

// splitOnSentenceBoundaries splits on '.', '!', '?' followed by
// whitespace, keeping the terminator attached to its sentence.
func splitOnSentenceBoundaries(text string) []string {
	var out []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		isTerminator := r == '.' || r == '!' || r == '?'
		atBoundary := isTerminator && (i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n')
		if atBoundary {
			s := strings.TrimSpace(current.String())
			if s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

// mergeShortTail folds a final piece shorter than minSize into its
// predecessor, so a tiny trailing sliver never becomes its own node.
func mergeShortTail(pieces []string, minSize int) []string {
	if len(pieces) < 2 {
		return pieces
	}
	last := pieces[len(pieces)-1]
	if len(last) < minSize {
		merged := make([]string, len(pieces)-1)
		copy(merged, pieces[:len(pieces)-2])
		merged[len(merged)-1] = strings.TrimSpace(pieces[len(pieces)-2] + " " + last)
		return merged
	}
	return pieces
}
