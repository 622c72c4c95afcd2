package chunker

import (
	"errors"
	"math"
	"unicode/utf8"
)

// Number of characters that are counted as one token.
const CharsPerToken = 4

// Largest size or overlap whose length in characters still fits into int.
const MaxTokens = math.MaxInt / CharsPerToken

var ErrInvalidChunkSize = errors.New("chunk size must be at least 1 token")
var ErrInvalidChunkOverlap = errors.New("chunk overlap can not be negative")
var ErrChunkSizeTooLarge = errors.New("chunk size is too large")
var ErrChunkOverlapTooLarge = errors.New("chunk overlap is too large")

// Boundaries used when no separators are configured. Ordered from the coarsest to the finest; the
// trailing empty string splits text into single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

type Options struct {
	// Maximum number of estimated tokens in one chunk
	ChunkSize int `json:"chunkSize" yaml:"chunk_size"`
	// Number of estimated tokens carried from the tail of one chunk into the head of the next one
	ChunkOverlap int `json:"chunkOverlap" yaml:"chunk_overlap"`
	// Split boundaries from the coarsest to the finest. Empty means [DefaultSeparators]
	Separators []string `json:"separators,omitempty" yaml:"separators"`
}

// Checks preconditions of the options. Overlap bigger than chunk size is allowed.
func (o Options) Validate() error {
	if o.ChunkSize < 1 {
		return ErrInvalidChunkSize
	}
	if o.ChunkSize > MaxTokens {
		return ErrChunkSizeTooLarge
	}
	if o.ChunkOverlap < 0 {
		return ErrInvalidChunkOverlap
	}
	if o.ChunkOverlap > MaxTokens {
		return ErrChunkOverlapTooLarge
	}
	return nil
}

// Returns configured separators or the default ones.
func (o Options) EffectiveSeparators() []string {
	if len(o.Separators) == 0 {
		return DefaultSeparators
	}
	return o.Separators
}

type Metadata struct {
	// Offset in characters of the chunk content (without overlap) inside the original text
	StartChar int `json:"startChar"`
	EndChar   int `json:"endChar"`
}

type Chunk struct {
	Content    string   `json:"content"`
	Index      int      `json:"index"`
	TokenCount int      `json:"tokenCount"`
	Metadata   Metadata `json:"metadata"`
}

// Splits one document into the ordered list of chunks. Implementations hold no state between calls
// and are safe for concurrent use.
type Chunker interface {
	Chunk(text string) ([]Chunk, error)
}

// Estimates number of tokens as ceil(characters / 4). Not a real tokenizer.
func EstimateTokenCount(text string) int {
	return (utf8.RuneCountInString(text) + CharsPerToken - 1) / CharsPerToken
}
