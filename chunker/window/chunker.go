// Package window cuts text into fixed-size character windows that slide over the text with the
// configured overlap. Boundaries ignore words and sentences.
package window

import (
	"strings"
	"unicode/utf8"

	"github.com/opengs/ragchunk/chunker"
)

type Chunker struct {
	maxTokens int
	slide     int
}

// Creates new chunker with maximum tokens in one chunk `window` and `slide` overlap between chunks.
func New(window int, slide int) (*Chunker, error) {
	options := chunker.Options{ChunkSize: window, ChunkOverlap: slide}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	return &Chunker{
		maxTokens: window,
		slide:     slide,
	}, nil
}

func FromOptions(options chunker.Options) (*Chunker, error) {
	return New(options.ChunkSize, options.ChunkOverlap)
}

// Number of characters between starts of two neighbouring windows. Never zero, even when the slide
// is not smaller than the window.
func (c *Chunker) step() int {
	step := c.maxTokens - c.slide
	if step < 1 {
		step = 1
	}
	return step * chunker.CharsPerToken
}

type window struct {
	start int
	end   int
}

func (c *Chunker) windows(charCount int) []window {
	var windows []window
	// Both are capped by the text length, so i+step can not overflow.
	width := min(c.maxTokens*chunker.CharsPerToken, charCount)
	step := min(c.step(), charCount)
	for i := 0; i < charCount; i += step {
		end := i + width
		if end > charCount {
			end = charCount // ensure no out-of-bounds
		}
		windows = append(windows, window{start: i, end: end})

		if end == charCount {
			break // stop when end reaches the end of string
		}
	}

	return windows
}

func (c *Chunker) Chunk(text string) ([]chunker.Chunk, error) {
	chunks := []chunker.Chunk{}
	if strings.TrimSpace(text) == "" {
		return chunks, nil
	}

	// Byte offset of every character plus the end of the text
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	for _, w := range c.windows(len(offsets) - 1) {
		content := text[offsets[w.start]:offsets[w.end]]
		if strings.TrimSpace(content) == "" {
			continue
		}

		chunks = append(chunks, chunker.Chunk{
			Content:    strings.Clone(content),
			Index:      len(chunks),
			TokenCount: chunker.EstimateTokenCount(content),
			Metadata: chunker.Metadata{
				StartChar: w.start,
				EndChar:   w.end,
			},
		})
	}

	return chunks, nil
}
