// Package recursive splits text on a list of separators from the coarsest to the finest and greedily
// packs the pieces into chunks that fit the token budget.
package recursive

import (
	"strings"
	"unicode/utf8"

	"github.com/opengs/ragchunk/chunker"
)

// Length of the overlap tail that is searched in the next chunk before overlap is prepended.
const overlapTailChars = 50

type Chunker struct {
	options chunker.Options
}

func New(options chunker.Options) (*Chunker, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	return &Chunker{options: options}, nil
}

func (c *Chunker) Options() chunker.Options {
	return c.options
}

func (c *Chunker) Chunk(text string) ([]chunker.Chunk, error) {
	return Chunk(text, c.options)
}

// Splits text into ordered chunks. Empty and whitespace-only text produce empty result.
func Chunk(text string, options chunker.Options) ([]chunker.Chunk, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return []chunker.Chunk{}, nil
	}

	rawChunks := split(text, options.EffectiveSeparators(), options.ChunkSize)
	chunks := locate(text, rawChunks, options.ChunkOverlap)
	if options.ChunkOverlap == 0 || len(chunks) < 2 {
		return chunks, nil
	}

	return withOverlap(chunks, options.ChunkOverlap), nil
}

func tokensForChars(chars int) int {
	return (chars + chunker.CharsPerToken - 1) / chunker.CharsPerToken
}

// Segments joined back with the separator they were split on. Lengths are tracked in characters so
// the candidate chunk does not have to be materialized on every step.
type accumulator struct {
	separator      string
	separatorChars int
	parts          []string
	chars          int
}

func (a *accumulator) empty() bool {
	return a.chars == 0
}

func (a *accumulator) charsWith(segmentChars int) int {
	if a.empty() {
		return segmentChars
	}
	return a.chars + a.separatorChars + segmentChars
}

func (a *accumulator) add(segment string, segmentChars int) {
	if a.empty() {
		a.parts = append(a.parts[:0], segment)
		a.chars = segmentChars
		return
	}
	a.parts = append(a.parts, segment)
	a.chars += a.separatorChars + segmentChars
}

func (a *accumulator) reset() {
	a.parts = a.parts[:0]
	a.chars = 0
}

func (a *accumulator) flush() string {
	s := strings.Join(a.parts, a.separator)
	a.reset()
	return s
}

func split(text string, separators []string, chunkSize int) []string {
	separator := separators[0]
	finer := separators[1:]

	current := accumulator{
		separator:      separator,
		separatorChars: utf8.RuneCountInString(separator),
	}

	var chunks []string
	for _, segment := range strings.Split(text, separator) {
		segmentChars := utf8.RuneCountInString(segment)
		if tokensForChars(current.charsWith(segmentChars)) <= chunkSize {
			current.add(segment, segmentChars)
			continue
		}

		if !current.empty() {
			chunks = append(chunks, current.flush())
		}

		if tokensForChars(segmentChars) > chunkSize && len(finer) > 0 {
			chunks = append(chunks, split(segment, finer, chunkSize)...)
			current.reset()
		} else {
			// Segment fits or can not be split any further
			current.add(segment, segmentChars)
		}
	}

	if !current.empty() {
		chunks = append(chunks, current.flush())
	}

	return chunks
}

// Position in the text tracked both in bytes and in characters.
type cursor struct {
	bytes int
	chars int
}

// Trims raw chunks, drops empty ones and finds their character offsets in the text. Search starts from
// the cursor that only moves forward.
func locate(text string, rawChunks []string, overlap int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, 0, len(rawChunks))
	var pos cursor

	for _, rawChunk := range rawChunks {
		content := strings.TrimSpace(rawChunk)
		if content == "" {
			continue
		}

		startChar, endChar := -1, -1
		if idx := strings.Index(text[pos.bytes:], content); idx >= 0 {
			startByte := pos.bytes + idx
			endByte := startByte + len(content)
			startChar = pos.chars + utf8.RuneCountInString(text[pos.bytes:startByte])
			endChar = startChar + utf8.RuneCountInString(content)

			rewind := overlap * chunker.CharsPerToken
			if endChar-rewind > pos.chars {
				pos = cursor{
					bytes: backwardRunes(text, endByte, rewind),
					chars: endChar - rewind,
				}
			}
		}

		chunks = append(chunks, chunker.Chunk{
			Content:    strings.Clone(content),
			Index:      len(chunks),
			TokenCount: chunker.EstimateTokenCount(content),
			Metadata: chunker.Metadata{
				StartChar: startChar,
				EndChar:   endChar,
			},
		})
	}

	return chunks
}

// Prepends tail of the previous chunk to every next chunk unless the tail is already there.
func withOverlap(chunks []chunker.Chunk, overlap int) []chunker.Chunk {
	overlapped := make([]chunker.Chunk, len(chunks))
	overlapChars := overlap * chunker.CharsPerToken

	for i, chunk := range chunks {
		if i > 0 {
			// Previous content without its own overlap, so growth is bounded by one chunk.
			overlapText := lastRunes(chunks[i-1].Content, overlapChars)
			if !strings.Contains(chunk.Content, lastRunes(overlapText, overlapTailChars)) {
				chunk.Content = strings.TrimSpace(overlapText + " " + chunk.Content)
			}
		}

		chunk.TokenCount = chunker.EstimateTokenCount(chunk.Content)
		overlapped[i] = chunk
	}

	return overlapped
}

// Byte offset that is n characters before pos (or 0).
func backwardRunes(s string, pos int, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:pos])
		pos -= size
	}
	return pos
}

func lastRunes(s string, n int) string {
	return s[backwardRunes(s, len(s), n):]
}
