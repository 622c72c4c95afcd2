package ragchunk

import (
	"errors"
	"fmt"

	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/chunker/recursive"
	"github.com/opengs/ragchunk/chunker/window"
)

type ChunkStrategy string

const (
	// Recursive separator splitting. Default strategy.
	StrategyRecursive ChunkStrategy = "recursive"
	// Fixed size character windows. Separators are ignored.
	StrategyWindow ChunkStrategy = "window"
)

var ErrUnknownStrategy = errors.New("unknown chunking strategy")

func ChunkStrategies() []ChunkStrategy {
	return []ChunkStrategy{StrategyRecursive, StrategyWindow}
}

// Creates chunker of the strategy. Empty strategy means [StrategyRecursive].
func NewChunker(strategy ChunkStrategy, options chunker.Options) (chunker.Chunker, error) {
	switch strategy {
	case StrategyRecursive, "":
		return recursive.New(options)
	case StrategyWindow:
		return window.FromOptions(options)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}
