package chunker

import (
	"errors"
	"fmt"
	"slices"
)

var ErrUnknownPreset = errors.New("unknown chunking preset")

type PresetName string

const (
	PresetSmall     PresetName = "small"
	PresetMedium    PresetName = "medium"
	PresetLarge     PresetName = "large"
	PresetParagraph PresetName = "paragraph"
)

type Preset struct {
	Name         PresetName `json:"name"`
	ChunkSize    int        `json:"chunkSize"`
	ChunkOverlap int        `json:"chunkOverlap"`
	Description  string     `json:"description"`
}

var presets = []Preset{
	{
		Name:         PresetSmall,
		ChunkSize:    256,
		ChunkOverlap: 32,
		Description:  "Small chunks (256 tokens) - Better for precise retrieval",
	},
	{
		Name:         PresetMedium,
		ChunkSize:    512,
		ChunkOverlap: 64,
		Description:  "Medium chunks (512 tokens) - Balanced approach",
	},
	{
		Name:         PresetLarge,
		ChunkSize:    1024,
		ChunkOverlap: 128,
		Description:  "Large chunks (1024 tokens) - More context per chunk",
	},
	{
		Name:         PresetParagraph,
		ChunkSize:    2048,
		ChunkOverlap: 200,
		Description:  "Paragraph-level (2048 tokens) - Natural text boundaries",
	},
}

// Returns copy of all presets ordered from the smallest to the largest.
func Presets() []Preset {
	return slices.Clone(presets)
}

func LookupPreset(name string) (Preset, error) {
	for _, preset := range presets {
		if string(preset.Name) == name {
			return preset, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// Options with the preset size and overlap and default separators.
func PresetOptions(name string) (Options, error) {
	preset, err := LookupPreset(name)
	if err != nil {
		return Options{}, err
	}
	return preset.Options(), nil
}

func (p Preset) Options() Options {
	return Options{
		ChunkSize:    p.ChunkSize,
		ChunkOverlap: p.ChunkOverlap,
	}
}
