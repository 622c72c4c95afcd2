package testlib

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode"

	"github.com/opengs/ragchunk/embedder"
	"github.com/opengs/ragchunk/embedder/lib"
)

func RandNormalizedEmbedding(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	for i := range vec {
		vec[i] = rand.Float32() // random float32 between 0.0 and 1.0
	}

	lib.NormalizeVectorInPlace(vec)

	return vec
}

// Offline embedder for tests. Every word is hashed into one signed vector component, so texts
// sharing words are similar and texts without common words are (almost) orthogonal.
type HashEmbedder struct {
	dimensions uint32
}

func NewHashEmbedder(dimensions uint32) *HashEmbedder {
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Dimensions() uint32 {
	return h.dimensions
}

func (h *HashEmbedder) ModelName() string {
	return "hash"
}

func (h *HashEmbedder) GenerateEmbeddings(ctx context.Context, data string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dimensions)
	words := strings.FieldsFunc(strings.ToLower(data), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, word := range words {
		hash := fnv.New64a()
		hash.Write([]byte(word))
		sum := hash.Sum64()

		if sum>>63 == 0 {
			vec[sum%uint64(h.dimensions)] += 1
		} else {
			vec[sum%uint64(h.dimensions)] -= 1
		}
	}

	if len(words) == 0 {
		vec[0] = 1
	}
	lib.NormalizeVectorInPlace(vec)

	return vec, nil
}

var _ embedder.Embedder = (*HashEmbedder)(nil)

func TestEmbedder(t *testing.T, emb embedder.Embedder) {
	emb1, err := emb.GenerateEmbeddings(t.Context(), "Hello, world 1!")
	if err != nil {
		t.Error(err.Error())
		return
	}

	emb2, err := emb.GenerateEmbeddings(t.Context(), "Hello, world 2!")
	if err != nil {
		t.Error(err.Error())
		return
	}

	emb3, err := emb.GenerateEmbeddings(t.Context(), "information technology")
	if err != nil {
		t.Error(err.Error())
		return
	}

	if len(emb1) != int(emb.Dimensions()) {
		t.Errorf("expected %d dimensions, got %d", emb.Dimensions(), len(emb1))
		return
	}
	if !lib.IsNormalized(emb1) {
		t.Error("embedding is not normalized")
		return
	}

	similarity, err := lib.DotProduct(emb1, emb2)
	if err != nil {
		t.Error(err.Error())
		return
	}
	if similarity < 0.5 {
		t.Error("Low similarity")
		return
	}

	similarity, err = lib.DotProduct(emb1, emb3)
	if err != nil {
		t.Error(err.Error())
		return
	}
	if similarity > 0.5 {
		t.Error("High similarity")
		return
	}
}
