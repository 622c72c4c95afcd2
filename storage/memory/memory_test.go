package memory

import (
	"testing"

	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/storage"
	"github.com/opengs/ragchunk/storage/testlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	testlib.TestStorage(t, NewMemoryStorage(64), 64)
}

func TestSearchOrderedByScore(t *testing.T) {
	s := NewMemoryStorage(2)

	_, err := s.GetOrCreateCollection(t.Context(), "c", "", "")
	require.NoError(t, err)
	document, _, err := s.GetOrCreateDocument(t.Context(), "c", "doc.txt", "etag", testlib.ProcessorVersion())
	require.NoError(t, err)

	vectors := [][]float32{{0, 1}, {1, 0}, {0.7071, 0.7071}}
	for i, vector := range vectors {
		_, err := s.PutChunk(t.Context(), "c", document.UUID, chunker.Chunk{Content: "chunk", Index: i}, vector)
		require.NoError(t, err)
	}

	results, err := s.SearchSimilarChunks(t.Context(), []float32{1, 0}, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Chunk.Index)
	assert.Equal(t, 2, results[1].Chunk.Index)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	assert.InDelta(t, 0.7071, results[1].Score, 1e-3)
}

func TestStoredVectorIsCopied(t *testing.T) {
	s := NewMemoryStorage(2)

	_, err := s.GetOrCreateCollection(t.Context(), "c", "", "")
	require.NoError(t, err)
	document, _, err := s.GetOrCreateDocument(t.Context(), "c", "doc.txt", "etag", testlib.ProcessorVersion())
	require.NoError(t, err)

	vector := []float32{1, 0}
	_, err = s.PutChunk(t.Context(), "c", document.UUID, chunker.Chunk{Content: "chunk"}, vector)
	require.NoError(t, err)
	vector[0] = 5

	chunks, err := s.ListChunks(t.Context(), "c", document.UUID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []float32{1, 0}, chunks[0].Vector)
}

func TestDeletedDocumentPathCanBeReused(t *testing.T) {
	s := NewMemoryStorage(2)

	_, err := s.GetOrCreateCollection(t.Context(), "c", "", "")
	require.NoError(t, err)
	document, _, err := s.GetOrCreateDocument(t.Context(), "c", "doc.txt", "etag", testlib.ProcessorVersion())
	require.NoError(t, err)
	require.NoError(t, s.DeleteDocument(t.Context(), "c", document.UUID))

	recreated, created, err := s.GetOrCreateDocument(t.Context(), "c", "doc.txt", "etag2", testlib.ProcessorVersion())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, document.UUID, recreated.UUID)
	assert.Equal(t, "etag2", recreated.ETag)

	_, err = s.GetDocument(t.Context(), "c", document.UUID)
	assert.ErrorIs(t, err, storage.ErrDocumentDoesntExist)
}
