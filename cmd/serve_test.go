package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/opengs/ragchunk"
	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/chunker/recursive"
	"github.com/opengs/ragchunk/embedder/testlib"
	"github.com/opengs/ragchunk/internal/logger"
	"github.com/opengs/ragchunk/storage"
	"github.com/opengs/ragchunk/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOptions = chunker.Options{ChunkSize: 16, ChunkOverlap: 2}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, withEngine bool) *gin.Engine {
	t.Helper()

	var engine *ragchunk.Engine
	if withEngine {
		var err error
		engine, err = ragchunk.NewEngine(memory.NewMemoryStorage(64), testlib.NewHashEmbedder(64), ragchunk.StrategyRecursive, testOptions)
		require.NoError(t, err)
	}
	return newRouter(ragchunk.StrategyRecursive, testOptions, engine, logger.Discard())
}

func doRequest(t *testing.T, router http.Handler, method string, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &value), recorder.Body.String())
	return value
}

func TestPresetsEndpoint(t *testing.T) {
	router := newTestRouter(t, false)

	recorder := doRequest(t, router, http.MethodGet, "/presets", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	response := decode[struct {
		Presets []chunker.Preset `json:"presets"`
	}](t, recorder)
	assert.Equal(t, chunker.Presets(), response.Presets)
}

func TestChunkEndpoint(t *testing.T) {
	router := newTestRouter(t, false)
	text := "First paragraph with a few words.\n\nSecond paragraph, also short. It has two sentences."

	type chunksResponse struct {
		Chunks []chunker.Chunk `json:"chunks"`
	}

	t.Run("ServerOptions", func(t *testing.T) {
		expected, err := recursive.Chunk(text, testOptions)
		require.NoError(t, err)

		recorder := doRequest(t, router, http.MethodPost, "/chunk", gin.H{"text": text})
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, expected, decode[chunksResponse](t, recorder).Chunks)
	})

	t.Run("RequestOptions", func(t *testing.T) {
		options := chunker.Options{ChunkSize: 8, ChunkOverlap: 0, Separators: []string{". ", " "}}
		expected, err := recursive.Chunk(text, options)
		require.NoError(t, err)

		recorder := doRequest(t, router, http.MethodPost, "/chunk", gin.H{
			"text":         text,
			"chunkSize":    8,
			"chunkOverlap": 0,
			"separators":   []string{". ", " "},
		})
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, expected, decode[chunksResponse](t, recorder).Chunks)
	})

	t.Run("Preset", func(t *testing.T) {
		recorder := doRequest(t, router, http.MethodPost, "/chunk", gin.H{"text": text, "preset": "small"})
		require.Equal(t, http.StatusOK, recorder.Code)

		chunks := decode[chunksResponse](t, recorder).Chunks
		require.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0].Content)
	})

	t.Run("EmptyText", func(t *testing.T) {
		recorder := doRequest(t, router, http.MethodPost, "/chunk", gin.H{"text": "   "})
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t, `{"chunks":[]}`, recorder.Body.String())
	})

	for name, body := range map[string]any{
		"UnknownPreset":   gin.H{"text": text, "preset": "huge"},
		"UnknownStrategy": gin.H{"text": text, "strategy": "semantic"},
		"ZeroChunkSize":   gin.H{"text": text, "chunkSize": 0},
		"HugeWindow":      gin.H{"text": text, "strategy": "window", "chunkSize": 1 << 61},
		"InvalidJSON":     "{",
	} {
		t.Run(name, func(t *testing.T) {
			recorder := doRequest(t, router, http.MethodPost, "/chunk", body)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Contains(t, recorder.Body.String(), "error")
		})
	}
}

func TestDocumentEndpointsDisabledWithoutEngine(t *testing.T) {
	router := newTestRouter(t, false)

	recorder := doRequest(t, router, http.MethodPost, "/search", gin.H{"query": "anything"})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doRequest(t, router, http.MethodPost, "/collections/c/documents", gin.H{"path": "a.txt", "text": "a"})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDocumentEndpoints(t *testing.T) {
	router := newTestRouter(t, true)
	text := "Tomatoes need water every morning. The greenhouse stays warm at night. Basil grows next to the door."

	recorder := doRequest(t, router, http.MethodPost, "/collections/garden/documents", gin.H{"path": "notes/garden.txt", "text": text})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	document := decode[storage.Document](t, recorder)
	assert.Equal(t, storage.CollectionUUID("garden"), document.Collection)
	assert.Equal(t, "garden.txt", document.Title)
	assert.Greater(t, document.ChunkCount, 1)

	chunksURL := "/collections/garden/documents/" + string(document.UUID) + "/chunks"
	recorder = doRequest(t, router, http.MethodGet, chunksURL, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	chunks := decode[struct {
		Chunks []storage.StoredChunk `json:"chunks"`
	}](t, recorder).Chunks
	require.Len(t, chunks, document.ChunkCount)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Nil(t, chunk.Vector)
	}

	recorder = doRequest(t, router, http.MethodPost, "/search", gin.H{"query": chunks[0].Content, "collections": []string{"garden"}, "limit": 2})
	require.Equal(t, http.StatusOK, recorder.Code)
	results := decode[struct {
		Results []storage.SearchResult `json:"results"`
	}](t, recorder).Results
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, chunks[0].Content, results[0].Chunk.Content)
	assert.Equal(t, document.UUID, results[0].Document.UUID)

	recorder = doRequest(t, router, http.MethodPost, "/search", gin.H{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(t, router, http.MethodPost, "/collections/garden/documents", gin.H{"text": "no path"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(t, router, http.MethodDelete, "/collections/garden/documents/"+string(document.UUID), nil)
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	recorder = doRequest(t, router, http.MethodDelete, "/collections/garden/documents/"+string(document.UUID), nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doRequest(t, router, http.MethodGet, chunksURL, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDocumentEndpointsRejectInvalidCollection(t *testing.T) {
	router := newTestRouter(t, true)

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"Ingest", http.MethodPost, "/collections/%00bad/documents", gin.H{"path": "a.txt", "text": "a"}},
		{"Delete", http.MethodDelete, "/collections/%00bad/documents/1", nil},
		{"ListChunks", http.MethodGet, "/collections/bad%0Aid/documents/1/chunks", nil},
		{"InvalidUTF8", http.MethodPost, "/collections/%FF/documents", gin.H{"path": "a.txt", "text": "a"}},
		{"Search", http.MethodPost, "/search", gin.H{"query": "water", "collections": []string{"bad\x00id"}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recorder := doRequest(t, router, test.method, test.target, test.body)
			assert.Equal(t, http.StatusBadRequest, recorder.Code, recorder.Body.String())
		})
	}
}

func TestUnescapeSeparators(t *testing.T) {
	assert.Equal(t, []string{"\n\n", "\t", ". ", "", `\q`}, unescapeSeparators([]string{`\n\n`, `\t`, ". ", "", `\q`}))
}
