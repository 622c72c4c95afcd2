package ollama

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opengs/ragchunk/embedder"
	"github.com/opengs/ragchunk/embedder/lib"
	"github.com/opengs/ragchunk/embedder/testlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllama(t *testing.T) {
	ollamaBaseURL := os.Getenv("TEST_EMBEDDER_OLLAMA_BASEURL")
	if ollamaBaseURL == "" {
		t.Skip("TEST_EMBEDDER_OLLAMA_BASEURL is not configured")
	}

	emb := New("all-minilm", WithBaseURL(ollamaBaseURL), WithDimensions(384))
	if err := emb.PullModel(t.Context()); err != nil {
		t.Error(err.Error())
		return
	}
	testlib.TestEmbedder(t, emb)
}

func fakeServer(t *testing.T, embedding []float32) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/embeddings":
			assert.Equal(t, "test-model", body["model"])
			assert.NotEmpty(t, body["prompt"])
			json.NewEncoder(w).Encode(map[string]any{"embedding": embedding})
		case "/api/pull":
			assert.Equal(t, "test-model", body["name"])
			json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOllamaGenerateEmbeddings(t *testing.T) {
	server := fakeServer(t, []float32{3, 4})
	emb := New("test-model", WithBaseURL(server.URL+"/api"), WithDimensions(2), WithRetries(0, 0))

	require.NoError(t, emb.PullModel(t.Context()))

	v, err := emb.GenerateEmbeddings(t.Context(), "hello")
	require.NoError(t, err)
	assert.True(t, lib.IsNormalized(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.Equal(t, uint32(2), emb.Dimensions())
	assert.Equal(t, "test-model", emb.ModelName())
}

func TestOllamaWrongDimensions(t *testing.T) {
	server := fakeServer(t, []float32{1, 0, 0})
	emb := New("test-model", WithBaseURL(server.URL+"/api"), WithDimensions(2), WithRetries(0, 0))

	_, err := emb.GenerateEmbeddings(t.Context(), "hello")
	assert.ErrorIs(t, err, embedder.ErrWrongDimensions)
}

func TestOllamaEmptyEmbedding(t *testing.T) {
	server := fakeServer(t, nil)
	emb := New("test-model", WithBaseURL(server.URL+"/api"), WithDimensions(2), WithRetries(0, 0))

	_, err := emb.GenerateEmbeddings(t.Context(), "hello")
	assert.ErrorIs(t, err, embedder.ErrEmptyEmbedding)
}

func TestOllamaErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	emb := New("test-model", WithBaseURL(server.URL), WithRetries(0, 0))
	_, err := emb.GenerateEmbeddings(t.Context(), "hello")
	assert.Error(t, err)
	assert.Error(t, emb.PullModel(t.Context()))
}
