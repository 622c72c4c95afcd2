package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/opengs/ragchunk/embedder"
	"github.com/opengs/ragchunk/embedder/lib"
)

type Ollama struct {
	baseURL         string
	httpClient      *http.Client
	client          *resty.Client
	model           string
	checkNormalized sync.Once
	normalized      bool
	dimensions      uint32
	retries         int
	retryWait       time.Duration
}

func New(model string, config ...Config) *Ollama {
	ollama := &Ollama{
		baseURL:    "http://localhost:11434/api",
		httpClient: http.DefaultClient,
		model:      model,
		dimensions: 768,
		retries:    2,
		retryWait:  500 * time.Millisecond,
	}

	for _, cfg := range config {
		cfg(ollama)
	}

	ollama.client = resty.NewWithClient(ollama.httpClient).
		SetBaseURL(ollama.baseURL).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(ollama.retries).
		SetRetryWaitTime(ollama.retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return ollama
}

func (o *Ollama) PullModel(ctx context.Context) error {
	var responseData struct {
		Status string `json:"status"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"name":   o.model,
			"stream": false,
		}).
		SetResult(&responseData).
		ForceContentType("application/json").
		Post("/pull")
	if err != nil {
		return errors.Join(errors.New("couldn't send request"), err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("bad status code from ollama server: code [%d], body [%s]", resp.StatusCode(), resp.String())
	}

	if responseData.Status != "success" {
		return fmt.Errorf("bad response status: %s", responseData.Status)
	}

	return nil
}

func (o *Ollama) GenerateEmbeddings(ctx context.Context, data string) ([]float32, error) {
	var ollamaResponse struct {
		Embedding []float32 `json:"embedding"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"model":  o.model,
			"prompt": data,
		}).
		SetResult(&ollamaResponse).
		ForceContentType("application/json").
		Post("/embeddings")
	if err != nil {
		return nil, errors.Join(errors.New("couldn't send request"), err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, errors.New("error response from the embedding API: " + resp.Status())
	}

	if len(ollamaResponse.Embedding) == 0 {
		return nil, embedder.ErrEmptyEmbedding
	}

	if len(ollamaResponse.Embedding) != int(o.dimensions) {
		return nil, fmt.Errorf("%w: wanted: %d, returned: %d", embedder.ErrWrongDimensions, o.dimensions, len(ollamaResponse.Embedding))
	}

	v := ollamaResponse.Embedding
	o.checkNormalized.Do(func() {
		o.normalized = lib.IsNormalized(v)
	})
	if !o.normalized {
		lib.NormalizeVectorInPlace(v)
	}

	return v, nil
}

func (o *Ollama) Dimensions() uint32 {
	return o.dimensions
}

func (o *Ollama) ModelName() string {
	return o.model
}
