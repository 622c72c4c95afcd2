package openai

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

type OpenAI struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	client          *resty.Client
	model           string
	checkNormalized sync.Once
	normalized      bool
	dimensions      uint32
	retries         int
	retryWait       time.Duration
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func New(model string, apiKey string, config ...Config) *OpenAI {
	openai := &OpenAI{
		baseURL:    "https://api.openai.com/v1",
		httpClient: http.DefaultClient,
		model:      model,
		apiKey:     apiKey,
		dimensions: 1536,
		retries:    3,
		retryWait:  time.Second,
	}

	for _, cfg := range config {
		cfg(openai)
	}

	openai.client = resty.NewWithClient(openai.httpClient).
		SetBaseURL(openai.baseURL).
		SetAuthToken(openai.apiKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(openai.retries).
		SetRetryWaitTime(openai.retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	return openai
}

func (o *OpenAI) GenerateEmbeddings(ctx context.Context, data string) ([]float32, error) {
	var openAIResponse embeddingsResponse
	var openAIError errorResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"input":      data,
			"model":      o.model,
			"dimensions": o.dimensions,
		}).
		SetResult(&openAIResponse).
		SetError(&openAIError).
		ForceContentType("application/json").
		Post("/embeddings")
	if err != nil {
		return nil, errors.Join(errors.New("couldn't send request"), err)
	}

	if resp.StatusCode() != http.StatusOK {
		if openAIError.Error.Message != "" {
			return nil, fmt.Errorf("error response from the embedding API: %s: %s", resp.Status(), openAIError.Error.Message)
		}
		return nil, errors.New("error response from the embedding API: " + resp.Status())
	}

	if len(openAIResponse.Data) == 0 || len(openAIResponse.Data[0].Embedding) == 0 {
		return nil, embedder.ErrEmptyEmbedding
	}

	v := openAIResponse.Data[0].Embedding
	if len(v) != int(o.dimensions) {
		return nil, fmt.Errorf("%w: wanted: %d, returned: %d", embedder.ErrWrongDimensions, o.dimensions, len(v))
	}

	o.checkNormalized.Do(func() {
		o.normalized = lib.IsNormalized(v)
	})
	if !o.normalized {
		lib.NormalizeVectorInPlace(v)
	}

	return v, nil
}

func (o *OpenAI) Dimensions() uint32 {
	return o.dimensions
}

func (o *OpenAI) ModelName() string {
	return o.model
}
