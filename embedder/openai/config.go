package openai

import (
	"net/http"
	"time"
)

type Config func(o *OpenAI)

func WithBaseURL(baseURL string) Config {
	return func(o *OpenAI) {
		o.baseURL = baseURL
	}
}

func WithHTTPClient(httpClient *http.Client) Config {
	return func(o *OpenAI) {
		o.httpClient = httpClient
	}
}

func WithDimensions(dimensions uint32) Config {
	return func(o *OpenAI) {
		o.dimensions = dimensions
	}
}

// Number of retries for rate limited and failed requests. Zero disables retries.
func WithRetries(retries int, wait time.Duration) Config {
	return func(o *OpenAI) {
		o.retries = retries
		o.retryWait = wait
	}
}
