package embed

import "net/http"

// config holds shared configuration for embedder implementations.
type config struct {
	provider   string
	model      string
	dim        int
	baseURL    string
	maxBatch   int
	httpClient *http.Client
}

// Option configures an embedder.
type Option func(*config)

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDimension sets the desired output vector dimensionality.
// Not all models support this (e.g. text-embedding-ada-002 is fixed).
func WithDimension(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithProvider overrides the provider name used in the fingerprint, e.g.
// "siliconflow" for an OpenAI-compatible endpoint.
func WithProvider(name string) Option {
	return func(c *config) { c.provider = name }
}

// WithMaxBatch caps the number of texts sent per API call.
func WithMaxBatch(n int) Option {
	return func(c *config) { c.maxBatch = n }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

func newConfig(defaults config, opts []Option) config {
	cfg := defaults
	if cfg.httpClient == nil {
		cfg.httpClient = http.DefaultClient
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBatch <= 0 {
		cfg.maxBatch = defaults.maxBatch
	}
	return cfg
}
