package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI embedding models.
const (
	// ModelOpenAI3Small is the small embedding model (1536 dims, customizable).
	ModelOpenAI3Small = "text-embedding-3-small"

	// ModelOpenAI3Large is the large embedding model (3072 dims, customizable).
	ModelOpenAI3Large = "text-embedding-3-large"
)

const (
	openAIMaxBatch   = 2048
	openAIDefaultDim = 1536
)

// OpenAI implements [Embedder] over an OpenAI-compatible embeddings API.
// Besides OpenAI itself it serves SiliconFlow (WithBaseURL +
// WithProvider) and DashScope ([NewDashScope]).
type OpenAI struct {
	client   *openai.Client
	provider string
	model    string
	dim      int
	maxBatch int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	return newOpenAICompat(apiKey, config{
		provider: "openai",
		model:    ModelOpenAI3Small,
		dim:      openAIDefaultDim,
		maxBatch: openAIMaxBatch,
	}, opts)
}

func newOpenAICompat(apiKey string, defaults config, opts []Option) *OpenAI {
	cfg := newConfig(defaults, opts)

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0), // retries are owned by Retry
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAI{
		client:   &client,
		provider: cfg.provider,
		model:    cfg.model,
		dim:      cfg.dim,
		maxBatch: cfg.maxBatch,
	}
}

// EmbedBatch returns embeddings for texts, splitting them into calls of
// at most the provider's batch size.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += o.maxBatch {
		end := min(i+o.maxBatch, len(texts))
		vecs, err := o.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed: %s batch [%d:%d]: %w", o.provider, i, end, err)
		}
		copy(result[i:], vecs)
	}
	if err := checkVectors(result, len(texts)); err != nil {
		return nil, err
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (o *OpenAI) Dimension() int { return o.dim }

// Model returns the model identifier.
func (o *OpenAI) Model() string { return o.model }

// Fingerprint returns "provider:model:dim".
func (o *OpenAI) Fingerprint() string { return Fingerprint(o.provider, o.model, o.dim) }

func (o *OpenAI) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.dim > 0 {
		params.Dimensions = openai.Int(int64(o.dim))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, len(texts))
		}
		vecs[idx] = toFloat32(item.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: index %d", ErrEmptyVector, i)
		}
	}
	return vecs, nil
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
