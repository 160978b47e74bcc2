package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini embedding models.
const (
	ModelGeminiEmbedding001 = "gemini-embedding-001"
	ModelTextEmbedding004   = "text-embedding-004"
)

const (
	geminiMaxBatch   = 100
	geminiDefaultDim = 768
)

// Gemini implements [Embedder] with the Google genai SDK.
type Gemini struct {
	client   *genai.Client
	model    string
	dim      int
	maxBatch int
}

var _ Embedder = (*Gemini)(nil)

// NewGemini creates a Gemini embedder using the Gemini API backend.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	cfg := newConfig(config{
		provider: "gemini",
		model:    ModelGeminiEmbedding001,
		dim:      geminiDefaultDim,
		maxBatch: geminiMaxBatch,
	}, opts)

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("embed: gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.model, dim: cfg.dim, maxBatch: cfg.maxBatch}, nil
}

// EmbedBatch returns embeddings for texts.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	result := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += g.maxBatch {
		end := min(i+g.maxBatch, len(texts))
		contents := make([]*genai.Content, 0, end-i)
		for _, t := range texts[i:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		ec := &genai.EmbedContentConfig{}
		if g.dim > 0 {
			dim := int32(g.dim)
			ec.OutputDimensionality = &dim
		}
		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, ec)
		if err != nil {
			return nil, fmt.Errorf("embed: gemini batch [%d:%d]: %w", i, end, err)
		}
		if len(resp.Embeddings) != end-i {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", ErrEmptyVector, len(resp.Embeddings), end-i)
		}
		for _, e := range resp.Embeddings {
			if e == nil {
				return nil, fmt.Errorf("%w: gemini returned nil embedding", ErrEmptyVector)
			}
			result = append(result, e.Values)
		}
	}
	if err := checkVectors(result, len(texts)); err != nil {
		return nil, err
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (g *Gemini) Dimension() int { return g.dim }

// Fingerprint returns "gemini:model:dim".
func (g *Gemini) Fingerprint() string { return Fingerprint("gemini", g.model, g.dim) }
