// Package rerank scores documents against a query with an external
// cross-encoder service.
package rerank

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrEmptyQuery is returned when the query is blank.
	ErrEmptyQuery = errors.New("rerank: empty query")

	// ErrBadIndex is returned when the service answers with an index
	// outside the document list.
	ErrBadIndex = errors.New("rerank: result index out of range")
)

// Request is one rerank call.
type Request struct {
	Query     string
	Documents []string

	// TopN caps the number of results. Zero keeps all.
	TopN int

	// MinScore drops results scoring below it.
	MinScore float64
}

// Result is a scored document.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker scores documents. Results are sorted by score descending, ties
// by index ascending, so identical input yields identical order.
type Reranker interface {
	Rerank(ctx context.Context, req Request) ([]Result, error)
}

// Finalize validates raw service results against n documents, filters by
// MinScore, sorts them deterministically and applies TopN.
func Finalize(raw []Result, n int, req Request) ([]Result, error) {
	out := make([]Result, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, r := range raw {
		if r.Index < 0 || r.Index >= n {
			return nil, fmt.Errorf("%w: %d of %d", ErrBadIndex, r.Index, n)
		}
		if seen[r.Index] || r.Score < req.MinScore {
			continue
		}
		seen[r.Index] = true
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	if req.TopN > 0 && len(out) > req.TopN {
		out = out[:req.TopN]
	}
	return out, nil
}

// Client calls an OpenAI-style /rerank endpoint (SiliconFlow, Jina,
// DashScope compatible mode) with the request body
// {model, query, documents, top_n, return_documents}.
type Client struct {
	client *openai.Client
	model  string
}

var _ Reranker = (*Client)(nil)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL sets the API base URL, e.g. "https://api.siliconflow.cn/v1".
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// DefaultModel is used when NewClient is given an empty model.
const DefaultModel = "BAAI/bge-reranker-v2-m3"

// NewClient creates a rerank client.
func NewClient(apiKey, model string, opts ...Option) *Client {
	cfg := clientConfig{httpClient: http.DefaultClient}
	for _, o := range opts {
		o(&cfg)
	}
	if model == "" {
		model = DefaultModel
	}
	ropts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		ropts = append(ropts, option.WithBaseURL(cfg.baseURL))
	}
	c := openai.NewClient(ropts...)
	return &Client{client: &c, model: model}
}

type apiRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type apiResponse struct {
	Results []Result `json:"results"`
}

// Rerank sends the documents to the service. An empty document list
// returns no results without a call.
func (c *Client) Rerank(ctx context.Context, req Request) ([]Result, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if len(req.Documents) == 0 {
		return nil, nil
	}
	body := apiRequest{
		Model:     c.model,
		Query:     req.Query,
		Documents: req.Documents,
		TopN:      req.TopN,
	}
	var resp apiResponse
	if err := c.client.Post(ctx, "rerank", body, &resp); err != nil {
		return nil, fmt.Errorf("rerank: %s: %w", c.model, err)
	}
	return Finalize(resp.Results, len(req.Documents), req)
}

// Func adapts a function to a Reranker.
type Func func(ctx context.Context, req Request) ([]Result, error)

func (f Func) Rerank(ctx context.Context, req Request) ([]Result, error) { return f(ctx, req) }
