package embed_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/vecmath"
)

// fakeEmbeddingResponse builds a minimal OpenAI-compatible embedding response.
func fakeEmbeddingResponse(dim int, texts []string) []byte {
	type embItem struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	}
	type resp struct {
		Object string    `json:"object"`
		Model  string    `json:"model"`
		Data   []embItem `json:"data"`
	}

	data := make([]embItem, len(texts))
	for i := range texts {
		vec := make([]float64, dim)
		for j := range vec {
			vec[j] = float64(len(texts[i])) * 0.01 * float64(j+1)
		}
		// Answer out of order; clients must place by index.
		data[len(texts)-1-i] = embItem{Object: "embedding", Index: i, Embedding: vec}
	}
	b, _ := json.Marshal(resp{Object: "list", Model: "test-model", Data: data})
	return b
}

// newFakeServer returns fake embeddings and counts requests.
func newFakeServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeEmbeddingResponse(dim, req.Input))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeServer(t, 4, &calls)

	e := embed.NewOpenAI("test-key", embed.WithBaseURL(srv.URL), embed.WithDimension(4))
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
	assert.InDelta(t, 0.01, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.03, vecs[1][0], 1e-6, "placed by index")
	assert.Equal(t, "openai:text-embedding-3-small:4", e.Fingerprint())
	assert.Equal(t, int32(1), calls.Load())
}

func TestDashScope_SplitsBatches(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeServer(t, 8, &calls)

	e := embed.NewDashScope("test-key", embed.WithBaseURL(srv.URL), embed.WithDimension(8))
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%02d", i)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 25)
	assert.Equal(t, int32(3), calls.Load(), "max 10 texts per call")
	assert.Equal(t, "dashscope:text-embedding-v4:8", e.Fingerprint())
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := embed.NewOpenAI("test-key", embed.WithBaseURL(srv.URL))
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	ctx := context.Background()
	for _, e := range []embed.Embedder{
		embed.NewOpenAI("k"),
		embed.NewDashScope("k"),
		embed.NewHash(8),
	} {
		_, err := e.EmbedBatch(ctx, nil)
		assert.ErrorIs(t, err, embed.ErrEmptyInput)
	}
	_, err := embed.Embed(ctx, embed.NewHash(8), "")
	assert.ErrorIs(t, err, embed.ErrEmptyInput)
}

func TestHash(t *testing.T) {
	ctx := context.Background()
	h := embed.NewHash(128)
	vecs, err := h.EmbedBatch(ctx, []string{
		"the sword was broken",
		"what happened to the sword",
		"a quiet walk through the garden",
		"宝剑断了",
		"宝剑",
	})
	require.NoError(t, err)

	again, err := embed.Embed(ctx, h, "the sword was broken")
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again, "deterministic")
	assert.InDelta(t, 1.0, vecmath.Norm(vecs[0]), 1e-5)

	assert.Greater(t, vecmath.Cosine(vecs[0], vecs[1]), vecmath.Cosine(vecs[0], vecs[2]))
	assert.Greater(t, vecmath.Cosine(vecs[3], vecs[4]), 0.3)
	assert.Equal(t, "hash:fnv64a:128", h.Fingerprint())
}

// countingEmbedder counts texts it embeds and can fail on demand.
type countingEmbedder struct {
	inner embed.Embedder
	texts atomic.Int32
	calls atomic.Int32
	fail  func(call int32) error
	delay time.Duration
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	if c.fail != nil {
		if err := c.fail(n); err != nil {
			return nil, err
		}
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimension() int      { return c.inner.Dimension() }
func (c *countingEmbedder) Fingerprint() string { return c.inner.Fingerprint() }

func TestCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: embed.NewHash(16)}
	c, err := embed.NewCache(inner, 100)
	require.NoError(t, err)

	first, err := c.EmbedBatch(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.texts.Load(), "duplicates embedded once")
	assert.Equal(t, first[0], first[2])

	second, err := c.EmbedBatch(ctx, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.texts.Load(), "only c is new")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, 3, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, err = c.EmbedBatch(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(4), inner.texts.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(5), misses)
}

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	inner := &countingEmbedder{
		inner: embed.NewHash(8),
		fail: func(call int32) error {
			if call == 1 {
				return errors.New("transient")
			}
			return nil
		},
	}
	r := &embed.Retry{Embedder: inner, Timeout: time.Second, Backoff: time.Millisecond}
	vecs, err := r.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestRetry_ExactlyOneRetry(t *testing.T) {
	inner := &countingEmbedder{
		inner: embed.NewHash(8),
		fail:  func(int32) error { return errors.New("down") },
	}
	r := &embed.Retry{Embedder: inner, Backoff: time.Millisecond}
	_, err := r.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestRetry_TimeoutIsFailure(t *testing.T) {
	inner := &countingEmbedder{inner: embed.NewHash(8), delay: 200 * time.Millisecond}
	r := &embed.Retry{Embedder: inner, Timeout: 10 * time.Millisecond, Backoff: time.Millisecond}
	_, err := r.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestRetry_CancelledParentNotRetried(t *testing.T) {
	inner := &countingEmbedder{inner: embed.NewHash(8)}
	r := &embed.Retry{Embedder: inner, Backoff: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.EmbedBatch(ctx, []string{"x"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRetry_RejectsEmptyVectors(t *testing.T) {
	r := &embed.Retry{Embedder: emptyEmbedder{}}
	_, err := r.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, embed.ErrEmptyVector)
}

type emptyEmbedder struct{}

func (emptyEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (emptyEmbedder) Dimension() int      { return 0 }
func (emptyEmbedder) Fingerprint() string { return "empty:none:0" }
