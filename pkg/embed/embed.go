// Package embed provides the text embedding interface used by recall and
// its remote and local implementations.
//
// # Implementations
//
//   - [OpenAI]: any OpenAI-compatible /embeddings endpoint (OpenAI,
//     SiliconFlow, DashScope via [NewDashScope]).
//   - [Gemini]: Google Gemini embedding models through the genai SDK.
//   - [Hash]: deterministic feature-hashing embedder for offline use and
//     tests.
//
// # Engine fingerprints
//
// Every embedder reports a fingerprint ("provider:model:dim"). Vectors
// are only comparable when produced under the same fingerprint; the store
// records the fingerprint of its vectors and recall refuses to score
// against a mismatch.
//
// # Wrappers
//
// [Cache] memoizes vectors per (fingerprint, text) in an LRU, and [Retry]
// bounds each batch call with a timeout and retries exactly once after a
// fixed backoff:
//
//	e := embed.NewOpenAI("sk-xxx", embed.WithModel(embed.ModelOpenAI3Small))
//	c, _ := embed.NewCache(e, 4096)
//	r := &embed.Retry{Embedder: c, Timeout: 15 * time.Second, Backoff: 800 * time.Millisecond}
//	vecs, err := r.EmbedBatch(ctx, []string{"hello", "world"})
package embed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Embedder converts texts into dense float32 vectors.
type Embedder interface {
	// EmbedBatch returns one vector per text, in input order. It either
	// returns every vector or an error, never a partial result.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int

	// Fingerprint identifies the engine configuration that produced the
	// vectors.
	Fingerprint() string
}

// Common errors.
var (
	// ErrEmptyInput is returned when there is nothing to embed.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrEmptyVector is returned when a provider answers with a missing or
	// zero-length vector.
	ErrEmptyVector = errors.New("embed: empty vector")

	// ErrDimensionMismatch is returned when vectors in one answer differ
	// in length.
	ErrDimensionMismatch = errors.New("embed: dimension mismatch")
)

// Fingerprint formats an engine fingerprint.
func Fingerprint(provider, model string, dim int) string {
	return provider + ":" + model + ":" + strconv.Itoa(dim)
}

// Embed is a convenience for embedding a single text.
func Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// checkVectors verifies that vecs holds n non-empty vectors of equal length.
func checkVectors(vecs [][]float32, n int) error {
	if len(vecs) != n {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyVector, len(vecs), n)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: index %d", ErrEmptyVector, i)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("%w: index %d has %d, want %d", ErrDimensionMismatch, i, len(v), len(vecs[0]))
		}
	}
	return nil
}
