package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic, offline embedder. Each lower-cased word and
// each CJK character bigram is hashed to a signed bucket (feature
// hashing), so texts sharing words get similar vectors. It needs no
// network and is meant for tests, demos and cold-start tooling.
type Hash struct {
	dim int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a hash embedder with dim buckets (default 256).
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 256
	}
	return &Hash{dim: dim}
}

func (h *Hash) Dimension() int      { return h.dim }
func (h *Hash) Fingerprint() string { return Fingerprint("hash", "fnv64a", h.dim) }

func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, f := range hashFeatures(text) {
		hs := fnv.New64a()
		hs.Write([]byte(f))
		sum := hs.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%uint64(h.dim)] += sign
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v * v)
	}
	if mag == 0 {
		// Featureless text still gets a unit vector.
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(mag))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func hashFeatures(text string) []string {
	var feats []string
	var word []rune
	var cjk []rune
	flushWord := func() {
		if len(word) > 0 {
			feats = append(feats, string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			feats = append(feats, string(cjk))
		}
		for i := 0; i+1 < len(cjk); i++ {
			feats = append(feats, string(cjk[i:i+2]))
		}
		cjk = cjk[:0]
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return feats
}
