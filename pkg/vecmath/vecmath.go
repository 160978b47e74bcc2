// Package vecmath has the dense-vector helpers used by recall: cosine
// similarity, weighted averaging of query segment vectors, and maximal
// marginal relevance selection.
package vecmath

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return math.Sqrt(float64(vek32.Dot(v, v)))
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
// Empty, zero or mismatched-length vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	s := float64(vek32.Dot(a, b)) / (na * nb)
	if math.IsNaN(s) {
		return 0
	}
	return min(max(s, -1), 1)
}

// WeightedAverage returns Σ weights[i] × vecs[i]. The dimension is taken
// from the first non-empty vector; vectors of another length are skipped.
// It returns nil when nothing usable remains or the result is all zeros.
func WeightedAverage(vecs [][]float32, weights []float64) []float32 {
	var out []float32
	for i, v := range vecs {
		if len(v) == 0 || i >= len(weights) || weights[i] == 0 {
			continue
		}
		if out == nil {
			out = make([]float32, len(v))
		}
		if len(v) != len(out) {
			continue
		}
		vek32.Add_Inplace(out, vek32.MulNumber(v, float32(weights[i])))
	}
	if out == nil || Norm(out) == 0 {
		return nil
	}
	return out
}

// MMR greedily selects up to k candidates maximizing
// lambda × relevance − (1 − lambda) × max cosine to the already selected.
// It returns indices into relevance / vecs in selection order.
func MMR(relevance []float64, vecs [][]float32, lambda float64, k int) []int {
	n := min(len(relevance), len(vecs))
	if k <= 0 || n == 0 {
		return nil
	}
	k = min(k, n)

	picked := make([]int, 0, k)
	used := make([]bool, n)
	redundancy := make([]float64, n) // max similarity to picked
	for len(picked) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range n {
			if used[i] {
				continue
			}
			s := lambda * relevance[i]
			if len(picked) > 0 {
				s -= (1 - lambda) * redundancy[i]
			}
			if s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, best)
		for i := range n {
			if !used[i] {
				redundancy[i] = max(redundancy[i], Cosine(vecs[i], vecs[best]))
			}
		}
	}
	return picked
}
