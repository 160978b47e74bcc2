package recall

import (
	"cmp"
	"slices"

	"github.com/haivivi/memrecall/pkg/diffusion"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/vecmath"
)

// atomHits returns the atoms of every selected floor in floor order, each
// floor's atoms by similarity descending.
func atomHits(sel []selectedFloor, atomsByFloor map[int][]memory.StateAtom, sim map[string]float64) []AtomHit {
	var out []AtomHit
	for _, sf := range sel {
		atoms := slices.Clone(atomsByFloor[sf.Floor])
		slices.SortStableFunc(atoms, func(a, b memory.StateAtom) int {
			return cmp.Compare(sim[b.AtomID], sim[a.AtomID])
		})
		for _, a := range atoms {
			out = append(out, AtomHit{
				Atom:        a,
				Similarity:  sim[a.AtomID],
				RerankScore: sf.Score,
				Source:      sf.Source,
			})
		}
	}
	return out
}

// pairChunks picks for every floor the user chunk and the AI chunk most
// similar to qv. Chunks without a vector score zero.
func pairChunks(qv []float32, chunks []memory.Chunk, vecs []memory.ChunkVector, floors []int) map[int]FloorChunks {
	byID := make(map[string][]float32, len(vecs))
	for _, v := range vecs {
		byID[v.ChunkID] = v.Vector
	}
	want := make(map[int]bool, len(floors))
	for _, f := range floors {
		want[f] = true
	}
	out := make(map[int]FloorChunks)
	better := func(cur *ChunkHit, c memory.Chunk, s float64) bool {
		if cur == nil || s > cur.Similarity {
			return true
		}
		return s == cur.Similarity && c.ChunkIdx < cur.Chunk.ChunkIdx
	}
	for _, c := range chunks {
		if !want[c.Floor] {
			continue
		}
		s := vecmath.Cosine(qv, byID[c.ChunkID])
		fc := out[c.Floor]
		if c.IsUser {
			if better(fc.User, c, s) {
				fc.User = &ChunkHit{Chunk: c, Similarity: s}
			}
		} else if better(fc.AI, c, s) {
			fc.AI = &ChunkHit{Chunk: c, Similarity: s}
		}
		out[c.Floor] = fc
	}
	return out
}

// diffuse spreads from the selected atoms over the graph of all atoms and
// returns the verified atoms not already selected.
func (e *Engine) diffuse(qv []float32, atoms []memory.StateAtom, svecs []memory.StateVector, selected []AtomHit) ([]AtomHit, diffusion.Stats) {
	vecOf := make(map[string]memory.StateVector, len(svecs))
	for _, sv := range svecs {
		vecOf[sv.AtomID] = sv
	}
	nodes := make([]diffusion.Node, 0, len(atoms))
	index := make(map[string]int, len(atoms))
	for _, a := range atoms {
		sv, ok := vecOf[a.AtomID]
		if !ok || len(sv.Vector) != len(qv) {
			continue
		}
		index[a.AtomID] = len(nodes)
		nodes = append(nodes, diffusion.Node{Atom: a, Vector: sv.Vector, RVector: sv.RVector})
	}

	var seeds []diffusion.Seed
	for _, h := range selected {
		i, ok := index[h.Atom.AtomID]
		if !ok {
			continue
		}
		score := h.RerankScore
		if score <= 0 {
			score = h.Similarity
		}
		if score > 0 {
			seeds = append(seeds, diffusion.Seed{Node: i, Score: score})
		}
	}

	hits, st := diffusion.Diffuse(nodes, seeds, qv, e.cfg.Diffusion)
	taken := make(map[string]bool, len(selected))
	for _, h := range selected {
		taken[h.Atom.AtomID] = true
	}
	var out []AtomHit
	for _, h := range hits {
		if taken[h.AtomID] {
			continue
		}
		out = append(out, AtomHit{
			Atom:           nodes[h.Node].Atom,
			Similarity:     h.Cosine,
			DiffusionScore: h.Score,
			Source:         SourceDiffusion,
		})
	}
	return out, st
}
