// Package diffusion spreads relevance from reranked seed atoms to related
// atoms with personalized PageRank over an atom graph.
//
// # Graph
//
// Nodes are all state atoms of the conversation. Candidate edges come from
// two sources:
//
//   - interaction: atoms sharing an unordered (subject, target) pair from
//     their edges, weighted by the overlap coefficient of their pair sets;
//   - relation: atoms whose relation-text vectors have cosine similarity
//     at or above a threshold, keeping each node's top-K neighbors within
//     a floor window.
//
// A candidate edge's weight is a weighted sum of five channels:
// interaction, relation, entity-set Jaccard, location match (damped by
// how common the location is) and temporal decay exp(-Δfloor/scale).
// Entity and location channels only reweight; they never create edges.
//
// The graph is rebuilt per call and never persisted.
package diffusion

import (
	"cmp"
	"math"
	"slices"

	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/vecmath"
)

// Options are the diffusion parameters.
type Options struct {
	Alpha   float64 `yaml:"alpha" json:"alpha"`
	Tol     float64 `yaml:"tol" json:"tol"`
	MaxIter int     `yaml:"max_iter" json:"max_iter"`

	RelationSim float64 `yaml:"relation_sim" json:"relation_sim"`
	TopK        int     `yaml:"top_k" json:"top_k"`
	FloorWindow int     `yaml:"floor_window" json:"floor_window"`

	WeightInteraction float64 `yaml:"weight_interaction" json:"weight_interaction"`
	WeightRelation    float64 `yaml:"weight_relation" json:"weight_relation"`
	WeightEntity      float64 `yaml:"weight_entity" json:"weight_entity"`
	WeightLocation    float64 `yaml:"weight_location" json:"weight_location"`
	WeightTemporal    float64 `yaml:"weight_temporal" json:"weight_temporal"`
	TemporalScale     float64 `yaml:"temporal_scale" json:"temporal_scale"`

	MinCosine float64 `yaml:"min_cosine" json:"min_cosine"`
	MinFinal  float64 `yaml:"min_final" json:"min_final"`
	MaxOutput int     `yaml:"max_output" json:"max_output"`
}

// DefaultOptions returns the standard parameters.
func DefaultOptions() Options {
	return Options{
		Alpha:             0.15,
		Tol:               1e-5,
		MaxIter:           50,
		RelationSim:       0.62,
		TopK:              8,
		FloorWindow:       80,
		WeightInteraction: 0.40,
		WeightRelation:    0.40,
		WeightEntity:      0.10,
		WeightLocation:    0.05,
		WeightTemporal:    0.05,
		TemporalScale:     12,
		MinCosine:         0.46,
		MinFinal:          0.10,
		MaxOutput:         100,
	}
}

// Node is one atom with its vectors. RVector may be nil.
type Node struct {
	Atom    memory.StateAtom
	Vector  []float32
	RVector []float32
}

// Edge is an undirected weighted edge, I < J.
type Edge struct {
	I, J   int
	Weight float64
}

// Graph is an undirected weighted atom graph in adjacency-list form.
type Graph struct {
	N     int
	Edges []Edge

	adj    [][]neighbor
	degree []float64

	// InteractionEdges and RelationEdges count candidate edges by source
	// (an edge found by both counts in both).
	InteractionEdges int
	RelationEdges    int
}

type neighbor struct {
	to int
	w  float64
}

type pair struct{ a, b string }

type nodeFeatures struct {
	pairs    map[pair]bool
	entities map[string]bool
	where    string
}

func features(a *memory.StateAtom) nodeFeatures {
	f := nodeFeatures{pairs: make(map[pair]bool), entities: make(map[string]bool)}
	for _, e := range a.Edges {
		s, t := lexicon.Normalize(e.S), lexicon.Normalize(e.T)
		if s != "" {
			f.entities[s] = true
		}
		if t != "" {
			f.entities[t] = true
		}
		if s == "" || t == "" || s == t {
			continue
		}
		if t < s {
			s, t = t, s
		}
		f.pairs[pair{s, t}] = true
	}
	f.where = lexicon.Normalize(a.Where)
	return f
}

// BuildGraph constructs the atom graph.
func BuildGraph(nodes []Node, o Options) *Graph {
	n := len(nodes)
	g := &Graph{N: n, adj: make([][]neighbor, n), degree: make([]float64, n)}
	if n < 2 {
		return g
	}

	feats := make([]nodeFeatures, n)
	locFreq := make(map[string]int)
	pairIndex := make(map[pair][]int)
	for i := range nodes {
		feats[i] = features(&nodes[i].Atom)
		if feats[i].where != "" {
			locFreq[feats[i].where]++
		}
		for p := range feats[i].pairs {
			pairIndex[p] = append(pairIndex[p], i)
		}
	}

	type key struct{ i, j int }
	inter := make(map[key]float64)
	rel := make(map[key]float64)

	for _, members := range pairIndex {
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				k := key{members[x], members[y]}
				if _, done := inter[k]; done {
					continue
				}
				inter[k] = overlap(feats[k.i].pairs, feats[k.j].pairs)
			}
		}
	}

	for i := range nodes {
		if len(nodes[i].RVector) == 0 {
			continue
		}
		var cands []neighbor
		for j := range nodes {
			if j == i || len(nodes[j].RVector) == 0 {
				continue
			}
			if o.FloorWindow > 0 && absInt(nodes[i].Atom.Floor-nodes[j].Atom.Floor) > o.FloorWindow {
				continue
			}
			if s := vecmath.Cosine(nodes[i].RVector, nodes[j].RVector); s >= o.RelationSim {
				cands = append(cands, neighbor{to: j, w: s})
			}
		}
		slices.SortFunc(cands, func(a, b neighbor) int {
			if c := cmp.Compare(b.w, a.w); c != 0 {
				return c
			}
			return cmp.Compare(a.to, b.to)
		})
		if o.TopK > 0 && len(cands) > o.TopK {
			cands = cands[:o.TopK]
		}
		for _, c := range cands {
			k := key{min(i, c.to), max(i, c.to)}
			rel[k] = c.w
		}
	}
	g.InteractionEdges = len(inter)
	g.RelationEdges = len(rel)

	cand := make(map[key]bool, len(inter)+len(rel))
	for k := range inter {
		cand[k] = true
	}
	for k := range rel {
		cand[k] = true
	}
	keys := make([]key, 0, len(cand))
	for k := range cand {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b key) int {
		if c := cmp.Compare(a.i, b.i); c != 0 {
			return c
		}
		return cmp.Compare(a.j, b.j)
	})

	for _, k := range keys {
		fi, fj := feats[k.i], feats[k.j]
		w := o.WeightInteraction*inter[k] + o.WeightRelation*rel[k] + o.WeightEntity*jaccard(fi.entities, fj.entities)
		if fi.where != "" && fi.where == fj.where {
			w += o.WeightLocation / math.Log2(1+float64(locFreq[fi.where]))
		}
		if o.TemporalScale > 0 {
			d := float64(absInt(nodes[k.i].Atom.Floor - nodes[k.j].Atom.Floor))
			w += o.WeightTemporal * math.Exp(-d/o.TemporalScale)
		}
		if w <= 0 {
			continue
		}
		g.Edges = append(g.Edges, Edge{I: k.i, J: k.j, Weight: w})
		g.adj[k.i] = append(g.adj[k.i], neighbor{to: k.j, w: w})
		g.adj[k.j] = append(g.adj[k.j], neighbor{to: k.i, w: w})
		g.degree[k.i] += w
		g.degree[k.j] += w
	}
	return g
}

func overlap(a, b map[pair]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for p := range small {
		if large[p] {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for e := range a {
		if b[e] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
