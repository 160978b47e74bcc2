package diffusion

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/haivivi/memrecall/pkg/vecmath"
)

// Seed is a node to restart at, weighted by its rerank or similarity score.
type Seed struct {
	Node  int
	Score float64
}

// PPRResult is the outcome of power iteration.
type PPRResult struct {
	Scores     []float64
	Iterations int
	Delta      float64
	Converged  bool
}

// SeedVector returns the L1-normalized restart distribution. Scores <= 0
// count as equal small weights; seeds outside the graph are ignored. It
// returns nil when no seed is usable.
func (g *Graph) SeedVector(seeds []Seed) []float64 {
	s := make([]float64, g.N)
	usable := false
	for _, sd := range seeds {
		if sd.Node < 0 || sd.Node >= g.N {
			continue
		}
		usable = true
		s[sd.Node] += max(sd.Score, 1e-6)
	}
	if !usable {
		return nil
	}
	floats.Scale(1/floats.Sum(s), s)
	return s
}

// PPR runs personalized PageRank from seeds: r ← (1−α)·(P·r + d·s) + α·s
// where P is the column-stochastic transition matrix and d the mass held
// by dangling nodes, which restarts at the seed distribution. Iteration
// stops when the L1 change falls below o.Tol or after o.MaxIter rounds.
func (g *Graph) PPR(seeds []Seed, o Options) PPRResult {
	s := g.SeedVector(seeds)
	if s == nil {
		return PPRResult{}
	}
	maxIter := max(o.MaxIter, 1)

	r := slices.Clone(s)
	next := make([]float64, g.N)
	res := PPRResult{}
	for it := 1; it <= maxIter; it++ {
		for i := range next {
			next[i] = 0
		}
		dangling := 0.0
		for i, ri := range r {
			if ri == 0 {
				continue
			}
			if g.degree[i] == 0 {
				dangling += ri
				continue
			}
			for _, nb := range g.adj[i] {
				next[nb.to] += ri * nb.w / g.degree[i]
			}
		}
		floats.AddScaled(next, dangling, s)
		floats.Scale(1-o.Alpha, next)
		floats.AddScaled(next, o.Alpha, s)

		res.Delta = floats.Distance(next, r, 1)
		r, next = next, r
		res.Iterations = it
		if res.Delta < o.Tol {
			res.Converged = true
			break
		}
	}
	res.Scores = r
	return res
}

// Hit is one diffused atom.
type Hit struct {
	Node   int     `json:"-"`
	AtomID string  `json:"atom_id"`
	Floor  int     `json:"floor"`
	PPR    float64 `json:"ppr"`
	Cosine float64 `json:"cosine"`
	Score  float64 `json:"score"`
}

// Stats describes one diffusion run.
type Stats struct {
	Nodes            int     `json:"nodes"`
	Edges            int     `json:"edges"`
	InteractionEdges int     `json:"interaction_edges"`
	RelationEdges    int     `json:"relation_edges"`
	Seeds            int     `json:"seeds"`
	Iterations       int     `json:"iterations"`
	Delta            float64 `json:"delta"`
	Converged        bool    `json:"converged"`
	Reached          int     `json:"reached"`
	Kept             int     `json:"kept"`
}

// Diffuse builds the graph over nodes, runs PPR from seeds and keeps
// non-seed atoms with cosine(query, vector) ≥ o.MinCosine and
// normalizedPPR × cosine ≥ o.MinFinal, best first, at most o.MaxOutput.
// normalizedPPR is the node's score divided by the best non-seed score.
func Diffuse(nodes []Node, seeds []Seed, query []float32, o Options) ([]Hit, Stats) {
	g := BuildGraph(nodes, o)
	st := Stats{
		Nodes:            g.N,
		Edges:            len(g.Edges),
		InteractionEdges: g.InteractionEdges,
		RelationEdges:    g.RelationEdges,
	}
	isSeed := make(map[int]bool, len(seeds))
	for _, sd := range seeds {
		if sd.Node >= 0 && sd.Node < g.N {
			isSeed[sd.Node] = true
		}
	}
	st.Seeds = len(isSeed)
	if st.Seeds == 0 || len(query) == 0 {
		return nil, st
	}

	pr := g.PPR(seeds, o)
	st.Iterations, st.Delta, st.Converged = pr.Iterations, pr.Delta, pr.Converged

	best := 0.0
	for i, v := range pr.Scores {
		if !isSeed[i] && v > 0 {
			st.Reached++
			best = max(best, v)
		}
	}
	if best == 0 {
		return nil, st
	}

	var hits []Hit
	for i, v := range pr.Scores {
		if isSeed[i] || v <= 0 {
			continue
		}
		cos := vecmath.Cosine(query, nodes[i].Vector)
		if cos < o.MinCosine {
			continue
		}
		norm := v / best
		final := norm * cos
		if final < o.MinFinal {
			continue
		}
		hits = append(hits, Hit{
			Node:   i,
			AtomID: nodes[i].Atom.AtomID,
			Floor:  nodes[i].Atom.Floor,
			PPR:    norm,
			Cosine: cos,
			Score:  final,
		})
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Floor, b.Floor); c != 0 {
			return c
		}
		return cmp.Compare(a.AtomID, b.AtomID)
	})
	if o.MaxOutput > 0 && len(hits) > o.MaxOutput {
		hits = hits[:o.MaxOutput]
	}
	st.Kept = len(hits)
	return hits, st
}
