package recall

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/rerank"
)

func floorsOf(fs []Fused) []int {
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = f.Floor
	}
	return out
}

func TestFuseRRFSelfFusionKeepsOrder(t *testing.T) {
	rankings := [][]int{
		{7, 3, 9, 1},
		{1},
		{12, 4, 8, 2, 6, 10, 0},
		{},
	}
	for _, r := range rankings {
		got := FuseRRF(r, r, 60, 1.0, 0.9, 0)
		assert.Equal(t, r, append([]int{}, floorsOf(got)...))
	}
}

func TestFuseRRFWeightsAndCap(t *testing.T) {
	got := FuseRRF([]int{1, 2}, []int{2, 3}, 60, 1.0, 0.9, 0)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Floor, "floor in both lists wins")
	assert.Equal(t, 2, got[0].DenseRank)
	assert.Equal(t, 1, got[0].LexicalRank)
	assert.InDelta(t, 1.0/62+0.9/61, got[0].Score, 1e-12)
	assert.Equal(t, 1, got[1].Floor, "dense weight beats lexical weight at equal rank")
	assert.Equal(t, 3, got[2].Floor)

	capped := FuseRRF([]int{1, 2, 3, 4}, nil, 60, 1, 0.9, 2)
	assert.Equal(t, []int{1, 2}, floorsOf(capped))
}

func TestDenseFloorRankingUsesMax(t *testing.T) {
	got := denseFloorRanking([]anchorHit{
		{AtomID: "a", Floor: 1, Similarity: 0.70},
		{AtomID: "b", Floor: 2, Similarity: 0.65},
		{AtomID: "c", Floor: 2, Similarity: 0.90},
		{AtomID: "d", Floor: 3, Similarity: 0.70},
	})
	assert.Equal(t, []int{2, 1, 3}, got)
}

func TestLexicalFloorsGateAndDensity(t *testing.T) {
	hits := []lexical.Hit{
		{ID: "c/1a", Kind: lexical.KindChunk, Floor: 1, Score: 1},
		{ID: "c/1b", Kind: lexical.KindChunk, Floor: 1, Score: 1},
		{ID: "c/2a", Kind: lexical.KindChunk, Floor: 2, Score: 1.5},
		{ID: "c/3a", Kind: lexical.KindChunk, Floor: 3, Score: 5},
		{ID: "e/x", Kind: lexical.KindEvent, Floor: -1, Score: 9},
	}
	support := map[int]float64{1: 0.6, 2: 0.55, 3: 0.2}
	ranked, gated := lexicalFloors(hits, 0.3, 0.5, func(f int) float64 { return support[f] })
	assert.Equal(t, 1, gated, "floor 3 has no dense support")
	require.Len(t, ranked, 2)
	assert.Equal(t, 1, ranked[0].Floor)
	assert.InDelta(t, 2*1.3, ranked[0].Score, 1e-12)
	assert.Equal(t, 2, ranked[1].Floor)
	assert.InDelta(t, 1.5, ranked[1].Score, 1e-12)
}

func testEngine(t *testing.T, cfg Config, rr rerank.Reranker) *Engine {
	t.Helper()
	e, err := New(cfg, memory.NewKVStore(nil, 0), newKeywordEmbedder(), rr, Options{})
	require.NoError(t, err)
	return e
}

func TestMustKeepFloorsClusterAndCap(t *testing.T) {
	e := testEngine(t, DefaultConfig(), nil)
	terms := []lexical.TermHit{
		{Term: "excalibur", IDF: 3.0, Floors: map[int]float64{10: 3.0, 11: 2.9, 30: 1.0}},
		{Term: "mordred", IDF: 2.5, Floors: map[int]float64{50: 2.0, 70: 1.5, 90: 1.2}},
		{Term: "the", IDF: 4.0, Floors: map[int]float64{5: 4.0}},
		{Term: "castle", IDF: 1.5, Floors: map[int]float64{6: 1.5}},
	}
	admitted := map[int]bool{5: true, 6: true, 10: true, 11: true, 30: true, 50: true, 70: true}

	got := e.mustKeepFloors(terms, admitted)
	assert.Equal(t, []int{10, 50, 70}, got, "11 clusters with 10, 90 is not admitted, cap is 3")
}

func TestFloorDocument(t *testing.T) {
	doc := floorDocument([]memory.Chunk{
		{Floor: 1, ChunkIdx: 0, IsUser: false, Text: "I took it."},
		{Floor: 1, ChunkIdx: 1, IsUser: true, Text: "Where is it?"},
	}, nil)
	assert.Equal(t, "Where is it?\nI took it.", doc)

	doc = floorDocument(nil, []memory.StateAtom{{AtomID: "a", Semantic: "the sword was broken"}})
	assert.Equal(t, "the sword was broken", doc)
}

func TestRerankFloors(t *testing.T) {
	cands := []Fused{{Floor: 4}, {Floor: 2}, {Floor: 9}}
	docs := map[int]string{4: "four", 2: "two", 9: "nine"}

	ok := rerank.Func(func(_ context.Context, req rerank.Request) ([]rerank.Result, error) {
		assert.Equal(t, "q", req.Query)
		return []rerank.Result{{Index: 0, Score: 0.2}, {Index: 2, Score: 0.9}, {Index: 1, Score: 0.05}}, nil
	})
	sel, fallback, err := testEngine(t, DefaultConfig(), ok).rerankFloors(context.Background(), "q", cands, docs)
	require.NoError(t, err)
	assert.False(t, fallback)
	require.Len(t, sel, 2, "results below the minimum score are dropped")
	assert.Equal(t, selectedFloor{Floor: 9, Score: 0.9, Source: SourceRerank}, sel[0])
	assert.Equal(t, 4, sel[1].Floor)

	broken := rerank.Func(func(context.Context, rerank.Request) ([]rerank.Result, error) {
		return nil, errors.New("connection refused")
	})
	sel, fallback, err = testEngine(t, DefaultConfig(), broken).rerankFloors(context.Background(), "q", cands, docs)
	require.Error(t, err)
	assert.True(t, fallback)
	assert.Equal(t, []selectedFloor{
		{Floor: 4, Source: SourceFusion},
		{Floor: 2, Source: SourceFusion},
		{Floor: 9, Source: SourceFusion},
	}, sel)

	sel, fallback, err = testEngine(t, DefaultConfig(), nil).rerankFloors(context.Background(), "q", cands, docs)
	require.NoError(t, err)
	assert.True(t, fallback)
	assert.Len(t, sel, 3)
}
