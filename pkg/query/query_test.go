package query

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/memrecall/pkg/graph"
	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/tokenizer"
)

func testBuilder(idf func(string) float64) *Builder {
	lex := lexicon.Build(lexicon.Source{
		UserName:      "Tom",
		CharacterName: "Alice",
		Entities:      []graph.Entity{{Name: "Excalibur", Kind: graph.KindItem}},
	})
	return NewBuilder(DefaultOptions(), tokenizer.New(lex), idf)
}

func convo() []memory.Message {
	return []memory.Message{
		{Name: "Tom", IsUser: true, Content: "hello there", Floor: 0},
		{Name: "Alice", Content: "I found Excalibur in the lake", Floor: 1},
		{Name: "Tom", IsUser: true, Content: "show me the blade", Floor: 2},
		{Name: "Alice", Content: "<think>should I?</think>The blade is <b>broken</b>", Floor: 3},
	}
}

func TestBuildWindowAndFocus(t *testing.T) {
	b := testBuilder(nil)
	bundle := b.Build(Input{Messages: convo(), UserName: "Tom", CharacterName: "Alice"})

	require.Len(t, bundle.Segments, 3)
	assert.Equal(t, "Alice：I found Excalibur in the lake", bundle.Segments[0].Text)
	assert.Equal(t, "Tom：show me the blade", bundle.Segments[1].Text)
	assert.Equal(t, "Alice：The blade is broken", bundle.Segments[2].Text)
	assert.True(t, bundle.Segments[2].Focus)
	assert.Equal(t, 0.55, bundle.Segments[2].BaseWeight)
	assert.Equal(t, 0.30, bundle.Segments[1].BaseWeight, "newest context weighs most")
	assert.Equal(t, 0.20, bundle.Segments[0].BaseWeight)
	assert.Equal(t, len([]rune("The blade is broken")), bundle.Segments[2].CharCount)
	assert.Equal(t, 2, bundle.FocusIndex())

	assert.Equal(t, []string{"excalibur"}, bundle.FocusTerms)
	assert.Empty(t, bundle.FocusCharacters)
	assert.Equal(t, "excalibur", bundle.LexicalTerms[0], "focus terms lead")
	assert.Contains(t, bundle.LexicalTerms, "blade")
	assert.LessOrEqual(t, len(bundle.LexicalTerms), 10)

	assert.Equal(t, "The blade is broken\nshow me the blade\nI found Excalibur in the lake", bundle.RerankQuery)
}

func TestBuildPendingMessage(t *testing.T) {
	b := testBuilder(nil)
	bundle := b.Build(Input{Messages: convo(), PendingUserMessage: "  where is Alice now? ", UserName: "Tom"})

	require.Len(t, bundle.Segments, 3, "two context messages plus pending")
	focus := bundle.Segments[2]
	assert.True(t, focus.Focus)
	assert.Equal(t, "Tom：where is Alice now?", focus.Text)
	assert.Equal(t, "Tom：show me the blade", bundle.Segments[0].Text)
	assert.Equal(t, []string{"alice"}, bundle.FocusCharacters)
}

func TestBuildExcludeLastAITurn(t *testing.T) {
	b := testBuilder(nil)
	bundle := b.Build(Input{Messages: convo(), ExcludeLastAITurn: true})
	require.Len(t, bundle.Segments, 3)
	assert.Equal(t, "Tom：show me the blade", bundle.Segments[2].Text)
	assert.True(t, bundle.Segments[2].Focus)
}

func TestBuildEmpty(t *testing.T) {
	b := testBuilder(nil)
	bundle := b.Build(Input{Messages: []memory.Message{{Content: "<p></p>"}}})
	assert.True(t, bundle.Empty())
	assert.Empty(t, bundle.LexicalTerms)
}

func TestLexicalTermsUseIDF(t *testing.T) {
	idf := func(term string) float64 {
		if term == "lake" {
			return 4
		}
		return 1
	}
	b := NewBuilder(DefaultOptions(), tokenizer.New(nil), idf)
	bundle := b.Build(Input{Messages: []memory.Message{{Content: "blade blade lake"}}})
	assert.Equal(t, []string{"lake", "blade"}, bundle.LexicalTerms)

	b = NewBuilder(DefaultOptions(), tokenizer.New(nil), nil)
	bundle = b.Build(Input{Messages: []memory.Message{{Content: "blade blade lake"}}})
	assert.Equal(t, []string{"blade", "lake"}, bundle.LexicalTerms, "tf only without idf")
}

func TestRefine(t *testing.T) {
	b := testBuilder(nil)
	bundle := b.Build(Input{Messages: convo()})
	rerank := bundle.RerankQuery
	before := len(bundle.LexicalTerms)

	anchors := []string{"sword shattered on rock", "a1", "a2", "a3", "a4", "never used anchor"}
	events := []string{"the duel at dawn", "e1", "e2", "never used event"}
	b.Refine(bundle, anchors, events)

	require.NotNil(t, bundle.Hints)
	assert.Contains(t, bundle.Hints.Text, "sword shattered on rock")
	assert.Contains(t, bundle.Hints.Text, "the duel at dawn")
	assert.NotContains(t, bundle.Hints.Text, "never used")
	assert.Equal(t, 0.25, bundle.Hints.BaseWeight)
	assert.Equal(t, rerank, bundle.RerankQuery)
	assert.LessOrEqual(t, len(bundle.LexicalTerms)-before, 5)
	assert.Contains(t, bundle.LexicalTerms, "sword")
	assert.Len(t, bundle.AllSegments(), 4)

	empty := &Bundle{}
	b.Refine(empty, nil, nil)
	assert.Nil(t, empty.Hints)
}

func TestLengthFactor(t *testing.T) {
	assert.Equal(t, 0.35, LengthFactor(0))
	assert.Equal(t, 1.0, LengthFactor(50))
	assert.Equal(t, 1.0, LengthFactor(100))
	prev := 0.0
	for n := 0; n <= 50; n++ {
		v := LengthFactor(n)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestComputeSegmentWeights(t *testing.T) {
	o := DefaultWeightOptions()
	r := rand.New(rand.NewPCG(1, 2))
	for iter := 0; iter < 500; iter++ {
		n := 1 + r.IntN(5)
		segs := make([]Segment, n)
		for i := range segs {
			segs[i] = Segment{BaseWeight: r.Float64(), CharCount: r.IntN(120)}
		}
		focus := n - 1
		if iter%7 == 0 {
			segs[focus].BaseWeight = 0
		}
		w := o.ComputeSegmentWeights(segs, focus)
		require.Len(t, w, n)
		sum := 0.0
		for _, v := range w {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.GreaterOrEqual(t, w[focus], 0.35-1e-12)
	}

	w := o.ComputeSegmentWeights([]Segment{{BaseWeight: 0.3, CharCount: 50}, {BaseWeight: 0.1, CharCount: 0}}, 1)
	assert.InDelta(t, 0.35, w[1], 1e-12, "short focus is clamped up")
	assert.InDelta(t, 0.65, w[0], 1e-12)

	assert.Nil(t, o.ComputeSegmentWeights(nil, 0))
	assert.False(t, math.IsNaN(o.ComputeSegmentWeights([]Segment{{}}, 0)[0]))
}

func TestCleanText(t *testing.T) {
	in := "<think>plan\nsteps</think>  Hello &amp; <i>welcome</i>\n```go\ncode()\n```  back"
	assert.Equal(t, "Hello & welcome back", CleanText(in))
	assert.Equal(t, "", CleanText("   "))
	assert.Equal(t, "a < b", CleanText("a < b"))
}
