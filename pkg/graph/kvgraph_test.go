package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/memrecall/pkg/kv"
)

func newTestGraph(t *testing.T) *KVGraph {
	t.Helper()
	return NewKVGraph(kv.NewMemory(0), kv.Key{"conv", "c1", "g"})
}

func TestEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	require.NoError(t, g.PutEntity(ctx, Entity{Name: "Alice", Kind: KindCharacter, Aliases: []string{"Ally"}}))
	require.NoError(t, g.PutEntity(ctx, Entity{Name: "Library"}))

	e, err := g.GetEntity(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, KindCharacter, e.Kind)
	assert.Equal(t, []string{"Ally"}, e.Aliases)

	lib, err := g.GetEntity(ctx, "Library")
	require.NoError(t, err)
	assert.Equal(t, KindOther, lib.Kind, "empty kind defaults to other")

	_, err = g.GetEntity(ctx, "Bob")
	assert.ErrorIs(t, err, ErrNotFound)

	var names []string
	for e, err := range g.Entities(ctx) {
		require.NoError(t, err)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Alice", "Library"}, names)
}

func TestFactsReplaceBySubjectPredicate(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	require.NoError(t, g.SetFact(ctx, Fact{Subject: "Alice", Predicate: "location", Object: "garden", Floor: 3}))
	require.NoError(t, g.SetFact(ctx, Fact{Subject: "Alice", Predicate: "location", Object: "library: west wing", Floor: 9}))
	require.NoError(t, g.SetFact(ctx, Fact{Subject: "Alice", Predicate: "holds", Object: "sword", Floor: 4}))
	require.NoError(t, g.SetFact(ctx, Fact{Subject: "Bob", Predicate: "mood", Object: "angry", Floor: 5}))

	about, err := g.FactsAbout(ctx, "Alice")
	require.NoError(t, err)
	require.Len(t, about, 2)
	assert.Equal(t, "holds", about[0].Predicate)
	assert.Equal(t, "location", about[1].Predicate)
	assert.Equal(t, "library: west wing", about[1].Object, "objects may contain the separator")
	assert.Equal(t, 9, about[1].Floor)

	n := 0
	for _, err := range g.Facts(ctx) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)

	require.NoError(t, g.DeleteFact(ctx, "Alice", "holds"))
	about, err = g.FactsAbout(ctx, "Alice")
	require.NoError(t, err)
	assert.Len(t, about, 1)
}

func TestDeleteEntityDropsItsFacts(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	require.NoError(t, g.PutEntity(ctx, Entity{Name: "Alice", Kind: KindCharacter}))
	require.NoError(t, g.SetFact(ctx, Fact{Subject: "Alice", Predicate: "holds", Object: "sword"}))
	require.NoError(t, g.SetFact(ctx, Fact{Subject: "Alicia", Predicate: "holds", Object: "shield"}))

	require.NoError(t, g.DeleteEntity(ctx, "Alice"))

	_, err := g.GetEntity(ctx, "Alice")
	assert.ErrorIs(t, err, ErrNotFound)
	about, err := g.FactsAbout(ctx, "Alicia")
	require.NoError(t, err)
	assert.Len(t, about, 1, "prefix boundary keeps Alicia's facts")
}

func TestInvalidLabel(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	assert.ErrorIs(t, g.PutEntity(ctx, Entity{Name: "person:Alice"}), ErrInvalidLabel)
	assert.ErrorIs(t, g.SetFact(ctx, Fact{Subject: "", Predicate: "p"}), ErrInvalidLabel)
}
