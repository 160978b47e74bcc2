package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haivivi/memrecall/pkg/graph"
	"github.com/haivivi/memrecall/pkg/lexicon"
)

func TestTokenizeLatin(t *testing.T) {
	tk := New(nil)
	got := tk.Tokenize("What happened to the Sword? The sword was broken in 2024, a.")
	assert.Equal(t, []string{"happened", "sword", "sword", "broken", "2024"}, got)
}

func TestTokenizeCJKBigrams(t *testing.T) {
	tk := New(nil)
	assert.Equal(t, []string{"宝剑", "剑断", "断了"}, tk.Tokenize("宝剑断了"))
	assert.Empty(t, tk.Tokenize("好"), "isolated ideographs are dropped")
	assert.Empty(t, tk.Tokenize("我们"), "stopword bigrams are dropped")
}

func TestTokenizeEntityProtection(t *testing.T) {
	lex := lexicon.Build(lexicon.Source{
		CharacterName: "林黛玉",
		Entities: []graph.Entity{
			{Name: "Old Tower", Kind: graph.KindPlace},
			{Name: "Alice", Aliases: []string{"Ally"}},
		},
	})
	tk := New(lex)

	got := tk.Tokenize("林黛玉哭了")
	assert.Equal(t, []string{"林黛玉", "哭了"}, got, "names are never split into bigrams")

	got = tk.Tokenize("Ally climbed the old tower again")
	assert.Equal(t, []string{"alice", "climbed", "old tower"}, got)
}

func TestTokenizeMixed(t *testing.T) {
	tk := New(nil)
	got := tk.Tokenize("Alice说宝剑broken")
	assert.Equal(t, []string{"alice", "说宝", "宝剑", "broken"}, got)
}

func TestUniqueAndTermFreq(t *testing.T) {
	terms := []string{"sword", "alice", "sword", "tower"}
	assert.Equal(t, []string{"sword", "alice", "tower"}, Unique(terms))
	assert.Equal(t, map[string]int{"sword": 2, "alice": 1, "tower": 1}, TermFreq(terms))
}

func TestIsStopword(t *testing.T) {
	assert.True(t, IsStopword("the"))
	assert.True(t, IsStopword("我们"))
	assert.False(t, IsStopword("sword"))
}
