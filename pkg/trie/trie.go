// Package trie provides a generic rune trie with longest-match lookup.
//
// The tokenizer and the entity lexicon use it to find multi-character names
// inside running text without splitting them:
//
//	t := trie.New[string]()
//	t.Insert("林黛玉", "林黛玉")
//	n, v, ok := t.LongestMatch([]rune("林黛玉笑了"), 0) // n=3, v="林黛玉"
package trie

// Trie maps rune sequences to values of type T.
// It is not safe for concurrent mutation; readers may share a trie once
// it is fully built.
type Trie[T any] struct {
	root node[T]
	size int
}

type node[T any] struct {
	children map[rune]*node[T]
	set      bool
	value    T
}

// New creates an empty trie.
func New[T any]() *Trie[T] {
	return &Trie[T]{}
}

// Insert stores v under key, replacing any previous value.
// Empty keys are ignored.
func (t *Trie[T]) Insert(key string, v T) {
	if key == "" {
		return
	}
	n := &t.root
	for _, r := range key {
		if n.children == nil {
			n.children = make(map[rune]*node[T])
		}
		child, ok := n.children[r]
		if !ok {
			child = &node[T]{}
			n.children[r] = child
		}
		n = child
	}
	if !n.set {
		t.size++
	}
	n.set = true
	n.value = v
}

// Get returns the value stored under key.
func (t *Trie[T]) Get(key string) (T, bool) {
	n := &t.root
	for _, r := range key {
		child, ok := n.children[r]
		if !ok {
			var zero T
			return zero, false
		}
		n = child
	}
	return n.value, n.set
}

// LongestMatch returns the length (in runes) and value of the longest key
// that starts at text[start]. ok is false when no key starts there.
func (t *Trie[T]) LongestMatch(text []rune, start int) (n int, v T, ok bool) {
	cur := &t.root
	for i := start; i < len(text); i++ {
		child, found := cur.children[text[i]]
		if !found {
			break
		}
		cur = child
		if cur.set {
			n, v, ok = i-start+1, cur.value, true
		}
	}
	return n, v, ok
}

// Len returns the number of stored keys.
func (t *Trie[T]) Len() int {
	return t.size
}
