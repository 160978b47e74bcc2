package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/memrecall/pkg/kv"
)

// KV key layout (relative to the configured prefix):
//
//	{prefix}:e:{name}                 → msgpack Entity (kind, aliases)
//	{prefix}:f:{subject}:{predicate}  → msgpack Fact (object, floor)

// KVGraph is a Graph backed by a kv.Store, scoped under a key prefix so
// many conversations share one store.
type KVGraph struct {
	store  kv.Store
	prefix kv.Key
	sep    string
}

var _ Graph = (*KVGraph)(nil)

// NewKVGraph creates a graph under prefix, e.g. kv.Key{"conv", "c1", "g"}.
func NewKVGraph(store kv.Store, prefix kv.Key) *KVGraph {
	return &KVGraph{store: store, prefix: prefix, sep: string(kv.DefaultSeparator)}
}

func (g *KVGraph) validate(segs ...string) error {
	for _, s := range segs {
		if s == "" || strings.Contains(s, g.sep) {
			return fmt.Errorf("%w: %q", ErrInvalidLabel, s)
		}
	}
	return nil
}

func (g *KVGraph) entityKey(name string) kv.Key { return g.prefix.Append("e", name) }
func (g *KVGraph) factKey(s, p string) kv.Key   { return g.prefix.Append("f", s, p) }

func (g *KVGraph) PutEntity(ctx context.Context, e Entity) error {
	if err := g.validate(e.Name); err != nil {
		return err
	}
	if e.Kind == "" {
		e.Kind = KindOther
	}
	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("graph: encode entity %q: %w", e.Name, err)
	}
	return g.store.Set(ctx, g.entityKey(e.Name), data)
}

func (g *KVGraph) GetEntity(ctx context.Context, name string) (*Entity, error) {
	if err := g.validate(name); err != nil {
		return nil, err
	}
	data, err := g.store.Get(ctx, g.entityKey(name))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var e Entity
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("graph: decode entity %q: %w", name, err)
	}
	e.Name = name
	return &e, nil
}

func (g *KVGraph) DeleteEntity(ctx context.Context, name string) error {
	if err := g.validate(name); err != nil {
		return err
	}
	keys := []kv.Key{g.entityKey(name)}
	for entry, err := range g.store.List(ctx, g.prefix.Append("f", name)) {
		if err != nil {
			return err
		}
		keys = append(keys, entry.Key)
	}
	return g.store.BatchDelete(ctx, keys)
}

func (g *KVGraph) Entities(ctx context.Context) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		for entry, err := range g.store.List(ctx, g.prefix.Append("e")) {
			if err != nil {
				yield(Entity{}, err)
				return
			}
			var e Entity
			if err := msgpack.Unmarshal(entry.Value, &e); err != nil {
				continue // skip malformed entries
			}
			e.Name = entry.Key[len(entry.Key)-1]
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (g *KVGraph) SetFact(ctx context.Context, f Fact) error {
	if err := g.validate(f.Subject, f.Predicate); err != nil {
		return err
	}
	data, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("graph: encode fact %s/%s: %w", f.Subject, f.Predicate, err)
	}
	return g.store.Set(ctx, g.factKey(f.Subject, f.Predicate), data)
}

func (g *KVGraph) DeleteFact(ctx context.Context, subject, predicate string) error {
	if err := g.validate(subject, predicate); err != nil {
		return err
	}
	return g.store.Delete(ctx, g.factKey(subject, predicate))
}

func (g *KVGraph) Facts(ctx context.Context) iter.Seq2[Fact, error] {
	return g.listFacts(ctx, g.prefix.Append("f"))
}

func (g *KVGraph) FactsAbout(ctx context.Context, name string) ([]Fact, error) {
	if err := g.validate(name); err != nil {
		return nil, err
	}
	var out []Fact
	for f, err := range g.listFacts(ctx, g.prefix.Append("f", name)) {
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (g *KVGraph) listFacts(ctx context.Context, prefix kv.Key) iter.Seq2[Fact, error] {
	plen := len(g.prefix)
	return func(yield func(Fact, error) bool) {
		for entry, err := range g.store.List(ctx, prefix) {
			if err != nil {
				yield(Fact{}, err)
				return
			}
			k := entry.Key
			if len(k) != plen+3 {
				continue
			}
			var f Fact
			if err := msgpack.Unmarshal(entry.Value, &f); err != nil {
				continue
			}
			f.Subject, f.Predicate = k[plen+1], k[plen+2]
			if !yield(f, nil) {
				return
			}
		}
	}
}
