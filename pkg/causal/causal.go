// Package causal walks event causation links backwards from recalled
// events to surface the events that led to them.
package causal

import (
	"cmp"
	"slices"

	"github.com/haivivi/memrecall/pkg/memory"
)

// Options bound the traversal.
type Options struct {
	MaxDepth    int `yaml:"max_depth" json:"max_depth"`
	MaxInjected int `yaml:"max_injected" json:"max_injected"`
}

// DefaultOptions returns depth 10, 30 injected events.
func DefaultOptions() Options {
	return Options{MaxDepth: 10, MaxInjected: 30}
}

// Link is an ancestor event reached from one or more recalled events.
type Link struct {
	Event memory.Event `json:"event" yaml:"event"`

	// Depth is the minimum number of causedBy hops from a recalled event.
	Depth int `json:"depth" yaml:"depth"`

	// ChainFrom lists the recalled event ids that reach this event,
	// sorted.
	ChainFrom []string `json:"chain_from" yaml:"chain_from"`
}

type visit struct {
	depth int
	from  map[string]bool
}

// Trace follows causedBy links depth-first from every recalled event id.
// Each ancestor appears once with its minimum depth; a node is expanded
// again only when reached at a smaller depth, so cycles terminate.
// Recalled events and unknown ids are excluded. The result is ordered by
// depth, then by how many recalled events reach it, then id, and capped
// at o.MaxInjected.
func Trace(events []memory.Event, recalled []string, o Options) []Link {
	if len(recalled) == 0 || len(events) == 0 {
		return nil
	}
	byID := make(map[string]*memory.Event, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
	}
	isRecalled := make(map[string]bool, len(recalled))
	for _, id := range recalled {
		isRecalled[id] = true
	}

	visited := make(map[string]*visit)
	var walk func(id, origin string, depth int)
	walk = func(id, origin string, depth int) {
		ev := byID[id]
		if ev == nil || depth > o.MaxDepth {
			return
		}
		for _, parent := range ev.CausedBy {
			if byID[parent] == nil {
				continue
			}
			d := depth + 1
			if d > o.MaxDepth {
				continue
			}
			v := visited[parent]
			if v == nil {
				v = &visit{depth: d, from: make(map[string]bool)}
				visited[parent] = v
			} else if d >= v.depth {
				if !v.from[origin] {
					v.from[origin] = true
					walk(parent, origin, v.depth)
				}
				continue
			}
			v.depth = d
			v.from[origin] = true
			walk(parent, origin, d)
		}
	}
	for _, id := range recalled {
		if byID[id] != nil {
			walk(id, id, 0)
		}
	}

	out := make([]Link, 0, len(visited))
	for id, v := range visited {
		if isRecalled[id] {
			continue
		}
		from := make([]string, 0, len(v.from))
		for f := range v.from {
			from = append(from, f)
		}
		slices.Sort(from)
		out = append(out, Link{Event: *byID[id], Depth: v.depth, ChainFrom: from})
	}
	slices.SortFunc(out, func(a, b Link) int {
		if c := cmp.Compare(a.Depth, b.Depth); c != 0 {
			return c
		}
		if c := cmp.Compare(len(b.ChainFrom), len(a.ChainFrom)); c != 0 {
			return c
		}
		return cmp.Compare(a.Event.ID, b.Event.ID)
	})
	if o.MaxInjected > 0 && len(out) > o.MaxInjected {
		out = out[:o.MaxInjected]
	}
	return out
}
