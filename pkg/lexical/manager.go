package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BuildFunc builds a fresh index for a conversation.
type BuildFunc func(ctx context.Context) (*Index, error)

// Manager owns the lexical indexes of conversations and guarantees that at
// most one build per conversation is in flight: concurrent callers of Get
// share the pending build instead of starting their own.
//
// Invalidate bumps a per-conversation generation; a build that finishes
// after its generation was invalidated is discarded, never installed.
type Manager struct {
	// Logger receives build failures from Warmup. Defaults to slog.Default().
	Logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	gen     map[string]uint64
	current map[string]*Index
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		gen:     make(map[string]uint64),
		current: make(map[string]*Index),
	}
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Current returns the installed index of conv without waiting, or nil.
func (m *Manager) Current(conv string) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[conv]
}

// Get returns the index of conv, building it with build if none is
// installed. The build runs detached from ctx so that a cancelled caller
// does not abort a build others are waiting on; ctx only bounds this
// caller's wait.
func (m *Manager) Get(ctx context.Context, conv string, build BuildFunc) (*Index, error) {
	m.mu.Lock()
	if idx := m.current[conv]; idx != nil {
		m.mu.Unlock()
		return idx, nil
	}
	gen := m.gen[conv]
	m.mu.Unlock()

	key := conv + "#" + strconv.FormatUint(gen, 10)
	ch := m.group.DoChan(key, func() (any, error) {
		idx, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if !m.install(conv, gen, idx) {
			idx.Close()
			return nil, fmt.Errorf("lexical: build of %s superseded", conv)
		}
		return idx, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("lexical: build %s: %w", conv, r.Err)
		}
		return r.Val.(*Index), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lexical: wait for %s: %w", conv, ctx.Err())
	}
}

func (m *Manager) install(conv string, gen uint64, idx *Index) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen[conv] != gen {
		return false
	}
	if old := m.current[conv]; old != nil && old != idx {
		old.Close()
	}
	m.current[conv] = idx
	return true
}

// Warmup starts a background build of conv unless one is installed or in
// flight. It never blocks.
func (m *Manager) Warmup(conv string, build BuildFunc) {
	if m.Current(conv) != nil {
		return
	}
	go func() {
		if _, err := m.Get(context.Background(), conv, build); err != nil {
			m.logger().Warn("lexical: warmup failed", "conv", conv, "error", err)
		}
	}()
}

// Invalidate drops the installed index of conv and orphans any in-flight
// build. The next Get rebuilds.
func (m *Manager) Invalidate(conv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen[conv]++
	if idx := m.current[conv]; idx != nil {
		idx.Close()
		delete(m.current, conv)
	}
}

// Close releases every installed index.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conv, idx := range m.current {
		idx.Close()
		delete(m.current, conv)
		m.gen[conv]++
	}
	return nil
}
