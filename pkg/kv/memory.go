package kv

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"sync"
)

// Memory is an in-memory Store. Keys are kept sorted so List is a range
// scan rather than a full sweep. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	codec codec
	keys  []string // sorted encoded keys
	data  map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store. sep 0 selects DefaultSeparator.
func NewMemory(sep byte) *Memory {
	return &Memory{
		codec: newCodec(sep),
		data:  make(map[string][]byte),
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	k := string(m.codec.encode(key))
	m.mu.RLock()
	v, ok := m.data[k]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	if err := m.codec.validate(key); err != nil {
		return err
	}
	m.mu.Lock()
	m.put(string(m.codec.encode(key)), value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	m.remove(string(m.codec.encode(key)))
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := string(m.codec.scanPrefix(prefix))

	m.mu.RLock()
	start, _ := slices.BinarySearch(m.keys, p)
	var snapshot []Entry
	for _, k := range m.keys[start:] {
		if len(k) < len(p) || k[:len(p)] != p {
			break
		}
		snapshot = append(snapshot, Entry{
			Key:   m.codec.decode([]byte(k)),
			Value: bytes.Clone(m.data[k]),
		})
	}
	m.mu.RUnlock()

	return func(yield func(Entry, error) bool) {
		for _, e := range snapshot {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *Memory) BatchSet(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := m.codec.validate(e.Key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.put(string(m.codec.encode(e.Key)), e.Value)
	}
	return nil
}

func (m *Memory) BatchDelete(_ context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.remove(string(m.codec.encode(k)))
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// put must be called with mu held.
func (m *Memory) put(k string, v []byte) {
	if _, ok := m.data[k]; !ok {
		i, _ := slices.BinarySearch(m.keys, k)
		m.keys = slices.Insert(m.keys, i, k)
	}
	m.data[k] = bytes.Clone(v)
}

// remove must be called with mu held.
func (m *Memory) remove(k string) {
	if _, ok := m.data[k]; !ok {
		return
	}
	delete(m.data, k)
	if i, found := slices.BinarySearch(m.keys, k); found {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
}
