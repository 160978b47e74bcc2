package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/memrecall/pkg/graph"
	"github.com/haivivi/memrecall/pkg/kv"
)

// KVStore is a Store backed by a kv.Store with msgpack values. It also
// carries the write operations used by ingestion.
type KVStore struct {
	store kv.Store
	sep   byte
}

var _ Store = (*KVStore)(nil)

// NewKVStore wraps store. sep must match the separator the kv.Store was
// created with; 0 selects kv.DefaultSeparator.
func NewKVStore(store kv.Store, sep byte) *KVStore {
	if sep == 0 {
		sep = kv.DefaultSeparator
	}
	return &KVStore{store: store, sep: sep}
}

// KV returns the underlying key-value store.
func (s *KVStore) KV() kv.Store { return s.store }

func listValues[T any](ctx context.Context, store kv.Store, prefix kv.Key) ([]T, error) {
	var out []T
	for entry, err := range store.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("memory: list %s: %w", prefix, err)
		}
		var v T
		if err := msgpack.Unmarshal(entry.Value, &v); err != nil {
			return nil, fmt.Errorf("memory: decode %s: %w", entry.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func encode(key kv.Key, v any) (kv.Entry, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("memory: encode %s: %w", key, err)
	}
	return kv.Entry{Key: key, Value: data}, nil
}

func (s *KVStore) StateAtoms(ctx context.Context, conv string) ([]StateAtom, error) {
	return listValues[StateAtom](ctx, s.store, atomPrefix(conv))
}

func (s *KVStore) StateVectors(ctx context.Context, conv string) ([]StateVector, error) {
	return listValues[StateVector](ctx, s.store, svecPrefix(conv))
}

func (s *KVStore) Chunks(ctx context.Context, conv string) ([]Chunk, error) {
	return listValues[Chunk](ctx, s.store, chunkPrefix(conv))
}

func (s *KVStore) ChunksByFloors(ctx context.Context, conv string, floors []int) ([]Chunk, error) {
	fs := slices.Clone(floors)
	slices.Sort(fs)
	fs = slices.Compact(fs)

	var out []Chunk
	for _, f := range fs {
		if f < 0 {
			continue
		}
		chunks, err := listValues[Chunk](ctx, s.store, chunkFloorPrefix(conv, f))
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func (s *KVStore) ChunkVectorsByIDs(ctx context.Context, conv string, ids []string) ([]ChunkVector, error) {
	out := make([]ChunkVector, 0, len(ids))
	for _, id := range ids {
		if validateID("chunk", id, s.sep) != nil {
			continue
		}
		data, err := s.store.Get(ctx, cvecKey(conv, id))
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("memory: get chunk vector %s: %w", id, err)
		}
		var v ChunkVector
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("memory: decode chunk vector %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *KVStore) EventVectors(ctx context.Context, conv string) ([]EventVector, error) {
	return listValues[EventVector](ctx, s.store, evecPrefix(conv))
}

// Fingerprint returns the stored engine fingerprint, or "" if none.
func (s *KVStore) Fingerprint(ctx context.Context, conv string) (string, error) {
	data, err := s.store.Get(ctx, fingerprintKey(conv))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("memory: get fingerprint: %w", err)
	}
	return string(data), nil
}

func (s *KVStore) CheckFingerprint(ctx context.Context, conv, fp string) (bool, error) {
	stored, err := s.Fingerprint(ctx, conv)
	if err != nil {
		return false, err
	}
	return stored != "" && stored == fp, nil
}

// SetFingerprint records the engine that produced the conversation's
// vectors.
func (s *KVStore) SetFingerprint(ctx context.Context, conv, fp string) error {
	return s.store.Set(ctx, fingerprintKey(conv), []byte(fp))
}

func (s *KVStore) Graph(conv string) graph.Graph {
	return graph.NewKVGraph(s.store, graphPrefix(conv))
}

// PutEntity stores an entity in the conversation graph.
func (s *KVStore) PutEntity(ctx context.Context, conv string, e graph.Entity) error {
	return s.Graph(conv).PutEntity(ctx, e)
}

// AddFact stores a fact in the conversation graph.
func (s *KVStore) AddFact(ctx context.Context, conv string, f graph.Fact) error {
	return s.Graph(conv).SetFact(ctx, f)
}

// PutAtoms writes atoms, replacing any with the same floor and id.
func (s *KVStore) PutAtoms(ctx context.Context, conv string, atoms []StateAtom) error {
	entries := make([]kv.Entry, 0, len(atoms))
	for i := range atoms {
		a := &atoms[i]
		if a.Floor < 0 {
			return fmt.Errorf("%w: atom %s floor %d", ErrInvalidFloor, a.AtomID, a.Floor)
		}
		if err := validateID("atom", a.AtomID, s.sep); err != nil {
			return err
		}
		e, err := encode(atomKey(conv, a.Floor, a.AtomID), a)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.store.BatchSet(ctx, entries)
}

// PutStateVectors writes atom vectors.
func (s *KVStore) PutStateVectors(ctx context.Context, conv string, vecs []StateVector) error {
	entries := make([]kv.Entry, 0, len(vecs))
	for i := range vecs {
		v := &vecs[i]
		if v.Floor < 0 {
			return fmt.Errorf("%w: vector %s floor %d", ErrInvalidFloor, v.AtomID, v.Floor)
		}
		if err := validateID("atom", v.AtomID, s.sep); err != nil {
			return err
		}
		e, err := encode(svecKey(conv, v.Floor, v.AtomID), v)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.store.BatchSet(ctx, entries)
}

// PutChunks writes chunks. Empty chunk ids are filled with ChunkID.
func (s *KVStore) PutChunks(ctx context.Context, conv string, chunks []Chunk) error {
	entries := make([]kv.Entry, 0, len(chunks))
	for i := range chunks {
		c := chunks[i]
		if c.Floor < 0 || c.ChunkIdx < 0 {
			return fmt.Errorf("%w: chunk floor %d idx %d", ErrInvalidFloor, c.Floor, c.ChunkIdx)
		}
		if c.ChunkID == "" {
			c.ChunkID = ChunkID(c.Floor, c.ChunkIdx)
		}
		if err := validateID("chunk", c.ChunkID, s.sep); err != nil {
			return err
		}
		e, err := encode(chunkKey(conv, c.Floor, c.ChunkIdx), &c)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.store.BatchSet(ctx, entries)
}

// PutChunkVectors writes chunk vectors.
func (s *KVStore) PutChunkVectors(ctx context.Context, conv string, vecs []ChunkVector) error {
	entries := make([]kv.Entry, 0, len(vecs))
	for i := range vecs {
		v := &vecs[i]
		if err := validateID("chunk", v.ChunkID, s.sep); err != nil {
			return err
		}
		e, err := encode(cvecKey(conv, v.ChunkID), v)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.store.BatchSet(ctx, entries)
}

// PutEventVectors writes event vectors.
func (s *KVStore) PutEventVectors(ctx context.Context, conv string, vecs []EventVector) error {
	entries := make([]kv.Entry, 0, len(vecs))
	for i := range vecs {
		v := &vecs[i]
		if err := validateID("event", v.EventID, s.sep); err != nil {
			return err
		}
		e, err := encode(evecKey(conv, v.EventID), v)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.store.BatchSet(ctx, entries)
}

// DeleteFloor removes every atom, atom vector, chunk and chunk vector on
// floor. Events and graph entries are left alone.
func (s *KVStore) DeleteFloor(ctx context.Context, conv string, floor int) error {
	if floor < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFloor, floor)
	}
	var keys []kv.Key
	for _, prefix := range []kv.Key{atomFloorPrefix(conv, floor), svecFloorPrefix(conv, floor)} {
		for entry, err := range s.store.List(ctx, prefix) {
			if err != nil {
				return fmt.Errorf("memory: delete floor %d: %w", floor, err)
			}
			keys = append(keys, entry.Key)
		}
	}
	for entry, err := range s.store.List(ctx, chunkFloorPrefix(conv, floor)) {
		if err != nil {
			return fmt.Errorf("memory: delete floor %d: %w", floor, err)
		}
		keys = append(keys, entry.Key)
		var c Chunk
		if msgpack.Unmarshal(entry.Value, &c) == nil && c.ChunkID != "" {
			keys = append(keys, cvecKey(conv, c.ChunkID))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return s.store.BatchDelete(ctx, keys)
}

// DeleteConversation removes everything stored for conv.
func (s *KVStore) DeleteConversation(ctx context.Context, conv string) error {
	var keys []kv.Key
	for entry, err := range s.store.List(ctx, convPrefix(conv)) {
		if err != nil {
			return fmt.Errorf("memory: delete conversation %s: %w", conv, err)
		}
		keys = append(keys, entry.Key)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.store.BatchDelete(ctx, keys)
}
