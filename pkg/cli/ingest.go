package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/memory"
)

// IngestStats counts what [Ingest] wrote.
type IngestStats struct {
	Conversation string `json:"conversation" yaml:"conversation"`
	Fingerprint  string `json:"fingerprint" yaml:"fingerprint"`
	Atoms        int    `json:"atoms" yaml:"atoms"`
	Relations    int    `json:"relations" yaml:"relations"`
	Chunks       int    `json:"chunks" yaml:"chunks"`
	Events       int    `json:"events" yaml:"events"`
	Entities     int    `json:"entities" yaml:"entities"`
	Facts        int    `json:"facts" yaml:"facts"`
}

// Ingest embeds a fixture with e and writes it to store. With reset the
// conversation is cleared first. The fingerprint is written last so a
// half-finished ingest is never mistaken for a complete one.
func Ingest(ctx context.Context, store *memory.KVStore, e embed.Embedder, f *Fixture, reset bool) (*IngestStats, error) {
	conv := f.Conversation
	st := &IngestStats{Conversation: conv, Fingerprint: e.Fingerprint()}

	if reset {
		if err := store.DeleteConversation(ctx, conv); err != nil {
			return nil, err
		}
	}

	for _, ent := range f.Entities {
		if err := store.PutEntity(ctx, conv, ent); err != nil {
			return nil, fmt.Errorf("ingest: entity %q: %w", ent.Name, err)
		}
		st.Entities++
	}
	for _, fact := range f.Facts {
		if err := store.AddFact(ctx, conv, fact); err != nil {
			return nil, fmt.Errorf("ingest: fact %s/%s: %w", fact.Subject, fact.Predicate, err)
		}
		st.Facts++
	}

	if err := ingestAtoms(ctx, store, e, conv, f.Atoms, st); err != nil {
		return nil, err
	}
	if err := ingestChunks(ctx, store, e, conv, f.Chunks, st); err != nil {
		return nil, err
	}
	if err := ingestEvents(ctx, store, e, conv, f.Events, st); err != nil {
		return nil, err
	}

	if err := store.SetFingerprint(ctx, conv, st.Fingerprint); err != nil {
		return nil, err
	}
	slog.Debug("ingest: done", "conv", conv, "atoms", st.Atoms, "chunks", st.Chunks, "events", st.Events)
	return st, nil
}

func ingestAtoms(ctx context.Context, store *memory.KVStore, e embed.Embedder, conv string, atoms []memory.StateAtom, st *IngestStats) error {
	if len(atoms) == 0 {
		return nil
	}
	if err := store.PutAtoms(ctx, conv, atoms); err != nil {
		return err
	}

	texts := make([]string, len(atoms))
	var rels []string
	var relOf []int
	for i := range atoms {
		texts[i] = atoms[i].Semantic
		if r := atoms[i].RelationText(); r != "" {
			rels = append(rels, r)
			relOf = append(relOf, i)
		}
	}
	vecs, err := embedTexts(ctx, e, texts)
	if err != nil {
		return fmt.Errorf("ingest: embed atoms: %w", err)
	}
	rvecs, err := embedTexts(ctx, e, rels)
	if err != nil {
		return fmt.Errorf("ingest: embed relations: %w", err)
	}

	rvecOf := make(map[int][]float32, len(relOf))
	for j, i := range relOf {
		rvecOf[i] = rvecs[j]
	}
	out := make([]memory.StateVector, 0, len(atoms))
	for i, a := range atoms {
		if vecs[i] == nil {
			continue
		}
		sv := memory.StateVector{AtomID: a.AtomID, Floor: a.Floor, Vector: vecs[i]}
		if rv := rvecOf[i]; rv != nil {
			sv.RVector = rv
			st.Relations++
		}
		out = append(out, sv)
	}
	if err := store.PutStateVectors(ctx, conv, out); err != nil {
		return err
	}
	st.Atoms = len(atoms)
	return nil
}

func ingestChunks(ctx context.Context, store *memory.KVStore, e embed.Embedder, conv string, chunks []memory.Chunk, st *IngestStats) error {
	if len(chunks) == 0 {
		return nil
	}
	chunks = append([]memory.Chunk(nil), chunks...)
	texts := make([]string, len(chunks))
	for i := range chunks {
		if chunks[i].ChunkID == "" {
			chunks[i].ChunkID = memory.ChunkID(chunks[i].Floor, chunks[i].ChunkIdx)
		}
		texts[i] = chunks[i].Text
	}
	if err := store.PutChunks(ctx, conv, chunks); err != nil {
		return err
	}
	vecs, err := embedTexts(ctx, e, texts)
	if err != nil {
		return fmt.Errorf("ingest: embed chunks: %w", err)
	}
	out := make([]memory.ChunkVector, 0, len(chunks))
	for i, c := range chunks {
		if vecs[i] != nil {
			out = append(out, memory.ChunkVector{ChunkID: c.ChunkID, Floor: c.Floor, Vector: vecs[i]})
		}
	}
	if err := store.PutChunkVectors(ctx, conv, out); err != nil {
		return err
	}
	st.Chunks = len(chunks)
	return nil
}

func ingestEvents(ctx context.Context, store *memory.KVStore, e embed.Embedder, conv string, events []memory.Event, st *IngestStats) error {
	if len(events) == 0 {
		return nil
	}
	texts := make([]string, len(events))
	for i := range events {
		texts[i] = events[i].Text()
	}
	vecs, err := embedTexts(ctx, e, texts)
	if err != nil {
		return fmt.Errorf("ingest: embed events: %w", err)
	}
	out := make([]memory.EventVector, 0, len(events))
	for i, ev := range events {
		if vecs[i] != nil {
			out = append(out, memory.EventVector{EventID: ev.ID, Vector: vecs[i]})
		}
	}
	if err := store.PutEventVectors(ctx, conv, out); err != nil {
		return err
	}
	st.Events = len(out)
	return nil
}

// embedTexts embeds the non-empty texts and returns one vector per input,
// nil for empty ones.
func embedTexts(ctx context.Context, e embed.Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var batch []string
	var idx []int
	for i, t := range texts {
		if t != "" {
			batch = append(batch, t)
			idx = append(idx, i)
		}
	}
	if len(batch) == 0 {
		return out, nil
	}
	vecs, err := e.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	for j, i := range idx {
		out[i] = vecs[j]
	}
	return out, nil
}
