package cli

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/kv"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/recall"
)

func ingestFixture(t *testing.T) (*memory.KVStore, *Fixture, embed.Embedder) {
	t.Helper()
	fx, err := LoadFixture(filepath.Join("testdata", "chat.yaml"))
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	db, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := memory.NewKVStore(db, 0)
	e := embed.NewHash(64)
	if _, err := Ingest(context.Background(), store, e, fx, false); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	return store, fx, e
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	store, fx, e := ingestFixture(t)

	stats, err := Ingest(ctx, store, e, fx, true)
	if err != nil {
		t.Fatalf("Ingest(reset) error = %v", err)
	}
	want := IngestStats{
		Conversation: "camelot",
		Fingerprint:  e.Fingerprint(),
		Atoms:        3,
		Relations:    3,
		Chunks:       5,
		Events:       2,
		Entities:     4,
		Facts:        2,
	}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}

	ok, err := store.CheckFingerprint(ctx, "camelot", e.Fingerprint())
	if err != nil || !ok {
		t.Errorf("CheckFingerprint() = %v, %v; want true", ok, err)
	}

	svecs, err := store.StateVectors(ctx, "camelot")
	if err != nil {
		t.Fatalf("StateVectors() error = %v", err)
	}
	if len(svecs) != 3 {
		t.Fatalf("len(StateVectors) = %d, want 3", len(svecs))
	}
	for _, v := range svecs {
		if len(v.Vector) != 64 || len(v.RVector) != 64 {
			t.Errorf("vector %s: dims %d / %d, want 64 / 64", v.AtomID, len(v.Vector), len(v.RVector))
		}
	}

	chunks, err := store.ChunksByFloors(ctx, "camelot", []int{1})
	if err != nil {
		t.Fatalf("ChunksByFloors() error = %v", err)
	}
	if len(chunks) != 2 || chunks[0].ChunkID != memory.ChunkID(1, 0) {
		t.Errorf("floor 1 chunks = %+v", chunks)
	}

	var names []string
	for ent, err := range store.Graph("camelot").Entities(ctx) {
		if err != nil {
			t.Fatalf("Entities() error = %v", err)
		}
		names = append(names, ent.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"Avalon", "Excalibur", "Merlin", "Nimue"}) {
		t.Errorf("entities = %v", names)
	}
}

func TestIngestThenRecall(t *testing.T) {
	ctx := context.Background()
	store, fx, e := ingestFixture(t)

	engine, err := recall.New(recall.DefaultConfig(), store, e, nil, recall.Options{})
	if err != nil {
		t.Fatalf("recall.New() error = %v", err)
	}
	ec := recall.NewEngineContext(fx.Conversation)
	defer ec.Close()

	res, err := engine.Recall(ctx, ec, fx.Request())
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	rec := res.Metrics
	if !rec.Dense.FingerprintOK {
		t.Errorf("fingerprint not accepted, reasons %v", rec.Reasons)
	}
	if rec.Dense.StateVectors != 3 || rec.Dense.EventVectors != 2 {
		t.Errorf("dense vectors = %d / %d, want 3 / 2", rec.Dense.StateVectors, rec.Dense.EventVectors)
	}
	if rec.Lexical.Docs != 7 {
		t.Errorf("lexical docs = %d, want 7", rec.Lexical.Docs)
	}

	if err := store.DeleteFloor(ctx, fx.Conversation, 3); err != nil {
		t.Fatalf("DeleteFloor() error = %v", err)
	}
	if err := ec.SyncFloor(ctx, store, 3); err != nil {
		t.Fatalf("SyncFloor() error = %v", err)
	}
	if got := ec.Index().DocCount(); got != 6 {
		t.Errorf("DocCount after forgetting floor 3 = %d, want 6", got)
	}
}
