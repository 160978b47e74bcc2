package recall

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/memrecall/pkg/graph"
	"github.com/haivivi/memrecall/pkg/kv"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/metrics"
	"github.com/haivivi/memrecall/pkg/rerank"
)

// keywordEmbedder maps text to keyword counts plus a constant bias
// dimension, so texts sharing a keyword are similar and texts without any
// keyword are near-orthogonal to those with one.
type keywordEmbedder struct {
	keywords []string
	fail     atomic.Bool
	calls    atomic.Int32
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"sword", "tea", "dragon", "river", "excalibur", "lake"}}
}

func (k *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	k.calls.Add(1)
	if k.fail.Load() {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = k.vector(text)
	}
	return out, nil
}

func (k *keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(k.keywords)+1)
	for j, kw := range k.keywords {
		v[j] = float32(strings.Count(lower, kw))
	}
	v[len(k.keywords)] = 0.1
	return v
}

func (k *keywordEmbedder) Dimension() int      { return len(k.keywords) + 1 }
func (k *keywordEmbedder) Fingerprint() string { return "keyword:test:7" }

// countingStore counts fingerprint checks that reach the store.
type countingStore struct {
	*memory.KVStore
	checks atomic.Int32
}

func (s *countingStore) CheckFingerprint(ctx context.Context, conv, fp string) (bool, error) {
	s.checks.Add(1)
	return s.KVStore.CheckFingerprint(ctx, conv, fp)
}

type fixture struct {
	store *memory.KVStore
	emb   *keywordEmbedder
	conv  string
}

// newFixture stores one atom per text, floor i holding texts[i], with
// matching vectors and chunks when withChunks is set.
func newFixture(t *testing.T, texts []string, withChunks bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: memory.NewKVStore(kv.NewMemory(0), 0),
		emb:   newKeywordEmbedder(),
		conv:  "c1",
	}
	var atoms []memory.StateAtom
	var svecs []memory.StateVector
	var chunks []memory.Chunk
	var cvecs []memory.ChunkVector
	for floor, text := range texts {
		id := "a" + string(rune('0'+floor))
		atoms = append(atoms, memory.StateAtom{AtomID: id, Floor: floor, Semantic: text})
		svecs = append(svecs, memory.StateVector{AtomID: id, Floor: floor, Vector: f.emb.vector(text)})
		if withChunks {
			user := memory.Chunk{Floor: floor, ChunkIdx: 0, Speaker: "Ann", IsUser: true, Text: "tell me more"}
			ai := memory.Chunk{Floor: floor, ChunkIdx: 1, Speaker: "Kai", Text: text}
			for _, c := range []memory.Chunk{user, ai} {
				c.ChunkID = memory.ChunkID(c.Floor, c.ChunkIdx)
				chunks = append(chunks, c)
				cvecs = append(cvecs, memory.ChunkVector{ChunkID: c.ChunkID, Floor: c.Floor, Vector: f.emb.vector(c.Text)})
			}
		}
	}
	require.NoError(t, f.store.PutAtoms(ctx, f.conv, atoms))
	require.NoError(t, f.store.PutStateVectors(ctx, f.conv, svecs))
	require.NoError(t, f.store.PutChunks(ctx, f.conv, chunks))
	require.NoError(t, f.store.PutChunkVectors(ctx, f.conv, cvecs))
	require.NoError(t, f.store.SetFingerprint(ctx, f.conv, f.emb.Fingerprint()))
	return f
}

func (f *fixture) engine(t *testing.T, rr rerank.Reranker, opts Options, tweaks ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EmbedRetryBackoff = 0
	for _, tw := range tweaks {
		tw(&cfg)
	}
	e, err := New(cfg, f.store, f.emb, rr, opts)
	require.NoError(t, err)
	return e
}

func newContext(t *testing.T, conv string) *EngineContext {
	t.Helper()
	ec := NewEngineContext(conv)
	t.Cleanup(func() { ec.Close() })
	return ec
}

func messages(focus string) []memory.Message {
	return []memory.Message{
		{Name: "Ann", IsUser: true, Content: "hello there", Floor: 5},
		{Name: "Kai", IsUser: false, Content: "nice weather today", Floor: 6},
		{Name: "Ann", IsUser: true, Content: focus, Floor: 7},
	}
}

var unreachable = rerank.Func(func(context.Context, rerank.Request) ([]rerank.Result, error) {
	return nil, errors.New("dial tcp: connection refused")
})

func atomIDs(hits []AtomHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Atom.AtomID
	}
	return out
}

func TestRecallSwordScenario(t *testing.T) {
	f := newFixture(t, []string{
		"we drank tea by the fire",
		"a dragon flew over the hills",
		"the sword was broken",
		"we crossed the river at dawn",
		"more tea was served",
	}, false)
	e := f.engine(t, unreachable, Options{})
	ec := newContext(t, f.conv)

	res, err := e.Recall(context.Background(), ec, Request{
		Messages: messages("what happened to the sword"),
		UserName: "Ann", CharacterName: "Kai",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.L0Selected)

	var found *AtomHit
	for i := range res.L0Selected {
		if res.L0Selected[i].Atom.Semantic == "the sword was broken" {
			found = &res.L0Selected[i]
		}
	}
	require.NotNil(t, found, "selected: %v", atomIDs(res.L0Selected))
	assert.Equal(t, 2, found.Atom.Floor)
	assert.True(t, found.RerankScore > 0 || found.Similarity > 0)
	assert.Equal(t, SourceFusion, found.Source)

	rec := res.Metrics
	assert.Equal(t, metrics.OutcomeDegraded, rec.Outcome)
	assert.Contains(t, rec.Reasons, metrics.ReasonRerankFailed)
	assert.True(t, rec.Rerank.Fallback)
	assert.True(t, rec.Lexical.Ready)
	assert.Equal(t, 0, rec.Lexical.Docs)
	assert.Equal(t, "tf", rec.Query.IDFSource)
	assert.Equal(t, res.ElapsedMs, rec.ElapsedMs)
}

func TestRecallMustKeepSurvivesEmptyRerank(t *testing.T) {
	f := newFixture(t, []string{
		"we drank tea near the sword rack",
		"a dragon guarded the sword",
		"the sword was broken",
		"excalibur rests beneath the waters",
		"we crossed the river at dawn",
	}, true)
	var reranked atomic.Int32
	empty := rerank.Func(func(_ context.Context, req rerank.Request) ([]rerank.Result, error) {
		reranked.Add(1)
		assert.NotEmpty(t, req.Documents)
		return []rerank.Result{}, nil
	})
	// Without hint terms only "excalibur" is rare enough to guard a floor.
	e := f.engine(t, empty, Options{}, func(c *Config) { c.MaxHintTerms = 0 })
	ec := newContext(t, f.conv)

	res, err := e.Recall(context.Background(), ec, Request{
		Messages: messages("where is the excalibur sword now"),
		UserName: "Ann", CharacterName: "Kai",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), reranked.Load())
	assert.Equal(t, []int{3}, res.MustKeepFloors)
	require.Len(t, res.L0Selected, 1)
	assert.Equal(t, "a3", res.L0Selected[0].Atom.AtomID)
	assert.Equal(t, SourceMustKeep, res.L0Selected[0].Source)
	assert.Equal(t, DefaultConfig().MustKeepScore, res.L0Selected[0].RerankScore)

	fc, ok := res.L1ByFloor[3]
	require.True(t, ok)
	require.NotNil(t, fc.AI)
	assert.Equal(t, "excalibur rests beneath the waters", fc.AI.Chunk.Text)
	require.NotNil(t, fc.User)
	assert.Equal(t, memory.ChunkID(3, 0), fc.User.Chunk.ChunkID)

	assert.Equal(t, metrics.OutcomeOK, res.Metrics.Outcome)
	assert.Equal(t, []int{3}, res.Metrics.Fusion.MustKeep)
	assert.Equal(t, 10, res.Metrics.Lexical.Docs)
}

func TestRecallRerankOrdersFloors(t *testing.T) {
	f := newFixture(t, []string{
		"the sword was broken",
		"a sword hung on the wall",
		"we drank tea",
	}, true)
	rr := rerank.Func(func(_ context.Context, req rerank.Request) ([]rerank.Result, error) {
		assert.True(t, strings.HasPrefix(req.Query, "what about the sword"))
		var out []rerank.Result
		for i, d := range req.Documents {
			if strings.Contains(d, "wall") {
				out = append(out, rerank.Result{Index: i, Score: 0.9})
			} else {
				out = append(out, rerank.Result{Index: i, Score: 0.3})
			}
		}
		return out, nil
	})
	// Rare hint terms would otherwise protect both floors from rerank.
	e := f.engine(t, rr, Options{}, func(c *Config) { c.GuardMaxFloors = 0 })
	res, err := e.Recall(context.Background(), newContext(t, f.conv), Request{
		Messages: messages("what about the sword"),
	})
	require.NoError(t, err)
	require.Len(t, res.L0Selected, 2)
	assert.Equal(t, []string{"a1", "a0"}, atomIDs(res.L0Selected))
	assert.Equal(t, 0.9, res.L0Selected[0].RerankScore)
	assert.Equal(t, SourceRerank, res.L0Selected[0].Source)
	assert.Equal(t, metrics.OutcomeOK, res.Metrics.Outcome)
}

func TestRecallEmbeddingFailure(t *testing.T) {
	f := newFixture(t, []string{"the sword was broken"}, false)
	f.emb.fail.Store(true)
	reg := prometheus.NewRegistry()
	col := metrics.NewCollectors(reg)
	e := f.engine(t, nil, Options{Collectors: col})

	res, err := e.Recall(context.Background(), newContext(t, f.conv), Request{
		Messages: messages("what happened to the sword"),
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, metrics.OutcomeFailed, res.Metrics.Outcome)
	assert.Contains(t, res.Metrics.Reasons, metrics.ReasonEmbedFailed)
	assert.Equal(t, int32(2), f.emb.calls.Load(), "exactly one retry")
	assert.Equal(t, 1.0, testutil.ToFloat64(col.Calls.WithLabelValues("failed")))
}

func TestRecallFingerprintMismatch(t *testing.T) {
	f := newFixture(t, []string{"the sword was broken"}, false)
	require.NoError(t, f.store.SetFingerprint(context.Background(), f.conv, "openai:other:1536"))
	e := f.engine(t, nil, Options{})

	res, err := e.Recall(context.Background(), newContext(t, f.conv), Request{
		Messages: messages("what happened to the sword"),
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, metrics.OutcomeFailed, res.Metrics.Outcome)
	assert.Equal(t, []string{metrics.ReasonFingerprintMismatch}, res.Metrics.Reasons)
	assert.Zero(t, f.emb.calls.Load())
}

func TestRecallEmptyInputs(t *testing.T) {
	f := newFixture(t, nil, false)
	e := f.engine(t, nil, Options{})
	ec := newContext(t, f.conv)

	res, err := e.Recall(context.Background(), ec, Request{})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeEmpty, res.Metrics.Outcome)
	assert.Equal(t, []string{metrics.ReasonNoQuery}, res.Metrics.Reasons)
	assert.NotNil(t, res.L1ByFloor)
	assert.NotNil(t, res.CausalChain)

	res, err = e.Recall(context.Background(), ec, Request{Messages: messages("anything")})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeEmpty, res.Metrics.Outcome)
	assert.Equal(t, []string{metrics.ReasonNoData}, res.Metrics.Reasons)

	_, err = e.Recall(context.Background(), nil, Request{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRecallColdStartIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore(kv.NewMemory(0), 0)
	emb := newKeywordEmbedder()
	reg := prometheus.NewRegistry()
	col := metrics.NewCollectors(reg)
	e, err := New(DefaultConfig(), store, emb, nil, Options{Collectors: col})
	require.NoError(t, err)

	res, err := e.Recall(ctx, newContext(t, "fresh"), Request{Messages: messages("what happened to the sword")})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, metrics.OutcomeEmpty, res.Metrics.Outcome)
	assert.Equal(t, []string{metrics.ReasonNoData}, res.Metrics.Reasons)
	assert.Equal(t, 1.0, testutil.ToFloat64(col.Calls.WithLabelValues("empty")))
	assert.Zero(t, emb.calls.Load())

	// Vectors without a fingerprint are a half-finished ingest.
	require.NoError(t, store.PutStateVectors(ctx, "fresh", []memory.StateVector{
		{AtomID: "a0", Floor: 0, Vector: emb.vector("the sword was broken")},
	}))
	res, err = e.Recall(ctx, newContext(t, "fresh"), Request{Messages: messages("what happened to the sword")})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeFailed, res.Metrics.Outcome)
	assert.Equal(t, []string{metrics.ReasonFingerprintMismatch}, res.Metrics.Reasons)
}

func TestRecallCancelled(t *testing.T) {
	f := newFixture(t, []string{"the sword was broken"}, false)
	e := f.engine(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Recall(ctx, newContext(t, f.conv), Request{Messages: messages("the sword")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecallEventsAndCausalChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"the sword was broken", "we drank tea"}, false)
	require.NoError(t, f.store.PutEntity(ctx, f.conv, graph.Entity{Name: "Kai", Kind: graph.KindCharacter}))

	events := []memory.Event{
		{ID: "evt-1", Title: "The duel", Participants: []string{"Kai"}, Summary: "Kai broke the sword (#0)", CausedBy: []string{"evt-2"}},
		{ID: "evt-2", Title: "The quarrel", Participants: []string{"Ann"}, Summary: "An argument over tea (#1)", CausedBy: []string{"evt-3"}},
		{ID: "evt-3", Title: "Arrival", Summary: "They met at the river (#1)", CausedBy: []string{"evt-1"}},
		{ID: "evt-4", Title: "Forge", Participants: []string{"Ann"}, Summary: "A sword was forged over tea (#0)"},
	}
	var evecs []memory.EventVector
	for _, ev := range events {
		evecs = append(evecs, memory.EventVector{EventID: ev.ID, Vector: f.emb.vector(ev.Text())})
	}
	require.NoError(t, f.store.PutEventVectors(ctx, f.conv, evecs))

	e := f.engine(t, nil, Options{})
	res, err := e.Recall(ctx, newContext(t, f.conv), Request{
		Events:        events,
		Messages:      messages("Kai, what happened to the sword"),
		UserName:      "Ann",
		CharacterName: "Kai",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Kai"}, res.FocusCharacters)
	// evt-4 lacks the focus character and is below the bypass, so dense
	// search drops it; its lexical hit clears the dense gate.
	require.Len(t, res.Events, 2)
	assert.Equal(t, "evt-1", res.Events[0].Event.ID)
	assert.Equal(t, SourceDense, res.Events[0].Source)
	assert.Equal(t, "evt-4", res.Events[1].Event.ID)
	assert.Equal(t, SourceLexical, res.Events[1].Source)
	assert.Equal(t, 1, res.Metrics.Dense.EntityFiltered)
	assert.Equal(t, 1, res.Metrics.Lexical.EventsMerged)

	require.Len(t, res.CausalChain, 2, "the cycle back to evt-1 terminates")
	assert.Equal(t, "evt-2", res.CausalChain[0].Event.ID)
	assert.Equal(t, 1, res.CausalChain[0].Depth)
	assert.Equal(t, "evt-3", res.CausalChain[1].Event.ID)
	assert.Equal(t, 2, res.CausalChain[1].Depth)
	assert.Equal(t, []string{"evt-1"}, res.CausalChain[1].ChainFrom)
}

func TestEngineContextLexicalLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"the sword was broken", "we drank tea"}, true)
	e := f.engine(t, nil, Options{})
	ec := newContext(t, f.conv)

	_, err := e.Recall(ctx, ec, Request{Messages: messages("the sword")})
	require.NoError(t, err)
	idx := ec.Index()
	require.NotNil(t, idx)
	assert.Equal(t, 4, idx.DocCount())

	res, err := e.Recall(ctx, ec, Request{Messages: messages("the sword")})
	require.NoError(t, err)
	assert.Equal(t, "index", res.Metrics.Query.IDFSource)

	require.NoError(t, f.store.PutChunks(ctx, f.conv, []memory.Chunk{
		{Floor: 1, ChunkIdx: 2, Speaker: "Kai", Text: "the dragon returned"},
	}))
	require.NoError(t, ec.SyncFloor(ctx, f.store, 1))
	assert.Equal(t, 5, ec.Index().DocCount())
	assert.Positive(t, ec.Index().DF("dragon"))

	require.NoError(t, ec.RemoveFloor(1))
	assert.Equal(t, 2, ec.Index().DocCount())

	ec.Switch("c2")
	assert.Equal(t, "c2", ec.ConvID())
	assert.Nil(t, ec.Index())
}

func TestEngineContextSwitchDropsVerifiedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"the sword was broken", "we drank tea"}, false)
	require.NoError(t, f.store.PutStateVectors(ctx, "c2", []memory.StateVector{
		{AtomID: "b0", Floor: 0, Vector: f.emb.vector("a dragon by the river")},
	}))
	require.NoError(t, f.store.SetFingerprint(ctx, "c2", f.emb.Fingerprint()))

	store := &countingStore{KVStore: f.store}
	e, err := New(DefaultConfig(), store, f.emb, nil, Options{})
	require.NoError(t, err)
	ec := newContext(t, f.conv)
	req := Request{Messages: messages("the sword")}

	res, err := e.Recall(ctx, ec, req)
	require.NoError(t, err)
	assert.True(t, res.Metrics.Dense.FingerprintOK)
	assert.Positive(t, res.Metrics.Dense.CacheMisses)
	assert.Equal(t, int32(1), store.checks.Load())

	res, err = e.Recall(ctx, ec, req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.checks.Load(), "verified fingerprint is reused")
	assert.Positive(t, res.Metrics.Dense.CacheHits)
	require.NotNil(t, ec.cache)
	assert.Positive(t, ec.cache.Len())

	ec.Switch("c2")
	assert.Empty(t, ec.fpOK)
	assert.Zero(t, ec.cache.Len())

	res, err = e.Recall(ctx, ec, Request{Messages: messages("the dragon")})
	require.NoError(t, err)
	assert.Equal(t, "c2", res.Metrics.ConvID)
	assert.True(t, res.Metrics.Dense.FingerprintOK)
	assert.Equal(t, int32(2), store.checks.Load(), "fingerprint checked again after switch")
}

func TestEngineContextIndexesLaterEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"the sword was broken", "we drank tea"}, true)
	e := f.engine(t, nil, Options{})
	ec := newContext(t, f.conv)

	first := memory.Event{ID: "evt-1", Title: "The duel", Participants: []string{"Kai"}, Summary: "Kai broke the sword (#0)"}
	later := memory.Event{ID: "evt-2", Title: "The lake", Participants: []string{"Kai"}, Summary: "Kai threw excalibur into the lake (#1)"}
	req := Request{Events: []memory.Event{first}, Messages: messages("the sword"), CharacterName: "Kai"}

	_, err := e.Recall(ctx, ec, req)
	require.NoError(t, err)
	idx := ec.Index()
	require.NotNil(t, idx)
	assert.Equal(t, 5, idx.DocCount())
	assert.Zero(t, idx.DF("excalibur"))

	req.Events = []memory.Event{first, later}
	res, err := e.Recall(ctx, ec, req)
	require.NoError(t, err)
	idx = ec.Index()
	require.NotNil(t, idx)
	assert.Equal(t, 6, idx.DocCount())
	assert.Equal(t, 1, idx.DF("excalibur"))
	assert.Equal(t, []string{"e/evt-1", "e/evt-2"}, idx.EventIDs())
	assert.Equal(t, 6, res.Metrics.Lexical.Docs)

	req.Events = []memory.Event{later}
	_, err = e.Recall(ctx, ec, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"e/evt-2"}, ec.Index().EventIDs())
	assert.Equal(t, 5, ec.Index().DocCount())
}
