// Package recall assembles the evidence a conversational agent needs to
// continue a dialogue.
//
// One call to [Engine.Recall] runs a fixed pipeline over one
// conversation:
//
//  1. build a query bundle from the last few messages;
//  2. round-1 dense search over atom and event vectors;
//  3. refine the query with round-1 hints and search again;
//  4. lexical search over chunks and events;
//  5. fuse dense and lexical floor rankings (W-RRF), protect floors hit by
//     rare terms, and rerank the rest with a cross-encoder;
//  6. attach atoms (L0) and the best user / AI chunks (L1) per floor;
//  7. diffuse over the atom graph (personalized PageRank);
//  8. trace causal ancestors of the recalled events.
//
// Upstream failures never surface as errors. They degrade the call and
// are recorded in [Result.Metrics] so callers can tell "nothing relevant"
// from "a subsystem failed".
package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/memrecall/pkg/causal"
	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/metrics"
	"github.com/haivivi/memrecall/pkg/query"
	"github.com/haivivi/memrecall/pkg/rerank"
	"github.com/haivivi/memrecall/pkg/tokenizer"
	"github.com/haivivi/memrecall/pkg/vecmath"
)

var (
	// ErrNilContext is returned when Recall is called without an engine
	// context.
	ErrNilContext = errors.New("recall: nil engine context")

	ErrNoStore    = errors.New("recall: store is required")
	ErrNoEmbedder = errors.New("recall: embedder is required")
)

// Options are optional collaborators of an [Engine].
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Collectors receive one observation per call. Nil disables
	// Prometheus export.
	Collectors *metrics.Collectors
}

// Engine runs recall calls. It holds no per-conversation state and is safe
// for concurrent use; that state lives in [EngineContext].
type Engine struct {
	cfg        Config
	store      memory.Store
	embedder   embed.Embedder
	reranker   rerank.Reranker
	logger     *slog.Logger
	collectors *metrics.Collectors
}

// New validates cfg and creates an engine. reranker may be nil, in which
// case floors keep their fusion order.
func New(cfg Config, store memory.Store, embedder embed.Embedder, reranker rerank.Reranker, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNoStore
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:   cfg,
		store: store,
		embedder: &embed.Retry{
			Embedder: embedder,
			Timeout:  cfg.EmbedTimeout,
			Backoff:  cfg.EmbedRetryBackoff,
			Logger:   logger,
		},
		reranker:   reranker,
		logger:     logger,
		collectors: opts.Collectors,
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Store returns the engine's store.
func (e *Engine) Store() memory.Store { return e.store }

// Recall runs the pipeline for the conversation of ec. The error is
// non-nil only for a nil ec or when ctx ends; every other failure yields
// a degraded or empty result.
func (e *Engine) Recall(ctx context.Context, ec *EngineContext, req Request) (*Result, error) {
	if ec == nil {
		return nil, ErrNilContext
	}
	c := &call{
		e:    e,
		ec:   ec,
		conv: ec.ConvID(),
		req:  req,
	}
	c.rec = metrics.New(c.conv)
	c.res = newResult(c.rec)

	err := c.run(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	c.rec.Finish(!c.res.Empty())
	c.res.ElapsedMs = c.rec.ElapsedMs
	e.collectors.Observe(c.rec)

	log := e.logger.With("recall_id", c.rec.RecallID, "conv", c.conv)
	log.Info("recall: done",
		"outcome", c.rec.Outcome,
		"elapsed_ms", c.rec.ElapsedMs,
		"events", len(c.res.Events),
		"atoms", len(c.res.L0Selected),
		"floors", len(c.res.L1ByFloor),
		"causal", len(c.res.CausalChain),
		"must_keep", c.res.MustKeepFloors,
		"degraded", c.rec.Reasons)
	if log.Enabled(ctx, slog.LevelDebug) {
		log.Debug("recall: metrics\n" + c.rec.LogText())
	}

	if err != nil {
		return c.res, fmt.Errorf("recall: %w", err)
	}
	return c.res, nil
}

// call is the state of one Recall.
type call struct {
	e    *Engine
	ec   *EngineContext
	conv string
	req  Request
	rec  *metrics.Record
	res  *Result

	atoms        []memory.StateAtom
	atomByID     map[string]memory.StateAtom
	atomsByFloor map[int][]memory.StateAtom
	svecs        []memory.StateVector
	evecs        []memory.EventVector
	evecByID     map[string][]float32
	eventByID    map[string]memory.Event
	fpOK         bool
	lex          *lexicon.Lexicon

	build   lexical.BuildFunc
	builder *query.Builder
	bundle  *query.Bundle
	qv      []float32
	scan    *denseScan

	lexResult *lexical.Result
	admitted  map[int]bool
	lexRanked []FloorScore
}

// run executes the stages in order. A stage that cannot continue records
// why and returns nil; only cancellation is an error.
func (c *call) run(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) (bool, error)
	}{
		{"prefetch", c.prefetch},
		{"query", c.buildQuery},
		{"dense", c.dense},
		{"lexical", c.lexical},
		{"fusion", c.fuse},
		{"diffusion", c.diffuse},
		{"causal", c.causal},
	}
	for _, s := range steps {
		stop := c.rec.Stage(s.name)
		more, err := s.fn(ctx)
		stop()
		if err != nil {
			return err
		}
		if !more {
			c.e.logger.Debug("recall: stopped early", "conv", c.conv, "stage", s.name, "reasons", c.rec.Reasons)
			return nil
		}
	}
	return nil
}

// fail classifies err: cancellation ends the call with an error, anything
// else degrades it with reason.
func (c *call) fail(ctx context.Context, reason string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.rec.Degrade(reason, err)
	return nil
}

func (c *call) prefetch(ctx context.Context) (bool, error) {
	st := c.e.store
	fp := c.e.embedder.Fingerprint()
	verified := c.ec.verified(c.conv, fp)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		c.atoms, err = st.StateAtoms(gctx, c.conv)
		return err
	})
	g.Go(func() (err error) {
		c.svecs, err = st.StateVectors(gctx, c.conv)
		return err
	})
	g.Go(func() (err error) {
		c.evecs, err = st.EventVectors(gctx, c.conv)
		return err
	})
	g.Go(func() (err error) {
		c.lex, err = loadLexicon(gctx, st, c.conv, c.req)
		return err
	})
	g.Go(func() (err error) {
		if verified {
			c.fpOK = true
			return nil
		}
		c.fpOK, err = st.CheckFingerprint(gctx, c.conv, fp)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, c.fail(ctx, metrics.ReasonStoreError, err)
	}
	if c.fpOK && !verified {
		c.ec.markVerified(c.conv, fp)
	}
	c.ec.setLexicon(c.conv, c.lex)

	c.atomByID = make(map[string]memory.StateAtom, len(c.atoms))
	c.atomsByFloor = make(map[int][]memory.StateAtom)
	for _, a := range c.atoms {
		c.atomByID[a.AtomID] = a
		c.atomsByFloor[a.Floor] = append(c.atomsByFloor[a.Floor], a)
	}
	c.evecByID = make(map[string][]float32, len(c.evecs))
	for _, v := range c.evecs {
		c.evecByID[v.EventID] = v.Vector
	}
	c.eventByID = make(map[string]memory.Event, len(c.req.Events))
	for _, ev := range c.req.Events {
		if ev.ID != "" {
			c.eventByID[ev.ID] = ev
		}
	}
	c.rec.Dense.StateVectors = len(c.svecs)
	c.rec.Dense.EventVectors = len(c.evecs)
	return true, nil
}

func (c *call) buildQuery(ctx context.Context) (bool, error) {
	c.build = c.ec.buildFunc(c.e.store, c.conv, c.lex, c.req.Events)
	cur := c.ec.currentIndex(c.conv, c.lex)
	c.ec.lexical.Warmup(c.conv, c.build)

	if cur != nil {
		if err := c.ec.syncEvents(cur, c.lex, c.req.Events); err != nil {
			c.e.logger.Warn("recall: lexical index not updated", "conv", c.conv, "error", err)
			cur = nil
		}
	}

	var idf func(string) float64
	c.rec.Query.IDFSource = "tf"
	if cur != nil && cur.DocCount() > 0 {
		idf = cur.IDF
		c.rec.Query.IDFSource = "index"
	}

	c.builder = query.NewBuilder(c.e.cfg.queryOptions(), tokenizer.New(c.lex), idf)
	c.bundle = c.builder.Build(query.Input{
		Messages:           c.req.Messages,
		PendingUserMessage: c.req.PendingUserMessage,
		ExcludeLastAITurn:  c.req.ExcludeLastAITurn,
		UserName:           c.req.UserName,
		CharacterName:      c.req.CharacterName,
	})
	c.res.FocusTerms = display(c.lex, c.bundle.FocusTerms)
	c.res.FocusCharacters = display(c.lex, c.bundle.FocusCharacters)

	q := &c.rec.Query
	q.Segments = len(c.bundle.Segments)
	q.LexicalTerms = c.bundle.LexicalTerms
	q.FocusTerms = c.bundle.FocusTerms
	q.FocusCharacters = c.bundle.FocusCharacters

	switch {
	case c.bundle.Empty():
		c.rec.Degrade(metrics.ReasonNoQuery, nil)
		return false, nil
	case len(c.svecs) == 0 && len(c.evecs) == 0:
		// Nothing ingested yet: no vectors and usually no fingerprint.
		c.rec.Degrade(metrics.ReasonNoData, nil)
		return false, nil
	case !c.fpOK:
		c.rec.Degrade(metrics.ReasonFingerprintMismatch, nil)
		return false, nil
	}
	c.rec.Dense.FingerprintOK = true
	return true, nil
}

func display(lex *lexicon.Lexicon, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = lex.Display(n)
	}
	return out
}

func (c *call) embedFailure(ctx context.Context, err error) error {
	reason := metrics.ReasonEmbedFailed
	if errors.Is(err, embed.ErrEmptyVector) {
		reason = metrics.ReasonEmptyVector
	}
	return c.fail(ctx, reason, err)
}

func (c *call) dense(ctx context.Context) (bool, error) {
	emb := c.ec.embedder(c.e.embedder)
	if cache, ok := emb.(*embed.Cache); ok {
		hits, misses := cache.Stats()
		defer func() {
			h, m := cache.Stats()
			c.rec.Dense.CacheHits, c.rec.Dense.CacheMisses = h-hits, m-misses
		}()
	}
	focus := c.bundle.FocusIndex()

	qv, err := c.e.queryVector(ctx, emb, c.bundle.Segments, focus)
	if err != nil {
		return false, c.embedFailure(ctx, err)
	}
	scan := c.e.searchAnchors(qv, c.svecs)
	evs := c.e.searchEvents(qv, c.lex, c.eventByID, c.evecs, c.bundle.FocusCharacters)
	c.rec.Dense.Round1Anchors = len(scan.Anchors)
	c.rec.Dense.Round1Events = len(evs.Hits)

	var anchorTexts, eventTexts []string
	for _, a := range scan.Anchors {
		if len(anchorTexts) >= c.e.cfg.HintAnchors {
			break
		}
		if atom, ok := c.atomByID[a.AtomID]; ok {
			anchorTexts = append(anchorTexts, atom.Semantic)
		}
	}
	for _, h := range evs.Hits {
		if len(eventTexts) >= c.e.cfg.HintEvents {
			break
		}
		eventTexts = append(eventTexts, h.Event.Text())
	}
	c.builder.Refine(c.bundle, anchorTexts, eventTexts)
	c.rec.Query.LexicalTerms = c.bundle.LexicalTerms

	if c.bundle.Hints != nil {
		c.rec.Query.Hints = true
		segs := c.bundle.AllSegments()
		qv, err = c.e.queryVector(ctx, emb, segs, focus)
		if err != nil {
			return false, c.embedFailure(ctx, err)
		}
		c.rec.Query.Weights = c.e.cfg.weightOptions().ComputeSegmentWeights(segs, focus)
		scan = c.e.searchAnchors(qv, c.svecs)
		evs = c.e.searchEvents(qv, c.lex, c.eventByID, c.evecs, c.bundle.FocusCharacters)
	} else {
		c.rec.Query.Weights = c.e.cfg.weightOptions().ComputeSegmentWeights(c.bundle.Segments, focus)
	}
	c.rec.Dense.Round2Anchors = len(scan.Anchors)
	c.rec.Dense.Round2Events = len(evs.Hits)
	c.rec.Dense.EntityBypassed = evs.Bypassed
	c.rec.Dense.EntityFiltered = evs.Filtered

	c.qv, c.scan = qv, scan
	c.res.Events = append(c.res.Events, evs.Hits...)
	return true, nil
}

func (c *call) lexical(ctx context.Context) (bool, error) {
	idx, err := c.ec.lexical.Get(ctx, c.conv, c.build)
	if err != nil {
		return true, c.fail(ctx, metrics.ReasonLexicalUnavailable, err)
	}
	if err := c.ec.syncEvents(idx, c.lex, c.req.Events); err != nil {
		return true, c.fail(ctx, metrics.ReasonLexicalUnavailable, err)
	}
	c.rec.Lexical.Ready = true
	c.rec.Lexical.Docs = idx.DocCount()

	lr, err := idx.Search(ctx, c.bundle.LexicalTerms, c.e.cfg.LexicalSearchLimit)
	if err != nil {
		return true, c.fail(ctx, metrics.ReasonLexicalUnavailable, err)
	}
	c.lexResult = lr
	c.rec.Lexical.ChunkHits = len(lr.Chunks)
	c.rec.Lexical.EventHits = len(lr.Events)

	chunkSim := make(map[int]float64)
	if len(lr.Chunks) > 0 {
		ids := make([]string, len(lr.Chunks))
		for i, h := range lr.Chunks {
			ids[i] = h.Ref
		}
		cvecs, err := c.e.store.ChunkVectorsByIDs(ctx, c.conv, ids)
		if err != nil {
			if err := c.fail(ctx, metrics.ReasonStoreError, err); err != nil {
				return false, err
			}
		}
		for _, v := range cvecs {
			if len(v.Vector) != len(c.qv) {
				continue
			}
			s := vecmath.Cosine(c.qv, v.Vector)
			if cur, ok := chunkSim[v.Floor]; !ok || s > cur {
				chunkSim[v.Floor] = s
			}
		}
	}
	support := func(f int) float64 {
		s, ok := c.scan.FloorMax[f]
		if cs, cok := chunkSim[f]; cok && (!ok || cs > s) {
			return cs
		}
		return s
	}
	ranked, gated := lexicalFloors(lr.Chunks, c.e.cfg.LexicalDensityBonus, c.e.cfg.DenseGate, support)
	c.lexRanked = ranked
	c.admitted = make(map[int]bool, len(ranked))
	for _, f := range ranked {
		c.admitted[f.Floor] = true
	}
	c.rec.Lexical.Floors = len(ranked)
	c.rec.Lexical.FloorsGated = gated

	have := make(map[string]bool, len(c.res.Events))
	for _, h := range c.res.Events {
		have[h.Event.ID] = true
	}
	for _, h := range lr.Events {
		ev, ok := c.eventByID[h.Ref]
		if !ok || have[h.Ref] {
			continue
		}
		vec := c.evecByID[h.Ref]
		if len(vec) != len(c.qv) {
			continue
		}
		if sim := vecmath.Cosine(c.qv, vec); sim >= c.e.cfg.DenseGate {
			have[h.Ref] = true
			c.res.Events = append(c.res.Events, EventHit{Event: ev, Similarity: sim, Source: SourceLexical})
			c.rec.Lexical.EventsMerged++
		}
	}
	return true, nil
}

func (c *call) fuse(ctx context.Context) (bool, error) {
	cfg := &c.e.cfg
	denseRank := denseFloorRanking(c.scan.Anchors)
	lexRank := make([]int, len(c.lexRanked))
	for i, f := range c.lexRanked {
		lexRank[i] = f.Floor
	}
	fused := FuseRRF(denseRank, lexRank, cfg.RRFK, cfg.RRFDenseWeight, cfg.RRFLexicalWeight, cfg.FusionCap)
	c.rec.Fusion.DenseFloors = len(denseRank)
	c.rec.Fusion.LexicalFloors = len(lexRank)
	c.rec.Fusion.Fused = len(fused)

	var mustKeep []int
	if c.lexResult != nil {
		mustKeep = c.e.mustKeepFloors(c.lexResult.Terms, c.admitted)
	}
	c.rec.Fusion.MustKeep = mustKeep
	cands := slices.DeleteFunc(fused, func(f Fused) bool { return slices.Contains(mustKeep, f.Floor) })

	floors := make([]int, 0, len(cands)+len(mustKeep))
	for _, f := range cands {
		floors = append(floors, f.Floor)
	}
	floors = append(floors, mustKeep...)
	var chunks []memory.Chunk
	if len(floors) > 0 {
		var err error
		chunks, err = c.e.store.ChunksByFloors(ctx, c.conv, floors)
		if err != nil {
			if err := c.fail(ctx, metrics.ReasonStoreError, err); err != nil {
				return false, err
			}
		}
	}
	chunksByFloor := make(map[int][]memory.Chunk)
	for _, ch := range chunks {
		if ch.ChunkID == "" {
			ch.ChunkID = memory.ChunkID(ch.Floor, ch.ChunkIdx)
		}
		chunksByFloor[ch.Floor] = append(chunksByFloor[ch.Floor], ch)
	}
	docs := make(map[int]string, len(cands))
	for _, f := range cands {
		docs[f.Floor] = floorDocument(chunksByFloor[f.Floor], c.atomsByFloor[f.Floor])
	}

	c.rec.Rerank.Candidates = len(docs)
	sel, fallback, err := c.e.rerankFloors(ctx, c.bundle.RerankQuery, cands, docs)
	switch {
	case err != nil:
		if err := c.fail(ctx, metrics.ReasonRerankFailed, err); err != nil {
			return false, err
		}
		c.e.logger.Warn("recall: rerank failed, keeping fusion order", "conv", c.conv, "error", err)
	case fallback:
		c.rec.Degrade(metrics.ReasonRerankSkipped, nil)
	}
	c.rec.Rerank.Returned = len(sel)
	c.rec.Rerank.Fallback = fallback

	for _, f := range mustKeep {
		sel = append(sel, selectedFloor{Floor: f, Score: cfg.MustKeepScore, Source: SourceMustKeep})
	}
	c.res.MustKeepFloors = append(c.res.MustKeepFloors, mustKeep...)
	c.res.L0Selected = append(c.res.L0Selected, atomHits(sel, c.atomsByFloor, c.scan.AtomSim)...)

	selFloors := make([]int, len(sel))
	var ids []string
	for i, sf := range sel {
		selFloors[i] = sf.Floor
		for _, ch := range chunksByFloor[sf.Floor] {
			ids = append(ids, ch.ChunkID)
		}
	}
	var cvecs []memory.ChunkVector
	if len(ids) > 0 {
		cvecs, err = c.e.store.ChunkVectorsByIDs(ctx, c.conv, ids)
		if err != nil {
			if err := c.fail(ctx, metrics.ReasonStoreError, err); err != nil {
				return false, err
			}
		}
	}
	c.res.L1ByFloor = pairChunks(c.qv, chunks, cvecs, selFloors)

	ev := &c.rec.Evidence
	ev.Floors = len(sel)
	ev.Atoms = len(c.res.L0Selected)
	for _, fc := range c.res.L1ByFloor {
		if fc.User != nil {
			ev.L1Chunks++
		}
		if fc.AI != nil {
			ev.L1Chunks++
		}
	}
	ev.Events = len(c.res.Events)
	return true, nil
}

func (c *call) diffuse(context.Context) (bool, error) {
	hits, st := c.e.diffuse(c.qv, c.atoms, c.svecs, c.res.L0Selected)
	c.res.L0Selected = append(c.res.L0Selected, hits...)
	c.rec.Diffusion = metrics.DiffusionStats{
		Nodes:      st.Nodes,
		Edges:      st.Edges,
		Seeds:      st.Seeds,
		Iterations: st.Iterations,
		Converged:  st.Converged,
		Delta:      st.Delta,
		Kept:       len(hits),
	}
	c.rec.Evidence.Atoms = len(c.res.L0Selected)
	return true, nil
}

func (c *call) causal(context.Context) (bool, error) {
	ids := make([]string, len(c.res.Events))
	for i, h := range c.res.Events {
		ids[i] = h.Event.ID
	}
	if links := causal.Trace(c.req.Events, ids, c.e.cfg.Causal); len(links) > 0 {
		c.res.CausalChain = links
	}
	c.rec.Causal.Injected = len(c.res.CausalChain)
	return true, nil
}
