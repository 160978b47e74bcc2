package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/tokenizer"
)

// DefaultEmbedCacheSize is the number of embeddings an [EngineContext]
// keeps when Options.EmbedCacheSize is zero.
const DefaultEmbedCacheSize = 512

// EngineContext holds the per-conversation state reused across recall
// calls: the lexical index, the embedding cache and the fingerprints
// already verified against the store. It is created by the caller, passed
// to every [Engine.Recall] and switched or closed when the conversation
// changes. It is safe for concurrent use.
type EngineContext struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// EmbedCacheSize bounds the embedding LRU. Zero selects
	// DefaultEmbedCacheSize; negative disables caching.
	EmbedCacheSize int

	lexical *lexical.Manager

	mu      sync.Mutex
	conv    string
	lex     *lexicon.Lexicon
	fpOK    map[string]bool
	cache   *embed.Cache
	cacheOf embed.Embedder
}

// NewEngineContext creates the context of conversation conv.
func NewEngineContext(conv string) *EngineContext {
	return &EngineContext{
		conv:    conv,
		lexical: lexical.NewManager(),
		fpOK:    make(map[string]bool),
	}
}

func (ec *EngineContext) logger() *slog.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	return slog.Default()
}

// ConvID returns the current conversation id.
func (ec *EngineContext) ConvID() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.conv
}

// Switch moves the context to conversation conv. The lexical index of the
// previous conversation is dropped and the embedding cache and verified
// fingerprints are discarded. Switching to the current conversation is a
// no-op.
func (ec *EngineContext) Switch(conv string) {
	ec.mu.Lock()
	prev := ec.conv
	if prev == conv {
		ec.mu.Unlock()
		return
	}
	ec.conv = conv
	ec.lex = nil
	clear(ec.fpOK)
	if ec.cache != nil {
		ec.cache.Purge()
	}
	ec.mu.Unlock()

	ec.lexical.Invalidate(prev)
	ec.logger().Debug("recall: conversation switched", "from", prev, "to", conv)
}

// Close releases the lexical index.
func (ec *EngineContext) Close() error {
	return ec.lexical.Close()
}

// Index returns the installed lexical index without waiting, or nil.
func (ec *EngineContext) Index() *lexical.Index {
	return ec.lexical.Current(ec.ConvID())
}

// Warmup starts building the lexical index in the background from the
// store's chunks and req.Events. The lexicon is built from req's
// participant names and the conversation's graph. It never blocks on the
// build; an in-flight build is reused.
func (ec *EngineContext) Warmup(ctx context.Context, store memory.Store, req Request) error {
	conv := ec.ConvID()
	lex, err := loadLexicon(ctx, store, conv, req)
	if err != nil {
		return err
	}
	ec.lexical.Warmup(conv, ec.buildFunc(store, conv, lex, req.Events))
	return nil
}

// LexicalIndex returns the lexical index of the current conversation,
// building it and waiting for the build if needed.
func (ec *EngineContext) LexicalIndex(ctx context.Context, store memory.Store, req Request) (*lexical.Index, error) {
	conv := ec.ConvID()
	lex, err := loadLexicon(ctx, store, conv, req)
	if err != nil {
		return nil, err
	}
	ec.setLexicon(conv, lex)
	idx := ec.currentIndex(conv, lex)
	if idx == nil {
		idx, err = ec.lexical.Get(ctx, conv, ec.buildFunc(store, conv, lex, req.Events))
		if err != nil {
			return nil, err
		}
	}
	if err := ec.syncEvents(idx, lex, req.Events); err != nil {
		return nil, err
	}
	return idx, nil
}

// SyncFloor re-reads the chunks of floor from the store and swaps them
// into the installed lexical index. Without an installed index it does
// nothing; the next build picks the floor up.
func (ec *EngineContext) SyncFloor(ctx context.Context, store memory.Store, floor int) error {
	conv := ec.ConvID()
	idx := ec.lexical.Current(conv)
	if idx == nil {
		return nil
	}
	chunks, err := store.ChunksByFloors(ctx, conv, []int{floor})
	if err != nil {
		return fmt.Errorf("recall: sync floor %d: %w", floor, err)
	}
	tk := tokenizer.New(ec.lexicon())
	docs := make([]lexical.Doc, 0, len(chunks))
	for _, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = memory.ChunkID(c.Floor, c.ChunkIdx)
		}
		docs = append(docs, lexical.ChunkDoc(tk, c))
	}
	if err := idx.ReplaceFloor(floor, docs); err != nil {
		return fmt.Errorf("recall: sync floor %d: %w", floor, err)
	}
	return nil
}

// RemoveFloor drops the chunks of floor from the installed lexical index.
func (ec *EngineContext) RemoveFloor(floor int) error {
	idx := ec.Index()
	if idx == nil {
		return nil
	}
	if err := idx.RemoveFloor(floor); err != nil {
		return fmt.Errorf("recall: remove floor %d: %w", floor, err)
	}
	return nil
}

// lexicon returns the lexicon of the last recall or warmup.
func (ec *EngineContext) lexicon() *lexicon.Lexicon {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.lex
}

func (ec *EngineContext) setLexicon(conv string, lex *lexicon.Lexicon) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.conv == conv {
		ec.lex = lex
	}
}

// currentIndex returns the installed index if it was built with the
// lexicon lex. A stale index is invalidated.
func (ec *EngineContext) currentIndex(conv string, lex *lexicon.Lexicon) *lexical.Index {
	idx := ec.lexical.Current(conv)
	if idx == nil {
		return nil
	}
	if idx.Tag != lex.Signature() {
		ec.logger().Debug("recall: lexicon changed, rebuilding lexical index", "conv", conv)
		ec.lexical.Invalidate(conv)
		return nil
	}
	return idx
}

func (ec *EngineContext) buildFunc(store memory.Store, conv string, lex *lexicon.Lexicon, events []memory.Event) lexical.BuildFunc {
	events = append([]memory.Event(nil), events...)
	return func(ctx context.Context) (*lexical.Index, error) {
		chunks, err := store.Chunks(ctx, conv)
		if err != nil {
			return nil, err
		}
		idx, err := lexical.Build(ctx, tokenizer.New(lex), chunks, events)
		if err != nil {
			return nil, err
		}
		idx.Tag = lex.Signature()
		ec.logger().Debug("recall: lexical index built", "conv", conv, "docs", idx.DocCount())
		return idx, nil
	}
}

// syncEvents brings the event documents of idx in line with events, so
// events added after the build become searchable.
func (ec *EngineContext) syncEvents(idx *lexical.Index, lex *lexicon.Lexicon, events []memory.Event) error {
	changed, err := idx.SyncEvents(lexical.EventDocs(tokenizer.New(lex), events))
	if err != nil {
		return fmt.Errorf("recall: sync events: %w", err)
	}
	if changed {
		ec.logger().Debug("recall: lexical events synced", "events", len(events), "docs", idx.DocCount())
	}
	return nil
}

// verified reports whether fp was already checked against the store.
func (ec *EngineContext) verified(conv, fp string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.conv == conv && ec.fpOK[fp]
}

func (ec *EngineContext) markVerified(conv, fp string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.conv == conv {
		ec.fpOK[fp] = true
	}
}

// embedder returns e behind the context's LRU cache.
func (ec *EngineContext) embedder(e embed.Embedder) embed.Embedder {
	if ec.EmbedCacheSize < 0 {
		return e
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.cache != nil && ec.cacheOf == e {
		return ec.cache
	}
	size := ec.EmbedCacheSize
	if size == 0 {
		size = DefaultEmbedCacheSize
	}
	c, err := embed.NewCache(e, size)
	if err != nil {
		ec.logger().Warn("recall: embedding cache disabled", "error", err)
		return e
	}
	ec.cache, ec.cacheOf = c, e
	return c
}

// loadLexicon builds the lexicon of conv from req's names and events and
// the conversation graph.
func loadLexicon(ctx context.Context, store memory.Store, conv string, req Request) (*lexicon.Lexicon, error) {
	src := lexicon.Source{
		UserName:      req.UserName,
		CharacterName: req.CharacterName,
		Events:        req.Events,
	}
	g := store.Graph(conv)
	if g != nil {
		for e, err := range g.Entities(ctx) {
			if err != nil {
				return nil, fmt.Errorf("recall: load entities: %w", err)
			}
			src.Entities = append(src.Entities, e)
		}
		for f, err := range g.Facts(ctx) {
			if err != nil {
				return nil, fmt.Errorf("recall: load facts: %w", err)
			}
			src.Facts = append(src.Facts, f)
		}
	}
	return lexicon.Build(src), nil
}
