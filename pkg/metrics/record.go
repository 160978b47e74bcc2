// Package metrics records diagnostics for a single recall call and exports
// aggregate Prometheus metrics.
//
// A [Record] is written by the pipeline as it runs and read only by the
// caller afterwards; nothing in it feeds back into retrieval decisions.
// It is filled on every path, including empty and degraded ones, so that
// "nothing relevant found" can be told apart from "a subsystem failed".
package metrics

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a finished recall call.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeEmpty    Outcome = "empty"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// Degrade reasons.
const (
	ReasonNoQuery             = "no_query"
	ReasonNoData              = "no_data"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonEmbedFailed         = "embed_failed"
	ReasonEmptyVector         = "empty_query_vector"
	ReasonLexicalUnavailable  = "lexical_unavailable"
	ReasonRerankFailed        = "rerank_failed"
	ReasonRerankSkipped       = "rerank_skipped"
	ReasonStoreError          = "store_error"
)

// StageTiming is the duration of one pipeline stage.
type StageTiming struct {
	Name string  `json:"name" yaml:"name"`
	Ms   float64 `json:"ms" yaml:"ms"`
}

// Record is the diagnostic record of one recall call.
type Record struct {
	RecallID  string    `json:"recall_id" yaml:"recall_id"`
	ConvID    string    `json:"conv_id" yaml:"conv_id"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	ElapsedMs float64   `json:"elapsed_ms" yaml:"elapsed_ms"`

	Outcome  Outcome  `json:"outcome" yaml:"outcome"`
	Degraded bool     `json:"degraded" yaml:"degraded"`
	Reasons  []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`

	Query     QueryStats     `json:"query" yaml:"query"`
	Dense     DenseStats     `json:"dense" yaml:"dense"`
	Lexical   LexicalStats   `json:"lexical" yaml:"lexical"`
	Fusion    FusionStats    `json:"fusion" yaml:"fusion"`
	Rerank    RerankStats    `json:"rerank" yaml:"rerank"`
	Evidence  EvidenceStats  `json:"evidence" yaml:"evidence"`
	Diffusion DiffusionStats `json:"diffusion" yaml:"diffusion"`
	Causal    CausalStats    `json:"causal" yaml:"causal"`

	Stages []StageTiming `json:"stages" yaml:"stages"`
}

type QueryStats struct {
	Segments        int       `json:"segments" yaml:"segments"`
	Weights         []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	LexicalTerms    []string  `json:"lexical_terms,omitempty" yaml:"lexical_terms,omitempty"`
	FocusTerms      []string  `json:"focus_terms,omitempty" yaml:"focus_terms,omitempty"`
	FocusCharacters []string  `json:"focus_characters,omitempty" yaml:"focus_characters,omitempty"`
	Hints           bool      `json:"hints" yaml:"hints"`
	IDFSource       string    `json:"idf_source" yaml:"idf_source"`
}

type DenseStats struct {
	FingerprintOK  bool `json:"fingerprint_ok" yaml:"fingerprint_ok"`
	StateVectors   int  `json:"state_vectors" yaml:"state_vectors"`
	EventVectors   int  `json:"event_vectors" yaml:"event_vectors"`
	Round1Anchors  int  `json:"round1_anchors" yaml:"round1_anchors"`
	Round1Events   int  `json:"round1_events" yaml:"round1_events"`
	Round2Anchors  int  `json:"round2_anchors" yaml:"round2_anchors"`
	Round2Events   int  `json:"round2_events" yaml:"round2_events"`
	EntityBypassed int  `json:"entity_bypassed" yaml:"entity_bypassed"`
	EntityFiltered int  `json:"entity_filtered" yaml:"entity_filtered"`

	// Embedding cache lookups made by this call.
	CacheHits   int64 `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses int64 `json:"cache_misses" yaml:"cache_misses"`
}

type LexicalStats struct {
	Ready        bool `json:"ready" yaml:"ready"`
	Docs         int  `json:"docs" yaml:"docs"`
	ChunkHits    int  `json:"chunk_hits" yaml:"chunk_hits"`
	EventHits    int  `json:"event_hits" yaml:"event_hits"`
	EventsMerged int  `json:"events_merged" yaml:"events_merged"`
	FloorsGated  int  `json:"floors_gated" yaml:"floors_gated"`
	Floors       int  `json:"floors" yaml:"floors"`
}

type FusionStats struct {
	DenseFloors   int   `json:"dense_floors" yaml:"dense_floors"`
	LexicalFloors int   `json:"lexical_floors" yaml:"lexical_floors"`
	Fused         int   `json:"fused" yaml:"fused"`
	MustKeep      []int `json:"must_keep,omitempty" yaml:"must_keep,omitempty"`
}

type RerankStats struct {
	Candidates int  `json:"candidates" yaml:"candidates"`
	Returned   int  `json:"returned" yaml:"returned"`
	Fallback   bool `json:"fallback" yaml:"fallback"`
}

type EvidenceStats struct {
	Floors   int `json:"floors" yaml:"floors"`
	Atoms    int `json:"atoms" yaml:"atoms"`
	L1Chunks int `json:"l1_chunks" yaml:"l1_chunks"`
	Events   int `json:"events" yaml:"events"`
}

type DiffusionStats struct {
	Nodes      int     `json:"nodes" yaml:"nodes"`
	Edges      int     `json:"edges" yaml:"edges"`
	Seeds      int     `json:"seeds" yaml:"seeds"`
	Iterations int     `json:"iterations" yaml:"iterations"`
	Converged  bool    `json:"converged" yaml:"converged"`
	Delta      float64 `json:"delta" yaml:"delta"`
	Kept       int     `json:"kept" yaml:"kept"`
}

type CausalStats struct {
	Injected int `json:"injected" yaml:"injected"`
}

// New starts a record for a recall call in conv.
func New(conv string) *Record {
	return &Record{
		RecallID:  uuid.NewString(),
		ConvID:    conv,
		StartedAt: time.Now(),
		Outcome:   OutcomeOK,
	}
}

// Stage starts timing a stage; call the returned func when it ends.
func (r *Record) Stage(name string) func() {
	start := time.Now()
	return func() {
		r.Stages = append(r.Stages, StageTiming{Name: name, Ms: msSince(start)})
	}
}

// Degrade notes that a subsystem failed or was skipped. err may be nil.
// Reasons are recorded once each.
func (r *Record) Degrade(reason string, err error) {
	r.Degraded = true
	if !slices.Contains(r.Reasons, reason) {
		r.Reasons = append(r.Reasons, reason)
	}
	if err != nil {
		r.Errors = append(r.Errors, reason+": "+err.Error())
	}
}

// Finish stamps the elapsed time and the outcome. found reports whether
// any evidence was returned.
func (r *Record) Finish(found bool) {
	r.ElapsedMs = msSince(r.StartedAt)
	switch {
	case !found && r.failedHard():
		r.Outcome = OutcomeFailed
	case !found:
		r.Outcome = OutcomeEmpty
	case r.Degraded:
		r.Outcome = OutcomeDegraded
	default:
		r.Outcome = OutcomeOK
	}
}

// failedHard reports whether a degrade reason is an upstream failure
// rather than an empty input.
func (r *Record) failedHard() bool {
	for _, reason := range r.Reasons {
		switch reason {
		case ReasonEmbedFailed, ReasonEmptyVector, ReasonStoreError, ReasonFingerprintMismatch:
			return true
		}
	}
	return false
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

// LogText renders the record as a short human-readable report.
func (r *Record) LogText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "recall %s conv=%s outcome=%s elapsed=%.1fms\n", r.RecallID, r.ConvID, r.Outcome, r.ElapsedMs)
	if len(r.Reasons) > 0 {
		fmt.Fprintf(&b, "  degraded: %s\n", strings.Join(r.Reasons, ", "))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	fmt.Fprintf(&b, "  query: segments=%d hints=%t idf=%s terms=[%s] focus=[%s] characters=[%s]\n",
		r.Query.Segments, r.Query.Hints, r.Query.IDFSource,
		strings.Join(r.Query.LexicalTerms, " "), strings.Join(r.Query.FocusTerms, " "),
		strings.Join(r.Query.FocusCharacters, " "))
	fmt.Fprintf(&b, "  dense: fp_ok=%t atoms=%d/%d events=%d/%d (vectors %d/%d) bypass=%d filtered=%d cache=%d/%d\n",
		r.Dense.FingerprintOK, r.Dense.Round1Anchors, r.Dense.Round2Anchors,
		r.Dense.Round1Events, r.Dense.Round2Events, r.Dense.StateVectors, r.Dense.EventVectors,
		r.Dense.EntityBypassed, r.Dense.EntityFiltered, r.Dense.CacheHits, r.Dense.CacheHits+r.Dense.CacheMisses)
	fmt.Fprintf(&b, "  lexical: ready=%t docs=%d chunk_hits=%d event_hits=%d floors=%d gated=%d events_merged=%d\n",
		r.Lexical.Ready, r.Lexical.Docs, r.Lexical.ChunkHits, r.Lexical.EventHits,
		r.Lexical.Floors, r.Lexical.FloorsGated, r.Lexical.EventsMerged)
	fmt.Fprintf(&b, "  fusion: dense=%d lexical=%d fused=%d must_keep=%v\n",
		r.Fusion.DenseFloors, r.Fusion.LexicalFloors, r.Fusion.Fused, r.Fusion.MustKeep)
	fmt.Fprintf(&b, "  rerank: candidates=%d returned=%d fallback=%t\n",
		r.Rerank.Candidates, r.Rerank.Returned, r.Rerank.Fallback)
	fmt.Fprintf(&b, "  evidence: floors=%d atoms=%d l1=%d events=%d causal=%d\n",
		r.Evidence.Floors, r.Evidence.Atoms, r.Evidence.L1Chunks, r.Evidence.Events, r.Causal.Injected)
	fmt.Fprintf(&b, "  diffusion: nodes=%d edges=%d seeds=%d iter=%d converged=%t kept=%d\n",
		r.Diffusion.Nodes, r.Diffusion.Edges, r.Diffusion.Seeds, r.Diffusion.Iterations,
		r.Diffusion.Converged, r.Diffusion.Kept)
	if len(r.Stages) > 0 {
		parts := make([]string, len(r.Stages))
		for i, s := range r.Stages {
			parts[i] = fmt.Sprintf("%s=%.1fms", s.Name, s.Ms)
		}
		fmt.Fprintf(&b, "  stages: %s\n", strings.Join(parts, " "))
	}
	return b.String()
}
