package recall

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/memrecall/pkg/causal"
	"github.com/haivivi/memrecall/pkg/diffusion"
	"github.com/haivivi/memrecall/pkg/query"
)

// Config enumerates every threshold, weight and cap of the recall
// pipeline. The zero value is not usable; start from [DefaultConfig].
type Config struct {
	// Query construction.
	QueryWindow        int       `yaml:"query_window" json:"query_window"`
	QueryWindowPending int       `yaml:"query_window_pending" json:"query_window_pending"`
	FocusWeight        float64   `yaml:"focus_weight" json:"focus_weight"`
	ContextWeights     []float64 `yaml:"context_weights" json:"context_weights"`
	HintsWeight        float64   `yaml:"hints_weight" json:"hints_weight"`
	LengthFloor        float64   `yaml:"length_floor" json:"length_floor"`
	LengthFull         int       `yaml:"length_full" json:"length_full"`
	FocusMinWeight     float64   `yaml:"focus_min_weight" json:"focus_min_weight"`
	MaxLexicalTerms    int       `yaml:"max_lexical_terms" json:"max_lexical_terms"`
	MaxHintTerms       int       `yaml:"max_hint_terms" json:"max_hint_terms"`
	HintAnchors        int       `yaml:"hint_anchors" json:"hint_anchors"`
	HintEvents         int       `yaml:"hint_events" json:"hint_events"`

	// Embedding calls.
	EmbedTimeout      time.Duration `yaml:"embed_timeout" json:"embed_timeout"`
	EmbedRetryBackoff time.Duration `yaml:"embed_retry_backoff" json:"embed_retry_backoff"`

	// Dense search.
	AnchorMinSimilarity float64 `yaml:"anchor_min_similarity" json:"anchor_min_similarity"`
	EventMinSimilarity  float64 `yaml:"event_min_similarity" json:"event_min_similarity"`
	// EventEntityBypass is the similarity at which an event is kept even
	// when none of its participants is a focus character.
	EventEntityBypass float64 `yaml:"event_entity_bypass" json:"event_entity_bypass"`
	EventMMRLambda    float64 `yaml:"event_mmr_lambda" json:"event_mmr_lambda"`
	EventCandidates   int     `yaml:"event_candidates" json:"event_candidates"`
	EventMaxSelected  int     `yaml:"event_max_selected" json:"event_max_selected"`

	// Lexical ranking and fusion.
	DenseGate           float64 `yaml:"dense_gate" json:"dense_gate"`
	LexicalDensityBonus float64 `yaml:"lexical_density_bonus" json:"lexical_density_bonus"`
	LexicalSearchLimit  int     `yaml:"lexical_search_limit" json:"lexical_search_limit"`
	RRFK                float64 `yaml:"rrf_k" json:"rrf_k"`
	RRFDenseWeight      float64 `yaml:"rrf_dense_weight" json:"rrf_dense_weight"`
	RRFLexicalWeight    float64 `yaml:"rrf_lexical_weight" json:"rrf_lexical_weight"`
	FusionCap           int     `yaml:"fusion_cap" json:"fusion_cap"`

	// Fusion guard.
	GuardMinIDF     float64 `yaml:"guard_min_idf" json:"guard_min_idf"`
	GuardMaxFloors  int     `yaml:"guard_max_floors" json:"guard_max_floors"`
	GuardClusterGap int     `yaml:"guard_cluster_gap" json:"guard_cluster_gap"`
	MustKeepScore   float64 `yaml:"must_keep_score" json:"must_keep_score"`

	// Rerank.
	RerankTimeout  time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`
	RerankMinScore float64       `yaml:"rerank_min_score" json:"rerank_min_score"`
	RerankTopN     int           `yaml:"rerank_top_n" json:"rerank_top_n"`

	Diffusion diffusion.Options `yaml:"diffusion" json:"diffusion"`
	Causal    causal.Options    `yaml:"causal" json:"causal"`
}

// DefaultConfig returns the standard constant table.
func DefaultConfig() Config {
	return Config{
		QueryWindow:        3,
		QueryWindowPending: 2,
		FocusWeight:        0.55,
		ContextWeights:     []float64{0.30, 0.20, 0.15},
		HintsWeight:        0.25,
		LengthFloor:        0.35,
		LengthFull:         50,
		FocusMinWeight:     0.35,
		MaxLexicalTerms:    10,
		MaxHintTerms:       5,
		HintAnchors:        5,
		HintEvents:         3,

		EmbedTimeout:      15 * time.Second,
		EmbedRetryBackoff: 800 * time.Millisecond,

		AnchorMinSimilarity: 0.58,
		EventMinSimilarity:  0.60,
		EventEntityBypass:   0.80,
		EventMMRLambda:      0.72,
		EventCandidates:     100,
		EventMaxSelected:    50,

		DenseGate:           0.50,
		LexicalDensityBonus: 0.30,
		LexicalSearchLimit:  500,
		RRFK:                60,
		RRFDenseWeight:      1.0,
		RRFLexicalWeight:    0.9,
		FusionCap:           60,

		GuardMinIDF:     2.2,
		GuardMaxFloors:  3,
		GuardClusterGap: 2,
		MustKeepScore:   0.05,

		RerankTimeout:  10 * time.Second,
		RerankMinScore: 0.10,
		RerankTopN:     20,

		Diffusion: diffusion.DefaultOptions(),
		Causal:    causal.DefaultOptions(),
	}
}

// Validate reports every out-of-range field.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(name string, v float64) {
		check(v >= 0 && v <= 1, "%s must be in [0, 1], got %v", name, v)
	}
	sim := func(name string, v float64) {
		check(v >= -1 && v <= 1, "%s must be in [-1, 1], got %v", name, v)
	}

	check(c.QueryWindow >= 1, "query_window must be >= 1, got %d", c.QueryWindow)
	check(c.QueryWindowPending >= 1, "query_window_pending must be >= 1, got %d", c.QueryWindowPending)
	check(c.FocusWeight > 0, "focus_weight must be > 0, got %v", c.FocusWeight)
	check(len(c.ContextWeights) > 0, "context_weights must not be empty")
	for i, w := range c.ContextWeights {
		check(w >= 0, "context_weights[%d] must be >= 0, got %v", i, w)
	}
	check(c.HintsWeight >= 0, "hints_weight must be >= 0, got %v", c.HintsWeight)
	unit("length_floor", c.LengthFloor)
	check(c.LengthFull >= 1, "length_full must be >= 1, got %d", c.LengthFull)
	unit("focus_min_weight", c.FocusMinWeight)
	check(c.MaxLexicalTerms >= 1, "max_lexical_terms must be >= 1, got %d", c.MaxLexicalTerms)
	check(c.MaxHintTerms >= 0, "max_hint_terms must be >= 0, got %d", c.MaxHintTerms)
	check(c.HintAnchors >= 0, "hint_anchors must be >= 0, got %d", c.HintAnchors)
	check(c.HintEvents >= 0, "hint_events must be >= 0, got %d", c.HintEvents)

	check(c.EmbedTimeout >= 0, "embed_timeout must be >= 0, got %v", c.EmbedTimeout)
	check(c.EmbedRetryBackoff >= 0, "embed_retry_backoff must be >= 0, got %v", c.EmbedRetryBackoff)

	sim("anchor_min_similarity", c.AnchorMinSimilarity)
	sim("event_min_similarity", c.EventMinSimilarity)
	sim("event_entity_bypass", c.EventEntityBypass)
	unit("event_mmr_lambda", c.EventMMRLambda)
	check(c.EventCandidates >= 1, "event_candidates must be >= 1, got %d", c.EventCandidates)
	check(c.EventMaxSelected >= 1, "event_max_selected must be >= 1, got %d", c.EventMaxSelected)
	check(c.EventMaxSelected <= c.EventCandidates,
		"event_max_selected (%d) must not exceed event_candidates (%d)", c.EventMaxSelected, c.EventCandidates)

	sim("dense_gate", c.DenseGate)
	check(c.LexicalDensityBonus >= 0, "lexical_density_bonus must be >= 0, got %v", c.LexicalDensityBonus)
	check(c.LexicalSearchLimit >= 1, "lexical_search_limit must be >= 1, got %d", c.LexicalSearchLimit)
	check(c.RRFK > 0, "rrf_k must be > 0, got %v", c.RRFK)
	check(c.RRFDenseWeight >= 0, "rrf_dense_weight must be >= 0, got %v", c.RRFDenseWeight)
	check(c.RRFLexicalWeight >= 0, "rrf_lexical_weight must be >= 0, got %v", c.RRFLexicalWeight)
	check(c.FusionCap >= 1, "fusion_cap must be >= 1, got %d", c.FusionCap)

	check(c.GuardMinIDF >= 1, "guard_min_idf must be >= 1, got %v", c.GuardMinIDF)
	check(c.GuardMaxFloors >= 0, "guard_max_floors must be >= 0, got %d", c.GuardMaxFloors)
	check(c.GuardClusterGap >= 0, "guard_cluster_gap must be >= 0, got %d", c.GuardClusterGap)
	check(c.MustKeepScore >= 0, "must_keep_score must be >= 0, got %v", c.MustKeepScore)

	check(c.RerankTimeout >= 0, "rerank_timeout must be >= 0, got %v", c.RerankTimeout)
	unit("rerank_min_score", c.RerankMinScore)
	check(c.RerankTopN >= 1, "rerank_top_n must be >= 1, got %d", c.RerankTopN)

	d := c.Diffusion
	check(d.Alpha > 0 && d.Alpha < 1, "diffusion.alpha must be in (0, 1), got %v", d.Alpha)
	check(d.Tol > 0, "diffusion.tol must be > 0, got %v", d.Tol)
	check(d.MaxIter >= 1, "diffusion.max_iter must be >= 1, got %d", d.MaxIter)
	sim("diffusion.relation_sim", d.RelationSim)
	check(d.TopK >= 1, "diffusion.top_k must be >= 1, got %d", d.TopK)
	check(d.FloorWindow >= 0, "diffusion.floor_window must be >= 0, got %d", d.FloorWindow)
	check(d.TemporalScale > 0, "diffusion.temporal_scale must be > 0, got %v", d.TemporalScale)
	check(d.MaxOutput >= 0, "diffusion.max_output must be >= 0, got %d", d.MaxOutput)

	check(c.Causal.MaxDepth >= 0, "causal.max_depth must be >= 0, got %d", c.Causal.MaxDepth)
	check(c.Causal.MaxInjected >= 0, "causal.max_injected must be >= 0, got %d", c.Causal.MaxInjected)

	if len(errs) > 0 {
		return fmt.Errorf("recall: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseConfig decodes YAML over [DefaultConfig]; fields absent from data
// keep their defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("recall: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file. See [ParseConfig].
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("recall: read config: %w", err)
	}
	return ParseConfig(data)
}

func (c *Config) queryOptions() query.Options {
	return query.Options{
		Window:          c.QueryWindow,
		WindowPending:   c.QueryWindowPending,
		FocusWeight:     c.FocusWeight,
		ContextWeights:  c.ContextWeights,
		HintsWeight:     c.HintsWeight,
		MaxLexicalTerms: c.MaxLexicalTerms,
		MaxHintTerms:    c.MaxHintTerms,
		HintAnchors:     c.HintAnchors,
		HintEvents:      c.HintEvents,
	}
}

func (c *Config) weightOptions() query.WeightOptions {
	return query.WeightOptions{
		LengthFloor: c.LengthFloor,
		LengthFull:  c.LengthFull,
		FocusMin:    c.FocusMinWeight,
	}
}
