package recall

import (
	"github.com/haivivi/memrecall/pkg/causal"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/metrics"
)

// Request is the input of one recall call.
type Request struct {
	// Events are all L2 events of the conversation.
	Events []memory.Event `json:"events,omitempty" yaml:"events,omitempty"`

	// Messages is the chat history, oldest first. Only the last few are
	// used.
	Messages []memory.Message `json:"messages" yaml:"messages"`

	// PendingUserMessage is typed but unsent text. When set it becomes the
	// focus of the query.
	PendingUserMessage string `json:"pending_user_message,omitempty" yaml:"pending_user_message,omitempty"`

	// ExcludeLastAITurn drops trailing AI messages before the query is
	// built (regenerate / swipe).
	ExcludeLastAITurn bool `json:"exclude_last_ai_turn,omitempty" yaml:"exclude_last_ai_turn,omitempty"`

	UserName      string `json:"user_name,omitempty" yaml:"user_name,omitempty"`
	CharacterName string `json:"character_name,omitempty" yaml:"character_name,omitempty"`
}

// Source tells how an item entered the result.
type Source string

const (
	SourceDense     Source = "dense"
	SourceLexical   Source = "lexical"
	SourceRerank    Source = "rerank"
	SourceFusion    Source = "fusion"
	SourceMustKeep  Source = "must_keep"
	SourceDiffusion Source = "diffusion"
)

// EventHit is a recalled event.
type EventHit struct {
	Event      memory.Event `json:"event" yaml:"event"`
	Similarity float64      `json:"similarity" yaml:"similarity"`
	Source     Source       `json:"source" yaml:"source"`
}

// AtomHit is a selected L0 atom.
type AtomHit struct {
	Atom memory.StateAtom `json:"atom" yaml:"atom"`

	// Similarity is the cosine between the query and the atom vector.
	Similarity float64 `json:"similarity" yaml:"similarity"`

	// RerankScore is the score of the atom's floor: the cross-encoder
	// score, the must-keep score, or zero when rerank fell back.
	RerankScore float64 `json:"rerank_score" yaml:"rerank_score"`

	// DiffusionScore is set for atoms reached by diffusion.
	DiffusionScore float64 `json:"diffusion_score,omitempty" yaml:"diffusion_score,omitempty"`

	Source Source `json:"source" yaml:"source"`
}

// ChunkHit is an L1 chunk attached to a selected floor.
type ChunkHit struct {
	Chunk      memory.Chunk `json:"chunk" yaml:"chunk"`
	Similarity float64      `json:"similarity" yaml:"similarity"`
}

// FloorChunks are the best user and AI chunks of a floor. Either may be
// nil.
type FloorChunks struct {
	User *ChunkHit `json:"user,omitempty" yaml:"user,omitempty"`
	AI   *ChunkHit `json:"ai,omitempty" yaml:"ai,omitempty"`
}

// Result is the evidence package of one recall call.
type Result struct {
	Events      []EventHit    `json:"events" yaml:"events"`
	CausalChain []causal.Link `json:"causal_chain" yaml:"causal_chain"`

	// L0Selected are rerank-verified and must-keep atoms ordered by floor
	// score, followed by diffused atoms.
	L0Selected []AtomHit `json:"l0_selected" yaml:"l0_selected"`

	L1ByFloor map[int]FloorChunks `json:"l1_by_floor" yaml:"l1_by_floor"`

	// FocusTerms and FocusCharacters are display forms.
	FocusTerms      []string `json:"focus_terms" yaml:"focus_terms"`
	FocusCharacters []string `json:"focus_characters" yaml:"focus_characters"`

	MustKeepFloors []int `json:"must_keep_floors" yaml:"must_keep_floors"`

	ElapsedMs float64         `json:"elapsed_ms" yaml:"elapsed_ms"`
	Metrics   *metrics.Record `json:"metrics" yaml:"metrics"`
}

// Empty reports whether the result carries no evidence.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Events) == 0 && len(r.L0Selected) == 0 && len(r.CausalChain) == 0)
}

func newResult(rec *metrics.Record) *Result {
	return &Result{
		Events:          []EventHit{},
		CausalChain:     []causal.Link{},
		L0Selected:      []AtomHit{},
		L1ByFloor:       map[int]FloorChunks{},
		FocusTerms:      []string{},
		FocusCharacters: []string{},
		MustKeepFloors:  []int{},
		Metrics:         rec,
	}
}
