// Package memory holds the conversation memory model consumed by recall:
// L0 state atoms, L1 utterance chunks, L2 events, their embeddings, and the
// per-conversation entity / fact graph.
//
// # Levels
//
//   - [StateAtom] (L0): an atomic fact extracted from one floor (turn).
//   - [Chunk] (L1): a sentence or paragraph slice of one floor's raw text.
//   - [Event] (L2): a narrative unit spanning floors, with causation links.
//
// Atoms, chunks and their vectors are written during ingestion and are
// read-only to recall. Events are owned by the caller and passed into each
// recall call; only their vectors live in the store.
//
// # Fingerprints
//
// Every vector in a conversation belongs to one embedding engine, identified
// by a fingerprint string. [Store.CheckFingerprint] lets recall detect that
// stored vectors were produced by a different engine, in which case they are
// treated as absent.
package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haivivi/memrecall/pkg/graph"
)

var (
	// ErrInvalidFloor is returned for negative floor numbers.
	ErrInvalidFloor = errors.New("memory: invalid floor")

	// ErrInvalidID is returned for ids that are empty or contain the key
	// separator.
	ErrInvalidID = errors.New("memory: invalid id")
)

// Message is one turn of dialogue as seen by the query builder.
type Message struct {
	Name    string `json:"name" yaml:"name" msgpack:"name"`
	IsUser  bool   `json:"is_user" yaml:"is_user" msgpack:"is_user"`
	Content string `json:"content" yaml:"content" msgpack:"content"`
	Floor   int    `json:"floor" yaml:"floor" msgpack:"floor"`
}

// Edge is a subject / target / relation triple inside an atom.
type Edge struct {
	S string `json:"s" yaml:"s" msgpack:"s"`
	T string `json:"t" yaml:"t" msgpack:"t"`
	R string `json:"r" yaml:"r" msgpack:"r"`
}

// StateAtom is an L0 fact.
type StateAtom struct {
	AtomID   string `json:"atom_id" yaml:"atom_id" msgpack:"id"`
	Floor    int    `json:"floor" yaml:"floor" msgpack:"floor"`
	Semantic string `json:"semantic" yaml:"semantic" msgpack:"sem"`
	Edges    []Edge `json:"edges,omitempty" yaml:"edges,omitempty" msgpack:"edges,omitempty"`
	Where    string `json:"where,omitempty" yaml:"where,omitempty" msgpack:"where,omitempty"`
}

// RelationText renders the atom's edges as one line for relation
// embedding, e.g. "Alice gives Bob; Bob holds sword".
func (a *StateAtom) RelationText() string {
	parts := make([]string, 0, len(a.Edges))
	for _, e := range a.Edges {
		s := strings.TrimSpace(strings.Join(nonEmpty(e.S, e.R, e.T), " "))
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func nonEmpty(ss ...string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StateVector is the embedding of one atom. RVector embeds the relation
// text and may be nil.
type StateVector struct {
	AtomID  string    `json:"atom_id" msgpack:"id"`
	Floor   int       `json:"floor" msgpack:"floor"`
	Vector  []float32 `json:"vector" msgpack:"v"`
	RVector []float32 `json:"r_vector,omitempty" msgpack:"rv,omitempty"`
}

// Chunk is an L1 slice of one floor's text.
type Chunk struct {
	ChunkID  string `json:"chunk_id" yaml:"chunk_id" msgpack:"id"`
	Floor    int    `json:"floor" yaml:"floor" msgpack:"floor"`
	ChunkIdx int    `json:"chunk_idx" yaml:"chunk_idx" msgpack:"idx"`
	Speaker  string `json:"speaker" yaml:"speaker" msgpack:"speaker"`
	IsUser   bool   `json:"is_user" yaml:"is_user" msgpack:"user"`
	Text     string `json:"text" yaml:"text" msgpack:"text"`
}

// ChunkID returns the canonical id of the idx-th chunk on floor.
func ChunkID(floor, idx int) string {
	return "c-" + strconv.Itoa(floor) + "-" + strconv.Itoa(idx)
}

// ChunkVector is the embedding of one chunk.
type ChunkVector struct {
	ChunkID string    `json:"chunk_id" msgpack:"id"`
	Floor   int       `json:"floor" msgpack:"floor"`
	Vector  []float32 `json:"vector" msgpack:"v"`
}

// Event is an L2 narrative unit. Summary ends with a floor-range marker
// such as "(#12-15)" or "(#7)".
type Event struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title" yaml:"title"`
	Participants []string `json:"participants,omitempty" yaml:"participants,omitempty"`
	Summary      string   `json:"summary" yaml:"summary"`
	CausedBy     []string `json:"caused_by,omitempty" yaml:"caused_by,omitempty"`
}

// FloorRange returns the floors covered by the event's summary marker.
func (e *Event) FloorRange() (start, end int, ok bool) {
	return ParseFloorRange(e.Summary)
}

// Text is the event's title and summary without the floor marker, the
// form that is embedded and indexed.
func (e *Event) Text() string {
	s := StripFloorRange(e.Summary)
	if e.Title == "" {
		return s
	}
	if s == "" {
		return e.Title
	}
	return e.Title + "：" + s
}

// EventVector is the embedding of one event.
type EventVector struct {
	EventID string    `json:"event_id" msgpack:"id"`
	Vector  []float32 `json:"vector" msgpack:"v"`
}

var floorRangeRe = regexp.MustCompile(`[(（]#(\d+)(?:\s*[-–~]\s*(\d+))?[)）]\s*$`)

// ParseFloorRange extracts the trailing "(#start-end)" marker. A single
// floor "(#n)" yields start == end == n. Reversed ranges are swapped.
func ParseFloorRange(summary string) (start, end int, ok bool) {
	m := floorRangeRe.FindStringSubmatch(summary)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	end = start
	if m[2] != "" {
		if end, err = strconv.Atoi(m[2]); err != nil {
			return 0, 0, false
		}
	}
	if end < start {
		start, end = end, start
	}
	return start, end, true
}

// StripFloorRange removes the trailing floor marker and surrounding space.
func StripFloorRange(summary string) string {
	return strings.TrimSpace(floorRangeRe.ReplaceAllString(summary, ""))
}

// Store is the read side of a conversation memory store, scoped by
// conversation id.
type Store interface {
	// StateAtoms returns all atoms ordered by floor.
	StateAtoms(ctx context.Context, conv string) ([]StateAtom, error)

	// StateVectors returns all atom vectors ordered by floor.
	StateVectors(ctx context.Context, conv string) ([]StateVector, error)

	// Chunks returns all chunks ordered by floor and index.
	Chunks(ctx context.Context, conv string) ([]Chunk, error)

	// ChunksByFloors returns the chunks on the given floors.
	ChunksByFloors(ctx context.Context, conv string, floors []int) ([]Chunk, error)

	// ChunkVectorsByIDs returns the vectors of the given chunks. Missing
	// ids are skipped.
	ChunkVectorsByIDs(ctx context.Context, conv string, ids []string) ([]ChunkVector, error)

	// EventVectors returns all event vectors.
	EventVectors(ctx context.Context, conv string) ([]EventVector, error)

	// CheckFingerprint reports whether the stored vectors were produced by
	// the engine with fingerprint fp. A conversation with no vectors yet
	// reports false.
	CheckFingerprint(ctx context.Context, conv, fp string) (bool, error)

	// Graph returns the entity / fact graph of the conversation.
	Graph(conv string) graph.Graph
}

func validateID(kind, id string, sep byte) error {
	if id == "" || strings.IndexByte(id, sep) >= 0 {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, kind, id)
	}
	return nil
}
