// Package graph stores the named entities and subject–predicate–object
// facts known about one conversation. The entity lexicon is built from it:
// entity names (and aliases) become protected tokens, and entities of kind
// [KindCharacter] become candidate focus characters.
//
// Facts are keyed by (subject, predicate): setting the same pair again
// replaces the object, which matches how fact extraction updates state
// ("Alice / location / library" supersedes "Alice / location / garden").
package graph

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrInvalidLabel is returned when a name or predicate contains the KV
	// separator and cannot be used as a key segment.
	ErrInvalidLabel = errors.New("graph: label contains separator")
)

// Kind classifies an entity.
type Kind string

const (
	KindCharacter Kind = "character"
	KindPlace     Kind = "place"
	KindItem      Kind = "item"
	KindOther     Kind = "other"
)

// Entity is a named thing in the conversation world.
type Entity struct {
	Name    string   `json:"name" yaml:"name" msgpack:"-"`
	Kind    Kind     `json:"kind" yaml:"kind" msgpack:"kind"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty" msgpack:"aliases,omitempty"`
}

// Fact is one subject–predicate–object statement.
type Fact struct {
	Subject   string `json:"s" yaml:"s" msgpack:"-"`
	Predicate string `json:"p" yaml:"p" msgpack:"-"`
	Object    string `json:"o" yaml:"o" msgpack:"o"`

	// Floor is the turn the fact was last asserted on, -1 if unknown.
	Floor int `json:"floor" yaml:"floor" msgpack:"floor"`
}

// Graph is the entity / fact store of one conversation.
type Graph interface {
	// PutEntity creates or replaces an entity.
	PutEntity(ctx context.Context, e Entity) error

	// GetEntity returns an entity by name, or ErrNotFound.
	GetEntity(ctx context.Context, name string) (*Entity, error)

	// DeleteEntity removes an entity and every fact whose subject it is.
	DeleteEntity(ctx context.Context, name string) error

	// Entities iterates over all entities in name order.
	Entities(ctx context.Context) iter.Seq2[Entity, error]

	// SetFact stores a fact, replacing any fact with the same subject and
	// predicate.
	SetFact(ctx context.Context, f Fact) error

	// DeleteFact removes the fact for (subject, predicate), if present.
	DeleteFact(ctx context.Context, subject, predicate string) error

	// Facts iterates over all facts ordered by subject then predicate.
	Facts(ctx context.Context) iter.Seq2[Fact, error]

	// FactsAbout returns the facts whose subject is name.
	FactsAbout(ctx context.Context, name string) ([]Fact, error)
}
