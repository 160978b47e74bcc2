package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haivivi/memrecall/pkg/graph"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/recall"
)

// Fixture is a conversation snapshot in a file: what ingestion would have
// extracted from a chat, ready to be embedded and stored.
type Fixture struct {
	Conversation  string `yaml:"conversation" json:"conversation"`
	UserName      string `yaml:"user_name,omitempty" json:"user_name,omitempty"`
	CharacterName string `yaml:"character_name,omitempty" json:"character_name,omitempty"`

	Messages []memory.Message   `yaml:"messages,omitempty" json:"messages,omitempty"`
	Atoms    []memory.StateAtom `yaml:"atoms,omitempty" json:"atoms,omitempty"`
	Chunks   []memory.Chunk     `yaml:"chunks,omitempty" json:"chunks,omitempty"`
	Events   []memory.Event     `yaml:"events,omitempty" json:"events,omitempty"`
	Entities []graph.Entity     `yaml:"entities,omitempty" json:"entities,omitempty"`
	Facts    []graph.Fact       `yaml:"facts,omitempty" json:"facts,omitempty"`
}

// Validate checks the fixture's internal references.
func (f *Fixture) Validate() error {
	if f.Conversation == "" {
		return fmt.Errorf("fixture: conversation is required")
	}
	atoms := make(map[string]bool, len(f.Atoms))
	for _, a := range f.Atoms {
		if a.AtomID == "" {
			return fmt.Errorf("fixture: atom on floor %d has no id", a.Floor)
		}
		if atoms[a.AtomID] {
			return fmt.Errorf("fixture: duplicate atom %q", a.AtomID)
		}
		atoms[a.AtomID] = true
	}
	events := make(map[string]bool, len(f.Events))
	for _, e := range f.Events {
		if e.ID == "" {
			return fmt.Errorf("fixture: event %q has no id", e.Title)
		}
		events[e.ID] = true
	}
	for _, e := range f.Events {
		for _, c := range e.CausedBy {
			if !events[c] {
				return fmt.Errorf("fixture: event %q caused by unknown event %q", e.ID, c)
			}
		}
	}
	return nil
}

// Request turns the fixture into a recall request over its messages.
func (f *Fixture) Request() recall.Request {
	return recall.Request{
		Events:        f.Events,
		Messages:      f.Messages,
		UserName:      f.UserName,
		CharacterName: f.CharacterName,
	}
}

// LoadFixture loads and validates a fixture file. A path of "-" reads
// stdin.
func LoadFixture(path string) (*Fixture, error) {
	var f Fixture
	load := func() error { return LoadRequest(path, &f) }
	if path == "-" {
		load = func() error { return LoadRequestFromStdin(&f) }
	}
	if err := load(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadRequest loads a request from a YAML or JSON file into the provided struct
func LoadRequest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return ParseRequest(data, path, v)
}

// ParseRequest parses request data based on file extension or content
func ParseRequest(data []byte, filename string, v any) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		// Try YAML first, then JSON
		if err := yaml.Unmarshal(data, v); err != nil {
			if err2 := json.Unmarshal(data, v); err2 != nil {
				return fmt.Errorf("failed to parse file (tried YAML and JSON)")
			}
		}
	}
	return nil
}

// LoadRequestFromStdin loads a request from stdin
func LoadRequestFromStdin(v any) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		if err2 := yaml.Unmarshal(data, v); err2 != nil {
			return fmt.Errorf("failed to parse input (tried JSON and YAML)")
		}
	}
	return nil
}
