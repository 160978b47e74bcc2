package lexical

import (
	"context"
	"fmt"

	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/tokenizer"
)

// ChunkDoc converts a chunk into an index document.
func ChunkDoc(tk *tokenizer.Tokenizer, c memory.Chunk) Doc {
	return Doc{
		ID:    "c/" + c.ChunkID,
		Ref:   c.ChunkID,
		Kind:  KindChunk,
		Floor: c.Floor,
		Terms: tk.Tokenize(c.Text),
	}
}

// EventDoc converts an event into an index document over its title and
// summary text.
func EventDoc(tk *tokenizer.Tokenizer, e memory.Event) Doc {
	return Doc{
		ID:    "e/" + e.ID,
		Ref:   e.ID,
		Kind:  KindEvent,
		Floor: -1,
		Terms: tk.Tokenize(e.Text()),
	}
}

// EventDocs converts the events that have an id into index documents.
func EventDocs(tk *tokenizer.Tokenizer, events []memory.Event) []Doc {
	docs := make([]Doc, 0, len(events))
	for _, e := range events {
		if e.ID != "" {
			docs = append(docs, EventDoc(tk, e))
		}
	}
	return docs
}

// Build creates an index over chunks and events.
func Build(ctx context.Context, tk *tokenizer.Tokenizer, chunks []memory.Chunk, events []memory.Event) (*Index, error) {
	idx, err := NewIndex()
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, 0, len(chunks)+len(events))
	for _, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = memory.ChunkID(c.Floor, c.ChunkIdx)
		}
		docs = append(docs, ChunkDoc(tk, c))
	}
	docs = append(docs, EventDocs(tk, events)...)
	if err := ctx.Err(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("lexical: build: %w", err)
	}
	if err := idx.Add(docs...); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}
