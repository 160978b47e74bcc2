// Package kv is the key-value substrate under the conversation store.
//
// Keys are hierarchical paths such as Key{"conv", "c1", "atom", "00000012", "a-7"}
// encoded with a single separator byte. [Store.List] walks every entry under a
// prefix in encoded byte order, which callers rely on for floor-ordered scans
// (floors are zero-padded when used as key segments).
//
// Two backends are provided: [Memory] for tests and short-lived engines, and
// [Badger] for on-disk persistence.
package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: not found")

	// ErrInvalidSegment is returned when a key segment contains the
	// separator byte and would corrupt the encoding.
	ErrInvalidSegment = errors.New("kv: key segment contains separator")
)

// DefaultSeparator joins key segments when no separator is configured.
const DefaultSeparator byte = ':'

// Key is a hierarchical key path.
type Key []string

// String renders the key with ':' for logs and errors.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Append returns a new key with segs appended. The receiver is never
// modified, so a shared prefix can be extended from many goroutines.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry is one key-value pair.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store addressed by path keys.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields all entries strictly below prefix in encoded byte order.
	// An empty prefix lists everything.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet stores all entries atomically.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes all keys atomically.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases the backend.
	Close() error
}

// codec encodes keys with one separator byte.
type codec struct {
	sep byte
}

func newCodec(sep byte) codec {
	if sep == 0 {
		sep = DefaultSeparator
	}
	return codec{sep: sep}
}

func (c codec) validate(k Key) error {
	for _, seg := range k {
		if strings.IndexByte(seg, c.sep) >= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidSegment, seg)
		}
	}
	return nil
}

func (c codec) encode(k Key) []byte {
	parts := make([][]byte, len(k))
	for i, seg := range k {
		parts[i] = []byte(seg)
	}
	return bytes.Join(parts, []byte{c.sep})
}

func (c codec) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{c.sep})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// scanPrefix returns the encoded prefix followed by the separator, so that
// "conv:c1" never matches "conv:c10". An empty key scans everything.
func (c codec) scanPrefix(k Key) []byte {
	if len(k) == 0 {
		return nil
	}
	return append(c.encode(k), c.sep)
}
