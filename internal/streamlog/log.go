// Package streamlog provides the append-only, per-stream record logs that market data is
// drained from. Keys are opaque tokens assigned by the backend and totally ordered within a
// stream; callers never construct them.
package streamlog

import (
	"context"
	"fmt"
)

const (
	// MinKey and MaxKey are the open range bounds accepted by Range.
	MinKey = "-"
	MaxKey = "+"
)

// Entry is a single log record.
type Entry struct {
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields"`
}

// Log is the append-only log consumed by batch processors and the live book.
type Log interface {
	// Append adds a record to the tail of stream and returns its key.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	// Range returns up to count records with from <= key <= to, oldest first.
	Range(ctx context.Context, stream, from, to string, count int64) ([]Entry, error)
	// RevRange returns up to count records, newest first.
	RevRange(ctx context.Context, stream string, count int64) ([]Entry, error)
	// Len returns the number of records currently held for stream.
	Len(ctx context.Context, stream string) (int64, error)
	// Delete removes keys from stream and returns how many were present.
	Delete(ctx context.Context, stream string, keys ...string) (int64, error)
	Close() error
}

// Oldest reads up to count records from the head of stream.
func Oldest(ctx context.Context, l Log, stream string, count int64) ([]Entry, error) {
	return l.Range(ctx, stream, MinKey, MaxKey, count)
}

// Newest returns the most recent record of stream. ok is false when the stream is empty,
// which is a normal state rather than an error.
func Newest(ctx context.Context, l Log, stream string) (Entry, bool, error) {
	entries, err := l.RevRange(ctx, stream, 1)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read newest %s: %w", stream, err)
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// Keys extracts the keys of entries, preserving order.
func Keys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
