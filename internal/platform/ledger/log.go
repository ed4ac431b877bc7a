// Package ledger defines the durable transaction log that backs the record
// registry, together with the backends that implement it.
//
// A Log stores opaque values under string keys. Every mutation goes through
// Append, which applies a Tx atomically: either all of its conditions hold and
// all of its puts are written, or nothing is written and ErrConflict is
// returned. A Tx without conditions is a plain append; a Tx with conditions is
// a compare-and-append.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"sort"
)

// ErrConflict is returned by Append when a condition of the Tx did not hold.
var ErrConflict = errors.New("ledger: compare-and-append conflict")

// KV is a single key/value pair.
type KV struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Condition asserts the current value of a key. A nil Value asserts that the
// key is absent.
type Condition struct {
	Key   string
	Value []byte
}

// Tx is a batch of conditions and puts applied atomically by Log.Append.
type Tx struct {
	Expect []Condition
	Puts   []KV
}

// ExpectAbsent requires key to hold no value.
func (t *Tx) ExpectAbsent(key string) *Tx {
	t.Expect = append(t.Expect, Condition{Key: key})
	return t
}

// ExpectValue requires key to hold exactly value.
func (t *Tx) ExpectValue(key string, value []byte) *Tx {
	t.Expect = append(t.Expect, Condition{Key: key, Value: value})
	return t
}

// Put schedules a write of value under key.
func (t *Tx) Put(key string, value []byte) *Tx {
	t.Puts = append(t.Puts, KV{Key: key, Value: value})
	return t
}

// Empty reports whether the Tx would write nothing.
func (t *Tx) Empty() bool {
	return len(t.Puts) == 0
}

// Keys returns every key the Tx touches, sorted and de-duplicated. Backends
// that take per-key locks acquire them in this order.
func (t *Tx) Keys() []string {
	seen := make(map[string]struct{}, len(t.Expect)+len(t.Puts))
	for _, c := range t.Expect {
		seen[c.Key] = struct{}{}
	}
	for _, p := range t.Puts {
		seen[p.Key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Log is the durable store behind the registry.
type Log interface {
	// Get returns the value stored under key, or nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan returns every pair whose key starts with prefix, in ascending
	// byte order of key.
	Scan(ctx context.Context, prefix string) ([]KV, error)
	// Append applies tx atomically.
	Append(ctx context.Context, tx *Tx) error
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or "" when no such key exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// Holds reports whether current satisfies c.
func (c Condition) Holds(current []byte) bool {
	if c.Value == nil {
		return current == nil
	}
	return current != nil && bytes.Equal(c.Value, current)
}
