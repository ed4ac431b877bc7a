package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryLog is an in-process Log. It is used by tests and by the server when
// no durable backend is configured.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]byte)}
}

func (m *MemoryLog) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

func (m *MemoryLog) Scan(_ context.Context, prefix string) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []KV
	for k, v := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KV{Key: k, Value: clone(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryLog) Append(_ context.Context, tx *Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range tx.Expect {
		if !c.Holds(m.entries[c.Key]) {
			return ErrConflict
		}
	}
	for _, p := range tx.Puts {
		m.entries[p.Key] = clone(p.Value)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
