package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/medledger/medledger/pkg/pagination"
)

type memoryRepo struct {
	mu         sync.RWMutex
	byUsername map[string]*Entry
	byAddress  map[string]string
}

func NewMemoryRepository() Repository {
	return &memoryRepo{
		byUsername: make(map[string]*Entry),
		byAddress:  make(map[string]string),
	}
}

func (r *memoryRepo) Publish(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.byUsername[e.Username]; ok && held.Address != e.Address {
		return ErrUsernameTaken
	}
	if prev, ok := r.byAddress[e.Address]; ok {
		delete(r.byUsername, prev)
	}
	cp := *e
	r.byUsername[e.Username] = &cp
	r.byAddress[e.Address] = e.Username
	return nil
}

func (r *memoryRepo) Get(_ context.Context, username string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]*Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byUsername))
	for name := range r.byUsername {
		names = append(names, name)
	}
	sort.Strings(names)

	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(names))
	out := make([]*Entry, 0, end-start)
	for _, name := range names[start:end] {
		cp := *r.byUsername[name]
		out = append(out, &cp)
	}
	return out, len(names), nil
}
