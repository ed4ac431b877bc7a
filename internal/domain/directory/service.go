package directory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/domain/registry"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "directory").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish points username at the caller's own address, replacing any
// username the caller published before.
func (s *Service) Publish(ctx context.Context, caller, username string) (*Entry, error) {
	addr, err := registry.NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	e := &Entry{Username: name, Address: addr, PublishedAt: s.now()}
	if err := s.repo.Publish(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info().Str("address", addr).Str("username", name).Msg("username published")
	return e, nil
}

func (s *Service) Lookup(ctx context.Context, username string) (*Entry, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, ErrNotFound
	}
	e, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, limit, offset)
}
