package directory

import (
	"context"
)

// Repository stores at most one entry per address and per username.
type Repository interface {
	// Publish replaces the address's entry. It returns ErrUsernameTaken when
	// another address holds the username.
	Publish(ctx context.Context, e *Entry) error
	// Get returns nil, nil when the username is unknown.
	Get(ctx context.Context, username string) (*Entry, error)
	// List returns entries ordered by username and the total count.
	List(ctx context.Context, limit, offset int) ([]*Entry, int, error)
}
