// Package directory maps human-chosen usernames to wallet addresses. Entries
// are self-asserted and purely informational: nothing in the registry
// consults the directory, and holding a username grants no access.
package directory

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrUsernameTaken   = errors.New("username taken")
	ErrNotFound        = errors.New("username not found")
)

// Entry is one published username.
type Entry struct {
	Username    string    `json:"username" bson:"username"`
	Address     string    `json:"address" bson:"address"`
	PublishedAt time.Time `json:"published_at" bson:"published_at"`
}

const (
	minUsernameLen = 3
	maxUsernameLen = 32
)

// NormalizeUsername lower-cases and trims name and checks it against the
// allowed alphabet: letters, digits, '.', '_' and '-'.
func NormalizeUsername(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < minUsernameLen || len(name) > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return "", ErrInvalidUsername
		}
	}
	return name, nil
}
