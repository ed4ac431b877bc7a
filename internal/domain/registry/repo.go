package registry

import (
	"context"
	"time"
)

// Repository persists accounts, reports and grants. Getters return nil with
// no error when the record does not exist. Writers return ledger.ErrConflict
// when the state they were based on changed underneath them.
type Repository interface {
	GetAccount(ctx context.Context, address string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	SetDoctorVerification(ctx context.Context, address string, verified bool, at time.Time) (*Account, error)

	// AppendReport assigns the next sequence number for r.Owner and stores r.
	AppendReport(ctx context.Context, r *Report) error
	ListReports(ctx context.Context, patient string) ([]Report, error)

	GetGrant(ctx context.Context, patient, doctor string) (*Grant, error)
	PutGrant(ctx context.Context, g *Grant) error
	ListGrants(ctx context.Context, patient string) ([]Grant, error)
}
