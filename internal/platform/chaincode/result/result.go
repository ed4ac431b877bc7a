// Package result holds the JSON shapes exchanged with the registry chaincode.
// It imports no Fabric code, so gateway clients can use it without linking
// the chaincode shim.
package result

import (
	"time"

	"github.com/medledger/medledger/internal/domain/registry"
)

// Timestamps travel as RFC 3339 strings so that the contract metadata stays
// plain JSON schema.

type Account struct {
	Address      string `json:"address"`
	Role         string `json:"role"`
	RegisteredAt string `json:"registered_at"`
	Verified     bool   `json:"verified"`
	VerifiedAt   string `json:"verified_at,omitempty" metadata:",optional"`
}

type Report struct {
	ContentHash   string `json:"content_hash"`
	EmergencyFlag bool   `json:"emergency_flag"`
	SequenceNo    uint64 `json:"sequence_no"`
	CreatedAt     string `json:"created_at"`
}

type Grant struct {
	Patient   string `json:"patient"`
	Doctor    string `json:"doctor"`
	GrantedAt string `json:"granted_at"`
	RevokedAt string `json:"revoked_at,omitempty" metadata:",optional"`
}

type Access struct {
	Patient string         `json:"patient"`
	Scope   string         `json:"scope"`
	Reports []Report `json:"reports"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func NewAccount(a *registry.Account) *Account {
	return &Account{
		Address:      a.Address,
		Role:         string(a.Role),
		RegisteredAt: formatTime(a.RegisteredAt),
		Verified:     a.Verified,
		VerifiedAt:   formatOptionalTime(a.VerifiedAt),
	}
}

func (r *Account) Account() *registry.Account {
	return &registry.Account{
		Address:      r.Address,
		Role:         registry.Role(r.Role),
		RegisteredAt: parseTime(r.RegisteredAt),
		Verified:     r.Verified,
		VerifiedAt:   parseOptionalTime(r.VerifiedAt),
	}
}

func NewReport(v registry.ReportView) Report {
	return Report{
		ContentHash:   v.ContentHash,
		EmergencyFlag: v.EmergencyFlag,
		SequenceNo:    v.SequenceNo,
		CreatedAt:     formatTime(v.CreatedAt),
	}
}

func (r Report) View() registry.ReportView {
	return registry.ReportView{
		ContentHash:   r.ContentHash,
		EmergencyFlag: r.EmergencyFlag,
		SequenceNo:    r.SequenceNo,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

func NewGrant(g *registry.Grant) *Grant {
	return &Grant{
		Patient:   g.Patient,
		Doctor:    g.Doctor,
		GrantedAt: formatTime(g.GrantedAt),
		RevokedAt: formatOptionalTime(g.RevokedAt),
	}
}

func (r *Grant) Grant() *registry.Grant {
	return &registry.Grant{
		Patient:   r.Patient,
		Doctor:    r.Doctor,
		GrantedAt: parseTime(r.GrantedAt),
		RevokedAt: parseOptionalTime(r.RevokedAt),
	}
}

func NewAccess(a *registry.Access) *Access {
	out := &Access{
		Patient: a.Patient,
		Scope:   string(a.Scope),
		Reports: make([]Report, 0, len(a.Reports)),
	}
	for _, v := range a.Reports {
		out.Reports = append(out.Reports, NewReport(v))
	}
	return out
}

func (r *Access) Access() *registry.Access {
	out := &registry.Access{
		Patient: r.Patient,
		Scope:   registry.Scope(r.Scope),
		Reports: make([]registry.ReportView, 0, len(r.Reports)),
	}
	for _, v := range r.Reports {
		out.Reports = append(out.Reports, v.View())
	}
	return out
}
