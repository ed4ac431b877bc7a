package registry

import "time"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Account is a registered identity. The role is fixed at registration.
// Verified only applies to doctors and gates the emergency override.
type Account struct {
	Address      string     `json:"address"`
	Role         Role       `json:"role"`
	RegisteredAt time.Time  `json:"registered_at"`
	Verified     bool       `json:"verified"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

func (a *Account) IsPatient() bool { return a != nil && a.Role == RolePatient }

func (a *Account) IsDoctor() bool { return a != nil && a.Role == RoleDoctor }

// Report is an immutable reference to off-ledger report content.
type Report struct {
	Owner         string    `json:"owner"`
	ContentHash   string    `json:"content_hash"`
	EmergencyFlag bool      `json:"emergency_flag"`
	SequenceNo    uint64    `json:"sequence_no"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReportView is what an authorized reader receives for one report.
type ReportView struct {
	ContentHash   string    `json:"content_hash"`
	EmergencyFlag bool      `json:"emergency_flag"`
	SequenceNo    uint64    `json:"sequence_no"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r Report) View() ReportView {
	return ReportView{
		ContentHash:   r.ContentHash,
		EmergencyFlag: r.EmergencyFlag,
		SequenceNo:    r.SequenceNo,
		CreatedAt:     r.CreatedAt,
	}
}

// Grant is a patient's standing authorization of one doctor. A revoked grant
// keeps its record with RevokedAt set.
type Grant struct {
	Patient   string     `json:"patient"`
	Doctor    string     `json:"doctor"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (g *Grant) Active() bool { return g != nil && g.RevokedAt == nil }

// Access is the result of a report read: the scope that allowed it and the
// reports visible under that scope, in upload order.
type Access struct {
	Patient string       `json:"patient"`
	Scope   Scope        `json:"scope"`
	Reports []ReportView `json:"reports"`
}
