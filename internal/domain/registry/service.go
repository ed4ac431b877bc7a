package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/platform/ledger"
)

// Policy holds the registry's configurable rules.
type Policy struct {
	// DoctorsVerifiedByDefault marks newly registered doctors as eligible
	// for the emergency override without a separate verification step.
	DoctorsVerifiedByDefault bool
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
	policy Policy
	locks  *keyLocks
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger, policy Policy) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "registry").Logger(),
		policy: policy,
		locks:  newKeyLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for registration, upload and
// grant timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// -- Registration Gate --

func (s *Service) RegisterPatient(ctx context.Context, caller string) (*Account, error) {
	return s.register(ctx, caller, RolePatient)
}

func (s *Service) RegisterDoctor(ctx context.Context, caller string) (*Account, error) {
	return s.register(ctx, caller, RoleDoctor)
}

func (s *Service) register(ctx context.Context, caller string, role Role) (*Account, error) {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(addr)
	defer unlock()

	existing, err := s.repo.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, registrationConflict(existing, role)
	}

	a := &Account{
		Address:      addr,
		Role:         role,
		RegisteredAt: s.now(),
	}
	if role == RoleDoctor && s.policy.DoctorsVerifiedByDefault {
		a.Verified = true
		at := a.RegisteredAt
		a.VerifiedAt = &at
	}

	if err := s.repo.CreateAccount(ctx, a); err != nil {
		if !errors.Is(err, ledger.ErrConflict) {
			return nil, err
		}
		// Another writer registered the address first.
		existing, getErr := s.repo.GetAccount(ctx, addr)
		if getErr != nil {
			return nil, getErr
		}
		return nil, registrationConflict(existing, role)
	}

	s.logger.Info().Str("address", addr).Str("role", string(role)).Bool("verified", a.Verified).Msg("account registered")
	return a, nil
}

func registrationConflict(existing *Account, role Role) error {
	if existing != nil && existing.Role != role {
		return ErrRoleImmutable
	}
	return ErrAlreadyRegistered
}

// GetAccount returns the caller's own account.
func (s *Service) GetAccount(ctx context.Context, caller string) (*Account, error) {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

// SetDoctorVerification flips the emergency override eligibility of a doctor.
// Callers must have checked that the requester is an administrator.
func (s *Service) SetDoctorVerification(ctx context.Context, doctor string, verified bool) (*Account, error) {
	addr, err := NormalizeAddress(doctor)
	if err != nil {
		return nil, ErrDoctorNotFound
	}
	unlock := s.locks.Lock(addr)
	defer unlock()

	a, err := s.repo.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !a.IsDoctor() {
		return nil, ErrDoctorNotFound
	}
	if a.Verified == verified {
		return a, nil
	}

	a, err = s.repo.SetDoctorVerification(ctx, addr, verified, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor", addr).Bool("verified", verified).Msg("doctor verification changed")
	return a, nil
}

// -- Report Registry --

// UploadReport appends a report for the calling patient and returns it with
// its assigned sequence number.
func (s *Service) UploadReport(ctx context.Context, caller, contentHash string, emergency bool) (*Report, error) {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return nil, ErrNotAPatient
	}
	unlock := s.locks.Lock(addr)
	defer unlock()

	if err := s.requirePatient(ctx, addr); err != nil {
		return nil, err
	}
	// The reference is stored byte for byte; only blank ones are rejected.
	if strings.TrimSpace(contentHash) == "" {
		return nil, ErrInvalidReference
	}

	r := &Report{
		Owner:         addr,
		ContentHash:   contentHash,
		EmergencyFlag: emergency,
		CreatedAt:     s.now(),
	}
	if err := s.repo.AppendReport(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient", addr).Uint64("sequence_no", r.SequenceNo).Bool("emergency", emergency).Msg("report uploaded")
	return r, nil
}

func (s *Service) requirePatient(ctx context.Context, addr string) error {
	a, err := s.repo.GetAccount(ctx, addr)
	if err != nil {
		return err
	}
	if !a.IsPatient() {
		return ErrNotAPatient
	}
	return nil
}

// -- Authorization Ledger --

// AuthorizeDoctor grants doctor standing access to the caller's reports.
// Repeating the call returns the existing grant; a revoked grant is reactivated.
func (s *Service) AuthorizeDoctor(ctx context.Context, caller, doctor string) (*Grant, error) {
	patient, doc, err := s.resolveGrantParties(ctx, caller, doctor)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(patient)
	defer unlock()

	g, err := s.repo.GetGrant(ctx, patient, doc)
	if err != nil {
		return nil, err
	}
	if g.Active() {
		return g, nil
	}

	g = &Grant{Patient: patient, Doctor: doc, GrantedAt: s.now()}
	if err := s.repo.PutGrant(ctx, g); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient", patient).Str("doctor", doc).Msg("doctor authorized")
	return g, nil
}

// RevokeDoctor withdraws a grant. Revoking an absent or revoked grant is a no-op.
func (s *Service) RevokeDoctor(ctx context.Context, caller, doctor string) error {
	patient, doc, err := s.resolveGrantParties(ctx, caller, doctor)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(patient)
	defer unlock()

	g, err := s.repo.GetGrant(ctx, patient, doc)
	if err != nil {
		return err
	}
	if !g.Active() {
		return nil
	}

	at := s.now()
	g.RevokedAt = &at
	if err := s.repo.PutGrant(ctx, g); err != nil {
		return err
	}
	s.logger.Info().Str("patient", patient).Str("doctor", doc).Msg("doctor authorization revoked")
	return nil
}

func (s *Service) resolveGrantParties(ctx context.Context, caller, doctor string) (string, string, error) {
	patient, err := NormalizeAddress(caller)
	if err != nil {
		return "", "", ErrNotAPatient
	}
	if err := s.requirePatient(ctx, patient); err != nil {
		return "", "", err
	}
	doc, err := NormalizeAddress(doctor)
	if err != nil {
		return "", "", ErrDoctorNotFound
	}
	a, err := s.repo.GetAccount(ctx, doc)
	if err != nil {
		return "", "", err
	}
	if !a.IsDoctor() {
		return "", "", ErrDoctorNotFound
	}
	return patient, doc, nil
}

// IsAuthorized reports whether patient holds an active grant for doctor.
func (s *Service) IsAuthorized(ctx context.Context, patient, doctor string) (bool, error) {
	p, err := NormalizeAddress(patient)
	if err != nil {
		return false, nil
	}
	d, err := NormalizeAddress(doctor)
	if err != nil {
		return false, nil
	}
	g, err := s.repo.GetGrant(ctx, p, d)
	if err != nil {
		return false, err
	}
	return g.Active(), nil
}

// ListGrants returns every grant the calling patient has issued, revoked ones included.
func (s *Service) ListGrants(ctx context.Context, caller string) ([]Grant, error) {
	patient, err := NormalizeAddress(caller)
	if err != nil {
		return nil, ErrNotAPatient
	}
	if err := s.requirePatient(ctx, patient); err != nil {
		return nil, err
	}
	return s.repo.ListGrants(ctx, patient)
}

// -- Access Decision Engine --

// ViewReports returns the patient's reports visible to caller. Every call
// decides from current state.
func (s *Service) ViewReports(ctx context.Context, caller, patient string) (*Access, error) {
	c, p, err := normalizePair(caller, patient)
	if err != nil {
		return nil, err
	}

	in := DecisionInput{Caller: c, Patient: p}
	if c != p {
		if in.CallerAccount, err = s.repo.GetAccount(ctx, c); err != nil {
			return nil, err
		}
		if in.CallerAccount.IsDoctor() {
			if in.Grant, err = s.repo.GetGrant(ctx, p, c); err != nil {
				return nil, err
			}
		}
	}

	scope := Decide(in)
	if scope == ScopeNone {
		s.logger.Info().Str("caller", c).Str("patient", p).Msg("report access denied")
		return nil, ErrNotAuthorized
	}
	return s.read(ctx, c, p, scope)
}

// EmergencyAccess returns only the emergency-flagged reports of patient and
// is available to verified doctors regardless of grants.
func (s *Service) EmergencyAccess(ctx context.Context, caller, patient string) (*Access, error) {
	c, p, err := normalizePair(caller, patient)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetAccount(ctx, c)
	if err != nil {
		return nil, err
	}
	if !a.IsDoctor() || !a.Verified {
		s.logger.Info().Str("caller", c).Str("patient", p).Msg("emergency access denied")
		return nil, ErrNotAuthorized
	}
	return s.read(ctx, c, p, ScopeEmergency)
}

func (s *Service) read(ctx context.Context, caller, patient string, scope Scope) (*Access, error) {
	reports, err := s.repo.ListReports(ctx, patient)
	if err != nil {
		return nil, err
	}
	access := &Access{Patient: patient, Scope: scope, Reports: Filter(reports, scope)}
	if scope == ScopeEmergency {
		s.logger.Warn().Str("caller", caller).Str("patient", patient).Int("reports", len(access.Reports)).Msg("emergency override read")
	}
	return access, nil
}

// normalizePair maps unparseable addresses to ErrNotAuthorized so that a read
// never reveals more than a denial.
func normalizePair(caller, patient string) (string, string, error) {
	c, err := NormalizeAddress(caller)
	if err != nil {
		return "", "", ErrNotAuthorized
	}
	p, err := NormalizeAddress(patient)
	if err != nil {
		return "", "", ErrNotAuthorized
	}
	return c, p, nil
}
