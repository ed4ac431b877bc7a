package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/medledger/medledger/internal/platform/ledger"
)

// Key layout on the ledger. Address segments are path-escaped so that no
// address can extend another address's prefix.
const (
	accountPrefix   = "account/"
	reportPrefix    = "report/"
	reportSeqPrefix = "reportseq/"
	grantPrefix     = "grant/"
)

func accountKey(addr string) string { return accountPrefix + url.PathEscape(addr) }

func reportsPrefix(patient string) string { return reportPrefix + url.PathEscape(patient) + "/" }

func reportKey(patient string, seq uint64) string {
	return fmt.Sprintf("%s%020d", reportsPrefix(patient), seq)
}

func reportSeqKey(patient string) string { return reportSeqPrefix + url.PathEscape(patient) }

func grantsPrefix(patient string) string { return grantPrefix + url.PathEscape(patient) + "/" }

func grantKey(patient, doctor string) string { return grantsPrefix(patient) + url.PathEscape(doctor) }

type logRepository struct {
	log ledger.Log
}

// NewLogRepository stores the registry on a ledger.Log.
func NewLogRepository(log ledger.Log) Repository {
	return &logRepository{log: log}
}

func (r *logRepository) GetAccount(ctx context.Context, address string) (*Account, error) {
	raw, err := r.log.Get(ctx, accountKey(address))
	if err != nil || raw == nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", address, err)
	}
	return &a, nil
}

func (r *logRepository) CreateAccount(ctx context.Context, a *Account) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	key := accountKey(a.Address)
	return r.log.Append(ctx, new(ledger.Tx).ExpectAbsent(key).Put(key, raw))
}

func (r *logRepository) SetDoctorVerification(ctx context.Context, address string, verified bool, at time.Time) (*Account, error) {
	key := accountKey(address)
	prev, err := r.log.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	var a Account
	if err := json.Unmarshal(prev, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", address, err)
	}
	if a.Role != RoleDoctor || a.Verified == verified {
		return &a, nil
	}

	a.Verified = verified
	a.VerifiedAt = nil
	if verified {
		a.VerifiedAt = &at
	}
	next, err := json.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	if err := r.log.Append(ctx, new(ledger.Tx).ExpectValue(key, prev).Put(key, next)); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *logRepository) AppendReport(ctx context.Context, rep *Report) error {
	seqKey := reportSeqKey(rep.Owner)
	current, err := r.log.Get(ctx, seqKey)
	if err != nil {
		return err
	}

	tx := new(ledger.Tx)
	var last uint64
	if current == nil {
		tx.ExpectAbsent(seqKey)
	} else {
		last, err = strconv.ParseUint(string(current), 10, 64)
		if err != nil {
			return fmt.Errorf("decode report sequence for %s: %w", rep.Owner, err)
		}
		tx.ExpectValue(seqKey, current)
	}

	rep.SequenceNo = last + 1
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := reportKey(rep.Owner, rep.SequenceNo)
	tx.ExpectAbsent(key).
		Put(key, raw).
		Put(seqKey, []byte(strconv.FormatUint(rep.SequenceNo, 10)))

	if err := r.log.Append(ctx, tx); err != nil {
		rep.SequenceNo = 0
		return err
	}
	return nil
}

func (r *logRepository) ListReports(ctx context.Context, patient string) ([]Report, error) {
	kvs, err := r.log.Scan(ctx, reportsPrefix(patient))
	if err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(kvs))
	for _, kv := range kvs {
		var rep Report
		if err := json.Unmarshal(kv.Value, &rep); err != nil {
			return nil, fmt.Errorf("decode report %s: %w", kv.Key, err)
		}
		out = append(out, rep)
	}
	return out, nil
}

func (r *logRepository) GetGrant(ctx context.Context, patient, doctor string) (*Grant, error) {
	raw, err := r.log.Get(ctx, grantKey(patient, doctor))
	if err != nil || raw == nil {
		return nil, err
	}
	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode grant %s/%s: %w", patient, doctor, err)
	}
	return &g, nil
}

func (r *logRepository) PutGrant(ctx context.Context, g *Grant) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	return r.log.Append(ctx, new(ledger.Tx).Put(grantKey(g.Patient, g.Doctor), raw))
}

func (r *logRepository) ListGrants(ctx context.Context, patient string) ([]Grant, error) {
	kvs, err := r.log.Scan(ctx, grantsPrefix(patient))
	if err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(kvs))
	for _, kv := range kvs {
		var g Grant
		if err := json.Unmarshal(kv.Value, &g); err != nil {
			return nil, fmt.Errorf("decode grant %s: %w", kv.Key, err)
		}
		out = append(out, g)
	}
	return out, nil
}
