package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medledger/medledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresLog stores the ledger in the ledger_state and ledger_journal tables
// created by the db migrations. Writers serialize per key with transaction
// scoped advisory locks, so independent patients commit in parallel.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (r *PostgresLog) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *PostgresLog) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT value FROM ledger_state WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select ledger key %s: %w", key, err)
	}
	return v, nil
}

func (r *PostgresLog) Scan(ctx context.Context, prefix string) ([]KV, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if end := PrefixEnd(prefix); end != "" {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT key, value FROM ledger_state WHERE key >= $1 AND key < $2 ORDER BY key`, prefix, end)
	} else {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT key, value FROM ledger_state WHERE key >= $1 ORDER BY key`, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}

func (r *PostgresLog) Append(ctx context.Context, tx *Tx) error {
	dbtx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	for _, key := range tx.Keys() {
		if _, err := dbtx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("lock ledger key %s: %w", key, err)
		}
	}

	for _, c := range tx.Expect {
		var current []byte
		err := dbtx.QueryRow(ctx, `SELECT value FROM ledger_state WHERE key = $1`, c.Key).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			current = nil
		} else if err != nil {
			return fmt.Errorf("check ledger key %s: %w", c.Key, err)
		}
		if !c.Holds(current) {
			return ErrConflict
		}
	}
	if tx.Empty() {
		return nil
	}

	txID := uuid.New()
	for _, p := range tx.Puts {
		if _, err := dbtx.Exec(ctx, `
			INSERT INTO ledger_state (key, value, version, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				version = ledger_state.version + 1,
				updated_at = NOW()`,
			p.Key, p.Value); err != nil {
			return fmt.Errorf("upsert ledger key %s: %w", p.Key, err)
		}
		if _, err := dbtx.Exec(ctx,
			`INSERT INTO ledger_journal (tx_id, key, value) VALUES ($1, $2, $3)`,
			txID, p.Key, p.Value); err != nil {
			return fmt.Errorf("journal ledger key %s: %w", p.Key, err)
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
