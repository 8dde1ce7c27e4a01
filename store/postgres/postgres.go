/*
postgres.go - PostgreSQL implementation of ledger.Store

Same (pk, sk) keyspace as store/sqlite, on a shared pgx connection pool, for
deployments where several ledgerd processes write the same residents.

Conditional writes use INSERT ... ON CONFLICT DO NOTHING: zero affected rows
means another writer already holds the key, reported as
ledger.ErrConditionFailed. Sort keys use the "C" collation so ORDER BY sk
is byte order, whatever the database locale. No explicit transactions are needed since every
operation is a single statement against one row or one partition range.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/resident-ledger/ledger"
)

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// New wraps an existing pool. Call Migrate before first use.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect parses url, opens a pool, verifies it and migrates the schema.
func Connect(ctx context.Context, url string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// Migrate creates the ledger_records table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_records (
		pk TEXT NOT NULL,
		sk TEXT COLLATE "C" NOT NULL,
		kind TEXT NOT NULL,
		event_type TEXT,
		amount BIGINT NOT NULL DEFAULT 0,
		balance BIGINT NOT NULL DEFAULT 0,
		body JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (pk, sk)
	);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate ledger_records: %w", err)
	}
	return nil
}

// GetLatest returns the newest record in the partition, or nil.
func (s *Store) GetLatest(ctx context.Context, account ledger.AccountID) (*ledger.Record, error) {
	var body []byte
	err := s.db.QueryRow(ctx,
		`SELECT body FROM ledger_records WHERE pk = $1 ORDER BY sk DESC LIMIT 1`,
		ledger.PartitionKey(account),
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest record: %w", err)
	}

	var rec ledger.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// RangeLatest returns up to limit records, newest first.
func (s *Store) RangeLatest(ctx context.Context, account ledger.AccountID, limit int) ([]ledger.Record, error) {
	return s.queryRecords(ctx,
		`SELECT body FROM ledger_records WHERE pk = $1 ORDER BY sk DESC LIMIT $2`,
		ledger.PartitionKey(account), limit,
	)
}

// RangeAfter returns up to limit records after version after, oldest first.
func (s *Store) RangeAfter(ctx context.Context, account ledger.AccountID, after ledger.Version, limit int) ([]ledger.Record, error) {
	return s.queryRecords(ctx,
		`SELECT body FROM ledger_records WHERE pk = $1 AND sk > $2 ORDER BY sk ASC LIMIT $3`,
		ledger.PartitionKey(account), ledger.SortKey(after), limit,
	)
}

// PutIfAbsent inserts rec. A taken key yields ledger.ErrConditionFailed.
func (s *Store) PutIfAbsent(ctx context.Context, rec ledger.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	query := `
		INSERT INTO ledger_records (pk, sk, kind, event_type, amount, balance, body)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (pk, sk) DO NOTHING
	`
	result, err := s.db.Exec(ctx, query,
		rec.PartitionKey(), rec.SortKey(), string(rec.Kind), string(rec.EventType),
		rec.Amount, rec.Balance, body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ledger.ErrConditionFailed
	}
	return nil
}

// Put inserts or replaces rec.
func (s *Store) Put(ctx context.Context, rec ledger.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	query := `
		INSERT INTO ledger_records (pk, sk, kind, event_type, amount, balance, body)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (pk, sk) DO UPDATE SET
			kind = EXCLUDED.kind,
			event_type = EXCLUDED.event_type,
			amount = EXCLUDED.amount,
			balance = EXCLUDED.balance,
			body = EXCLUDED.body,
			created_at = now()
	`
	_, err = s.db.Exec(ctx, query,
		rec.PartitionKey(), rec.SortKey(), string(rec.Kind), string(rec.EventType),
		rec.Amount, rec.Balance, body,
	)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Accounts lists every resident with at least one record.
func (s *Store) Accounts(ctx context.Context) ([]ledger.AccountID, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT pk FROM ledger_records ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.AccountID
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		if id, ok := ledger.AccountFromPartitionKey(pk); ok {
			accounts = append(accounts, id)
		}
	}
	return accounts, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]ledger.Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var rec ledger.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
