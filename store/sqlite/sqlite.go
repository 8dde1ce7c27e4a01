/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists resident ledger records (events and snapshots) in one table
  keyed by (pk, sk). The same schema ports to PostgreSQL with only dialect
  changes; see store/postgres.

INTERFACES IMPLEMENTED:
  ledger.Store:          GetLatest, RangeLatest, PutIfAbsent, Put
  ledger.HistoryReader:  RangeAfter
  ledger.AccountLister:  Accounts

KEY TABLE:
  ledger_records:
    pk          RESIDENT#<id>
    sk          v00000042 (zero-padded, so ORDER BY sk is version order)
    kind        EVENT | SNAPSHOT
    event_type  CHARGE_POSTED, ... (NULL for snapshots)
    amount      signed minor units (events)
    balance     snapshot balance
    body_json   full record
    created_at  write time

CONDITIONAL WRITES:
  PutIfAbsent is a plain INSERT. The (pk, sk) primary key makes a second
  insert at the same key fail with a constraint error, which is translated
  to ledger.ErrConditionFailed. Put is INSERT ... ON CONFLICT DO UPDATE and
  is used only for snapshot compaction.

CONNECTIONS:
  The pool is capped at one connection: ":memory:" databases are
  per-connection, and a single writer avoids SQLITE_BUSY under contention.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, ledger.DefaultConfig())
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/resident-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger records (events + snapshots share one ordered keyspace)
	CREATE TABLE IF NOT EXISTS ledger_records (
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		kind TEXT NOT NULL,
		event_type TEXT,
		amount INTEGER NOT NULL DEFAULT 0,
		balance INTEGER NOT NULL DEFAULT 0,
		body_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (pk, sk)
	);

	-- For sweeps that look for specific event types
	CREATE INDEX IF NOT EXISTS idx_ledger_records_event_type
		ON ledger_records(event_type) WHERE event_type IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// GetLatest returns the newest record in the partition, or nil.
func (s *Store) GetLatest(ctx context.Context, account ledger.AccountID) (*ledger.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body_json FROM ledger_records WHERE pk = ? ORDER BY sk DESC LIMIT 1`,
		ledger.PartitionKey(account),
	)

	var body string
	err := row.Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest record: %w", err)
	}

	rec, err := decodeRecord(body)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RangeLatest returns up to limit records, newest first.
func (s *Store) RangeLatest(ctx context.Context, account ledger.AccountID, limit int) ([]ledger.Record, error) {
	query := `
		SELECT body_json FROM ledger_records
		WHERE pk = ?
		ORDER BY sk DESC
		LIMIT ?
	`
	return s.queryRecords(ctx, query, ledger.PartitionKey(account), limit)
}

// RangeAfter returns up to limit records after version after, oldest first.
func (s *Store) RangeAfter(ctx context.Context, account ledger.AccountID, after ledger.Version, limit int) ([]ledger.Record, error) {
	query := `
		SELECT body_json FROM ledger_records
		WHERE pk = ? AND sk > ?
		ORDER BY sk ASC
		LIMIT ?
	`
	return s.queryRecords(ctx, query, ledger.PartitionKey(account), ledger.SortKey(after), limit)
}

// PutIfAbsent inserts rec. A taken key yields ledger.ErrConditionFailed.
func (s *Store) PutIfAbsent(ctx context.Context, rec ledger.Record) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_records (pk, sk, kind, event_type, amount, balance, body_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrConditionFailed
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Put inserts or replaces rec.
func (s *Store) Put(ctx context.Context, rec ledger.Record) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_records (pk, sk, kind, event_type, amount, balance, body_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO UPDATE SET
			kind = excluded.kind,
			event_type = excluded.event_type,
			amount = excluded.amount,
			balance = excluded.balance,
			body_json = excluded.body_json,
			created_at = excluded.created_at
	`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Accounts lists every resident with at least one record.
func (s *Store) Accounts(ctx context.Context) ([]ledger.AccountID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT pk FROM ledger_records ORDER BY pk`)
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

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM ledger_records")
	return err
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func recordArgs(rec ledger.Record) ([]any, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return []any{
		rec.PartitionKey(),
		rec.SortKey(),
		string(rec.Kind),
		nullString(string(rec.EventType)),
		rec.Amount,
		rec.Balance,
		string(body),
		time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeRecord(body string) (ledger.Record, error) {
	var rec ledger.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return rec, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
