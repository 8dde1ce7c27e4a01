// Package bolt provides an embedded, single-file ledger.Store backed by
// BoltDB. No external database process is required, which makes it the
// natural choice for single-node deployments and local development.
//
// Layout: one root bucket ("ledger") holding a nested bucket per partition
// key (RESIDENT#<id>). Inside a partition, keys are sort keys (v%08d) and
// values are JSON-encoded records. Bolt keeps keys byte-sorted, so cursor
// order is version order.
//
// Bolt serializes read-write transactions, so PutIfAbsent is a Get and a Put
// inside one Update and cannot interleave with another writer.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/warp/resident-ledger/ledger"
)

const rootBucket = "ledger"

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) a BoltDB database at path and ensures the root
// bucket exists.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create root bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// partition returns the bucket for account, or nil when it has no records.
func partition(tx *bolt.Tx, account ledger.AccountID) *bolt.Bucket {
	return tx.Bucket([]byte(rootBucket)).Bucket([]byte(ledger.PartitionKey(account)))
}

// GetLatest returns the newest record in the partition, or nil.
func (s *Store) GetLatest(_ context.Context, account ledger.AccountID) (*ledger.Record, error) {
	var latest *ledger.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := partition(tx, account)
		if b == nil {
			return nil
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return nil
		}
		var rec ledger.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		latest = &rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read latest record: %w", err)
	}
	return latest, nil
}

// RangeLatest returns up to limit records, newest first.
func (s *Store) RangeLatest(_ context.Context, account ledger.AccountID, limit int) ([]ledger.Record, error) {
	var records []ledger.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := partition(tx, account)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec ledger.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("range latest records: %w", err)
	}
	return records, nil
}

// RangeAfter returns up to limit records after version after, oldest first.
func (s *Store) RangeAfter(_ context.Context, account ledger.AccountID, after ledger.Version, limit int) ([]ledger.Record, error) {
	var records []ledger.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := partition(tx, account)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		k, v := c.Seek([]byte(ledger.SortKey(after)))
		if k != nil && string(k) == ledger.SortKey(after) {
			k, v = c.Next()
		}
		for ; k != nil && len(records) < limit; k, v = c.Next() {
			var rec ledger.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("range records: %w", err)
	}
	return records, nil
}

// PutIfAbsent stores rec unless its key is taken, in which case it returns
// ledger.ErrConditionFailed.
func (s *Store) PutIfAbsent(_ context.Context, rec ledger.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket([]byte(rootBucket)).CreateBucketIfNotExists([]byte(rec.PartitionKey()))
		if err != nil {
			return err
		}
		key := []byte(rec.SortKey())
		if b.Get(key) != nil {
			return ledger.ErrConditionFailed
		}
		return b.Put(key, data)
	})
}

// Put stores rec, overwriting whatever is at its key.
func (s *Store) Put(_ context.Context, rec ledger.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket([]byte(rootBucket)).CreateBucketIfNotExists([]byte(rec.PartitionKey()))
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.SortKey()), data)
	})
}

// Accounts lists every resident with a partition bucket, in key order.
func (s *Store) Accounts(_ context.Context) ([]ledger.AccountID, error) {
	var accounts []ledger.AccountID
	err := s.db.View(func(tx *bolt.Tx) error {
		// Nested buckets show up in ForEach with a nil value.
		return tx.Bucket([]byte(rootBucket)).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			if id, ok := ledger.AccountFromPartitionKey(string(k)); ok {
				accounts = append(accounts, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}
