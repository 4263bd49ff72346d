package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

type entry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// BoltStore keeps entries in a single bbolt bucket. Expired entries are
// hidden on read and removed by Purge.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}

	store, err := NewBoltStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewBoltStore uses an already opened database.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create entries bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		if expired(e.ExpiresAt, time.Now()) {
			return ErrNotFound
		}
		value = e.Value
		return nil
	})
	return value, err
}

func (s *BoltStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(entry{Value: value, ExpiresAt: expiry(ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
}

func (s *BoltStore) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	found := true
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return err
		}
		if expired(e.ExpiresAt, time.Now()) {
			found = false
			return nil
		}
		value = e.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

// Purge removes every expired entry and returns how many were dropped.
func (s *BoltStore) Purge(ctx context.Context) (int, error) {
	var count int
	now := time.Now()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil || expired(e.ExpiresAt, now) {
				keysToDelete = append(keysToDelete, append([]byte(nil), k...))
			}
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
