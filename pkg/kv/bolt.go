package kv

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

// BoltStore is the embedded Store backend. Single writer, suitable for a
// single-node deployment.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the KV database in dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "kv.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get retrieves the entry for key.
func (s *BoltStore) Get(ctx context.Context, key string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKV).Get([]byte(key))
		if data == nil {
			return notFound(key)
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			return fmt.Errorf("failed to decode entry %s: %w", key, err)
		}
		entry = env.entry()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Put writes value under key, enforcing the CAS contract, and returns the new
// version.
func (s *BoltStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)

		var current int64
		if data := b.Get([]byte(key)); data != nil {
			env, err := decodeEnvelope(data)
			if err != nil {
				return fmt.Errorf("failed to decode entry %s: %w", key, err)
			}
			current = env.Version
		}
		if err := checkCAS(key, current, expectedVersion); err != nil {
			return err
		}

		newVersion = current + 1
		data, err := encodeEnvelope(envelope{
			Version:   newVersion,
			Value:     value,
			UpdatedAt: time.Now().UnixNano(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", key, err)
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *BoltStore) Delete(ctx context.Context, key string, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if expectedVersion != AnyVersion {
			env, err := decodeEnvelope(data)
			if err != nil {
				return fmt.Errorf("failed to decode entry %s: %w", key, err)
			}
			if err := checkCAS(key, env.Version, expectedVersion); err != nil {
				return err
			}
		}
		return b.Delete([]byte(key))
	})
}

// List returns all keys with the given prefix, in lexical order.
func (s *BoltStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
