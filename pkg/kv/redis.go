package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

// keyPrefix namespaces all entries so the store can share a database with
// other consumers.
const keyPrefix = "tapestry:kv:"

// RedisStore is the shared Store backend. CAS is enforced with WATCH/MULTI,
// so concurrent writers on the same key serialize through optimistic retries
// at the caller.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore connects to the Redis instance at url
// (redis://[:password@]host:port[/db]).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisStore{client: goredis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) storageKey(key string) string {
	return keyPrefix + key
}

// Get retrieves the entry for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.storageKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", key, err)
	}
	return env.entry(), nil
}

// Put writes value under key, enforcing the CAS contract, and returns the new
// version. A write raced by another client maps to CONFLICT so the caller can
// re-read and retry.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	sk := s.storageKey(key)
	var newVersion int64

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, sk).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			current = 0
		case err != nil:
			return fmt.Errorf("failed to get %s: %w", key, err)
		default:
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
		enc, err := encodeEnvelope(envelope{
			Version:   newVersion,
			Value:     value,
			UpdatedAt: time.Now().UnixNano(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, sk, enc, 0)
			return nil
		})
		return err
	}, sk)

	if errors.Is(err, goredis.TxFailedErr) {
		return 0, errdefs.New(errdefs.KindConflict, "concurrent write on %s", key)
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *RedisStore) Delete(ctx context.Context, key string, expectedVersion int64) error {
	sk := s.storageKey(key)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, sk).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", key, err)
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

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, sk)
			return nil
		})
		return err
	}, sk)

	if errors.Is(err, goredis.TxFailedErr) {
		return errdefs.New(errdefs.KindConflict, "concurrent write on %s", key)
	}
	return err
}

// List returns all keys with the given prefix.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.storageKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}
