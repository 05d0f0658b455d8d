// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix      = "streamguard:"
	redisMaxTxnRetries  = 64
	redisDefaultTimeout = 3 * time.Second
)

// Redis stores records in a redis server. Update uses WATCH/MULTI optimistic
// transactions and retries when another writer touched the key.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects to the server described by a redis:// URL.
func OpenRedis(url string) (*Redis, error) {
	if url == "" {
		return nil, errors.New("redis store: url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = redisDefaultTimeout
	opts.WriteTimeout = redisDefaultTimeout
	return NewRedis(redis.NewClient(opts))
}

// NewRedis wraps an existing client and checks connectivity.
func NewRedis(client *redis.Client) (*Redis, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: connection failed: %w", err)
	}
	return &Redis{client: client}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	v, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr(BackendRedis, "get", key, err)
	}
	return v, nil
}

func (s *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return persistErr(BackendRedis, "put", key, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return persistErr(BackendRedis, "delete", key, err)
	}
	return nil
}

// Update may run fn more than once when the transaction is retried.
func (s *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	rkey := redisKeyPrefix + key

	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, rkey).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			found = false
			old = nil
		} else if err != nil {
			return err
		}

		next, err := fn(old, found)
		if err != nil {
			return fnError{err}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, rkey)
			} else {
				pipe.Set(ctx, rkey, next, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxTxnRetries; attempt++ {
		err := s.client.Watch(ctx, txf, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var fe fnError
		if errors.As(err, &fe) {
			return fe.err
		}
		if err != nil {
			return persistErr(BackendRedis, "update", key, err)
		}
		return nil
	}
	return persistErr(BackendRedis, "update", key, redis.TxFailedErr)
}

func (s *Redis) Close() error {
	return s.client.Close()
}
