// Package kv defines a minimal key-value port used for snapshot and
// checkpoint persistence. Implementations live in adapters (memory here,
// NATS JetStream KV in adapters/nats).
package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("not found")

type PutOptions struct{}

type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (data []byte, err error)
	Delete(ctx context.Context, key string) error
}

// Put JSON-encodes v and stores it under key.
func Put[T any](ctx context.Context, store Store, key string, v *T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data, opts)
}

// Get loads and JSON-decodes the value under key.
func Get[T any](ctx context.Context, store Store, key string) (*T, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
