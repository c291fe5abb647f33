package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/formstream/eventcore/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
}

// KvStore implements the kv port on a JetStream key-value bucket.
type KvStore struct {
	kv jetstream.KeyValue
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, _, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	return &KvStore{kv: bucket}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte, _ kv.PutOptions) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := k.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v.Value(), nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return k.kv.Delete(ctx, key)
}

var _ kv.Store = (*KvStore)(nil)
