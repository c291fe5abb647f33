package nats

import (
	"github.com/formstream/eventcore/core/es"
)

// NewSnapshotter creates a snapshot store backed by a JetStream
// key-value bucket.
func NewSnapshotter(cfg KvConfig) (*es.KeyValueSnapshotter, error) {
	kvs, err := NewKvStore(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueSnapshotter(kvs), nil
}
