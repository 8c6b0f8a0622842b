// Package cache defines the cache client the resolver and synchronizer write
// through. The cache is a derived accelerator: every value it holds was first
// decided by the system-of-record and the whole namespace can be rebuilt from
// there at any time.
package cache

import (
	"context"
	"time"

	"github.com/pixperk/roomkey/pkg/types"
)

// a cache entry is the field set of a resource:<name> hash
type Entry map[string]string

// the issued identifier, empty if the field is missing
func (e Entry) ResourceID() string {
	return e[types.ResourceIDField]
}

// a single write staged into a pipeline
type Op struct {
	Key   string
	Field string
	Value string
}

// stages resource:<name>.resource_id = id
func SetResourceID(name, id string) Op {
	return Op{Key: types.ResourceKey(name), Field: types.ResourceIDField, Value: id}
}

type Client interface {
	// hash fields at key; ok is false when the key is absent
	Get(ctx context.Context, key string) (Entry, bool, error)

	// sets a single hash field
	SetField(ctx context.Context, key, field, value string) error

	// plain string value at key (lock records)
	Value(ctx context.Context, key string) (string, bool, error)

	// atomically sets key to value with expiry iff the key does not exist
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// atomically deletes key iff it currently holds expected
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)

	// sends ops together in one round trip without transactional guarantees
	// the returned slice holds the per-op error in op order; err is set when
	// the batch as a whole could not be sent or read back
	Pipeline(ctx context.Context, ops []Op) (results []error, err error)

	Close() error
}

// first non-nil per-op error of a pipeline result
func FirstError(results []error) error {
	for _, err := range results {
		if err != nil {
			return err
		}
	}
	return nil
}
