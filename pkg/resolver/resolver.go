// Package resolver resolves a room name to its issued identifier with a
// cache-aside read path and a lock-serialized create path.
//
// For a given name at most one creation runs system-wide: the per-name lock
// serializes creators and the system-of-record re-check inside the lock
// catches a creation committed after this caller's cache miss.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/lock"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/metrics"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/time"
	"github.com/pixperk/roomkey/pkg/types"
)

// which path produced a resolution
type Path string

const (
	PathCache   Path = "cache_hit"
	PathRecord  Path = "record_hit"
	PathCreated Path = "created"
)

type Resolution struct {
	ResourceID string
	Path       Path
}

func (r Resolution) Created() bool {
	return r.Path == PathCreated
}

// receives resolved ids fire-and-forget
// Dispatch must not block; it reports whether the notification was accepted
type Dispatcher interface {
	Dispatch(resourceID string, payload []byte) bool
}

type Resolver struct {
	cache      cache.Client
	records    record.Store
	locker     *lock.Locker
	dispatcher Dispatcher
	clock      time.Source
	newID      func() string
	logger     hclog.Logger
}

type Option func(*Resolver)

func WithDispatcher(d Dispatcher) Option {
	return func(r *Resolver) { r.dispatcher = d }
}

func WithClock(c time.Source) Option {
	return func(r *Resolver) { r.clock = c }
}

// overrides how new resource ids are issued
func WithIDGenerator(fn func() string) Option {
	return func(r *Resolver) { r.newID = fn }
}

func WithLogger(l hclog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func New(c cache.Client, records record.Store, locker *lock.Locker, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   c,
		records: records,
		locker:  locker,
		clock:   time.NewClock(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNull(r.logger).Named("resolver")
	return r
}

// ResolveOrCreate returns the identifier bound to name, creating the room in
// the system-of-record if it has never existed.
//
// A cache hit returns without touching the lock. On a miss the per-name lock
// is taken (types.ErrLockTimeout if it cannot be within the retry budget), the
// system-of-record is re-checked, and only if the document is still absent is
// a new one inserted. The cache is populated from the document either way.
// The lock is released on every exit path.
func (r *Resolver) ResolveOrCreate(ctx context.Context, name string) (Resolution, error) {
	if name == "" {
		return Resolution{}, types.InvalidArgument("resource name is required")
	}

	res, err := r.resolve(ctx, name)
	if err != nil {
		metrics.ResolveErrorsTotal.Inc()
		return Resolution{}, err
	}

	metrics.ResolveTotal.WithLabelValues(string(res.Path)).Inc()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, name string) (Resolution, error) {
	key := types.ResourceKey(name)

	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return Resolution{}, types.Upstream("read cache", err)
	}
	if ok && entry.ResourceID() != "" {
		return Resolution{ResourceID: entry.ResourceID(), Path: PathCache}, nil
	}

	var res Resolution
	err = r.locker.WithLock(ctx, name, func(ctx context.Context, lk *lock.Lock) error {
		var err error
		res, err = r.resolveLocked(ctx, lk, name)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	return res, nil
}

// runs with lk held for name
func (r *Resolver) resolveLocked(ctx context.Context, lk *lock.Lock, name string) (Resolution, error) {
	room, err := record.FindByName(ctx, r.records, name)
	switch {
	case err == nil:
		return r.populate(ctx, room, PathRecord)
	case !errors.Is(err, types.ErrNotFound):
		return Resolution{}, types.Upstream("read system-of-record", err)
	}

	room = types.Room{
		Name:      name,
		ID:        r.newID(),
		CreatedAt: r.clock.Now().UTC(),
	}

	if lk.Expired() {
		// the insert still goes ahead; a concurrent creator surfaces as ErrRoomExists below
		r.logger.Warn("lock TTL elapsed before insert, another creator may hold it", "room", name, "ttl", r.locker.Options().TTL)
	}

	err = r.records.InsertOne(ctx, room)
	if errors.Is(err, types.ErrRoomExists) {
		// our lock outlived its TTL and another holder created the room;
		// the stored document is authoritative
		r.logger.Warn("room created concurrently, lock likely expired mid-section", "room", name)

		existing, ferr := record.FindByName(ctx, r.records, name)
		if ferr != nil {
			return Resolution{}, types.Upstream("re-read system-of-record", ferr)
		}
		return r.populate(ctx, existing, PathRecord)
	}
	if err != nil {
		return Resolution{}, types.Upstream("insert into system-of-record", err)
	}

	r.logger.Info("room created", "room", name, "resource_id", room.ID)
	return r.populate(ctx, room, PathCreated)
}

// writes the document's id to the cache
func (r *Resolver) populate(ctx context.Context, room types.Room, path Path) (Resolution, error) {
	if err := r.cache.SetField(ctx, types.ResourceKey(room.Name), types.ResourceIDField, room.ID); err != nil {
		return Resolution{}, types.Upstream(fmt.Sprintf("populate cache for %q", room.Name), err)
	}
	return Resolution{ResourceID: room.ID, Path: path}, nil
}
