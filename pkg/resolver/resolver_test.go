package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/cache/memory"
	"github.com/pixperk/roomkey/pkg/cache/redis"
	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/lock"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/storage"
	rktime "github.com/pixperk/roomkey/pkg/time"
	"github.com/pixperk/roomkey/pkg/types"
)

// wraps a cache client to count lock attempts and inject read failures
type spyCache struct {
	cache.Client
	lockAttempts atomic.Int32
	getErr       error
}

func (s *spyCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.lockAttempts.Add(1)
	return s.Client.SetIfAbsent(ctx, key, value, ttl)
}

func (s *spyCache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.Client.Get(ctx, key)
}

// wraps a record store to fail inserts or hide documents from the first lookup
type spyRecords struct {
	record.Store
	insertErr error
	hideOnce  atomic.Bool
	inserts   atomic.Int32
	findCalls atomic.Int32
	onFind    func()
}

func (s *spyRecords) FindOne(ctx context.Context, filter types.Filter) (types.Room, error) {
	s.findCalls.Add(1)
	if s.onFind != nil {
		s.onFind()
	}
	if s.hideOnce.CompareAndSwap(true, false) {
		return types.Room{}, types.ErrNotFound
	}
	return s.Store.FindOne(ctx, filter)
}

func (s *spyRecords) InsertOne(ctx context.Context, room types.Room) error {
	s.inserts.Add(1)
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Store.InsertOne(ctx, room)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	accept bool
	got    []string
}

func (f *fakeDispatcher) Dispatch(resourceID string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, resourceID+":"+string(payload))
	return f.accept
}

func fastLock() lock.Options {
	return lock.Options{TTL: 10 * time.Second, RetryInterval: time.Millisecond, MaxRetry: 2000}
}

type fixture struct {
	cache   *spyCache
	mem     *memory.Store
	records *spyRecords
	db      *record.Memory
	r       *Resolver
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mem := memory.New()
	db := record.NewMemory()
	c := &spyCache{Client: mem}
	recs := &spyRecords{Store: db}

	var seq atomic.Int32
	opts = append([]Option{WithIDGenerator(func() string {
		return fmt.Sprintf("C%03d", seq.Add(1))
	})}, opts...)

	return &fixture{
		cache:   c,
		mem:     mem,
		records: recs,
		db:      db,
		r:       New(c, recs, lock.NewLocker(c, fastLock(), nil), opts...),
	}
}

func TestResolveCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, Resolution{ResourceID: "C001", Path: PathCreated}, res)
	assert.True(t, res.Created())

	room, err := f.db.FindOne(ctx, types.Filter{Name: "general"})
	require.NoError(t, err)
	assert.Equal(t, "C001", room.ID)

	entry, ok, _ := f.mem.Get(ctx, "resource:general")
	require.True(t, ok)
	assert.Equal(t, "C001", entry.ResourceID())

	_, held, _ := f.mem.Value(ctx, "lock:general")
	assert.False(t, held, "lock released after creation")

	res, err = f.r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, Resolution{ResourceID: "C001", Path: PathCache}, res)
	assert.Equal(t, 1, f.db.Inserts())
}

func TestCacheHitTakesNoLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.SetField(ctx, "resource:general", "resource_id", "C777"))

	res, err := f.r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "C777", res.ResourceID)
	assert.Equal(t, PathCache, res.Path)

	assert.Zero(t, f.cache.lockAttempts.Load())
	assert.Zero(t, f.records.findCalls.Load())
}

func TestExistingDocumentIsNeverRecreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.InsertOne(ctx, types.Room{Name: "general", ID: "C900", CreatedAt: time.Now()}))

	res, err := f.r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, Resolution{ResourceID: "C900", Path: PathRecord}, res)
	assert.Zero(t, f.records.inserts.Load(), "creation path must not run")

	entry, ok, _ := f.mem.Get(ctx, "resource:general")
	require.True(t, ok)
	assert.Equal(t, "C900", entry.ResourceID(), "cache repopulated from the document")
}

func TestConcurrentResolveCreatesExactlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 50
	ids := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			res, err := f.r.ResolveOrCreate(ctx, "general")
			assert.NoError(t, err)
			ids[i] = res.ResourceID
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.records.inserts.Load())
	assert.Equal(t, 1, f.db.Len())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestConcurrentResolveAcrossNamesRunsInParallel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.r.ResolveOrCreate(ctx, fmt.Sprintf("room-%d", i%5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, f.db.Len())
	assert.Equal(t, int32(5), f.records.inserts.Load())
}

func TestLockTimeout(t *testing.T) {
	f := newFixture(t)
	f.r.locker = lock.NewLocker(f.cache, lock.Options{TTL: 10 * time.Second, RetryInterval: time.Millisecond, MaxRetry: 3}, nil)
	ctx := context.Background()

	// a stalled creator holds the lock
	ok, err := f.mem.SetIfAbsent(ctx, "lock:general", "someone-else", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.r.ResolveOrCreate(ctx, "general")
	assert.ErrorIs(t, err, types.ErrLockTimeout)
	assert.Zero(t, f.records.inserts.Load(), "no progress without the lock")

	holder, _, _ := f.mem.Value(ctx, "lock:general")
	assert.Equal(t, "someone-else", holder)
}

func TestStalledCreatorLockExpires(t *testing.T) {
	clock := rktime.NewManualClock(time.Now())
	mem := memory.NewWithClock(clock)
	db := record.NewMemory()
	r := New(mem, db, lock.NewLocker(mem, lock.Options{TTL: 10 * time.Second, RetryInterval: time.Millisecond, MaxRetry: 2}, nil))
	ctx := context.Background()

	_, err := mem.SetIfAbsent(ctx, "lock:general", "crashed-holder", 10*time.Second)
	require.NoError(t, err)

	_, err = r.ResolveOrCreate(ctx, "general")
	require.ErrorIs(t, err, types.ErrLockTimeout)

	clock.Advance(10 * time.Second)

	res, err := r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)
	assert.True(t, res.Created())
}

func TestSlowRecheckWarnsBeforeInsert(t *testing.T) {
	clock := rktime.NewManualClock(time.Now())
	mem := memory.NewWithClock(clock)
	db := record.NewMemory()
	recs := &spyRecords{Store: db}

	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Warn})

	ttl := 10 * time.Second
	locker := lock.NewLocker(mem, lock.Options{TTL: ttl, RetryInterval: time.Millisecond, MaxRetry: 2, Clock: clock}, nil)
	r := New(mem, recs, locker, WithClock(clock), WithLogger(logger))

	// the re-check under the lock stalls past the TTL
	recs.onFind = func() { clock.Advance(ttl) }

	res, err := r.ResolveOrCreate(context.Background(), "general")
	require.NoError(t, err)
	assert.True(t, res.Created(), "the insert still runs and the record store stays authoritative")
	assert.Equal(t, int32(1), recs.inserts.Load())
	assert.Contains(t, buf.String(), "lock TTL elapsed before insert")
	assert.Contains(t, buf.String(), "room=general")
}

func TestFastCreateLogsNoExpiry(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Warn})
	f := newFixture(t, WithLogger(logger))

	_, err := f.r.ResolveOrCreate(context.Background(), "general")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "lock TTL elapsed")
}

func TestInsertFailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	f.records.insertErr = boom
	ctx := context.Background()

	_, err := f.r.ResolveOrCreate(ctx, "general")
	assert.ErrorIs(t, err, types.ErrUpstream)
	assert.ErrorIs(t, err, boom)

	_, held, _ := f.mem.Value(ctx, "lock:general")
	assert.False(t, held, "lock must be released when creation fails")

	_, cached, _ := f.mem.Get(ctx, "resource:general")
	assert.False(t, cached, "nothing cached for a failed creation")
}

func TestCacheReadFailureIsUpstream(t *testing.T) {
	f := newFixture(t)
	f.cache.getErr = errors.New("connection reset")

	_, err := f.r.ResolveOrCreate(context.Background(), "general")
	assert.ErrorIs(t, err, types.ErrUpstream)
	assert.Zero(t, f.cache.lockAttempts.Load())
}

func TestInsertRaceFallsBackToStoredDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.InsertOne(ctx, types.Room{Name: "general", ID: "C500", CreatedAt: time.Now()}))

	// the re-check misses a document another holder committed after our lock expired
	f.records.hideOnce.Store(true)

	res, err := f.r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, Resolution{ResourceID: "C500", Path: PathRecord}, res)
	assert.Equal(t, 1, f.db.Len())
}

func TestEmptyNameRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.r.ResolveOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestCreatedAtFromClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, WithClock(rktime.NewManualClock(start)))
	ctx := context.Background()

	_, err := f.r.ResolveOrCreate(ctx, "general")
	require.NoError(t, err)

	room, err := f.db.FindOne(ctx, types.Filter{Name: "general"})
	require.NoError(t, err)
	assert.Equal(t, start, room.CreatedAt)
}

func TestResolveOverRedisAndBolt(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default().Cache.Redis
	cfg.Addr = mr.Addr()
	c := redis.New(cfg)
	defer c.Close()

	db, err := storage.OpenRoomStore(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	r := New(c, db, lock.NewLocker(c, fastLock(), nil))
	ctx := context.Background()

	const callers = 20
	ids := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			res, err := r.ResolveOrCreate(ctx, "general")
			assert.NoError(t, err)
			ids[i] = res.ResourceID
		}()
	}
	wg.Wait()

	count, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, ids[0], mr.HGet("resource:general", "resource_id"))
	assert.False(t, mr.Exists("lock:general"))
}
