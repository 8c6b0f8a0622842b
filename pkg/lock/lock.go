// Package lock serializes first-write creation per resource name on top of a
// shared key-value store that offers an atomic set-if-absent with expiry and a
// value-checked delete.
//
// The lock is not strictly safe: a holder that outlives the TTL can have its
// record taken over by the next acquirer while it still believes it holds the
// lock. Its eventual Release is harmless only because of the token check.
// Strict exclusion would need a quorum protocol across independent stores.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/metrics"
	rktime "github.com/pixperk/roomkey/pkg/time"
	"github.com/pixperk/roomkey/pkg/types"
)

// the two store primitives the lock needs
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)
}

// Acquire sets key to token with the given expiry iff key is absent.
// It reports whether this call caused the set.
func Acquire(ctx context.Context, s Store, key, token string, ttl time.Duration) (bool, error) {
	metrics.LockAttemptsTotal.Inc()
	return s.SetIfAbsent(ctx, key, token, ttl)
}

// Release deletes key iff it still holds token.
// An absent key or a key owned by another token is left alone and is not an
// error; the returned bool tells the two outcomes apart for callers that care.
func Release(ctx context.Context, s Store, key, token string) (bool, error) {
	released, err := s.DeleteIfEquals(ctx, key, token)
	if err != nil {
		return false, err
	}
	metrics.LockReleaseTotal.WithLabelValues(boolLabel(released)).Inc()
	return released, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// retry policy for Locker.Acquire
type Options struct {
	TTL           time.Duration
	RetryInterval time.Duration
	MaxRetry      int

	// measures how long a lock has been held; nil means the process clock
	Clock rktime.Source
}

func DefaultOptions() Options {
	return Options{
		TTL:           config.DefaultLockTTL,
		RetryInterval: config.DefaultRetryInterval,
		MaxRetry:      config.DefaultMaxRetry,
	}
}

func OptionsFromConfig(cfg config.LockConfig) Options {
	return Options{
		TTL:           cfg.TTL,
		RetryInterval: cfg.RetryInterval,
		MaxRetry:      cfg.MaxRetry,
	}
}

// hands out per-name locks keyed lock:<name>
type Locker struct {
	store    Store
	opts     Options
	logger   hclog.Logger
	newToken func() string
}

func NewLocker(store Store, opts Options, logger hclog.Logger) *Locker {
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 1
	}
	if opts.Clock == nil {
		opts.Clock = rktime.NewClock()
	}
	return &Locker{
		store:    store,
		opts:     opts,
		logger:   logging.OrNull(logger).Named("lock"),
		newToken: func() string { return uuid.NewString() },
	}
}

func (l *Locker) Options() Options {
	return l.opts
}

// a held lock
// the token is fresh per acquisition attempt and fences Release
type Lock struct {
	locker     *Locker
	name       string
	key        string
	token      string
	acquiredAt time.Duration // on the clock's Elapsed scale
}

func (lk *Lock) Name() string  { return lk.name }
func (lk *Lock) Token() string { return lk.token }

// whether the TTL has run out since acquisition, going by the locker's clock
// a true result means another caller may already hold the lock
func (lk *Lock) Expired() bool {
	return lk.locker.opts.Clock.Elapsed() >= lk.acquiredAt+lk.locker.opts.TTL
}

func (lk *Lock) heldFor() time.Duration {
	return lk.locker.opts.Clock.Elapsed() - lk.acquiredAt
}

// Release clears the record if this lock still owns it. Releasing after the
// record expired or was taken over is a logged no-op.
func (lk *Lock) Release(ctx context.Context) error {
	released, err := Release(ctx, lk.locker.store, lk.key, lk.token)
	if err != nil {
		return types.Upstream("release lock", err)
	}
	if !released {
		lk.locker.logger.Warn("lock was no longer ours at release", "name", lk.name, "held_for", lk.heldFor())
	}
	return nil
}

// TryAcquire makes a single attempt. ok is false when another token holds the lock.
func (l *Locker) TryAcquire(ctx context.Context, name string) (*Lock, bool, error) {
	token := l.newToken()
	key := types.LockKey(name)

	ok, err := Acquire(ctx, l.store, key, token, l.opts.TTL)
	if err != nil {
		return nil, false, types.Upstream("acquire lock", err)
	}
	if !ok {
		return nil, false, nil
	}

	return &Lock{
		locker:     l,
		name:       name,
		key:        key,
		token:      token,
		acquiredAt: l.opts.Clock.Elapsed(),
	}, true, nil
}

// Acquire makes up to MaxRetry attempts, sleeping RetryInterval between them.
// It fails with types.ErrLockTimeout once the attempts are used up, and with
// the context error if ctx ends while waiting. Store failures are returned
// immediately, wrapped as types.ErrUpstream.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		lk, ok, err := l.TryAcquire(ctx, name)
		if err != nil {
			metrics.LockAcquireTotal.WithLabelValues(metrics.StatusFailure).Inc()
			return nil, err
		}
		if ok {
			metrics.LockAcquireTotal.WithLabelValues(metrics.StatusSuccess).Inc()
			metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
			if attempt > 1 {
				l.logger.Debug("lock acquired after contention", "name", name, "attempts", attempt)
			}
			return lk, nil
		}

		if attempt >= l.opts.MaxRetry {
			metrics.LockAcquireTotal.WithLabelValues(metrics.StatusTimeout).Inc()
			metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
			l.logger.Warn("gave up acquiring lock", "name", name, "attempts", attempt, "waited", time.Since(start))
			return nil, types.ErrLockTimeout
		}

		timer := time.NewTimer(l.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.LockAcquireTotal.WithLabelValues(metrics.StatusFailure).Inc()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithLock runs fn with the held lock for name and releases it on every
// exit path, including a panic in fn. Release uses a context detached from
// ctx's cancellation so a cancelled caller still clears its record.
// A failed release is logged, not returned: fn's outcome stands and the record
// falls back to TTL expiry.
func (l *Locker) WithLock(ctx context.Context, name string, fn func(context.Context, *Lock) error) error {
	lk, err := l.Acquire(ctx, name)
	if err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.TTL)
		defer cancel()
		if err := lk.Release(releaseCtx); err != nil {
			l.logger.Error("failed to release lock, leaving it to expire", "name", name, "ttl", l.opts.TTL, "error", err)
		}
	}()

	return fn(ctx, lk)
}
