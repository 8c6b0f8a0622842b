// Package redis implements cache.Client over a redigo connection pool.
//
// Lock records are plain strings written with SET NX PX; release is a Lua
// compare-and-delete so the read and the delete happen in one server step.
// Cache entries are hashes written with HSET, batched with Send/Flush/Receive.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/config"
)

// deletes KEYS[1] only when it still holds ARGV[1]
var deleteIfEquals = redigo.NewScript(1, `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

type Store struct {
	pool *redigo.Pool
}

var _ cache.Client = (*Store)(nil)

// builds a pool dialing cfg.Addr
func NewPool(cfg config.RedisConfig) *redigo.Pool {
	opts := []redigo.DialOption{redigo.DialDatabase(cfg.DB)}
	if cfg.Password != "" {
		opts = append(opts, redigo.DialPassword(cfg.Password))
	}

	return &redigo.Pool{
		MaxIdle:     cfg.MaxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: cfg.IdleTimeout,
		Wait:        true,
		DialContext: func(ctx context.Context) (redigo.Conn, error) {
			return redigo.DialContext(ctx, "tcp", cfg.Addr, opts...)
		},
		TestOnBorrow: func(c redigo.Conn, lastUsed time.Time) error {
			if time.Since(lastUsed) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func New(cfg config.RedisConfig) *Store {
	return NewFromPool(NewPool(cfg))
}

func NewFromPool(pool *redigo.Pool) *Store {
	return &Store{pool: pool}
}

// borrows a connection and runs fn with it
func (s *Store) with(ctx context.Context, fn func(redigo.Conn) error) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	var entry cache.Entry
	err := s.with(ctx, func(conn redigo.Conn) error {
		fields, err := redigo.StringMap(redigo.DoContext(conn, ctx, "HGETALL", key))
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			entry = fields
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return entry, entry != nil, nil
}

func (s *Store) SetField(ctx context.Context, key, field, value string) error {
	err := s.with(ctx, func(conn redigo.Conn) error {
		_, err := redigo.DoContext(conn, ctx, "HSET", key, field, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("hset %s %s: %w", key, field, err)
	}
	return nil
}

func (s *Store) Value(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.with(ctx, func(conn redigo.Conn) error {
		v, err := redigo.String(redigo.DoContext(conn, ctx, "GET", key))
		if errors.Is(err, redigo.ErrNil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, found, nil
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < time.Millisecond {
		return false, fmt.Errorf("set %s: ttl %s below 1ms", key, ttl)
	}

	var set bool
	err := s.with(ctx, func(conn redigo.Conn) error {
		reply, err := redigo.String(redigo.DoContext(conn, ctx, "SET", key, value, "NX", "PX", ttl.Milliseconds()))
		if errors.Is(err, redigo.ErrNil) {
			// NX condition not met
			return nil
		}
		if err != nil {
			return err
		}
		set = reply == "OK"
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set nx %s: %w", key, err)
	}
	return set, nil
}

func (s *Store) DeleteIfEquals(ctx context.Context, key, expected string) (bool, error) {
	var deleted bool
	err := s.with(ctx, func(conn redigo.Conn) error {
		n, err := redigo.Int(deleteIfEquals.DoContext(ctx, conn, key, expected))
		if err != nil {
			return err
		}
		deleted = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return deleted, nil
}

func (s *Store) Pipeline(ctx context.Context, ops []cache.Op) ([]error, error) {
	results := make([]error, len(ops))
	if len(ops) == 0 {
		return results, nil
	}

	err := s.with(ctx, func(conn redigo.Conn) error {
		for _, op := range ops {
			if err := conn.Send("HSET", op.Key, op.Field, op.Value); err != nil {
				return err
			}
		}
		if err := conn.Flush(); err != nil {
			return err
		}

		for i := range ops {
			_, err := conn.Receive()
			var replyErr redigo.Error
			if errors.As(err, &replyErr) {
				// server rejected this command only
				results[i] = replyErr
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline of %d ops: %w", len(ops), err)
	}
	return results, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.with(ctx, func(conn redigo.Conn) error {
		_, err := redigo.DoContext(conn, ctx, "PING")
		return err
	})
}

func (s *Store) Close() error {
	return s.pool.Close()
}
