package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/types"
)

var roomsBucket = []byte("rooms")

// documents read per read transaction while streaming FindAll
const scanPageSize = 256

// RoomStore is a single-node system-of-record on bbolt.
// Documents are JSON values keyed by resource name in one bucket, so bolt's
// key order gives name-ordered scans.
type RoomStore struct {
	db *bolt.DB
}

var _ record.Store = (*RoomStore)(nil)

func OpenRoomStore(dataDir string) (*RoomStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "rooms.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open rooms db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create rooms bucket: %w", err)
	}

	return &RoomStore{db: db}, nil
}

func decodeRoom(data []byte) (types.Room, error) {
	var r types.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return types.Room{}, fmt.Errorf("decode room: %w", err)
	}
	return r, nil
}

func (s *RoomStore) FindOne(ctx context.Context, filter types.Filter) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	var room types.Room
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(roomsBucket)

		if filter.IsZero() {
			k, v := b.Cursor().First()
			if k == nil {
				return types.ErrNotFound
			}
			r, err := decodeRoom(v)
			room = r
			return err
		}

		candidates := slices.Clone(filter.Names)
		if filter.Name != "" {
			candidates = append(candidates, filter.Name)
		}
		slices.Sort(candidates)

		for _, name := range candidates {
			if v := b.Get([]byte(name)); v != nil {
				r, err := decodeRoom(v)
				room = r
				return err
			}
		}
		return types.ErrNotFound
	})
	if err != nil {
		return types.Room{}, err
	}
	return room, nil
}

func (s *RoomStore) InsertOne(ctx context.Context, room types.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(room); err != nil {
		return err
	}

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(roomsBucket)
		if b.Get([]byte(room.Name)) != nil {
			return types.ErrRoomExists
		}
		return b.Put([]byte(room.Name), data)
	})
}

// FindAll reads the bucket in pages of scanPageSize, each in its own read
// transaction, so a slow consumer never pins a transaction for the whole scan.
// A document inserted mid-scan is seen iff it sorts after the current page.
func (s *RoomStore) FindAll(ctx context.Context, filter types.Filter, proj types.Projection) iter.Seq2[types.Room, error] {
	return func(yield func(types.Room, error) bool) {
		var from []byte

		for {
			if err := ctx.Err(); err != nil {
				yield(types.Room{}, err)
				return
			}

			page, next, err := s.page(from, filter, proj)
			if err != nil {
				yield(types.Room{}, err)
				return
			}

			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}

			if next == nil {
				return
			}
			from = next
		}
	}
}

// reads up to scanPageSize keys starting at from (inclusive, nil = first key)
// next is the first unread key, nil once the bucket is exhausted
func (s *RoomStore) page(from []byte, filter types.Filter, proj types.Projection) ([]types.Room, []byte, error) {
	var (
		rooms []types.Room
		next  []byte
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(roomsBucket).Cursor()

		var k, v []byte
		if from == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(from)
		}

		for scanned := 0; k != nil; k, v = c.Next() {
			if scanned == scanPageSize {
				// keys are only valid inside the transaction
				next = slices.Clone(k)
				return nil
			}
			scanned++

			if !filter.Match(string(k)) {
				continue
			}
			r, err := decodeRoom(v)
			if err != nil {
				return err
			}
			rooms = append(rooms, proj.Apply(r))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rooms, next, nil
}

func (s *RoomStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(roomsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *RoomStore) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return err
	}
	return nil
}
