package record

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/pixperk/roomkey/pkg/types"
)

// Memory is a thread-safe in-memory system-of-record for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	rooms   map[string]types.Room
	inserts int
}

var _ Store = (*Memory)(nil)

func NewMemory(rooms ...types.Room) *Memory {
	m := &Memory{rooms: make(map[string]types.Room, len(rooms))}
	for _, r := range rooms {
		m.rooms[r.Name] = r
	}
	return m
}

// caller holds m.mu
func (m *Memory) sortedNames(filter types.Filter) []string {
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		if filter.Match(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (m *Memory) FindOne(ctx context.Context, filter types.Filter) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if filter.Name != "" && len(filter.Names) == 0 {
		if r, ok := m.rooms[filter.Name]; ok {
			return r, nil
		}
		return types.Room{}, types.ErrNotFound
	}

	names := m.sortedNames(filter)
	if len(names) == 0 {
		return types.Room{}, types.ErrNotFound
	}
	return m.rooms[names[0]], nil
}

func (m *Memory) InsertOne(ctx context.Context, room types.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(room); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.Name]; ok {
		return types.ErrRoomExists
	}
	m.rooms[room.Name] = room
	m.inserts++
	return nil
}

func (m *Memory) FindAll(ctx context.Context, filter types.Filter, proj types.Projection) iter.Seq2[types.Room, error] {
	return func(yield func(types.Room, error) bool) {
		m.mu.RLock()
		names := m.sortedNames(filter)
		rooms := make([]types.Room, len(names))
		for i, name := range names {
			rooms[i] = proj.Apply(m.rooms[name])
		}
		m.mu.RUnlock()

		for _, r := range rooms {
			if err := ctx.Err(); err != nil {
				yield(types.Room{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// number of successful InsertOne calls
func (m *Memory) Inserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inserts
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Memory) Count() (int, error) {
	return m.Len(), nil
}

func (m *Memory) Close() error {
	return nil
}
