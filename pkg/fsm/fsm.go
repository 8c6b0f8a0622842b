package fsm

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/types"
)

// manages the replicated room registry
// critical :
// - apply must be deterministic, every replica sees the same log
// - a name is bound to exactly one id, later inserts for it are rejected
type FSM struct {
	mu sync.RWMutex

	rooms map[string]types.Room // resource name -> document

	applied uint64 // inserts applied since start or restore
}

func NewFSM() *FSM {
	return &FSM{
		rooms: make(map[string]types.Room),
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.InsertRoomCmd:
		return f.applyInsertRoom(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned when a room is inserted
type InsertRoomResponse struct {
	Room types.Room
}

func (f *FSM) applyInsertRoom(cmd types.InsertRoomCmd) (any, error) {
	if err := record.Validate(cmd.Room); err != nil {
		return nil, err
	}

	if _, exists := f.rooms[cmd.Room.Name]; exists {
		return nil, types.ErrRoomExists
	}

	f.rooms[cmd.Room.Name] = cmd.Room
	f.applied++

	return InsertRoomResponse{Room: cmd.Room}, nil
}

// returns a room by name
func (f *FSM) GetRoom(name string) (types.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	room, exists := f.rooms[name]
	return room, exists
}

// returns the rooms passing filter in name order
func (f *FSM) Rooms(filter types.Filter) []types.Room {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.rooms))
	for name := range f.rooms {
		if filter.Match(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	rooms := make([]types.Room, len(names))
	for i, name := range names {
		rooms[i] = f.rooms[name]
	}
	return rooms
}

// current fsm stats
type Stats struct {
	Rooms   int
	Applied uint64
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{
		Rooms:   len(f.rooms),
		Applied: f.applied,
	}
}
