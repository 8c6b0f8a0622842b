package fsm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/pixperk/roomkey/pkg/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// adapter to bridge Raft FSM with our internal FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM() *RaftFSM {
	return &RaftFSM{
		fsm: NewFSM(),
	}
}

func (rf *RaftFSM) GetFSM() *FSM {
	return rf.fsm
}

// encodes a command into raft log bytes
func EncodeCommand(cmd types.Command) ([]byte, error) {
	msg, err := cmd.ToProto()
	if err != nil {
		return nil, fmt.Errorf("convert to proto: %w", err)
	}
	return proto.Marshal(msg)
}

// the result of Apply is either a response value or an error
func (rf *RaftFSM) Apply(log *raft.Log) any {
	//s1 : deserialize proto from bytes
	var msg structpb.Struct
	if err := proto.Unmarshal(log.Data, &msg); err != nil {
		return err
	}

	//s2 : convert proto to internal command
	cmd, err := types.FromProtoCommand(&msg)
	if err != nil {
		return err
	}

	//s3 : apply internal command to FSM
	result, err := rf.fsm.Apply(cmd)
	if err != nil {
		return err
	}

	return result
}

// create a snapshot of the current FSM state
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	rf.fsm.mu.RLock()
	defer rf.fsm.mu.RUnlock()

	snapshot := &fsmSnapshot{
		Rooms: make(map[string]types.Room, len(rf.fsm.rooms)),
	}
	// rooms are values, copying the map is a deep copy
	for name, room := range rf.fsm.rooms {
		snapshot.Rooms[name] = room
	}

	return snapshot, nil
}

// restores FSM state from snapshot
// when a node falls behind and needs to catch up or a new node joins
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}
	if snap.Rooms == nil {
		snap.Rooms = make(map[string]types.Room)
	}

	rf.fsm.mu.Lock()
	defer rf.fsm.mu.Unlock()

	rf.fsm.rooms = snap.Rooms
	rf.fsm.applied = 0

	return nil
}

// point-in-time snapshot of FSM state
type fsmSnapshot struct {
	Rooms map[string]types.Room `json:"rooms"`
}

// persist snapshot to given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel() //fail snapshot on error
		return err
	}
	return sink.Close() //mark snapshot as complete
}

// nothing to clean up
func (s *fsmSnapshot) Release() {}
