package types

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// type of FSM command
type CommandType uint

const (
	CommandTypeInsertRoom CommandType = iota + 1
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeInsertRoom:
		return "insert_room"
	default:
		return fmt.Sprintf("command(%d)", uint(t))
	}
}

// interface all FSM commands implement
type Command interface {
	Type() CommandType
	// encodes the command as the protobuf message carried in the raft log
	ToProto() (*structpb.Struct, error)
}

// inserts a room document, rejected if the name is taken
type InsertRoomCmd struct {
	Room Room
}

func (c InsertRoomCmd) Type() CommandType { return CommandTypeInsertRoom }

func (c InsertRoomCmd) ToProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type":          c.Type().String(),
		"resource_name": c.Room.Name,
		"resource_id":   c.Room.ID,
		"created_at":    c.Room.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// decodes a command previously produced by ToProto
func FromProtoCommand(msg *structpb.Struct) (Command, error) {
	fields := msg.GetFields()
	kind := fields["type"].GetStringValue()

	switch kind {
	case CommandTypeInsertRoom.String():
		createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		return InsertRoomCmd{Room: Room{
			Name:      fields["resource_name"].GetStringValue(),
			ID:        fields["resource_id"].GetStringValue(),
			CreatedAt: createdAt,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %q", kind)
	}
}
