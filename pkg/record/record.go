// Package record defines the system-of-record client: the durable, sole
// authority on whether a room exists and which identifier it was issued.
package record

import (
	"context"
	"iter"

	"github.com/pixperk/roomkey/pkg/types"
)

type Store interface {
	// first document matching filter in name order
	// returns types.ErrNotFound when nothing matches
	FindOne(ctx context.Context, filter types.Filter) (types.Room, error)

	// persists a new document
	// returns types.ErrRoomExists if the name is already taken
	InsertOne(ctx context.Context, room types.Room) error

	// streams matching documents in name order with the projection applied
	// the sequence is single-pass; iteration stops at the first error
	FindAll(ctx context.Context, filter types.Filter, proj types.Projection) iter.Seq2[types.Room, error]

	Close() error
}

// implemented by stores that can report their size cheaply
type Counter interface {
	Count() (int, error)
}

// checks the fields every stored document must carry
func Validate(room types.Room) error {
	if room.Name == "" {
		return types.InvalidArgument("resource_name is required")
	}
	if room.ID == "" {
		return types.InvalidArgument("resource_id is required for %q", room.Name)
	}
	if room.CreatedAt.IsZero() {
		return types.InvalidArgument("created_at is required for %q", room.Name)
	}
	return nil
}

// returns the single document named name
func FindByName(ctx context.Context, s Store, name string) (types.Room, error) {
	return s.FindOne(ctx, types.Filter{Name: name})
}
