package resolver

import (
	"context"

	"github.com/pixperk/roomkey/pkg/types"
)

type SendResult struct {
	Resolved   bool
	ResourceID string
	Accepted   bool // the notification was queued
	Created    bool // this call created the room
}

// Send resolves name and hands payload to the dispatcher without waiting for
// delivery. Dispatch failure never fails Send: it only shows as Accepted=false.
func (r *Resolver) Send(ctx context.Context, name string, payload []byte) (SendResult, error) {
	if len(payload) == 0 {
		return SendResult{}, types.InvalidArgument("message payload is required")
	}

	res, err := r.ResolveOrCreate(ctx, name)
	if err != nil {
		return SendResult{}, err
	}

	accepted := false
	if r.dispatcher != nil {
		accepted = r.dispatcher.Dispatch(res.ResourceID, payload)
	}
	if !accepted {
		r.logger.Warn("notification not accepted", "room", name, "resource_id", res.ResourceID)
	}

	return SendResult{
		Resolved:   true,
		ResourceID: res.ResourceID,
		Accepted:   accepted,
		Created:    res.Created(),
	}, nil
}
