package server

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())

	// retryable: the lock holder or the leader may be back shortly
	case errors.Is(err, types.ErrLockTimeout), errors.Is(err, types.ErrNotLeader):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// returns a not leader error with the given leader address
// includes the current leader address in the error message
func notLeaderError(leaderAddr string) error {
	return status.Errorf(codes.Unavailable,
		"not leader, leader is at : %s", leaderAddr)
}

// flushed batches stay applied, so the status carries a SyncFailure detail
// telling the caller how far the sync got
func syncError(mode string, synced int, err error) error {
	st := status.Convert(toGRPCError(fmt.Errorf("%s sync stopped after %d entries: %w", mode, synced, err)))

	detail, derr := pb.Encode(&pb.SyncFailure{Mode: mode, Synced: synced})
	if derr != nil {
		return st.Err()
	}
	withDetail, derr := st.WithDetails(detail)
	if derr != nil {
		return st.Err()
	}
	return withDetail.Err()
}
