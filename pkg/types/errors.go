package types

import (
	"errors"
	"fmt"
)

var (
	// lock errors
	ErrLockTimeout = errors.New("lock not acquired within retry budget")

	// request errors
	ErrInvalidArgument = errors.New("invalid argument")

	// system-of-record errors
	ErrNotFound   = errors.New("room not found")
	ErrRoomExists = errors.New("room already exists")
	ErrNotLeader  = errors.New("node is not the raft leader")

	// collaborator failures (cache, system-of-record)
	ErrUpstream = errors.New("upstream failure")

	// notification errors
	ErrQueueFull        = errors.New("notification queue is full")
	ErrDispatcherClosed = errors.New("notification dispatcher is closed")
)

// wraps a collaborator failure so that errors.Is(err, ErrUpstream) holds
// and the cause stays reachable through errors.Is / errors.As
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstream, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// nil stays nil; an error already marked upstream is returned untouched
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// fmt.Errorf over ErrInvalidArgument
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
