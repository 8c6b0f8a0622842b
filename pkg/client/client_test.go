package client_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/client"
)

// fails Send with Unavailable a fixed number of times
type flakyServer struct {
	pb.UnimplementedRoomServiceServer
	failures int32
	calls    atomic.Int32
}

func (s *flakyServer) Send(_ context.Context, req *pb.SendRequest) (*pb.SendResponse, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, status.Error(codes.Unavailable, "lock timeout")
	}
	return &pb.SendResponse{Resolved: true, ResourceID: "C1", Accepted: true}, nil
}

func TestClientRoundTrip(t *testing.T) {
	c := serve(t, newStackServer())
	ctx := context.Background()

	sent, err := c.Send(ctx, "general", "hello")
	require.NoError(t, err)
	assert.True(t, sent.Created)

	sub, err := c.SyncSubset(ctx, []string{"general", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Requested)
	assert.Equal(t, 1, sub.Synced)

	all, err := c.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "all", all.Mode)
	assert.Equal(t, 1, all.Synced)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rooms)
}

func TestClientRetriesUnavailable(t *testing.T) {
	srv := &flakyServer{failures: 2}
	c := serve(t, srv, client.WithRetry(3, time.Millisecond))

	resp, err := c.Send(context.Background(), "general", "hi")
	require.NoError(t, err)
	assert.Equal(t, "C1", resp.ResourceID)
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	srv := &flakyServer{failures: 10}
	c := serve(t, srv, client.WithRetry(1, time.Millisecond))

	_, err := c.Send(context.Background(), "general", "hi")
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestClientDoesNotRetryInvalidArgument(t *testing.T) {
	c := serve(t, newStackServer(), client.WithRetry(5, time.Millisecond))

	_, err := c.Send(context.Background(), "", "hi")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
