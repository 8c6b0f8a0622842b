package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/cache/memory"
	"github.com/pixperk/roomkey/pkg/client"
	"github.com/pixperk/roomkey/pkg/lock"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/resolver"
	"github.com/pixperk/roomkey/pkg/resync"
	"github.com/pixperk/roomkey/pkg/server"
)

type discard struct{}

func (discard) Dispatch(string, []byte) bool { return true }

// serves srv over an in-memory listener and returns a client dialled to it
func serve(tb testing.TB, srv pb.RoomServiceServer, opts ...client.Option) *client.Client {
	tb.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	pb.RegisterRoomServiceServer(gs, srv)
	go gs.Serve(lis)
	tb.Cleanup(gs.Stop)

	opts = append(opts, client.WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})))
	c, err := client.NewClient("passthrough:///bufnet", opts...)
	require.NoError(tb, err)
	tb.Cleanup(func() { c.Close() })
	return c
}

// a full in-process stack on memory backends
func newStackServer() *server.Server {
	mem := memory.New()
	db := record.NewMemory()
	locker := lock.NewLocker(mem, lock.Options{TTL: 10 * time.Second, RetryInterval: time.Millisecond, MaxRetry: 5000}, nil)
	res := resolver.New(mem, db, locker, resolver.WithDispatcher(discard{}))
	return server.NewServer(res, resync.New(mem, db), db)
}
