package client

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type Client struct {
	addr   string
	conn   *grpc.ClientConn
	client pb.RoomServiceClient

	retries  int
	backoff  time.Duration
	dialOpts []grpc.DialOption
	logger   hclog.Logger
}

type Option func(*Client)

// retries Send up to n more times when the server is unavailable
// (lock held elsewhere or leader moving)
func WithRetry(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = backoff
	}
}

func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		addr:     addr,
		backoff:  500 * time.Millisecond,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNull(c.logger).Named("client")

	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.client = pb.NewRoomServiceClient(conn)
	return c, nil
}

// resolves the room, creating it if needed, and queues text for delivery
func (c *Client) Send(ctx context.Context, name, text string) (*pb.SendResponse, error) {
	req := &pb.SendRequest{Name: name, Text: text}

	for attempt := 0; ; attempt++ {
		resp, err := c.client.Send(ctx, req)
		if err == nil {
			return resp, nil
		}
		if status.Code(err) != codes.Unavailable || attempt >= c.retries {
			return nil, fmt.Errorf("send: %w", err)
		}

		c.logger.Warn("send unavailable, retrying", "room", name, "attempt", attempt+1, "error", err)

		timer := time.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("send: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) SyncSubset(ctx context.Context, names []string) (*pb.SyncSubsetResponse, error) {
	resp, err := c.client.SyncSubset(ctx, &pb.SyncSubsetRequest{Names: names})
	if err != nil {
		return nil, fmt.Errorf("sync subset: %w", err)
	}
	return resp, nil
}

func (c *Client) SyncAll(ctx context.Context) (*pb.SyncAllResponse, error) {
	resp, err := c.client.SyncAll(ctx, &pb.SyncAllRequest{})
	if err != nil {
		return nil, fmt.Errorf("sync all: %w", err)
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (*pb.StatusResponse, error) {
	return c.client.Status(ctx, &pb.StatusRequest{})
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
