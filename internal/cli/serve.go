package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/gateway"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/server"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC service and HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(contextOf(cmd), rootOpts.Config)
		},
	}

	f := cmd.Flags()
	f.String("server.http_addr", defaults.Server.HTTPAddr, "HTTP gateway address")
	f.String("cache.backend", defaults.Cache.Backend, "cache backend (memory|redis)")
	f.String("cache.redis.addr", defaults.Cache.Redis.Addr, "redis address")
	f.String("records.backend", defaults.Records.Backend, "system-of-record backend (memory|bolt|raft)")
	f.String("records.data_dir", defaults.Records.DataDir, "data directory for bolt and raft")
	f.String("records.raft.node_id", "", "raft node id (generated if empty)")
	f.String("records.raft.bind_addr", defaults.Records.Raft.BindAddr, "raft bind address")
	f.Bool("records.raft.bootstrap", false, "bootstrap a new raft cluster")
	f.String("notify.sink", defaults.Notify.Sink, "notification sink (log|webhook)")
	f.String("notify.webhook_url", "", "webhook URL for the webhook sink")
	f.Duration("lock.ttl", defaults.Lock.TTL, "lock time-to-live")
	f.Duration("lock.retry_interval", defaults.Lock.RetryInterval, "wait between lock attempts")
	f.Int("lock.max_retry", defaults.Lock.MaxRetry, "lock attempts before giving up")
	f.Int("sync.batch_size", defaults.Sync.BatchSize, "writes per sync pipeline")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New("roomkey", cfg.Log.Level, cfg.Log.JSON)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting roomkey",
		"grpc", cfg.Server.GRPCAddr,
		"http", cfg.Server.HTTPAddr,
		"cache", cfg.Cache.Backend,
		"records", cfg.Records.Backend,
		"sink", cfg.Notify.Sink,
	)

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		st.Close(closeCtx)
	}()

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(server.LoggingInterceptor(logger.Named("grpc"))))
	pb.RegisterRoomServiceServer(grpcServer, st.server(cfg))

	listener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	gwServer := gateway.NewServer(cfg.Server.HTTPAddr, dialAddr(listener.Addr().String()), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", listener.Addr().String())
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		logger.Info("HTTP gateway listening", "addr", cfg.Server.HTTPAddr)
		return gwServer.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return gwServer.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
