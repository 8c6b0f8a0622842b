package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/cache/memory"
	"github.com/pixperk/roomkey/pkg/cache/redis"
	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/lock"
	"github.com/pixperk/roomkey/pkg/notify"
	"github.com/pixperk/roomkey/pkg/raft"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/resolver"
	"github.com/pixperk/roomkey/pkg/resync"
	"github.com/pixperk/roomkey/pkg/server"
	"github.com/pixperk/roomkey/pkg/storage"
)

// how long serve waits for a bootstrapped raft node to elect itself
const leaderWait = 10 * time.Second

// every long-lived component of a serving process
type stack struct {
	cache      cache.Client
	records    record.Store
	node       *raft.Node
	dispatcher *notify.Dispatcher
	resolver   *resolver.Resolver
	syncer     *resync.Synchronizer
	logger     hclog.Logger
}

func buildStack(cfg *config.Config, logger hclog.Logger) (*stack, error) {
	st := &stack{logger: logger}
	if err := st.open(cfg); err != nil {
		st.Close(context.Background())
		return nil, err
	}
	return st, nil
}

func (st *stack) open(cfg *config.Config) error {
	logger := st.logger

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		c := redis.New(cfg.Cache.Redis)
		if err := c.Ping(context.Background()); err != nil {
			c.Close()
			return fmt.Errorf("redis %s: %w", cfg.Cache.Redis.Addr, err)
		}
		st.cache = c
	default:
		st.cache = memory.New()
	}

	switch cfg.Records.Backend {
	case config.BackendBolt:
		s, err := storage.OpenRoomStore(cfg.Records.DataDir)
		if err != nil {
			return err
		}
		st.records = s
	case config.BackendRaft:
		node, err := newRaftNode(cfg, logger)
		if err != nil {
			return err
		}
		st.node = node
		st.records = node
	default:
		st.records = record.NewMemory()
	}

	var sink notify.Sink
	switch cfg.Notify.Sink {
	case config.SinkWebhook:
		sink = notify.NewWebhookSink(cfg.Notify.WebhookURL, nil)
	default:
		sink = notify.NewLogSink(logger)
	}
	st.dispatcher = notify.NewDispatcher(sink, notify.OptionsFromConfig(cfg.Notify), logger)

	locker := lock.NewLocker(st.cache, lock.OptionsFromConfig(cfg.Lock), logger)
	st.resolver = resolver.New(st.cache, st.records, locker,
		resolver.WithDispatcher(st.dispatcher),
		resolver.WithLogger(logger),
	)
	st.syncer = resync.New(st.cache, st.records,
		resync.WithBatchSize(cfg.Sync.BatchSize),
		resync.WithLogger(logger),
	)
	return nil
}

func newRaftNode(cfg *config.Config, logger hclog.Logger) (*raft.Node, error) {
	var nid uuid.UUID
	if cfg.Records.Raft.NodeID == "" {
		nid = uuid.New()
		logger.Info("generated node id", "node_id", nid)
	} else {
		var err error
		nid, err = uuid.Parse(cfg.Records.Raft.NodeID)
		if err != nil {
			return nil, fmt.Errorf("invalid node id: %w", err)
		}
	}

	node, err := raft.NewNode(&raft.Config{
		NodeID:    nid,
		BindAddr:  cfg.Records.Raft.BindAddr,
		DataDir:   filepath.Join(cfg.Records.DataDir, "raft"),
		Bootstrap: cfg.Records.Raft.Bootstrap,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Raft node: %w", err)
	}

	if cfg.Records.Raft.Bootstrap {
		if err := node.WaitForLeader(leaderWait); err != nil {
			node.Shutdown()
			return nil, err
		}
	}
	return node, nil
}

func (st *stack) server(cfg *config.Config) *server.Server {
	opts := []server.Option{
		server.WithLogger(st.logger),
		server.WithInfo(server.Info{
			CacheBackend:   cfg.Cache.Backend,
			RecordsBackend: cfg.Records.Backend,
			LockTTL:        cfg.Lock.TTL,
		}),
	}
	if st.node != nil {
		opts = append(opts, server.WithNode(st.node))
	}
	return server.NewServer(st.resolver, st.syncer, st.records, opts...)
}

// drains pending notifications, then closes the stores
func (st *stack) Close(ctx context.Context) {
	if st.dispatcher != nil {
		if err := st.dispatcher.Close(ctx); err != nil {
			st.logger.Warn("notifications dropped on shutdown", "error", err)
		}
	}
	if st.records != nil {
		if err := st.records.Close(); err != nil {
			st.logger.Error("close system-of-record", "error", err)
		}
	}
	if st.cache != nil {
		if err := st.cache.Close(); err != nil {
			st.logger.Error("close cache", "error", err)
		}
	}
}
