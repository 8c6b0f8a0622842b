package raft

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/pixperk/roomkey/pkg/fsm"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/metrics"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/storage"
	"github.com/pixperk/roomkey/pkg/types"
)

// how long a room insert may wait for replication
const applyTimeout = 5 * time.Second

// wraps a raft instance with the room registry FSM and exposes it as a
// system-of-record
// writes go through the leader; reads are served from the local replica and
// may lag the leader on followers
type Node struct {
	raft    *raft.Raft
	fsm     *fsm.FSM
	raftFSM *fsm.RaftFSM
	storage *storage.RaftStorage
	addr    raft.ServerAddress
	cfg     *Config
	logger  hclog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ record.Store = (*Node)(nil)

type Config struct {
	NodeID    uuid.UUID    //unique ID for this node
	BindAddr  string       //net addr to bind Raft communication
	DataDir   string       //data directory for Raft storage
	Bootstrap bool         //if this is the first node in the cluster
	Logger    hclog.Logger //nil discards raft's own logging
}

func NewNode(cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	logger := logging.OrNull(cfg.Logger).Named("raft")

	raftFSM := fsm.NewRaftFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID.String())
	raftCfg.Logger = logger

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K inserts

	raftStorage, err := storage.NewRaftStorage(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to resolve bind addr: %w", err)
	}
	var advertise net.Addr = addr
	if addr.Port == 0 {
		// let the transport advertise the port it actually bound
		advertise = nil
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, logger)
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, raftStorage.LogStore, raftStorage.StableStore, raftStorage.SnapshotStore, transport)
	if err != nil {
		transport.Close()
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}

		err := r.BootstrapCluster(configuration).Error()
		if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			r.Shutdown()
			raftStorage.Close()
			return nil, fmt.Errorf("failed to bootstrap: %w", err)
		}
	}

	n := &Node{
		raft:    r,
		fsm:     raftFSM.GetFSM(),
		raftFSM: raftFSM,
		storage: raftStorage,
		addr:    transport.LocalAddr(),
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go n.watchLeadership()

	return n, nil
}

// keeps the leader gauge current
func (n *Node) watchLeadership() {
	for {
		select {
		case isLeader := <-n.raft.LeaderCh():
			if isLeader {
				metrics.RaftIsLeader.Set(1)
				n.logger.Info("became leader")
			} else {
				metrics.RaftIsLeader.Set(0)
				n.logger.Info("lost leadership")
			}
		case <-n.stopCh:
			return
		}
	}
}

// apply a command to the Raft cluster
func (n *Node) Apply(cmd types.Command) (any, error) {
	data, err := fsm.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	//replicate to cluster via Raft
	future := n.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, fmt.Errorf("%w (leader is %q)", types.ErrNotLeader, n.GetLeader())
		}
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	//the fsm returns errors as the response value
	if err, ok := future.Response().(error); ok {
		return nil, err
	}
	return future.Response(), nil
}

func (n *Node) FindOne(ctx context.Context, filter types.Filter) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	if filter.Name != "" && len(filter.Names) == 0 {
		room, ok := n.fsm.GetRoom(filter.Name)
		if !ok {
			return types.Room{}, types.ErrNotFound
		}
		return room, nil
	}

	rooms := n.fsm.Rooms(filter)
	if len(rooms) == 0 {
		return types.Room{}, types.ErrNotFound
	}
	return rooms[0], nil
}

// InsertOne replicates the document through the log. It fails with
// types.ErrNotLeader on followers.
func (n *Node) InsertOne(ctx context.Context, room types.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.IsLeader() {
		return fmt.Errorf("%w (leader is %q)", types.ErrNotLeader, n.GetLeader())
	}

	_, err := n.Apply(types.InsertRoomCmd{Room: room})
	if err == nil {
		metrics.RoomsTotal.Set(float64(n.fsm.Stats().Rooms))
	}
	return err
}

// FindAll scans a point-in-time copy of the local replica
func (n *Node) FindAll(ctx context.Context, filter types.Filter, proj types.Projection) iter.Seq2[types.Room, error] {
	return func(yield func(types.Room, error) bool) {
		for _, room := range n.fsm.Rooms(filter) {
			if err := ctx.Err(); err != nil {
				yield(types.Room{}, err)
				return
			}
			if !yield(proj.Apply(room), nil) {
				return
			}
		}
	}
}

// address the transport actually bound, resolved when BindAddr asked for port 0
func (n *Node) Addr() string {
	return string(n.addr)
}

// AddVoter adds a voting member to the cluster. Only the leader can change
// the configuration; followers get types.ErrNotLeader.
func (n *Node) AddVoter(id uuid.UUID, addr string) error {
	if !n.IsLeader() {
		return fmt.Errorf("%w (leader is %q)", types.ErrNotLeader, n.GetLeader())
	}
	if err := n.raft.AddVoter(raft.ServerID(id.String()), raft.ServerAddress(addr), 0, applyTimeout).Error(); err != nil {
		return fmt.Errorf("failed to add voter %s: %w", id, err)
	}
	n.logger.Info("added voter", "node_id", id, "addr", addr)
	return nil
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) GetLeader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

func (n *Node) GetNodeID() uuid.UUID {
	return n.cfg.NodeID
}

func (n *Node) GetState() raft.RaftState {
	return n.raft.State()
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.GetLeader() != "" {
				return nil
			}
		}
	}
}

// returns FSM statistics
func (n *Node) Stats() fsm.Stats {
	return n.fsm.Stats()
}

// rooms in the local replica
func (n *Node) Count() (int, error) {
	return n.fsm.Stats().Rooms, nil
}

// gracefully shuts down the Raft node
func (n *Node) Shutdown() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.stopCh)
		err = n.raft.Shutdown().Error()
		if cerr := n.storage.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// record.Store
func (n *Node) Close() error {
	return n.Shutdown()
}
