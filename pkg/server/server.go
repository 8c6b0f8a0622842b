package server

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/raft"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/resolver"
	"github.com/pixperk/roomkey/pkg/resync"
	"github.com/pixperk/roomkey/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// backends reported by Status
type Info struct {
	CacheBackend   string
	RecordsBackend string
	LockTTL        time.Duration
}

type Server struct {
	pb.UnimplementedRoomServiceServer
	resolver *resolver.Resolver
	syncer   *resync.Synchronizer
	records  record.Store
	node     *raft.Node
	info     Info
	logger   hclog.Logger
}

type Option func(*Server)

// the replicated registry backing records, for leader checks and Status
func WithNode(n *raft.Node) Option {
	return func(s *Server) { s.node = n }
}

func WithInfo(info Info) Option {
	return func(s *Server) { s.info = info }
}

func WithLogger(l hclog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// wraps the resolver and synchronizer into a gRPC server
func NewServer(res *resolver.Resolver, syncer *resync.Synchronizer, records record.Store, opts ...Option) *Server {
	s := &Server{
		resolver: res,
		syncer:   syncer,
		records:  records,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNull(s.logger).Named("server")
	return s
}

func (s *Server) Send(ctx context.Context, req *pb.SendRequest) (*pb.SendResponse, error) {
	//validate request
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name required")
	}
	if req.Text == "" {
		return nil, status.Error(codes.InvalidArgument, "text required")
	}

	res, err := s.resolver.Send(ctx, req.Name, []byte(req.Text))
	if err != nil {
		//creating a room needs the leader; cache hits are served anywhere
		if s.node != nil && errors.Is(err, types.ErrNotLeader) {
			return nil, notLeaderError(s.node.GetLeader())
		}
		return nil, toGRPCError(err)
	}

	return &pb.SendResponse{
		Resolved:   res.Resolved,
		ResourceID: res.ResourceID,
		Accepted:   res.Accepted,
		Created:    res.Created,
	}, nil
}

func (s *Server) SyncSubset(ctx context.Context, req *pb.SyncSubsetRequest) (*pb.SyncSubsetResponse, error) {
	if len(req.Names) == 0 {
		return nil, status.Error(codes.InvalidArgument, "names required")
	}

	res, err := s.syncer.SyncSubset(ctx, req.Names)
	if err != nil {
		s.logger.Error("partial sync failed", "synced", res.Synced, "error", err)
		return nil, syncError(res.Mode, res.Synced, err)
	}

	return &pb.SyncSubsetResponse{
		Mode:      res.Mode,
		Requested: res.Requested,
		Synced:    res.Synced,
		BatchSize: res.BatchSize,
		Batches:   res.Batches,
	}, nil
}

func (s *Server) SyncAll(ctx context.Context, _ *pb.SyncAllRequest) (*pb.SyncAllResponse, error) {
	res, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.Error("full sync failed", "synced", res.Synced, "error", err)
		return nil, syncError(res.Mode, res.Synced, err)
	}

	return &pb.SyncAllResponse{
		Mode:      res.Mode,
		Synced:    res.Synced,
		BatchSize: res.BatchSize,
		Batches:   res.Batches,
	}, nil
}


func (s *Server) Status(ctx context.Context, _ *pb.StatusRequest) (*pb.StatusResponse, error) {
	resp := &pb.StatusResponse{
		IsLeader:       true,
		State:          "standalone",
		CacheBackend:   s.info.CacheBackend,
		RecordsBackend: s.info.RecordsBackend,
		BatchSize:      s.syncer.BatchSize(),
		LockTTL:        s.info.LockTTL.String(),
	}

	if s.node != nil {
		resp.NodeID = s.node.GetNodeID().String()
		resp.IsLeader = s.node.IsLeader()
		resp.LeaderAddress = s.node.GetLeader()
		resp.State = s.node.GetState().String()
	}

	if c, ok := s.records.(record.Counter); ok {
		n, err := c.Count()
		if err != nil {
			return nil, toGRPCError(types.Upstream("count rooms", err))
		}
		resp.Rooms = n
	}

	return resp, nil
}
