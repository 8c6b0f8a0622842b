package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// HTTP/JSON front for the gRPC RoomService
type Server struct {
	httpServer *http.Server
	grpcAddr   string
	conn       *grpc.ClientConn
	logger     hclog.Logger
}

func NewServer(httpAddr, grpcAddr string, logger hclog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr: httpAddr,
		},
		grpcAddr: grpcAddr,
		logger:   logging.OrNull(logger).Named("gateway"),
	}
}

func (s *Server) Start(ctx context.Context) error {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	conn, err := grpc.NewClient(s.grpcAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to register gateway: %w", err)
	}
	s.conn = conn

	s.httpServer.Handler = NewHandler(pb.NewRoomServiceClient(conn), s.logger)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.conn != nil {
		s.conn.Close()
	}
	return err
}
