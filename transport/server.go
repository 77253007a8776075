package transport

import (
	"context"
	"log"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/oceanraft/raftcore"
)

// Server exposes a local node over gRPC. It never replies synchronously
// with a Raft message: Deliver hands the decoded Message to deliverFn and
// returns an empty Envelope, matching Connector's send-only contract
// (replies travel back as their own later Send call).
type Server struct {
	deliverFn func(raftcore.Message)
	logger    *log.Logger

	grpcServer *grpc.Server
}

// NewServer builds a Server that forwards every decoded inbound message
// to deliverFn (typically a node.Node's Deliver method).
func NewServer(deliverFn func(raftcore.Message), logger *log.Logger) *Server {
	s := &Server{deliverFn: deliverFn, logger: logger}
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(gobCodec{}))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Deliver(ctx context.Context, env *Envelope) (*Envelope, error) {
	msg, err := DecodeEnvelope(*env)
	if err != nil {
		return nil, errors.Wrap(err, "transport: decode envelope")
	}
	s.deliverFn(msg)
	return &Envelope{}, nil
}

// Serve blocks accepting connections on lis. Call in its own goroutine.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully shuts the gRPC server down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
