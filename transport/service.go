package transport

import (
	"context"

	"google.golang.org/grpc"
)

// raftServer is the handler type serviceDesc binds to. It is deliberately
// minimal: one method, taking and returning the same Envelope type every
// message (request or reply) travels in.
type raftServer interface {
	Deliver(ctx context.Context, env *Envelope) (*Envelope, error)
}

// serviceDesc is the hand-written stand-in for what protoc-gen-go-grpc
// would otherwise generate from a .proto file. There is no protoc
// toolchain available here, so the method table is built directly.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raftcore.Raft",
	HandlerType: (*raftServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftcore/transport.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/raftcore.Raft/Deliver",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).Deliver(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}
