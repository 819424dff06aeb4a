package outbound

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor adds "authorization: Bearer <token>" metadata to
// outgoing unary calls while a token is held.
func (b *Bearer) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if h := b.Header(); h != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", h)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming counterpart of UnaryClientInterceptor.
func (b *Bearer) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if h := b.Header(); h != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", h)
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}
