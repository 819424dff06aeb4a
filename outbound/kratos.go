package outbound

import (
	"context"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
)

// KratosClient returns kratos client middleware that sets the
// Authorization header on the outgoing transport. Works for both kratos
// HTTP and gRPC clients.
func (b *Bearer) KratosClient() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			if tr, ok := transport.FromClientContext(ctx); ok {
				if h := b.Header(); h != "" {
					tr.RequestHeader().Set("Authorization", h)
				}
			}
			return handler(ctx, req)
		}
	}
}
