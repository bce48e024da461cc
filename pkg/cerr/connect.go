package cerr

import (
	"context"

	"connectrpc.com/connect"
)

// NewConnectInterceptor turns errors returned by connect handlers into
// connect errors carrying the code and details of an Error.
func NewConnectInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			resp, err := next(ctx, req)
			return resp, ExtractConnectError(ctx, err)
		}
	}
}
