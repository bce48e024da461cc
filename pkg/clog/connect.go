package clog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// HealthCheckProcedure is the gRPC health check, which is not logged on
// success.
const HealthCheckProcedure = "/grpc.health.v1.Health/Check"

// NewSlogConnectInterceptor logs one record per unary connect call.
func NewSlogConnectInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			startTime := time.Now()
			ctx = ContextWithSlog(ctx)
			AddAttributes(ctx, map[string]any{
				"method":    req.HTTPMethod(),
				"procedure": req.Spec().Procedure,
			})
			resp, err := next(ctx, req)

			code := "ok"
			level := LevelInfo
			var cErr *connect.Error
			if err != nil {
				if !errors.As(err, &cErr) {
					cErr = connect.NewError(connect.CodeUnknown, err)
				}
				code = cErr.Code().String()
				level = ConnectCodeToLevel(cErr.Code())
			} else if req.Spec().Procedure == HealthCheckProcedure {
				return resp, err
			}
			AddAttributes(ctx, map[string]any{
				"status":   code,
				"duration": time.Since(startTime),
			})
			msg := "Finished"
			if cErr != nil {
				msg = cErr.Message()
			}
			slog.Log(ctx, level.SlogLevel(), msg)
			return resp, err
		}
	}
}
