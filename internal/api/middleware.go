package api

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
)

// RequestIDHeader carries the request ID, echoed back when supplied.
const RequestIDHeader = "X-Request-ID"

// LoggerMiddleware attaches a request-scoped logger to the context and logs
// each completed operation.
func LoggerMiddleware(logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		opID := ""
		if op := ctx.Operation(); op != nil {
			opID = op.OperationID
		}
		reqID := ctx.Header(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx.SetHeader(RequestIDHeader, reqID)

		reqLogger := logger.With(
			"request_id", reqID,
			"method", ctx.Method(),
			"path", ctx.URL().Path,
			"operation", opID,
		)
		ctx = huma.WithContext(ctx, ctxlog.With(ctx.Context(), reqLogger))

		next(ctx)

		reqLogger.Debug("request completed",
			"status", ctx.Status(),
			"duration", time.Since(start),
		)
	}
}
