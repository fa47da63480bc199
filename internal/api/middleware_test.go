package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/m-mizutani/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, api := humatest.New(t)
	api.UseMiddleware(LoggerMiddleware(logger))
	huma.Get(api, "/ping", func(ctx context.Context, _ *struct{}) (*struct{ Body string }, error) {
		ctxlog.From(ctx).Info("handling ping")
		return &struct{ Body string }{Body: "pong"}, nil
	})

	resp := api.Get("/ping")
	require.Equal(t, http.StatusOK, resp.Code)
	reqID := resp.Header().Get(RequestIDHeader)
	assert.Len(t, reqID, 36)

	out := buf.String()
	assert.Contains(t, out, `"msg":"handling ping"`)
	assert.Contains(t, out, `"path":"/ping"`)
	assert.Contains(t, out, `"msg":"request completed"`)
	assert.Contains(t, out, `"request_id":"`+reqID+`"`)

	resp = api.Get("/ping", RequestIDHeader+": abc-123")
	assert.Equal(t, "abc-123", resp.Header().Get(RequestIDHeader))
}
