package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributes(t *testing.T) {
	ctx := context.Background()
	AddAttribute(ctx, "ignored", 1)
	assert.Nil(t, GetAttributes(ctx))

	ctx = ContextWithSlog(ctx)
	assert.Equal(t, ctx, ContextWithSlog(ctx))

	AddAttribute(ctx, "task_id", "t1")
	AddAttributes(ctx, map[string]any{"status": 200, "method": "GET"})
	AddAttribute(ctx, "task_id", "t2")

	attrs := GetAttributes(ctx)
	require.Len(t, attrs, 3)
	assert.Equal(t, []string{"task_id", "method", "status"}, []string{attrs[0].Key, attrs[1].Key, attrs[2].Key})
	assert.Equal(t, "t2", GetAttribute[string](ctx, "task_id"))
	assert.Zero(t, GetAttribute[string](ctx, "status"), "type mismatch yields zero")

	errBoom := errors.New("boom")
	AddError(ctx, errBoom)
	AddStack(ctx, "stack")
	assert.Equal(t, errBoom, GetError(ctx))
	assert.Equal(t, "stack", GetStack(ctx))
}

func TestAttributesHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "actor_id", "alice")
	logger.InfoContext(ctx, "hello", "k", "v")

	out := buf.String()
	assert.Contains(t, out, `"actor_id":"alice"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, WithColor(false), WithLevel(slog.LevelDebug)))

	logger.Debug("moved", "task_id", "t1", "method", "POST", ErrorAttributeKey, "boom", "extra", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "DEBUG POST t1 moved boom")
	assert.Equal(t, "    extra=1", lines[1])

	quiet := NewTextHandler(&buf)
	assert.False(t, quiet.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, quiet.Enabled(context.Background(), slog.LevelWarn))
}

func TestLevels(t *testing.T) {
	assert.Equal(t, LevelInfo, HTTPStatusToLevel(http.StatusOK))
	assert.Equal(t, LevelWarn, HTTPStatusToLevel(http.StatusNotFound))
	assert.Equal(t, LevelError, HTTPStatusToLevel(http.StatusInternalServerError))
	assert.Equal(t, LevelInfo, ConnectCodeToLevel(connect.CodeInvalidArgument))
	assert.Equal(t, LevelError, ConnectCodeToLevel(connect.CodeUnknown))
	assert.Equal(t, slog.LevelWarn, LevelWarn.SlogLevel())
}

func TestSlogChiMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil))))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := chi.NewRouter()
	r.Use(SlogChiMiddleware(WithChiFilter(func(r *http.Request) bool { return r.URL.Path != "/skip" })))
	r.Get("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		AddAttribute(r.Context(), "task_id", chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/skip", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tasks/t1", nil))
	out := buf.String()
	assert.Contains(t, out, `"procedure":"/tasks/{id}"`)
	assert.Contains(t, out, `"task_id":"t1"`)
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"level":"WARN"`)

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/skip", nil))
	assert.Empty(t, buf.String())
}
