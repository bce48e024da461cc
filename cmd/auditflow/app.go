package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/config"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/store/memory"
	"github.com/kazz187/auditflow/internal/store/postgres"
	"github.com/kazz187/auditflow/internal/submission"
	"github.com/kazz187/auditflow/internal/workflow"
	"github.com/kazz187/auditflow/pkg/storage"
)

func openStore(ctx context.Context, env *config.Env) (store.Store, error) {
	switch env.StoreEnv.Type {
	case config.StorePostgres:
		st, err := postgres.Open(ctx, env.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		slog.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
}

type application struct {
	store   store.Store
	storage storage.Storage
	service *workflow.Service
}

func newApplication(ctx context.Context, env *config.Env) (*application, error) {
	st, err := openStore(ctx, env)
	if err != nil {
		return nil, err
	}
	blobs, err := storage.Open(ctx, env.StorageEnv.Config())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open %s storage: %w", env.StorageEnv.Type, err)
	}
	loc, err := env.Location()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	calendars := calendar.NewProvider(st,
		calendar.WithLocation(loc),
		calendar.WithLookahead(env.LookaheadDays),
	)
	service := workflow.NewService(st, calendars,
		workflow.WithTicketAttempts(env.TicketMaxAttempts),
		workflow.WithDocumentStore(submission.NewDocumentStore(blobs)),
	)
	return &application{store: st, storage: blobs, service: service}, nil
}

func (a *application) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}

func readDocumentFile(path string) (*calendar.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar document: %w", err)
	}
	return calendar.ParseDocument(data)
}

func parseStart(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q: %w", s, err)
	}
	return t, nil
}
