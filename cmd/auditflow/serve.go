package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/config"
	"github.com/kazz187/auditflow/internal/workflow"
	"github.com/kazz187/auditflow/pkg/panicerr"

	server "github.com/kazz187/auditflow/internal"
)

func serve(ctx context.Context, env *config.Env, calendarFile string) error {
	a, err := newApplication(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	importFile := func(ctx context.Context) error {
		doc, err := readDocumentFile(calendarFile)
		if err != nil {
			return err
		}
		return a.service.ImportDocument(ctx, actor.System, doc)
	}
	if calendarFile != "" {
		if err := importFile(ctx); err != nil {
			return fmt.Errorf("failed to import %s: %w", calendarFile, err)
		}
		slog.Info("calendar document imported", "path", calendarFile)
	}

	srv := server.NewServer(env, workflow.NewServer(a.service))

	group, gctx := panicerr.NewGroup(ctx)
	group.Go("http server", func(ctx context.Context) error {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if calendarFile != "" {
		group.Go("calendar watcher", calendar.NewWatcher(calendarFile, importFile).Run)
	}

	<-gctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return group.Wait()
}
