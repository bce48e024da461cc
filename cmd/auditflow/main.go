package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kazz187/auditflow/internal/config"
	"github.com/kazz187/auditflow/pkg/clog"
)

var (
	app = kingpin.New("auditflow", "Task workflow and audit tracking server")

	serveCmd          = app.Command("serve", "Start the HTTP server")
	serveCalendarFile = serveCmd.Flag("calendar-file", "Calendar document to import on start and reload on change").String()

	migrateCmd = app.Command("migrate", "Apply database migrations")

	seedCmd         = app.Command("seed", "Import a calendar document")
	seedFile        = seedCmd.Arg("file", "Path of the calendar document").Required().String()
	seedFromStorage = seedCmd.Flag("from-storage", "Read the document from the configured storage instead of the filesystem").Bool()

	deadlineCmd   = app.Command("deadline", "Print the deadline for a turnaround time")
	deadlineStart = deadlineCmd.Flag("start", "Start instant (RFC3339); defaults to now").String()
	deadlineTAT   = deadlineCmd.Arg("tat-hours", "Turnaround time in business hours").Required().Float64()
	deadlineFile  = deadlineCmd.Flag("calendar-file", "Plan against this calendar document instead of the store").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env: %v\n", err)
		os.Exit(1)
	}
	setupLogger(env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch command {
	case serveCmd.FullCommand():
		err = serve(ctx, env, *serveCalendarFile)
	case migrateCmd.FullCommand():
		err = migrate(ctx, env)
	case seedCmd.FullCommand():
		err = seed(ctx, env, *seedFile, *seedFromStorage)
	case deadlineCmd.FullCommand():
		err = deadline(ctx, env, *deadlineStart, *deadlineTAT, *deadlineFile)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}
