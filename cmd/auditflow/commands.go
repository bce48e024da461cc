package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/config"
	"github.com/kazz187/auditflow/internal/scheduler"
	"github.com/kazz187/auditflow/internal/store/postgres"
	"github.com/kazz187/auditflow/pkg/storage"
)

func migrate(ctx context.Context, env *config.Env) error {
	if env.StoreEnv.Type != config.StorePostgres {
		return fmt.Errorf("migrate requires the postgres store, got %q", env.StoreEnv.Type)
	}
	// Open applies pending migrations.
	st, err := postgres.Open(ctx, env.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("migrations applied")
	return nil
}

func seed(ctx context.Context, env *config.Env, path string, fromStorage bool) error {
	a, err := newApplication(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	var doc *calendar.Document
	if fromStorage {
		ok, err := a.storage.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		doc, err = calendar.LoadDocument(ctx, a.storage, path)
		if err != nil {
			return err
		}
	} else {
		doc, err = readDocumentFile(path)
		if err != nil {
			return err
		}
	}
	if err := a.service.ImportDocument(ctx, actor.System, doc); err != nil {
		return err
	}
	slog.Info("calendar document imported",
		"path", path,
		"business_hours", len(doc.BusinessHours),
		"holidays", len(doc.Holidays),
		"step_templates", len(doc.StepTemplates),
	)
	return nil
}

func deadline(ctx context.Context, env *config.Env, startArg string, tatHours float64, calendarFile string) error {
	start, err := parseStart(startArg)
	if err != nil {
		return err
	}
	cal, err := loadCalendar(ctx, env, calendarFile)
	if err != nil {
		return err
	}
	due, err := scheduler.PlanDeadline(cal, start, tatHours)
	if err != nil {
		return err
	}
	bold := color.New(color.Bold)
	fmt.Fprintf(os.Stdout, "start    %s\n", start.In(cal.Location()).Format("Mon 2006-01-02 15:04:05 MST"))
	fmt.Fprintf(os.Stdout, "tat      %v business hours\n", tatHours)
	bold.Fprintf(os.Stdout, "deadline %s\n", due.Format("Mon 2006-01-02 15:04:05 MST"))
	return nil
}

func loadCalendar(ctx context.Context, env *config.Env, calendarFile string) (*calendar.Calendar, error) {
	loc, err := env.Location()
	if err != nil {
		return nil, err
	}
	if calendarFile == "" {
		a, err := newApplication(ctx, env)
		if err != nil {
			return nil, err
		}
		defer a.Close()
		return calendar.NewProvider(a.store,
			calendar.WithLocation(loc),
			calendar.WithLookahead(env.LookaheadDays),
		).Calendar(ctx)
	}
	doc, err := readDocumentFile(calendarFile)
	if err != nil {
		return nil, err
	}
	if docLoc, err := doc.Location(); err != nil {
		return nil, err
	} else if docLoc != nil {
		loc = docLoc
	}
	hours, err := doc.Hours()
	if err != nil {
		return nil, err
	}
	holidays, err := doc.ParsedHolidays()
	if err != nil {
		return nil, err
	}
	return calendar.New(hours, holidays, calendar.WithLocation(loc), calendar.WithLookahead(env.LookaheadDays))
}
