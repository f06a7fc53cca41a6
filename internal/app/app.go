// Package app wires one instance of every dashboard component. The App is
// the single authoritative context; nothing in the engine is a package
// global.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"attendboard/internal/apperr"
	"attendboard/internal/backend"
	"attendboard/internal/command"
	"attendboard/internal/config"
	appLog "attendboard/internal/log"
	"attendboard/internal/metrics"
	"attendboard/internal/model"
	"attendboard/internal/session"
	"attendboard/internal/store"
	"attendboard/internal/view"
)

// Backend is everything the app needs from the API server.
type Backend interface {
	store.EventFetcher
	store.StudentFetcher
	command.Backend
	CreateEvent(ctx context.Context, ev model.NewEvent) (int, error)
	LiveRoster(ctx context.Context, eventID int) (model.LiveSnapshot, error)
	FinalizedAttendance(ctx context.Context, eventID int) (model.FinalizedAttendance, error)
	AttendanceHistory(ctx context.Context, studentID int) ([]model.AttendanceRecord, error)
}

type App struct {
	Config   *config.Config
	Location *time.Location

	Backend  Backend
	Events   *store.EventStore
	Roster   *store.Roster
	Sessions *session.Manager
	Views    *view.Synchronizer

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	now  func() time.Time
	cron *cron.Cron
}

// New builds the component graph against the HTTP backend named in cfg.
func New(cfg *config.Config) *App {
	client := backend.NewClient(cfg.BackendURL, time.Duration(cfg.RequestTimeout))
	return NewWithBackend(cfg, client, time.Now)
}

// NewWithBackend builds the component graph against b. now is the clock
// for "today" in the views; nil means time.Now.
func NewWithBackend(cfg *config.Config, b Backend, now func() time.Time) *App {
	if now == nil {
		now = time.Now
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	loc := cfg.Location()
	events := store.NewEventStore(b, m)
	roster := store.NewRoster(b)
	sessions := session.NewManager(session.Options{
		Commands:     command.NewExecutor(b, m),
		Status:       b,
		Events:       events,
		Roster:       b,
		PollInterval: time.Duration(cfg.PollInterval),
		Metrics:      m,
		Now:          now,
	})
	views := view.NewSynchronizer(events, sessions, loc, view.ParseWeekStart(cfg.WeekStart), now)

	return &App{
		Config:   cfg,
		Location: loc,
		Backend:  b,
		Events:   events,
		Roster:   roster,
		Sessions: sessions,
		Views:    views,
		Registry: reg,
		Metrics:  m,
		now:      now,
	}
}

// Load fetches students and events concurrently. Failures are logged and
// leave the caches empty; the dashboard keeps running and the next
// refresh tries again.
func (a *App) Load(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		if err := a.Roster.Refresh(ctx); err != nil {
			appLog.Error("initial student load failed", err, "backend", a.Config.BackendURL)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.Events.Refresh(ctx); err != nil {
			appLog.Error("initial event load failed", err, "backend", a.Config.BackendURL)
		}
		return nil
	})
	_ = g.Wait()
	appLog.Info("initial load complete", "events", len(a.Events.List()), "students", len(a.Roster.List()))
}

// StartRefresh schedules the background re-fetch from cfg.RefreshCron.
func (a *App) StartRefresh(ctx context.Context) error {
	if !a.Config.RefreshEnabled() {
		appLog.Info("background refresh disabled")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(a.Config.RefreshCron, func() {
		appLog.Debug("scheduled refresh")
		a.Load(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()
	a.cron = c
	appLog.Info("background refresh scheduled", "refresh", a.Config.RefreshCron)
	return nil
}

// CreateEvent validates and posts ev, then re-fetches the event list so every view
// picks it up. A failed re-fetch is logged; the event was still created.
func (a *App) CreateEvent(ctx context.Context, ev model.NewEvent) (int, error) {
	if err := backend.ValidateNewEvent(ev); err != nil {
		return 0, err
	}
	id, err := a.Backend.CreateEvent(ctx, ev)
	if err != nil {
		return 0, err
	}
	appLog.Info("event created", "event_id", id, "name", ev.Name, "date", ev.Date)
	if err := a.Events.Refresh(ctx); err != nil {
		appLog.Error("event refresh after create failed", err, "event_id", id)
	}
	return id, nil
}

// ParentView looks the student up in the cached roster and loads their
// finalized attendance history.
func (a *App) ParentView(ctx context.Context, studentID int) (view.ParentInfo, error) {
	st, ok := a.Roster.FindByID(studentID)
	if !ok {
		return view.ParentInfo{}, apperr.NotFound("parent_view", fmt.Sprintf("student %d is not on the roster", studentID))
	}
	history, err := a.Backend.AttendanceHistory(ctx, studentID)
	if err != nil {
		return view.ParentInfo{}, err
	}
	return view.ParentView(st, a.Events.List(), history, a.now().In(a.Location)), nil
}

// Shutdown stops the scheduler and the poll loop, waiting for a running
// refresh to finish or ctx to expire.
func (a *App) Shutdown(ctx context.Context) {
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			appLog.Warn("scheduled refresh still running at shutdown")
		}
	}
	a.Sessions.Shutdown()
}
