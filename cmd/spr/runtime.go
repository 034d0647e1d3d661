package main

import (
	"context"
	"database/sql"
	"io"
	"log/slog"

	"github.com/hpungsan/spr/internal/activity"
	"github.com/hpungsan/spr/internal/alarm"
	"github.com/hpungsan/spr/internal/config"
	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
	"github.com/hpungsan/spr/internal/journal"
	"github.com/hpungsan/spr/internal/ops"
	"github.com/hpungsan/spr/internal/outbox"
	"github.com/hpungsan/spr/internal/settings"
	"github.com/hpungsan/spr/internal/status"
	"github.com/hpungsan/spr/internal/syncer"
)

// runtime wires the engine components over one database.
type runtime struct {
	cfg      *config.Config
	store    *db.KV
	logger   *slog.Logger
	sink     *activity.Sink
	syncer   *syncer.Syncer
	reporter *status.Reporter
	svc      *ops.Service
}

// newRuntime builds the components. Logs go to stderr and, at info and
// above, into the activity log. ctx bounds background sync cycles.
func newRuntime(ctx context.Context, database *sql.DB, cfg *config.Config, stderr io.Writer) (*runtime, error) {
	kv := db.NewKV(database)

	sink := activity.NewSink(activity.NewLog(kv, cfg.MaxLogs), 64)
	base := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(activity.NewHandler(base, sink, slog.LevelInfo))

	mgr := settings.NewManager(kv)
	deviceID, generated, err := mgr.InitDefaults(ctx)
	if err != nil {
		sink.Close()
		return nil, err
	}
	if generated {
		logger.Info("Device id generated", "deviceId", deviceID)
	}

	j := journal.New(kv, cfg.MaxEvents)
	client := delivery.NewHTTPClient(nil, cfg.HTTPTimeout())
	reporter := status.NewReporter(kv, client, status.ReporterOptions{Logger: logger})
	s := syncer.New(kv, j, client, syncer.Options{
		Policy:      outbox.PolicyFromConfig(cfg),
		Reporter:    reporter,
		Logger:      logger,
		BaseContext: ctx,
	})

	svc := ops.NewService(ops.Deps{
		Store:    kv,
		Config:   cfg,
		Journal:  j,
		Settings: mgr,
		Syncer:   s,
		Reporter: reporter,
		Logger:   logger,
	})

	return &runtime{
		cfg:      cfg,
		store:    kv,
		logger:   logger,
		sink:     sink,
		syncer:   s,
		reporter: reporter,
		svc:      svc,
	}, nil
}

// scheduler returns the alarm scheduler for the daemon: the sync alarm runs a
// cycle, polls commands and pushes status; the heartbeat only pushes status.
func (rt *runtime) scheduler() (*alarm.Scheduler, error) {
	sched := alarm.New(rt.store, alarm.Options{Logger: rt.logger})
	if err := sched.Register(alarm.Sync, rt.cfg.SyncInterval(), rt.svc.Tick); err != nil {
		return nil, err
	}
	if err := sched.Register(alarm.Heartbeat, rt.cfg.HeartbeatInterval(), rt.svc.Heartbeat); err != nil {
		return nil, err
	}
	return sched, nil
}

// Close waits for background cycles and flushes the activity log.
func (rt *runtime) Close() {
	rt.syncer.Wait()
	rt.sink.Close()
}
