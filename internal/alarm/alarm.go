// Package alarm fires named periodic callbacks whose schedule survives process
// restarts: the next fire time of every alarm is kept in the store, so an alarm
// that came due while the process was down fires as soon as it runs again.
package alarm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/spr/internal/db"
)

// Names of the alarms the daemon registers.
const (
	Sync      = "sync"
	Heartbeat = "heartbeat"
)

const keyPrefix = "alarm:"

// Key returns the store key holding an alarm's next fire time.
func Key(name string) string {
	return keyPrefix + name
}

// Func is called when an alarm fires.
type Func func(ctx context.Context)

type alarm struct {
	name   string
	period time.Duration
	fire   Func
}

// Options configures a Scheduler. Zero values get defaults.
type Options struct {
	// Resolution is how often due alarms are checked
	Resolution time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Scheduler fires registered alarms.
type Scheduler struct {
	store      db.Store
	resolution time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	alarms []alarm
}

// New returns a Scheduler over store.
func New(store db.Store, opts Options) *Scheduler {
	if opts.Resolution <= 0 {
		opts.Resolution = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{store: store, resolution: opts.Resolution, logger: opts.Logger, now: opts.Now}
}

// Register adds an alarm firing every period. Names must be unique.
func (s *Scheduler) Register(name string, period time.Duration, fn Func) error {
	if name == "" || period <= 0 || fn == nil {
		return fmt.Errorf("alarm %q: name, positive period and func are required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alarms {
		if a.name == name {
			return fmt.Errorf("alarm %q already registered", name)
		}
	}
	s.alarms = append(s.alarms, alarm{name: name, period: period, fire: fn})
	return nil
}

// Run checks alarms until ctx is done. It always returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.FireDue(ctx); err != nil {
		s.logger.Error("alarm check failed", "err", err)
	}

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.FireDue(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("alarm check failed", "err", err)
			}
		}
	}
}

// FireDue fires every alarm whose time has come and re-arms it one period from
// now. An alarm seen for the first time is armed without firing. It returns the
// fired alarm names in registration order.
func (s *Scheduler) FireDue(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	alarms := append([]alarm{}, s.alarms...)
	s.mu.Unlock()
	if len(alarms) == 0 {
		return nil, nil
	}

	now := s.now()
	var due []alarm
	err := s.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		due = nil
		keys := make([]string, len(alarms))
		for i, a := range alarms {
			keys[i] = Key(a.name)
		}
		values, err := r.Get(ctx, keys...)
		if err != nil {
			return nil, err
		}

		patch := db.Patch{}
		for _, a := range alarms {
			var next time.Time
			found, err := db.Decode(values, Key(a.name), &next)
			if err != nil || !found {
				patch[Key(a.name)] = now.Add(a.period).UTC()
				continue
			}
			if now.Before(next) {
				continue
			}
			due = append(due, a)
			patch[Key(a.name)] = now.Add(a.period).UTC()
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	fired := make([]string, 0, len(due))
	for _, a := range due {
		if ctx.Err() != nil {
			break
		}
		s.logger.Debug("alarm fired", "alarm", a.name)
		a.fire(ctx)
		fired = append(fired, a.name)
	}
	return fired, nil
}

// Clear forgets the schedule of the named alarms.
func (s *Scheduler) Clear(ctx context.Context, names ...string) error {
	patch := db.Patch{}
	for _, n := range names {
		patch[Key(n)] = nil
	}
	return s.store.Set(ctx, patch)
}
