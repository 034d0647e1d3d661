package status

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
)

// Reporter exposes snapshots and pushes them to the server.
type Reporter struct {
	store  db.Store
	client delivery.Client
	logger *slog.Logger
	now    func() time.Time
}

// ReporterOptions configures a Reporter. Zero values get defaults.
type ReporterOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// NewReporter returns a Reporter.
func NewReporter(store db.Store, client delivery.Client, opts ReporterOptions) *Reporter {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reporter{store: store, client: client, logger: opts.Logger, now: opts.Now}
}

// Snapshot returns the current status.
func (r *Reporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	return Take(ctx, r.store, r.now())
}

// Push sends the current snapshot to the server. It is best-effort: failures
// are logged at debug level and reported only through the return value.
func (r *Reporter) Push(ctx context.Context) bool {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		r.logger.Debug("status snapshot failed", "err", err)
		return false
	}
	return r.PushSnapshot(ctx, snap)
}

// PushSnapshot sends snap. It reports whether the server accepted it.
func (r *Reporter) PushSnapshot(ctx context.Context, snap *Snapshot) bool {
	if !snap.endpoint.Configured() {
		return false
	}
	if err := r.client.PostStatus(ctx, snap.endpoint, snap.Report()); err != nil {
		r.logger.Debug("status push failed", "err", err)
		return false
	}
	return true
}
