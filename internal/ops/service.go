package ops

import (
	stderrors "errors"
	"io"
	"log/slog"
	"time"

	"github.com/hpungsan/spr/internal/config"
	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/journal"
	"github.com/hpungsan/spr/internal/settings"
	"github.com/hpungsan/spr/internal/status"
	"github.com/hpungsan/spr/internal/syncer"
)

// MaxRecentLimit caps GET_RECENT.
const MaxRecentLimit = 100

var errNoSyncer = stderrors.New("sync engine is not running")

// Deps are the components the operations run against.
type Deps struct {
	Store    db.Store
	Config   *config.Config
	Journal  *journal.Journal
	Settings *settings.Manager
	Syncer   *syncer.Syncer
	Reporter *status.Reporter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service implements the local RPC operations.
type Service struct {
	store    db.Store
	cfg      *config.Config
	journal  *journal.Journal
	settings *settings.Manager
	syncer   *syncer.Syncer
	reporter *status.Reporter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService returns a Service. Missing optional deps get defaults.
func NewService(d Deps) *Service {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Journal == nil {
		d.Journal = journal.New(d.Store, d.Config.MaxEvents)
	}
	if d.Settings == nil {
		d.Settings = settings.NewManager(d.Store)
	}
	return &Service{
		store:    d.Store,
		cfg:      d.Config,
		journal:  d.Journal,
		settings: d.Settings,
		syncer:   d.Syncer,
		reporter: d.Reporter,
		logger:   d.Logger,
		now:      d.Now,
	}
}
