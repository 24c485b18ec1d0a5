// Package services is the UI-facing facade over the offline store, the
// outbox drain and the derived streak and achievement state.
package services

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/achievement"
	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/config"
	"github.com/silwalsubin/guras-sub000/internal/db"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/store"
	"github.com/silwalsubin/guras-sub000/internal/streak"
	syncpkg "github.com/silwalsubin/guras-sub000/internal/sync"
	"github.com/silwalsubin/guras-sub000/internal/sync/queue"
	"github.com/silwalsubin/guras-sub000/internal/sync/remote"
	"github.com/silwalsubin/guras-sub000/internal/sync/scheduler"
	"github.com/silwalsubin/guras-sub000/internal/telemetry"
)

// Options configures a TrackerService.
type Options struct {
	DataDir string
	Backend string // config.BackendSQLite, BackendBolt or BackendMemory

	// Location is the streak day boundary. Nil means time.Local.
	Location *time.Location

	MaxRetries  int
	Parallelism int

	// SyncInterval and QueueInterval drive StartBackgroundSync when it is
	// called without a config. Zero means the scheduler defaults.
	SyncInterval  time.Duration
	QueueInterval time.Duration

	// Remote receives drained outbox items. When nil and RemotePath is
	// set, a bbolt mirror is opened at RemotePath.
	Remote     syncpkg.Remote
	RemotePath string

	Achievements []achievement.Definition // nil uses achievement.Catalog
	Clock        clock.Clock
	Logger       *logging.Logger
	NewID        func() string
}

// OptionsFromConfig maps a loaded config onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		DataDir:     cfg.DataDir,
		Backend:     cfg.Backend,
		Location:    loc,
		MaxRetries:    cfg.Sync.MaxRetries,
		Parallelism:   cfg.Sync.Parallelism,
		SyncInterval:  cfg.Sync.Interval,
		QueueInterval: cfg.Sync.QueueInterval,
		RemotePath:    cfg.RemotePath(),
	}, nil
}

// TrackerService owns one open store and everything derived from it.
// All methods are safe for concurrent use. After Close every method
// returns a CLOSED error.
type TrackerService struct {
	backend   db.Backend
	store     *store.Store
	queue     *queue.SyncQueue
	tracker   *streak.Tracker
	evaluator *achievement.Evaluator
	engine    *syncpkg.SyncEngine // nil without a remote
	counters  *telemetry.SyncCounters
	clock     clock.Clock
	log       *logging.Logger

	syncInterval  time.Duration
	queueInterval time.Duration

	// closers run on Close after the backend, e.g. an owned remote mirror.
	closers []io.Closer

	mu        sync.RWMutex
	closed    bool
	scheduler *scheduler.Scheduler

	// refreshMu orders derived-state refreshes so each one reads a history
	// at least as new as the one before it.
	refreshMu sync.Mutex
}

// Open opens the configured backend and wires the store, outbox, streak
// tracker, achievement evaluator and sync engine on top of it.
func Open(opts Options) (*TrackerService, error) {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}

	raw, err := openBackend(opts.Backend, opts.DataDir, opts.Logger)
	if err != nil {
		return nil, err
	}
	backend := db.NewRetrying(raw, opts.Logger)

	svc := &TrackerService{
		backend:  backend,
		counters:      telemetry.NewSyncCounters(),
		clock:         opts.Clock,
		log:           opts.Logger,
		syncInterval:  opts.SyncInterval,
		queueInterval: opts.QueueInterval,
	}
	svc.queue = queue.NewSyncQueue(backend, queue.Options{
		MaxRetries: opts.MaxRetries,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
	})
	svc.store = store.New(backend, svc.queue, store.Options{
		Clock:  opts.Clock,
		Logger: opts.Logger,
		NewID:  opts.NewID,
	})
	svc.tracker = streak.NewTracker(streak.NewCalculator(opts.Clock, opts.Location), svc.store)
	svc.evaluator = achievement.NewEvaluator(svc.store, opts.Achievements, opts.Clock, opts.Logger)

	rem := opts.Remote
	if rem == nil && opts.RemotePath != "" {
		mirror, err := remote.OpenBoltMirror(opts.RemotePath)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("open remote mirror: %w", err)
		}
		svc.closers = append(svc.closers, mirror)
		rem = mirror
	}
	if rem != nil {
		svc.engine = syncpkg.NewSyncEngine(svc.store, rem, syncpkg.Options{
			Parallelism: opts.Parallelism,
			Clock:       opts.Clock,
			Logger:      opts.Logger,
		})
		svc.engine.SetEventHandler(svc.counters)
	}

	opts.Logger.Info("tracker opened", map[string]interface{}{
		"backend":  opts.Backend,
		"data_dir": opts.DataDir,
		"remote":   rem != nil,
	})
	return svc, nil
}

func openBackend(kind, dataDir string, log *logging.Logger) (db.Backend, error) {
	switch kind {
	case config.BackendSQLite, "":
		return db.OpenSQLite(dataDir)
	case config.BackendBolt:
		b, err := db.OpenBolt(dataDir)
		if err != nil {
			return nil, err
		}
		b.SetLogger(log)
		return b, nil
	case config.BackendMemory:
		return db.NewMemoryBackend(), nil
	}
	return nil, apperrors.Newf(apperrors.ErrValidation, "unknown backend %q", kind)
}

// Close stops background sync and releases the backend. It is safe to
// call more than once.
func (s *TrackerService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}

	err := s.backend.Close()
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// enter takes the read side of mu for the duration of one call so Close
// waits for in-flight calls.
func (s *TrackerService) enter() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, apperrors.New(apperrors.ErrClosed, "tracker is closed")
	}
	return s.mu.RUnlock, nil
}

// Store exposes the underlying entity store.
func (s *TrackerService) Store() *store.Store {
	return s.store
}
