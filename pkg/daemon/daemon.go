package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/mnemo-sh/mnemo/pkg/memory"
)

// Config carries the daemon's tunables, resolved from the application config.
type Config struct {
	PollInterval   time.Duration
	StaleAfter     time.Duration
	MaxConcurrent  int
	PIDFile        string
	LogFile        string
	TranscriptsDir string
	// ExtractorCommand is invoked per stale session as
	// `cmd args... <session-id> <transcript-path>`.
	ExtractorCommand []string
	// DiscoverCron optionally restricts stale-session discovery to a cron
	// schedule. Reaping and draining still run every tick.
	DiscoverCron string
}

// normalize fills unset fields with defaults. A negative StaleAfter is kept
// as-is: the cutoff lands in the future, so every registered session is
// immediately eligible for extraction.
func (c *Config) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
}

// Worker is a running extraction process.
type Worker interface {
	PID() int
	// Wait blocks until the process exits.
	Wait() error
}

// Spawner starts an extraction worker for one session.
type Spawner interface {
	Spawn(session memory.SessionRecord) (Worker, error)
}

// Daemon discovers stale sessions and runs one extraction worker per session
// under a concurrency cap. All state lives on the struct; a single goroutine
// drives the loop and owns active/pending, so no locking is needed there.
type Daemon struct {
	cfg     Config
	store   memory.Store
	log     zerolog.Logger
	spawner Spawner
	cron    *gronx.Gronx

	active  map[int]string // pid -> session id
	pending []memory.SessionRecord
	done    chan int
}

func New(cfg Config, store memory.Store, log zerolog.Logger, spawner Spawner) *Daemon {
	cfg.normalize()
	if spawner == nil {
		spawner = &execSpawner{
			transcriptsDir: cfg.TranscriptsDir,
			command:        cfg.ExtractorCommand,
		}
	}
	return &Daemon{
		cfg:     cfg,
		store:   store,
		log:     log,
		spawner: spawner,
		cron:    gronx.New(),
		active:  map[int]string{},
		done:    make(chan int, 64),
	}
}

// Run drives the poll loop until the context is cancelled. Errors inside an
// iteration are logged and swallowed; the loop itself never fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := writePIDFile(d.cfg.PIDFile, os.Getpid()); err != nil {
		return err
	}
	defer func() { _ = removePIDFile(d.cfg.PIDFile) }()

	d.log.Info().
		Int("pid", os.Getpid()).
		Dur("poll", d.cfg.PollInterval).
		Dur("stale_after", d.cfg.StaleAfter).
		Int("max_concurrent", d.cfg.MaxConcurrent).
		Msg("daemon started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.RunOnce(ctx)
		select {
		case <-ctx.Done():
			d.log.Info().Msg("daemon stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes one poll iteration: reap finished workers, drain the
// pending queue under the cap, then discover newly stale sessions.
func (d *Daemon) RunOnce(ctx context.Context) {
	d.reap()
	d.drain()
	if d.discoveryDue() {
		if err := d.discover(ctx); err != nil {
			d.log.Error().Err(err).Msg("discover stale sessions")
		}
	}
}

// reap drains exit notifications posted by the per-worker wait goroutines.
func (d *Daemon) reap() {
	for {
		select {
		case pid := <-d.done:
			session := d.active[pid]
			delete(d.active, pid)
			d.log.Info().Int("pid", pid).Str("session", session).Msg("worker exited")
		default:
			return
		}
	}
}

func (d *Daemon) drain() {
	for len(d.pending) > 0 && len(d.active) < d.cfg.MaxConcurrent {
		next := d.pending[0]
		d.pending = d.pending[1:]
		d.spawn(next)
	}
}

func (d *Daemon) discoveryDue() bool {
	if d.cfg.DiscoverCron == "" {
		return true
	}
	due, err := d.cron.IsDue(d.cfg.DiscoverCron, time.Now())
	if err != nil {
		d.log.Error().Err(err).Str("expr", d.cfg.DiscoverCron).Msg("invalid discover cron, running every tick")
		return true
	}
	return due
}

func (d *Daemon) discover(ctx context.Context) error {
	stale, err := d.store.StaleSessions(ctx, d.cfg.StaleAfter)
	if err != nil {
		return err
	}
	for _, session := range stale {
		if d.tracked(session.ID) {
			continue
		}
		// TODO: marking before the worker exits means a crashed worker is
		// never retried; move this into reap once workers report status.
		if err := d.store.MarkExtracted(ctx, session.ID); err != nil {
			d.log.Error().Err(err).Str("session", session.ID).Msg("mark extracted")
			continue
		}
		if len(d.active) < d.cfg.MaxConcurrent {
			d.spawn(session)
		} else {
			d.pending = append(d.pending, session)
			d.log.Info().Str("session", session.ID).Msg("queued for extraction")
		}
	}
	return nil
}

func (d *Daemon) tracked(sessionID string) bool {
	for _, id := range d.active {
		if id == sessionID {
			return true
		}
	}
	for _, s := range d.pending {
		if s.ID == sessionID {
			return true
		}
	}
	return false
}

func (d *Daemon) spawn(session memory.SessionRecord) {
	worker, err := d.spawner.Spawn(session)
	if err != nil {
		d.log.Error().Err(err).Str("session", session.ID).Msg("spawn worker")
		return
	}
	pid := worker.PID()
	d.active[pid] = session.ID
	d.log.Info().Int("pid", pid).Str("session", session.ID).Str("project", session.Project).Msg("worker started")

	go func() {
		if err := worker.Wait(); err != nil {
			d.log.Warn().Err(err).Int("pid", pid).Msg("worker finished with error")
		}
		d.done <- pid
	}()
}

// ActiveCount reports the number of live workers. Loop-goroutine use only.
func (d *Daemon) ActiveCount() int { return len(d.active) }

// PendingCount reports the queue depth. Loop-goroutine use only.
func (d *Daemon) PendingCount() int { return len(d.pending) }

// OpenLogger appends to the daemon log file and returns a timestamped logger.
func OpenLogger(path string) (zerolog.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	writer := zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true}
	return zerolog.New(writer).With().Timestamp().Logger(), f, nil
}
