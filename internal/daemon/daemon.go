// Package daemon fires the daily broadcast: once on startup unless today is
// already streaming, then every day at a fixed wall-clock time.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/session"
)

// ErrAlreadyRunning is returned by Run while another Run is active.
var ErrAlreadyRunning = errors.New("daemon already running")

// Launcher is the broadcast pipeline the daemon drives. The HTTP start
// endpoint goes through the same Launch.
type Launcher interface {
	Launch(ctx context.Context, date string) (session.Outcome, error)
	Stop(ctx context.Context, date string) (session.Status, error)
	Status(date string) (session.Status, error)
	ManifestPath(date string) string
	ManifestExists(date string) (bool, error)
}

// Options configures a Daemon.
type Options struct {
	Launcher Launcher
	Location *time.Location
	Hour     int
	Minute   int
	// ArchiveDir receives yesterday's manifest; empty means delete it.
	ArchiveDir string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *slog.Logger
}

// Daemon is the daily trigger.
type Daemon struct {
	opts    Options
	log     *slog.Logger
	running atomic.Bool
}

// New validates opts and returns a Daemon.
func New(opts Options) (*Daemon, error) {
	if opts.Launcher == nil {
		return nil, errors.New("daemon: launcher is required")
	}
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("daemon: invalid trigger time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{opts: opts, log: log.With(slog.String("component", "daemon"))}, nil
}

// Run catches up on today, then fires daily until ctx is cancelled. It
// returns nil on cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.catchUp(ctx)

	var fired time.Time
	for {
		now := d.opts.Now()
		// The timer runs on the monotonic clock; a wall clock that lags the
		// trigger just fired must not re-arm the same trigger.
		from := now
		if from.Before(fired) {
			from = fired
		}
		next := NextTrigger(from, d.opts.Location, d.opts.Hour, d.opts.Minute)
		wait := max(next.Sub(now), 0)
		d.log.Info("next daily trigger armed", slog.Time("at", next), slog.Duration("in", wait))

		if err := d.opts.Sleep(ctx, wait); err != nil {
			d.log.Info("daemon stopped")
			return nil
		}
		fired = next
		d.tick(ctx, next)
	}
}

// catchUp launches today straight away unless today's session is already
// running, covering a start or restart in the middle of the day. A manifest
// left on disk by a previous process does not count: its engine died with it.
func (d *Daemon) catchUp(ctx context.Context) {
	today := d.opts.Now().In(d.opts.Location).Format(schedule.DateLayout)

	if st, err := d.opts.Launcher.Status(today); err == nil && st.State == session.StateRunning {
		d.log.Info("today already streaming, skipping catch-up", slog.String("date", today))
		return
	}

	exists, err := d.opts.Launcher.ManifestExists(today)
	if err != nil {
		d.log.Warn("manifest check failed", slog.String("date", today), slog.String("error", err.Error()))
	}
	d.log.Info("catch-up launch", slog.String("date", today), slog.Bool("stale_manifest", exists))
	d.launch(ctx, today)
}

// tick retires the previous day and launches the day that fired.
func (d *Daemon) tick(ctx context.Context, fired time.Time) {
	local := fired.In(d.opts.Location)
	today := local.Format(schedule.DateLayout)
	yesterday := local.AddDate(0, 0, -1).Format(schedule.DateLayout)

	if _, err := d.opts.Launcher.Stop(ctx, yesterday); err != nil && !errors.Is(err, session.ErrNotFound) {
		d.log.Warn("stop previous session failed", slog.String("date", yesterday), slog.String("error", err.Error()))
	}
	if err := d.retire(yesterday); err != nil {
		d.log.Warn("retire previous manifest failed", slog.String("date", yesterday), slog.String("error", err.Error()))
	}
	d.launch(ctx, today)
}

func (d *Daemon) launch(ctx context.Context, date string) {
	outcome, err := d.opts.Launcher.Launch(ctx, date)
	if err != nil {
		d.log.Error("daily launch failed", slog.String("date", date), slog.String("error", err.Error()))
		return
	}
	d.log.Info("daily launch", slog.String("date", date), slog.String("outcome", outcome.String()))
}

// retire moves date's manifest into ArchiveDir, or deletes it when no
// archive is configured. A missing manifest is not an error.
func (d *Daemon) retire(date string) error {
	path := d.opts.Launcher.ManifestPath(date)

	if d.opts.ArchiveDir == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(d.opts.ArchiveDir, 0o755); err != nil {
		return err
	}
	if err := os.Rename(path, filepath.Join(d.opts.ArchiveDir, filepath.Base(path))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// NextTrigger returns the first hour:minute in loc strictly after now.
func NextTrigger(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
