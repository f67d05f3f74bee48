// Package broadcast ties the schedule store, the timeline compiler and the
// session controller into the single compile-then-start pipeline used by both
// the daily trigger and the HTTP control surface.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/metrics"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/session"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/timeline"
)

var (
	// ErrScheduleUnavailable is returned when the schedule store cannot be queried.
	ErrScheduleUnavailable = errors.New("schedule unavailable")

	// ErrFutureDate is returned by Launch for a broadcast day that has not begun.
	ErrFutureDate = errors.New("broadcast date has not started")
)

// launchGrace lets a launch fired at midnight by a slightly slow wall clock
// through the future-date check.
const launchGrace = time.Minute

// Sessions is the part of the session controller the service drives.
type Sessions interface {
	Start(ctx context.Context, key, manifestPath string, m *timeline.Manifest) (session.Outcome, error)
	Stop(ctx context.Context, key string) (session.Status, error)
	Status(key string) (session.Status, error)
	List() []session.Status
}

// Options wires a Service.
type Options struct {
	Store       schedule.Store
	Compiler    *timeline.Compiler
	Sessions    Sessions
	ManifestDir string
	Now         func() time.Time
	Log         *slog.Logger
	Metrics     *metrics.Metrics
}

// Service runs the broadcast pipeline.
type Service struct {
	store       schedule.Store
	compiler    *timeline.Compiler
	sessions    Sessions
	manifestDir string
	now         func() time.Time
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// NewService returns a Service. Now defaults to time.Now.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:       opts.Store,
		compiler:    opts.Compiler,
		sessions:    opts.Sessions,
		manifestDir: opts.ManifestDir,
		now:         now,
		log:         log.With(slog.String("component", "broadcast")),
		metrics:     opts.Metrics,
	}
}

// Location is the broadcast day's time zone.
func (s *Service) Location() *time.Location {
	return s.compiler.Location()
}

// ManifestPath is where the manifest for date is written.
func (s *Service) ManifestPath(date string) string {
	return filepath.Join(s.manifestDir, date+".txt")
}

// ManifestExists reports whether a manifest for date is on disk.
func (s *Service) ManifestExists(date string) (bool, error) {
	_, err := os.Stat(s.ManifestPath(date))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Prepare loads the schedule for date and compiles it from watermark into
// the date's manifest file. Nothing is written if the store or the compiler
// fails.
func (s *Service) Prepare(ctx context.Context, date string, watermark time.Time) (*timeline.Manifest, string, error) {
	if _, err := schedule.ParseDate(date, s.Location()); err != nil {
		return nil, "", err
	}

	day, err := s.store.Get(ctx, date)
	if err != nil {
		s.metrics.ObserveCompile(false)
		return nil, "", fmt.Errorf("%w: %v", ErrScheduleUnavailable, err)
	}

	if err := os.MkdirAll(s.manifestDir, 0o755); err != nil {
		s.metrics.ObserveCompile(false)
		return nil, "", fmt.Errorf("%w: %v", timeline.ErrManifestWrite, err)
	}

	path := s.ManifestPath(date)
	m, err := s.compiler.CompileToFile(day, watermark, path)
	if err != nil {
		s.metrics.ObserveCompile(false)
		return nil, "", err
	}
	s.metrics.ObserveCompile(true)

	s.log.Info("manifest compiled",
		slog.String("date", date),
		slog.String("path", path),
		slog.Time("watermark", watermark),
		slog.Int("entries", len(m.Entries)),
		slog.Duration("event_time", m.Total(timeline.KindEvent)),
		slog.Duration("filler_time", m.Total(timeline.KindFiller)))
	return m, path, nil
}

// Launch compiles date from now and (re)starts its session. The daily
// trigger and the HTTP start endpoint both come through here. A date whose
// midnight is more than a minute ahead is rejected with ErrFutureDate; use
// Prepare to compile it in advance.
func (s *Service) Launch(ctx context.Context, date string) (session.Outcome, error) {
	now := s.now()
	dayStart, err := schedule.ParseDate(date, s.Location())
	if err != nil {
		return 0, err
	}
	if dayStart.Sub(now) > launchGrace {
		return 0, fmt.Errorf("%w: %s begins at %s", ErrFutureDate, date, dayStart.Format(time.RFC3339))
	}

	m, path, err := s.Prepare(ctx, date, now)
	if err != nil {
		return 0, err
	}
	return s.sessions.Start(ctx, date, path, m)
}

// Stop stops the session for date.
func (s *Service) Stop(ctx context.Context, date string) (session.Status, error) {
	if _, err := schedule.ParseDate(date, s.Location()); err != nil {
		return session.Status{}, err
	}
	return s.sessions.Stop(ctx, date)
}

// Status reports the session for date.
func (s *Service) Status(date string) (session.Status, error) {
	if _, err := schedule.ParseDate(date, s.Location()); err != nil {
		return session.Status{}, err
	}
	return s.sessions.Status(date)
}

// Sessions lists every known session.
func (s *Service) Sessions() []session.Status {
	return s.sessions.List()
}

// Schedule returns the stored schedule for date.
func (s *Service) Schedule(ctx context.Context, date string) (schedule.DaySchedule, error) {
	if _, err := schedule.ParseDate(date, s.Location()); err != nil {
		return schedule.DaySchedule{}, err
	}
	day, err := s.store.Get(ctx, date)
	if err != nil {
		return schedule.DaySchedule{}, fmt.Errorf("%w: %v", ErrScheduleUnavailable, err)
	}
	return day, nil
}

// ReplaceSchedule swaps the whole schedule for day.Date. Every event must
// lie within that date in the broadcast time zone.
func (s *Service) ReplaceSchedule(ctx context.Context, day schedule.DaySchedule) error {
	if err := day.ValidateIn(s.Location()); err != nil {
		return err
	}
	return s.store.Replace(ctx, day)
}

// AddEvent adds one event to date's schedule.
func (s *Service) AddEvent(ctx context.Context, date string, e schedule.Event) error {
	dayStart, err := schedule.ParseDate(date, s.Location())
	if err != nil {
		return err
	}
	if err := e.WithinDay(dayStart); err != nil {
		return err
	}
	return s.store.AddEvent(ctx, date, e)
}

// RemoveEvent deletes one event from date's schedule.
func (s *Service) RemoveEvent(ctx context.Context, date, assetRef string, start time.Time) error {
	return s.store.RemoveEvent(ctx, date, assetRef, start)
}
