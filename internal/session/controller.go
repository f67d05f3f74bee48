package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/engine"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/metrics"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/timeline"
)

const (
	defaultStopTimeout      = 5 * time.Second
	defaultKillTimeout      = 2 * time.Second
	defaultCompanionTimeout = 30 * time.Second
)

// Options configures a Controller.
type Options struct {
	Engine     engine.Engine
	OutputRoot string // each key writes to OutputRoot/<key>

	// StopTimeout bounds the wait after SIGTERM; KillTimeout the wait after SIGKILL.
	StopTimeout time.Duration
	KillTimeout time.Duration

	Companion        Companion
	CompanionTimeout time.Duration

	Log     *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// session is the registry entry for one key. op serializes the
// stop-then-spawn and stop sequences; every other field is guarded by
// Controller.mu.
type session struct {
	key string
	op  sync.Mutex

	starting      bool
	state         State
	since         time.Time
	startedAt     time.Time
	runID         string
	proc          engine.Process
	stopCompanion func(context.Context) error
	terminating   bool
	exitCode      *int
	lastErr       string
}

// Controller is the session registry. Construct one per process and share it;
// all access to engine processes goes through it.
type Controller struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewController returns a Controller with defaults applied.
func NewController(opts Options) *Controller {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = defaultKillTimeout
	}
	if opts.CompanionTimeout <= 0 {
		opts.CompanionTimeout = defaultCompanionTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		opts:     opts,
		log:      log.With(slog.String("component", "session")),
		sessions: make(map[string]*session),
	}
}

// OutputDir is where the engine writes artifacts for key.
func (c *Controller) OutputDir(key string) string {
	return filepath.Join(c.opts.OutputRoot, key)
}

// Start (re)starts the engine for key with the manifest at manifestPath.
// Any process already running for key is stopped first, and stale output is
// discarded. It returns once the new process is confirmed alive. An empty
// manifest leaves the session idle and returns OutcomeNoTimeline.
func (c *Controller) Start(ctx context.Context, key, manifestPath string, m *timeline.Manifest) (Outcome, error) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok {
		s = &session{key: key, state: StateIdle, since: c.opts.Now()}
		c.sessions[key] = s
	}
	if s.starting {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrAlreadyStarting, key)
	}
	s.starting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		s.starting = false
		c.mu.Unlock()
	}()

	s.op.Lock()
	defer s.op.Unlock()

	c.mu.Lock()
	c.setStateLocked(s, StateStarting)
	c.mu.Unlock()

	log := c.log.With(slog.String("key", key))

	if err := c.teardown(ctx, s); err != nil {
		log.Error("previous engine could not be stopped, not starting", slog.String("error", err.Error()))
		return 0, err
	}

	if m.Empty() {
		c.mu.Lock()
		c.setStateLocked(s, StateIdle)
		c.mu.Unlock()
		log.Info("manifest is empty, nothing to stream")
		return OutcomeNoTimeline, nil
	}

	outDir := c.OutputDir(key)
	if err := discardArtifacts(outDir); err != nil {
		return 0, c.fail(s, fmt.Errorf("%w: prepare output dir: %v", ErrSpawn, err))
	}

	var stopCompanion func(context.Context) error
	if c.opts.Companion != nil {
		stop, err := c.opts.Companion.Attach(ctx, key, outDir)
		if err != nil {
			// Publishing problems never block the stream.
			log.Error("companion attach failed", slog.String("error", err.Error()))
		} else {
			stopCompanion = stop
		}
	}

	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		absManifest = manifestPath
	}
	proc, err := c.opts.Engine.Spawn(ctx, engine.Spec{Key: key, Manifest: absManifest, OutputDir: outDir})
	if err != nil {
		c.stopCompanion(key, stopCompanion)
		return 0, c.fail(s, fmt.Errorf("%w: %v", ErrSpawn, err))
	}

	runID := uuid.New().String()
	c.mu.Lock()
	s.proc = proc
	s.runID = runID
	s.stopCompanion = stopCompanion
	s.exitCode = nil
	s.lastErr = ""
	s.startedAt = c.opts.Now()
	c.setStateLocked(s, StateRunning)
	c.mu.Unlock()

	c.opts.Metrics.IncSessionsStarted()
	log.Info("session running",
		slog.String("run_id", runID),
		slog.Int("pid", proc.PID()),
		slog.Int("entries", len(m.Entries)))

	go c.watch(s, proc, runID)
	return OutcomeStarted, nil
}

// Stop terminates the engine for key and leaves the session idle. Cancelling
// ctx skips the rest of the SIGTERM grace period. If the process survives
// SIGKILL, Stop returns ErrStopFailed and the session stays stopping.
func (c *Controller) Stop(ctx context.Context, key string) (Status, error) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	c.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	s.op.Lock()
	defer s.op.Unlock()

	if err := c.teardown(ctx, s); err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.state != StateIdle {
		c.setStateLocked(s, StateIdle)
	}
	return c.snapshotLocked(s), nil
}

// Status returns the current snapshot for key.
func (c *Controller) Status(key string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return c.snapshotLocked(s), nil
}

// List returns snapshots of all known sessions ordered by key.
func (c *Controller) List() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.snapshotLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Active returns the number of running sessions.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if s.state == StateRunning {
			n++
		}
	}
	return n
}

// Shutdown stops every session. Used when the process exits.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		if _, err := c.Stop(ctx, k); err != nil {
			c.log.Error("shutdown stop failed", slog.String("key", k), slog.String("error", err.Error()))
		}
	}
}

// teardown stops the current process and companion of s, if any, and
// leaves s idle. When the process will not die, s keeps it and stays
// stopping so a later Stop can try again. Caller must hold s.op.
func (c *Controller) teardown(ctx context.Context, s *session) error {
	c.mu.Lock()
	proc, stopCompanion := s.proc, s.stopCompanion
	if proc == nil && stopCompanion == nil {
		c.mu.Unlock()
		return nil
	}
	s.terminating = true
	prev := s.state
	c.setStateLocked(s, StateStopping)
	c.mu.Unlock()

	log := c.log.With(slog.String("key", s.key))
	if proc != nil {
		if err := c.terminate(ctx, log, proc); err != nil {
			c.mu.Lock()
			s.terminating = false
			s.lastErr = err.Error()
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", err, s.key)
		}
	}
	c.stopCompanion(s.key, stopCompanion)

	c.mu.Lock()
	s.proc = nil
	s.stopCompanion = nil
	s.terminating = false
	if prev == StateStarting {
		c.setStateLocked(s, StateStarting)
	} else {
		c.setStateLocked(s, StateIdle)
	}
	c.mu.Unlock()
	return nil
}

// terminate sends SIGTERM, waits StopTimeout (or until ctx is done), then
// SIGKILL and waits KillTimeout.
func (c *Controller) terminate(ctx context.Context, log *slog.Logger, proc engine.Process) error {
	log = log.With(slog.Int("pid", proc.PID()))
	if err := proc.Terminate(); err != nil {
		log.Warn("terminate signal failed", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
		log.Info("engine stopped")
		return nil
	case <-timer.C:
		log.Warn("engine did not exit in time, killing", slog.Duration("waited", c.opts.StopTimeout))
	case <-ctx.Done():
		log.Warn("stop cancelled, killing", slog.String("error", ctx.Err().Error()))
	}

	if err := proc.Kill(); err != nil {
		log.Error("kill failed", slog.String("error", err.Error()))
	}
	select {
	case <-proc.Done():
		log.Info("engine killed")
		return nil
	case <-time.After(c.opts.KillTimeout):
		log.Error("engine still running after SIGKILL")
		return fmt.Errorf("%w: pid %d survived SIGKILL", ErrStopFailed, proc.PID())
	}
}

func (c *Controller) stopCompanion(key string, stop func(context.Context) error) {
	if stop == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CompanionTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		c.log.Warn("companion stop", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// watch records an exit the controller did not ask for. A zero exit means
// the engine reached the end of its manifest; anything else marks the
// session failed until an operator starts it again.
func (c *Controller) watch(s *session, proc engine.Process, runID string) {
	<-proc.Done()

	c.mu.Lock()
	if s.proc != proc || s.terminating {
		c.mu.Unlock()
		return
	}
	code := proc.ExitCode()
	s.proc = nil
	s.exitCode = &code
	stopCompanion := s.stopCompanion
	s.stopCompanion = nil
	// A process left behind by a failed stop finally exited.
	reaped := s.state == StateStopping
	if code == 0 || reaped {
		c.setStateLocked(s, StateIdle)
	} else {
		s.lastErr = fmt.Sprintf("engine exited unexpectedly with code %d", code)
		c.setStateLocked(s, StateFailed)
	}
	c.mu.Unlock()

	log := c.log.With(slog.String("key", s.key), slog.String("run_id", runID), slog.Int("exit_code", code))
	switch {
	case reaped:
		log.Warn("engine exited after failed stop")
	case code == 0:
		log.Info("engine finished manifest")
	default:
		c.opts.Metrics.IncSessionsFailed()
		log.Error("engine exited unexpectedly", slog.String("stderr_tail", proc.StderrTail()))
	}
	c.stopCompanion(s.key, stopCompanion)
}

func (c *Controller) fail(s *session, err error) error {
	c.mu.Lock()
	s.lastErr = err.Error()
	s.exitCode = nil
	c.setStateLocked(s, StateFailed)
	c.mu.Unlock()
	c.opts.Metrics.IncSessionsFailed()
	c.log.Error("session start failed", slog.String("key", s.key), slog.String("error", err.Error()))
	return err
}

func (c *Controller) setStateLocked(s *session, st State) {
	s.state = st
	s.since = c.opts.Now()
}

func (c *Controller) snapshotLocked(s *session) Status {
	st := Status{
		Key:       s.key,
		State:     s.state,
		Since:     s.since,
		StartedAt: s.startedAt,
		RunID:     s.runID,
		Error:     s.lastErr,
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	if s.exitCode != nil {
		code := *s.exitCode
		st.ExitCode = &code
	}
	return st
}

// discardArtifacts empties dir of regular files left by a previous run,
// creating dir if needed.
func discardArtifacts(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
