package session

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

var (
	// ErrAlreadyStarting rejects a Start while another Start for the same key
	// is in progress.
	ErrAlreadyStarting = errors.New("session already starting")

	// ErrNotFound is returned for keys the controller has never seen.
	ErrNotFound = errors.New("session not found")

	// ErrSpawn wraps engine launch failures (missing binary, early exit).
	ErrSpawn = errors.New("engine spawn failed")

	// ErrStopFailed is returned when the engine outlives SIGKILL. The session
	// stays in StateStopping holding the process until it is reaped.
	ErrStopFailed = errors.New("engine did not exit")
)

// Outcome tells the caller what a successful Start did.
type Outcome int

const (
	OutcomeStarted Outcome = iota
	// OutcomeNoTimeline means the manifest was empty; nothing was spawned.
	OutcomeNoTimeline
)

func (o Outcome) String() string {
	if o == OutcomeNoTimeline {
		return "no_timeline"
	}
	return "started"
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	StartedAt time.Time `json:"started_at,omitzero"`
	RunID     string    `json:"run_id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Companion runs beside the engine for the life of a session; the segment
// publisher is the production one. Attach is called after stale artifacts
// are cleared and before the engine spawns; the returned stop function is
// called once the engine has exited.
type Companion interface {
	Attach(ctx context.Context, key, outputDir string) (stop func(context.Context) error, err error)
}
