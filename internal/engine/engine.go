// Package engine launches the external transcoding engine as an opaque child
// process and exposes just enough of its lifecycle to supervise it: pid,
// terminate, kill, and an exit notification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const defaultStartupGrace = 250 * time.Millisecond

var (
	// ErrExitedEarly is returned by Spawn when the process dies inside the
	// startup grace window.
	ErrExitedEarly = errors.New("engine exited during startup")

	// ErrNotAlive is returned by Spawn when the OS does not report the pid as
	// a live process after startup.
	ErrNotAlive = errors.New("engine process not alive")
)

// Spec describes one engine run.
type Spec struct {
	Key       string // broadcast date
	Manifest  string // concat list path
	OutputDir string
}

// Process is a running engine instance.
type Process interface {
	PID() int
	Terminate() error
	Kill() error
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done; -1 means killed by a signal.
	ExitCode() int
	// StderrTail returns the last bytes the process wrote to stderr.
	StderrTail() string
}

// Engine spawns processes.
type Engine interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// Exec runs Binary with arguments produced by Args. Each child gets its own
// process group so signals reach anything it forks.
type Exec struct {
	Binary       string
	Args         func(Spec) []string
	StartupGrace time.Duration
	// Stderr, if set, receives a live copy of the child's stderr.
	Stderr io.Writer
	Log    *slog.Logger
}

// Spawn starts the process and returns once it has survived StartupGrace and
// the OS confirms the pid is live.
func (e *Exec) Spawn(ctx context.Context, spec Spec) (Process, error) {
	var args []string
	if e.Args != nil {
		args = e.Args(spec)
	}
	cmd := exec.Command(e.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tail := &tailBuffer{max: 4096}
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(tail, e.Stderr)
	} else {
		cmd.Stderr = tail
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.Binary, err)
	}

	p := &proc{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{}), tail: tail, exitCode: -1}
	go p.wait()

	if e.Log != nil {
		e.Log.Info("engine process started",
			slog.String("key", spec.Key),
			slog.Int("pid", p.pid),
			slog.String("binary", e.Binary))
	}

	grace := e.StartupGrace
	if grace <= 0 {
		grace = defaultStartupGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil, fmt.Errorf("%w: exit code %d: %s", ErrExitedEarly, p.ExitCode(), p.StderrTail())
	case <-ctx.Done():
		_ = p.Kill()
		<-p.done
		return nil, ctx.Err()
	case <-timer.C:
	}

	if !alive(ctx, p.pid) {
		_ = p.Kill()
		return nil, fmt.Errorf("%w: pid %d", ErrNotAlive, p.pid)
	}
	return p, nil
}

// alive asks the OS whether pid exists and is not a zombie.
func alive(ctx context.Context, pid int) bool {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return false
	}
	pr, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := pr.StatusWithContext(ctx)
	if err != nil {
		// Status is unsupported on some platforms; existence is enough there.
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

type proc struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	tail *tailBuffer

	mu       sync.Mutex
	exitCode int
}

func (p *proc) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *proc) PID() int              { return p.pid }
func (p *proc) Done() <-chan struct{} { return p.done }
func (p *proc) StderrTail() string    { return p.tail.String() }

func (p *proc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *proc) Terminate() error { return p.signal(syscall.SIGTERM) }
func (p *proc) Kill() error      { return p.signal(syscall.SIGKILL) }

func (p *proc) signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	// Negative pid targets the whole process group.
	err := syscall.Kill(-p.pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(p.pid, sig)
	}
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal %v to pid %d: %w", sig, p.pid, err)
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
