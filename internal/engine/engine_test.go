package engine

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not in PATH", name)
	}
}

func TestExec_Spawn_terminate(t *testing.T) {
	requireBinary(t, "sleep")

	e := &Exec{Binary: "sleep", Args: func(Spec) []string { return []string{"30"} }, StartupGrace: 50 * time.Millisecond}
	p, err := e.Spawn(context.Background(), Spec{Key: "2025-01-15", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.PID() <= 0 {
		t.Fatalf("expected a pid, got %d", p.PID())
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		_ = p.Kill()
		t.Fatal("process did not exit after SIGTERM")
	}
	if p.ExitCode() != -1 {
		t.Errorf("expected -1 for signalled exit, got %d", p.ExitCode())
	}
	if err := p.Kill(); err != nil {
		t.Errorf("Kill after exit should be a no-op, got %v", err)
	}
}

func TestExec_Spawn_exits_early(t *testing.T) {
	requireBinary(t, "sh")

	e := &Exec{Binary: "sh", Args: func(Spec) []string { return []string{"-c", "echo boom >&2; exit 3"} }, StartupGrace: 500 * time.Millisecond}
	_, err := e.Spawn(context.Background(), Spec{OutputDir: t.TempDir()})
	if !errors.Is(err, ErrExitedEarly) {
		t.Fatalf("expected ErrExitedEarly, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected exit code and stderr in error, got %v", err)
	}
}

func TestExec_Spawn_missing_binary(t *testing.T) {
	e := &Exec{Binary: "/nonexistent/ffmpeg"}
	if _, err := e.Spawn(context.Background(), Spec{OutputDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestFFmpeg_Args(t *testing.T) {
	args := FFmpeg{SegmentSeconds: 4}.Args(Spec{Key: "2025-01-15", Manifest: "/m/2025-01-15.txt", OutputDir: "/out"})

	mustFollow := func(flag, value string) {
		t.Helper()
		i := slices.Index(args, flag)
		if i < 0 || i+1 >= len(args) || args[i+1] != value {
			t.Errorf("expected %s %s in %v", flag, value, args)
		}
	}
	mustFollow("-i", "/m/2025-01-15.txt")
	mustFollow("-f", "concat")
	mustFollow("-hls_time", "4")
	mustFollow("-hls_list_size", "20")
	mustFollow("-hls_flags", "delete_segments+temp_file")
	mustFollow("-hls_segment_filename", "/out/2025-01-15_segment_%03d.ts")
	mustFollow("-master_pl_name", "2025-01-15_master.m3u8")
	mustFollow("-var_stream_map", "v:0,a:0")

	if last := args[len(args)-1]; last != "/out/2025-01-15_playlist.m3u8" {
		t.Errorf("expected playlist as final arg, got %s", last)
	}
}

func TestTailBuffer_keeps_last_bytes(t *testing.T) {
	tb := &tailBuffer{max: 4}
	tb.Write([]byte("abc"))
	tb.Write([]byte("defg"))
	if got := tb.String(); got != "defg" {
		t.Errorf("expected defg, got %q", got)
	}
}
