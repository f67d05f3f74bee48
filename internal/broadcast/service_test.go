package broadcast

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/logger"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/session"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/timeline"
)

type startCall struct {
	key      string
	manifest string
	m        *timeline.Manifest
}

type fakeSessions struct {
	mu       sync.Mutex
	starts   []startCall
	startErr error
	stopErr  error
	states   map[string]session.Status
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{states: make(map[string]session.Status)}
}

func (f *fakeSessions) Start(ctx context.Context, key, manifestPath string, m *timeline.Manifest) (session.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{key: key, manifest: manifestPath, m: m})
	if f.startErr != nil {
		f.states[key] = session.Status{Key: key, State: session.StateFailed}
		return 0, f.startErr
	}
	if m.Empty() {
		f.states[key] = session.Status{Key: key, State: session.StateIdle}
		return session.OutcomeNoTimeline, nil
	}
	f.states[key] = session.Status{Key: key, State: session.StateRunning, PID: 42}
	return session.OutcomeStarted, nil
}

func (f *fakeSessions) Stop(ctx context.Context, key string) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[key]
	if !ok {
		return session.Status{}, session.ErrNotFound
	}
	if f.stopErr != nil {
		return session.Status{}, f.stopErr
	}
	st.State, st.PID = session.StateIdle, 0
	f.states[key] = st
	return st, nil
}

func (f *fakeSessions) Status(key string) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[key]
	if !ok {
		return session.Status{}, session.ErrNotFound
	}
	return st, nil
}

func (f *fakeSessions) List() []session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Status
	for _, st := range f.states {
		out = append(out, st)
	}
	return out
}

type brokenStore struct{ schedule.Store }

func (brokenStore) Get(context.Context, string) (schedule.DaySchedule, error) {
	return schedule.DaySchedule{}, errors.New("database is locked")
}

var utc = time.UTC

func at(hh, mm int) time.Time {
	return time.Date(2025, 1, 15, hh, mm, 0, 0, utc)
}

func newTestService(t *testing.T, store schedule.Store, sess Sessions, now time.Time) *Service {
	t.Helper()
	comp, err := timeline.NewCompiler(timeline.Options{
		Location:    utc,
		FillerAsset: "/assets/blank.mp4",
		FillerChunk: 20 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewService(Options{
		Store:       store,
		Compiler:    comp,
		Sessions:    sess,
		ManifestDir: filepath.Join(t.TempDir(), "event_files"),
		Now:         func() time.Time { return now },
		Log:         logger.Discard(),
	})
}

func TestService_Launch(t *testing.T) {
	store := schedule.NewMemoryStore()
	ctx := context.Background()
	if err := store.AddEvent(ctx, "2025-01-15", schedule.Event{AssetRef: "/assets/news.mp4", Start: at(10, 0), End: at(11, 0)}); err != nil {
		t.Fatal(err)
	}
	sess := newFakeSessions()
	svc := newTestService(t, store, sess, at(9, 0))

	outcome, err := svc.Launch(ctx, "2025-01-15")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if outcome != session.OutcomeStarted {
		t.Errorf("expected started, got %s", outcome)
	}
	if len(sess.starts) != 1 {
		t.Fatalf("expected one Start, got %d", len(sess.starts))
	}
	call := sess.starts[0]
	if call.key != "2025-01-15" || call.manifest != svc.ManifestPath("2025-01-15") {
		t.Errorf("unexpected start call %+v", call)
	}
	if got := call.m.Total(timeline.KindEvent); got != time.Hour {
		t.Errorf("expected one hour of events, got %v", got)
	}

	ok, err := svc.ManifestExists("2025-01-15")
	if err != nil || !ok {
		t.Fatalf("expected manifest on disk, ok=%v err=%v", ok, err)
	}
	b, _ := os.ReadFile(svc.ManifestPath("2025-01-15"))
	if string(b) != string(call.m.Bytes()) {
		t.Error("manifest file does not match the compiled manifest")
	}
}

func TestService_Launch_after_end_of_day(t *testing.T) {
	sess := newFakeSessions()
	svc := newTestService(t, schedule.NewMemoryStore(), sess, at(0, 0).AddDate(0, 0, 1))

	outcome, err := svc.Launch(context.Background(), "2025-01-15")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != session.OutcomeNoTimeline {
		t.Errorf("expected no_timeline, got %s", outcome)
	}
}

func TestService_Prepare_store_failure_writes_nothing(t *testing.T) {
	svc := newTestService(t, brokenStore{}, newFakeSessions(), at(9, 0))

	_, _, err := svc.Prepare(context.Background(), "2025-01-15", at(9, 0))
	if !errors.Is(err, ErrScheduleUnavailable) {
		t.Fatalf("expected ErrScheduleUnavailable, got %v", err)
	}
	if ok, _ := svc.ManifestExists("2025-01-15"); ok {
		t.Error("no manifest should be written when the store fails")
	}
}

func TestService_Launch_invalid_date(t *testing.T) {
	sess := newFakeSessions()
	svc := newTestService(t, schedule.NewMemoryStore(), sess, at(9, 0))

	if _, err := svc.Launch(context.Background(), "15-01-2025"); !errors.Is(err, schedule.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if len(sess.starts) != 0 {
		t.Error("no session should start for an invalid date")
	}
}

func TestService_Launch_spawn_failure(t *testing.T) {
	sess := newFakeSessions()
	sess.startErr = session.ErrSpawn
	svc := newTestService(t, schedule.NewMemoryStore(), sess, at(9, 0))

	if _, err := svc.Launch(context.Background(), "2025-01-15"); !errors.Is(err, session.ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestService_Launch_future_date(t *testing.T) {
	sess := newFakeSessions()
	svc := newTestService(t, schedule.NewMemoryStore(), sess, at(9, 0))

	if _, err := svc.Launch(context.Background(), "2025-01-16"); !errors.Is(err, ErrFutureDate) {
		t.Fatalf("expected ErrFutureDate, got %v", err)
	}
	if len(sess.starts) != 0 {
		t.Error("no session should start for a day that has not begun")
	}
	if ok, _ := svc.ManifestExists("2025-01-16"); ok {
		t.Error("no manifest should be written for a rejected launch")
	}
}

func TestService_Launch_just_before_midnight(t *testing.T) {
	sess := newFakeSessions()
	svc := newTestService(t, schedule.NewMemoryStore(), sess, at(0, 0).AddDate(0, 0, 1).Add(-time.Millisecond))

	if _, err := svc.Launch(context.Background(), "2025-01-16"); err != nil {
		t.Fatalf("a launch fired a moment early should go through: %v", err)
	}
	if len(sess.starts) != 1 {
		t.Fatalf("expected one Start, got %d", len(sess.starts))
	}
}

func TestService_schedule_writes_stay_within_the_day(t *testing.T) {
	store := schedule.NewMemoryStore()
	svc := newTestService(t, store, newFakeSessions(), at(9, 0))
	ctx := context.Background()
	tomorrow := schedule.Event{AssetRef: "a.mp4", Start: at(10, 0).AddDate(0, 0, 1), End: at(11, 0).AddDate(0, 0, 1)}
	overnight := schedule.Event{AssetRef: "b.mp4", Start: at(23, 30), End: at(0, 30).AddDate(0, 0, 1)}

	for _, e := range []schedule.Event{tomorrow, overnight} {
		err := svc.ReplaceSchedule(ctx, schedule.DaySchedule{Date: "2025-01-15", Events: []schedule.Event{e}})
		if !errors.Is(err, schedule.ErrInvalidEvent) {
			t.Errorf("replace %s: expected ErrInvalidEvent, got %v", e.AssetRef, err)
		}
		if err := svc.AddEvent(ctx, "2025-01-15", e); !errors.Is(err, schedule.ErrInvalidEvent) {
			t.Errorf("add %s: expected ErrInvalidEvent, got %v", e.AssetRef, err)
		}
	}

	day, err := svc.Schedule(ctx, "2025-01-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(day.Events) != 0 {
		t.Errorf("rejected events were stored: %+v", day.Events)
	}
}
