package timeline

import (
	"bytes"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
)

var chunkChoices = []time.Duration{time.Second, 10 * time.Second, 20 * time.Second}

func drawCompiler(rt *rapid.T) *Compiler {
	c, err := NewCompiler(Options{
		Location:    time.UTC,
		FillerAsset: "blank.mp4",
		FillerChunk: rapid.SampledFrom(chunkChoices).Draw(rt, "chunk"),
		Durations:   rapid.Bool().Draw(rt, "durations"),
	})
	if err != nil {
		rt.Fatalf("NewCompiler: %v", err)
	}
	return c
}

// drawDay builds a valid, non-overlapping schedule on testDate.
func drawDay(rt *rapid.T) schedule.DaySchedule {
	day := schedule.DaySchedule{Date: testDate}
	cursor := clock(0, 0)
	end := cursor.AddDate(0, 0, 1)
	n := rapid.IntRange(0, 12).Draw(rt, "events")
	for i := 0; i < n; i++ {
		gap := time.Duration(rapid.IntRange(0, 7200).Draw(rt, "gap_s")) * time.Second
		length := time.Duration(rapid.IntRange(1, 7200).Draw(rt, "len_s")) * time.Second
		start := cursor.Add(gap)
		if !start.Add(length).Before(end) {
			break
		}
		day.Events = append(day.Events, schedule.Event{
			AssetRef: rapid.StringMatching(`[a-z]{1,8}\.mp4`).Draw(rt, "asset"),
			Start:    start,
			End:      start.Add(length),
		})
		cursor = start.Add(length)
	}
	return day
}

func drawWatermark(rt *rapid.T) time.Time {
	secs := rapid.IntRange(0, 24*3600-1).Draw(rt, "watermark_s")
	return clock(0, 0).Add(time.Duration(secs) * time.Second)
}

func TestProperty_empty_schedule_fills_rest_of_day(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawCompiler(rt)
		wm := drawWatermark(rt)

		m, err := c.Compile(schedule.DaySchedule{Date: testDate}, wm)
		if err != nil {
			rt.Fatal(err)
		}
		want := clock(0, 0).AddDate(0, 0, 1).Sub(wm)
		diff := m.Total(KindFiller) - want
		if diff < 0 {
			diff = -diff
		}
		if diff > c.opts.FillerChunk {
			rt.Fatalf("filler %v differs from %v by more than one chunk", m.Total(KindFiller), want)
		}
		if m.Total(KindEvent) != 0 {
			rt.Fatal("empty schedule produced events")
		}
	})
}

func TestProperty_tiled_day_has_no_filler(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawCompiler(rt)
		n := rapid.IntRange(1, 48).Draw(rt, "pieces")

		day := schedule.DaySchedule{Date: testDate}
		start := clock(0, 0)
		end := start.AddDate(0, 0, 1)
		for i := 0; i < n; i++ {
			next := start.Add(24 * time.Hour / time.Duration(n))
			if i == n-1 {
				next = end
			}
			day.Events = append(day.Events, schedule.Event{AssetRef: "piece.mp4", Start: start, End: next})
			start = next
		}

		m, err := c.Compile(day, clock(0, 0))
		if err != nil {
			rt.Fatal(err)
		}
		for _, e := range m.Entries {
			if e.Kind == KindFiller {
				rt.Fatalf("unexpected filler of %v", e.Duration)
			}
		}
		if len(m.Entries) != n {
			rt.Fatalf("expected %d events, got %d", n, len(m.Entries))
		}
	})
}

func TestProperty_past_events_never_rendered(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawCompiler(rt)
		day := drawDay(rt)
		wm := drawWatermark(rt)

		m, err := c.Compile(day, wm)
		if err != nil {
			rt.Fatal(err)
		}

		want := 0
		for _, e := range day.Events {
			if !e.Start.Before(wm) {
				want++
			}
		}
		got := 0
		for _, e := range m.Entries {
			if e.Kind == KindEvent {
				got++
			}
		}
		if got != want {
			rt.Fatalf("expected %d future events in manifest, got %d", want, got)
		}
	})
}

func TestProperty_compile_is_idempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawCompiler(rt)
		day := drawDay(rt)
		wm := drawWatermark(rt)

		first, err := c.Compile(day, wm)
		if err != nil {
			rt.Fatal(err)
		}
		second, err := c.Compile(day, wm)
		if err != nil {
			rt.Fatal(err)
		}
		if !bytes.Equal(first.Bytes(), second.Bytes()) {
			rt.Fatal("recompiling the same schedule changed the manifest")
		}
	})
}

func TestProperty_timeline_is_gapless_with_durations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, err := NewCompiler(Options{
			FillerAsset: "blank.mp4",
			FillerChunk: rapid.SampledFrom(chunkChoices).Draw(rt, "chunk"),
			Durations:   true,
		})
		if err != nil {
			rt.Fatal(err)
		}
		day := drawDay(rt)
		wm := drawWatermark(rt)

		m, err := c.Compile(day, wm)
		if err != nil {
			rt.Fatal(err)
		}
		var total time.Duration
		for _, e := range m.Entries {
			total += e.Duration
		}
		if want := clock(0, 0).AddDate(0, 0, 1).Sub(wm); total != want {
			rt.Fatalf("manifest covers %v, want %v", total, want)
		}
	})
}
