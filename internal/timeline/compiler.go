package timeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
)

// ErrInvalidConfig is returned by NewCompiler for unusable options.
var ErrInvalidConfig = errors.New("invalid compiler config")

// Options configures a Compiler.
type Options struct {
	// Location defines the broadcast day boundaries. Defaults to UTC.
	Location *time.Location

	// FillerAsset is the blank clip played over gaps.
	FillerAsset string

	// FillerChunk is the length of one filler entry. Deployments have used
	// 1s, 10s and 20s; it must be positive.
	FillerChunk time.Duration

	// Durations emits explicit "duration" directives. With durations a gap's
	// remainder becomes a short final chunk; without, the remainder is
	// rounded to the nearest whole chunk.
	Durations bool

	// AssetBaseURL prefixes relative asset references.
	AssetBaseURL string
}

// Compiler turns a sparse DaySchedule into a gapless Manifest.
type Compiler struct {
	opts Options
}

// NewCompiler validates opts and returns a Compiler.
func NewCompiler(opts Options) (*Compiler, error) {
	if opts.FillerChunk <= 0 {
		return nil, fmt.Errorf("%w: filler chunk must be positive, got %v", ErrInvalidConfig, opts.FillerChunk)
	}
	if opts.FillerAsset == "" {
		return nil, fmt.Errorf("%w: filler asset is required", ErrInvalidConfig)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Compiler{opts: opts}, nil
}

// Location returns the zone that bounds broadcast days.
func (c *Compiler) Location() *time.Location {
	return c.opts.Location
}

// Compile builds the manifest for s from watermark to the end of s.Date.
// Events starting before watermark are dropped whole. A watermark at or past
// the end of the day yields an empty manifest and no error.
func (c *Compiler) Compile(s schedule.DaySchedule, watermark time.Time) (*Manifest, error) {
	dayStart, err := schedule.ParseDate(s.Date, c.opts.Location)
	if err != nil {
		return nil, err
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	m := &Manifest{Date: s.Date, Durations: c.opts.Durations}

	cursor := watermark
	if cursor.Before(dayStart) {
		cursor = dayStart
	}
	if !cursor.Before(dayEnd) {
		return m, nil
	}

	for _, e := range s.Sorted() {
		if !e.End.After(e.Start) {
			return nil, fmt.Errorf("%w: %s", schedule.ErrInvalidEvent, e.AssetRef)
		}
		if e.Start.Before(watermark) || e.Start.Before(dayStart) || !e.Start.Before(dayEnd) {
			continue
		}
		if e.Start.Before(cursor) {
			return nil, fmt.Errorf("%w: %s starts at %s before previous end %s",
				schedule.ErrOverlap, e.AssetRef, e.Start.Format(time.RFC3339), cursor.Format(time.RFC3339))
		}

		c.fill(m, e.Start.Sub(cursor))
		m.Entries = append(m.Entries, Entry{
			Kind:     KindEvent,
			AssetRef: e.AssetRef,
			Path:     c.resolve(e.AssetRef),
			Duration: e.Duration(),
		})
		cursor = e.End
	}

	if cursor.Before(dayEnd) {
		c.fill(m, dayEnd.Sub(cursor))
	}
	return m, nil
}

// CompileToFile compiles and atomically writes the manifest to path. Nothing
// is written when compilation fails.
func (c *Compiler) CompileToFile(s schedule.DaySchedule, watermark time.Time, path string) (*Manifest, error) {
	m, err := c.Compile(s, watermark)
	if err != nil {
		return nil, err
	}
	if err := m.WriteFile(path); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Compiler) fill(m *Manifest, gap time.Duration) {
	if gap <= 0 {
		return
	}
	chunk := c.opts.FillerChunk
	n := int(gap / chunk)
	rem := gap % chunk

	for i := 0; i < n; i++ {
		m.Entries = append(m.Entries, c.filler(chunk))
	}
	switch {
	case rem == 0:
	case c.opts.Durations:
		m.Entries = append(m.Entries, c.filler(rem))
	case rem*2 >= chunk:
		m.Entries = append(m.Entries, c.filler(chunk))
	}
}

func (c *Compiler) filler(d time.Duration) Entry {
	return Entry{Kind: KindFiller, AssetRef: c.opts.FillerAsset, Path: c.opts.FillerAsset, Duration: d}
}

// resolve maps an asset reference to the locator the engine reads. URLs and
// absolute paths pass through.
func (c *Compiler) resolve(ref string) string {
	if c.opts.AssetBaseURL == "" || strings.Contains(ref, "://") || filepath.IsAbs(ref) {
		return ref
	}
	return strings.TrimRight(c.opts.AssetBaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}
