package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the broadcast date format used for keys and URLs.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid broadcast date")

	// ErrInvalidEvent is returned for an event whose end is not after its start
	// or whose asset reference is empty.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDuplicate is returned when two events share asset reference and start time.
	ErrDuplicate = errors.New("duplicate event")

	// ErrOverlap is returned when an event starts before the previous one ends.
	ErrOverlap = errors.New("overlapping events")

	// ErrEventNotFound is returned by RemoveEvent for an unknown event.
	ErrEventNotFound = errors.New("event not found")
)

// Event is one scheduled play of an asset.
type Event struct {
	AssetRef string    `json:"asset_ref"`
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// DaySchedule is the set of events for one broadcast date.
type DaySchedule struct {
	Date   string  `json:"date"`
	Events []Event `json:"events"`
}

// ParseDate validates a YYYY-MM-DD date and returns its midnight in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

// Sorted returns a copy of the events ordered by start time, then asset.
func (s DaySchedule) Sorted() []Event {
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].AssetRef < out[j].AssetRef
	})
	return out
}

func (e Event) validate() error {
	if e.AssetRef == "" {
		return fmt.Errorf("%w: empty asset reference", ErrInvalidEvent)
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("%w: %s ends at or before its start", ErrInvalidEvent, e.AssetRef)
	}
	return nil
}

// WithinDay reports ErrInvalidEvent unless e lies entirely inside the
// broadcast day starting at dayStart. An event may end exactly at the next
// midnight but not after it.
func (e Event) WithinDay(dayStart time.Time) error {
	dayEnd := dayStart.AddDate(0, 0, 1)
	if e.Start.Before(dayStart) || !e.Start.Before(dayEnd) {
		return fmt.Errorf("%w: %s starts outside %s", ErrInvalidEvent, e.AssetRef, dayStart.Format(DateLayout))
	}
	if e.End.After(dayEnd) {
		return fmt.Errorf("%w: %s runs past midnight", ErrInvalidEvent, e.AssetRef)
	}
	return nil
}

// Validate enforces the write-time invariants: a valid date, End > Start for
// every event, unique (asset, start) pairs and no overlap between
// consecutive events. Back-to-back events (End == next Start) are allowed.
func (s DaySchedule) Validate() error {
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, s.Date)
	}
	for _, e := range s.Events {
		if err := e.validate(); err != nil {
			return err
		}
	}

	events := s.Sorted()
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if prev.AssetRef == cur.AssetRef && prev.Start.Equal(cur.Start) {
			return fmt.Errorf("%w: %s at %s", ErrDuplicate, cur.AssetRef, cur.Start.Format(time.RFC3339))
		}
		if cur.Start.Before(prev.End) {
			return fmt.Errorf("%w: %s starts before %s ends", ErrOverlap, cur.AssetRef, prev.AssetRef)
		}
	}
	return nil
}

// ValidateIn runs Validate and additionally requires every event to fall
// within the schedule's own date in loc.
func (s DaySchedule) ValidateIn(loc *time.Location) error {
	if err := s.Validate(); err != nil {
		return err
	}
	dayStart, err := ParseDate(s.Date, loc)
	if err != nil {
		return err
	}
	for _, e := range s.Events {
		if err := e.WithinDay(dayStart); err != nil {
			return err
		}
	}
	return nil
}
