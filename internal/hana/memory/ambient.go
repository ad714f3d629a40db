package memory

import (
	"context"
	"time"
)

// AmbientSource supplies one line of situational context. ok is false when
// the source has nothing to say right now; the line is then omitted.
type AmbientSource interface {
	Fetch(ctx context.Context) (line string, ok bool)
}

// ClockSource reports the local date and time.
type ClockSource struct {
	Location *time.Location
	Now      func() time.Time
}

var indonesianDays = [...]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"}

// Fetch always succeeds.
func (c ClockSource) Fetch(context.Context) (string, bool) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	t := now().In(loc)
	return "Local time: " + indonesianDays[t.Weekday()] + ", " + t.Format("2 January 2006 15:04 MST") +
		" (" + partOfDay(t.Hour()) + ")", true
}

func partOfDay(hour int) string {
	switch {
	case hour < 5:
		return "dini hari"
	case hour < 11:
		return "pagi"
	case hour < 15:
		return "siang"
	case hour < 19:
		return "sore"
	default:
		return "malam"
	}
}

// SleepWindow is the nightly span during which Hana answers with a static
// reply. StartHour == EndHour disables it; StartHour > EndHour wraps past
// midnight.
type SleepWindow struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contains reports whether t falls inside the window.
func (w SleepWindow) Contains(t time.Time) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	h := t.In(loc).Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}
