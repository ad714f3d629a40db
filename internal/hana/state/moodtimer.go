package state

import (
	"context"
	"time"
)

// Mood returns the current mood.
func (m *Machine) Mood() Mood {
	m.moodMu.Lock()
	defer m.moodMu.Unlock()
	return m.mood
}

// SetMood switches to next. Setting the current mood again is a no-op.
// Otherwise any pending revert is cancelled and, unless next is sticky or
// d <= 0, a single revert to NORMAL is scheduled after d. It reports whether
// the mood changed.
func (m *Machine) SetMood(next Mood, d time.Duration) bool {
	return m.setMood(next, d)
}

// setMood may be called with or without mu held; it only takes moodMu.
func (m *Machine) setMood(next Mood, d time.Duration) bool {
	m.moodMu.Lock()
	defer m.moodMu.Unlock()

	if next.Key == m.mood.Key {
		return false
	}
	if m.revert != nil {
		m.revert.Stop()
		m.revert = nil
	}

	prev := m.mood
	m.mood = next
	m.moodGen++

	if !next.Sticky() && d > 0 {
		gen := m.moodGen
		m.revert = time.AfterFunc(d, func() { m.revertMood(gen) })
	}

	m.logger.Debug("mood changed", "from", prev.Key, "to", next.Key, "duration", d)
	return true
}

// revertMood fires from the revert timer. A timer whose generation no longer
// matches was superseded by a later SetMood and does nothing. A revert is
// persisted so a restart does not bring the expired mood back.
func (m *Machine) revertMood(gen uint64) {
	m.moodMu.Lock()
	if gen != m.moodGen {
		m.moodMu.Unlock()
		return
	}
	prev := m.mood
	m.mood = MoodNormal
	m.moodGen++
	m.revert = nil
	m.moodMu.Unlock()
	m.logger.Debug("mood reverted", "from", prev.Key)

	// moodMu is released first: the lock order is mu before moodMu.
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.save(context.Background(), snap)
}
