package state

import (
	"context"
	"time"
)

// NotificationKind identifies a state transition worth telling the owner
// about.
type NotificationKind string

const (
	NotifyNone        NotificationKind = ""
	NotifySulkStarted NotificationKind = "sulk_started"
	NotifySulkEnded   NotificationKind = "sulk_ended"
)

// Notification describes a sulk transition.
type Notification struct {
	Kind       NotificationKind
	Mood       Mood
	At         time.Time
	DaysAbsent int
}

// Notifier delivers transition notifications, usually as a chat message.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// EvaluateSulk runs one sulk check at now.
//
// Not sulking and at least SulkEnterDays whole days since the last
// interaction: enter the sulk with mood ANGRY. Sulking and each of the last
// SulkExitDays calendar days (today included) has at least SulkMinDailyChats
// interactions: leave it with a random mood other than CALM and reset the
// counters. Counters older than SulkEnterDays+1 days are pruned on every
// call, unless SulkExitDays needs a longer record. A transition sends exactly one notification; calling again without
// any new input returns NotifyNone.
func (m *Machine) EvaluateSulk(ctx context.Context, now time.Time, notifier Notifier) NotificationKind {
	m.mu.Lock()
	pruned := m.pruneCountsLocked(now)

	if !m.cfg.Features.Sulk {
		changed := m.applyFeaturesLocked()
		snap := m.snapshotLocked()
		m.mu.Unlock()
		if changed || pruned {
			m.save(ctx, snap)
		}
		return NotifyNone
	}

	n := Notification{At: now}
	switch {
	case !m.sulking && !m.lastInteraction.IsZero():
		days := int(now.Sub(m.lastInteraction) / (24 * time.Hour))
		if days < m.cfg.SulkEnterDays {
			break
		}
		m.sulking = true
		if m.cfg.Features.Relationship {
			m.relationship = clamp(m.relationship-AbsencePenalty*days, 0, MaxRelationship)
		}
		m.setMood(MoodAngry, 0)
		n.Kind = NotifySulkStarted
		n.Mood = MoodAngry
		n.DaysAbsent = days

	case m.sulking && m.sustainedLocked(now):
		m.sulking = false
		m.dailyCounts = make(map[string]int)
		next := m.randomExitMood()
		// Reset first so a draw of ANGRY still gets a revert timer.
		m.setMood(MoodNormal, 0)
		m.setMood(next, m.cfg.MoodDuration)
		n.Kind = NotifySulkEnded
		n.Mood = next
	}

	snap := m.snapshotLocked()
	m.mu.Unlock()

	if n.Kind == NotifyNone {
		if pruned {
			m.save(ctx, snap)
		}
		return NotifyNone
	}

	m.save(ctx, snap)
	m.logger.Info("sulk transition", "kind", string(n.Kind), "mood", n.Mood.Key, "days_absent", n.DaysAbsent)
	if notifier != nil {
		if err := notifier.Notify(ctx, n); err != nil {
			m.logger.Warn("sulk notification failed", "kind", string(n.Kind), "err", err)
		}
	}
	return n.Kind
}

// sustainedLocked reports whether every one of the last SulkExitDays
// calendar days, today included, reached SulkMinDailyChats.
func (m *Machine) sustainedLocked(now time.Time) bool {
	local := now.In(m.cfg.Location)
	for i := range m.cfg.SulkExitDays {
		if m.dailyCounts[local.AddDate(0, 0, -i).Format(dayLayout)] < m.cfg.SulkMinDailyChats {
			return false
		}
	}
	return true
}

// pruneCountsLocked drops counters for days older than SulkEnterDays+1 days
// and any key that does not parse as a date. The horizon never cuts into the
// SulkExitDays window that sustainedLocked reads.
func (m *Machine) pruneCountsLocked(now time.Time) bool {
	local := now.In(m.cfg.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.cfg.Location)
	horizon := max(m.cfg.SulkEnterDays+1, m.cfg.SulkExitDays-1)
	oldest := today.AddDate(0, 0, -horizon)

	pruned := false
	for k := range m.dailyCounts {
		day, err := time.ParseInLocation(dayLayout, k, m.cfg.Location)
		if err != nil || day.Before(oldest) {
			delete(m.dailyCounts, k)
			pruned = true
		}
	}
	return pruned
}

func (m *Machine) randomExitMood() Mood {
	candidates := make([]Mood, 0, len(catalogue))
	for _, mood := range catalogue {
		if mood.Key != MoodCalm.Key {
			candidates = append(candidates, mood)
		}
	}
	return candidates[m.cfg.Rand(len(candidates))]
}
