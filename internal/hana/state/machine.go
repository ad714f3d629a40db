// Package state holds Hana's live interaction state: counters, the sulk,
// deep-talk and romance flags, personality, relationship score and mood.
//
// Two mutexes guard it. mu covers every counter and flag; moodMu covers the
// current mood and its revert timer. Code that needs both always takes mu
// first.
package state

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultSulkEnterDays     = 2
	DefaultSulkExitDays      = 2
	DefaultSulkMinDailyChats = 6
	DefaultMoodDuration      = 2 * time.Hour
	DefaultRomanceMood       = 3 * time.Hour
	DefaultRomanceDecay      = 6 * time.Hour

	// MaxRelationship caps the relationship score.
	MaxRelationship = 1000
	// AbsencePenalty is subtracted per whole day of absence on sulk entry.
	AbsencePenalty = 5

	dayLayout = "2006-01-02"
)

// Features toggles the optional state behaviours. A disabled feature keeps
// its flag forced to false.
type Features struct {
	Sulk         bool
	Romance      bool
	Relationship bool
}

// Config parameterises a Machine. Zero values select the defaults.
type Config struct {
	Features Features

	// Location defines calendar-day boundaries for the daily counters.
	Location *time.Location

	SulkEnterDays     int
	SulkExitDays      int
	SulkMinDailyChats int

	// MoodDuration is how long a non-sticky mood lasts before reverting.
	MoodDuration time.Duration
	// RomanceMood is how long LOVING lasts after an affectionate message.
	RomanceMood time.Duration
	// RomanceDecay ends a romance session after this long without affection.
	RomanceDecay time.Duration

	// Rand returns a pseudo-random int in [0, n). Defaults to math/rand/v2.
	Rand func(n int) int

	Logger *slog.Logger
}

// Persister stores state snapshots durably.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Machine is the single live interaction state of the deployment.
type Machine struct {
	cfg     Config
	persist Persister
	logger  *slog.Logger

	mu              sync.Mutex
	lastInteraction time.Time
	dailyCounts     map[string]int
	sulking         bool
	deepTalk        bool
	romance         bool
	lastAffection   time.Time
	personality     Personality
	relationship    int

	moodMu  sync.Mutex
	mood    Mood
	revert  *time.Timer
	moodGen uint64
}

// New creates a Machine in its initial state: NORMAL mood, Tsundere, no
// flags. persist may be nil.
func New(cfg Config, persist Persister) *Machine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.SulkEnterDays <= 0 {
		cfg.SulkEnterDays = DefaultSulkEnterDays
	}
	if cfg.SulkExitDays <= 0 {
		cfg.SulkExitDays = DefaultSulkExitDays
	}
	if cfg.SulkMinDailyChats <= 0 {
		cfg.SulkMinDailyChats = DefaultSulkMinDailyChats
	}
	if cfg.MoodDuration <= 0 {
		cfg.MoodDuration = DefaultMoodDuration
	}
	if cfg.RomanceMood <= 0 {
		cfg.RomanceMood = DefaultRomanceMood
	}
	if cfg.RomanceDecay <= 0 {
		cfg.RomanceDecay = DefaultRomanceDecay
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.IntN
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{
		cfg:         cfg,
		persist:     persist,
		logger:      cfg.Logger,
		dailyCounts: make(map[string]int),
		personality: Tsundere,
		mood:        MoodNormal,
	}
}

// Features returns the resolved feature toggles.
func (m *Machine) Features() Features { return m.cfg.Features }

// Restore replaces the live state with snap, typically the snapshot loaded
// at startup. Disabled features are forced off afterwards.
func (m *Machine) Restore(ctx context.Context, snap Snapshot) {
	m.mu.Lock()
	m.lastInteraction = snap.LastInteraction
	m.dailyCounts = make(map[string]int, len(snap.DailyCounts))
	for k, v := range snap.DailyCounts {
		m.dailyCounts[k] = v
	}
	m.sulking = snap.Sulking
	m.deepTalk = snap.DeepTalk
	m.romance = snap.Romance
	m.lastAffection = snap.LastAffection
	if p, err := ParsePersonality(snap.Personality); err == nil {
		m.personality = p
	}
	m.relationship = clamp(snap.Relationship, 0, MaxRelationship)

	mood, ok := MoodByKey(snap.Mood)
	if !ok {
		mood = MoodNormal
	}
	if m.sulking {
		mood = MoodAngry
	}
	d := m.cfg.MoodDuration
	if m.sulking {
		d = 0
	}
	m.setMood(mood, d)
	m.mu.Unlock()

	m.ApplyFeatures(ctx)
}

// ApplyFeatures forces the flags of disabled features to false and persists
// the result when anything changed.
func (m *Machine) ApplyFeatures(ctx context.Context) {
	m.mu.Lock()
	changed := m.applyFeaturesLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if changed {
		m.save(ctx, snap)
	}
}

func (m *Machine) applyFeaturesLocked() bool {
	changed := false
	if !m.cfg.Features.Sulk && m.sulking {
		m.sulking = false
		m.setMood(MoodNormal, 0)
		changed = true
	}
	if !m.cfg.Features.Romance && m.romance {
		m.romance = false
		changed = true
	}
	return changed
}

// RecordInteraction stamps the last interaction time and bumps today's
// counter. With relationship scoring enabled it also adds one point.
func (m *Machine) RecordInteraction(ctx context.Context, now time.Time) {
	m.mu.Lock()
	m.lastInteraction = now
	m.dailyCounts[m.dayKey(now)]++
	if m.cfg.Features.Relationship && m.relationship < MaxRelationship {
		m.relationship++
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.save(ctx, snap)
}

// SetDeepTalk toggles deep-talk mode and reports whether it changed.
func (m *Machine) SetDeepTalk(ctx context.Context, on bool) bool {
	m.mu.Lock()
	if m.deepTalk == on {
		m.mu.Unlock()
		return false
	}
	m.deepTalk = on
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.save(ctx, snap)
	return true
}

// Personality returns the active personality.
func (m *Machine) Personality() Personality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.personality
}

// SetPersonality switches personality. Unknown values are rejected.
func (m *Machine) SetPersonality(ctx context.Context, p Personality) error {
	if !p.Valid() {
		return errUnknownPersonality(p)
	}
	m.mu.Lock()
	if m.personality == p {
		m.mu.Unlock()
		return nil
	}
	m.personality = p
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.save(ctx, snap)
	return nil
}

// NoteAffection records an affectionate message. With romance enabled it
// starts (or extends) a romance session and sets LOVING unless sulking. It
// reports whether the session was newly started.
func (m *Machine) NoteAffection(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	if !m.cfg.Features.Romance {
		m.mu.Unlock()
		return false
	}
	started := !m.romance
	m.romance = true
	m.lastAffection = now
	if !m.sulking {
		m.setMood(MoodLoving, m.cfg.RomanceMood)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.save(ctx, snap)
	return started
}

// EvaluateRomance ends a romance session once RomanceDecay has passed since
// the last affectionate message. It reports whether the session ended.
func (m *Machine) EvaluateRomance(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	if !m.romance || now.Sub(m.lastAffection) < m.cfg.RomanceDecay {
		m.mu.Unlock()
		return false
	}
	m.romance = false
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("romance session decayed", "last_affection", snap.LastAffection)
	m.save(ctx, snap)
	return true
}

// NudgeMood applies a conversational mood change unless Hana is sulking,
// in which case ANGRY holds until the sulk ends.
func (m *Machine) NudgeMood(next Mood, d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sulking {
		return false
	}
	return m.setMood(next, d)
}

// Snapshot returns a deep copy of the current state for persistence.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// View is a read-only projection used by the prompt assembler and the
// status endpoint.
type View struct {
	Mood                Mood
	Personality         Personality
	Sulking             bool
	DeepTalk            bool
	Romance             bool
	RelationshipEnabled bool
	Relationship        int
	LastInteraction     time.Time
	TodayCount          int
}

// RelationshipLevel names the bracket of the current score.
func (v View) RelationshipLevel() string {
	return RelationshipLevel(v.Relationship)
}

// View returns a consistent copy of the live state.
func (m *Machine) View(now time.Time) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		Mood:                m.Mood(),
		Personality:         m.personality,
		Sulking:             m.sulking,
		DeepTalk:            m.deepTalk,
		Romance:             m.romance,
		RelationshipEnabled: m.cfg.Features.Relationship,
		Relationship:        m.relationship,
		LastInteraction:     m.lastInteraction,
		TodayCount:          m.dailyCounts[m.dayKey(now)],
	}
}

// RelationshipLevel maps a score to its named bracket.
func RelationshipLevel(score int) string {
	switch {
	case score < 50:
		return "stranger"
	case score < 200:
		return "friend"
	case score < 500:
		return "close"
	default:
		return "beloved"
	}
}

// Close stops any pending mood revert timer.
func (m *Machine) Close() {
	m.moodMu.Lock()
	defer m.moodMu.Unlock()
	if m.revert != nil {
		m.revert.Stop()
		m.revert = nil
	}
	m.moodGen++
}

func (m *Machine) dayKey(t time.Time) string {
	return t.In(m.cfg.Location).Format(dayLayout)
}

func (m *Machine) save(ctx context.Context, snap Snapshot) {
	if m.persist == nil {
		return
	}
	if err := m.persist.SaveSnapshot(ctx, snap); err != nil {
		m.logger.Warn("failed to persist interaction state", "err", err)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
