package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotKey is the preference key the serialised state is stored under.
const SnapshotKey = "interaction_state"

// Snapshot is the durable form of the interaction state.
type Snapshot struct {
	LastInteraction time.Time      `json:"last_interaction"`
	DailyCounts     map[string]int `json:"daily_counts"`
	Sulking         bool           `json:"sulking"`
	DeepTalk        bool           `json:"deep_talk"`
	Romance         bool           `json:"romance"`
	LastAffection   time.Time      `json:"last_affection"`
	Personality     string         `json:"personality"`
	Mood            string         `json:"mood"`
	Relationship    int            `json:"relationship"`
}

func (m *Machine) snapshotLocked() Snapshot {
	counts := make(map[string]int, len(m.dailyCounts))
	for k, v := range m.dailyCounts {
		counts[k] = v
	}
	return Snapshot{
		LastInteraction: m.lastInteraction,
		DailyCounts:     counts,
		Sulking:         m.sulking,
		DeepTalk:        m.deepTalk,
		Romance:         m.romance,
		LastAffection:   m.lastAffection,
		Personality:     m.personality.Key(),
		Mood:            m.Mood().Key,
		Relationship:    m.relationship,
	}
}

// PreferenceStore is the slice of the persistence store that snapshots need.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

// PreferencePersister stores snapshots as JSON in the preferences table.
type PreferencePersister struct {
	Store PreferenceStore
	// NotFound is the store's sentinel for a missing key.
	NotFound error
}

var _ Persister = (*PreferencePersister)(nil)

// SaveSnapshot serialises snap under SnapshotKey.
func (p *PreferencePersister) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}
	return p.Store.SetPreference(ctx, SnapshotKey, string(data))
}

// LoadSnapshot reads the stored snapshot. found is false on first run.
func (p *PreferencePersister) LoadSnapshot(ctx context.Context) (snap Snapshot, found bool, err error) {
	raw, err := p.Store.GetPreference(ctx, SnapshotKey)
	if err != nil {
		if p.NotFound != nil && errors.Is(err, p.NotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("state: load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("state: decode snapshot: %w", err)
	}
	return snap, true, nil
}

func errUnknownPersonality(p Personality) error {
	return fmt.Errorf("state: unknown personality %d", int(p))
}
