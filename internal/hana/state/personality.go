package state

import (
	"fmt"
	"strings"
)

// Personality selects the behavioural style injected into every prompt.
type Personality int

const (
	// Tsundere acts cold and prickly while caring underneath.
	Tsundere Personality = iota
	// Deredere is openly warm and affectionate.
	Deredere
)

// Key is the stable identifier used in fingerprints and persisted state.
func (p Personality) Key() string {
	switch p {
	case Tsundere:
		return "tsundere"
	case Deredere:
		return "deredere"
	}
	return fmt.Sprintf("personality(%d)", int(p))
}

func (p Personality) String() string { return p.Key() }

// Valid reports whether p is a known personality.
func (p Personality) Valid() bool {
	return p == Tsundere || p == Deredere
}

// ParsePersonality accepts a key (case-insensitive).
func ParsePersonality(s string) (Personality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tsundere":
		return Tsundere, nil
	case "deredere":
		return Deredere, nil
	}
	return Tsundere, fmt.Errorf("state: unknown personality %q", s)
}
