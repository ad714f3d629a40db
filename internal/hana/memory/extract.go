package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Hana/internal/hana/store"
)

// Priorities assigned by KeywordExtractor.
const (
	PriorityExplicit   = 90
	PriorityPreference = 60
)

const maxFactRunes = 280

// Extractor decides whether a user message is worth keeping long-term.
type Extractor interface {
	Extract(text string, now time.Time) (store.LTMEntry, bool)
}

// KeywordExtractor recognises explicit "remember this" requests and
// statements about the owner's identity or preferences.
type KeywordExtractor struct{}

var _ Extractor = KeywordExtractor{}

// Explicit requests; the fact is the text after the phrase.
var rememberPhrases = []string{
	"tolong ingat", "ingat ya", "ingat", "jangan lupa", "catat ya", "catat",
	"please remember", "remember that", "remember",
}

// Identity facts keyed so that a newer statement replaces the older one.
var identityPhrases = []struct {
	slot    string
	phrases []string
}{
	{"name", []string{"nama aku", "namaku", "my name is"}},
	{"birthday", []string{"ulang tahun aku", "ultah aku", "ulang tahunku", "my birthday"}},
	{"work", []string{"aku kerja di", "aku kerja sebagai", "i work at", "i work as"}},
	{"home", []string{"aku tinggal di", "rumahku di", "i live in"}},
}

// Preferences keyed by content, so several can coexist.
var preferencePhrases = []string{
	"aku suka", "aku ga suka", "aku gak suka", "aku nggak suka", "aku tidak suka",
	"aku benci", "favoritku", "favorit aku", "aku alergi",
	"i like", "i love", "i hate", "i don't like", "my favorite", "i'm allergic",
}

// Extract applies the phrase tables in order: explicit, identity,
// preference. Anything else is not retained.
func (KeywordExtractor) Extract(text string, now time.Time) (store.LTMEntry, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if lower == "" {
		return store.LTMEntry{}, false
	}

	for _, p := range rememberPhrases {
		if !strings.HasPrefix(lower, p+" ") && !strings.HasPrefix(lower, p+",") && !strings.HasPrefix(lower, p+":") {
			continue
		}
		value := strings.TrimLeft(trimmed[len(p):], " ,:")
		value = strings.TrimPrefix(value, "kalau ")
		value = strings.TrimPrefix(value, "bahwa ")
		if value == "" {
			return store.LTMEntry{}, false
		}
		value = clip(value)
		return store.LTMEntry{
			Key:       "explicit:" + digest(value),
			Value:     value,
			Priority:  PriorityExplicit,
			CreatedAt: now,
		}, true
	}

	for _, slot := range identityPhrases {
		for _, p := range slot.phrases {
			if containsPhrase(lower, p) {
				return store.LTMEntry{
					Key:       "identity:" + slot.slot,
					Value:     clip(trimmed),
					Priority:  PriorityPreference,
					CreatedAt: now,
				}, true
			}
		}
	}

	for _, p := range preferencePhrases {
		if containsPhrase(lower, p) {
			value := clip(trimmed)
			return store.LTMEntry{
				Key:       "preference:" + digest(value),
				Value:     value,
				Priority:  PriorityPreference,
				CreatedAt: now,
			}, true
		}
	}

	return store.LTMEntry{}, false
}

func containsPhrase(lower, phrase string) bool {
	return strings.HasPrefix(lower, phrase+" ") || strings.Contains(lower, " "+phrase+" ")
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxFactRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxFactRunes])
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(s)))
	return hex.EncodeToString(sum[:8])
}
