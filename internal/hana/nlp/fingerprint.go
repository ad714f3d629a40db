package nlp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Sentinels used in place of absent fingerprint components.
const (
	NoTopic = "no_topic"
	NoImage = "no_image"
)

// Fingerprint is a hex SHA-256 cache key.
type Fingerprint string

// FingerprintInput lists everything that can change the reply to a prompt.
// Two requests that differ in any field must not share a cache entry.
type FingerprintInput struct {
	Prompt      string
	Topic       string
	Personality string
	Mood        string
	DeepTalk    bool
	Sulking     bool
	Image       string
}

// Fingerprint hashes a fixed-order JSON array of the inputs. The prompt is
// kept verbatim apart from surrounding whitespace.
func (in FingerprintInput) Fingerprint() Fingerprint {
	topic := in.Topic
	if topic == "" {
		topic = NoTopic
	}
	image := in.Image
	if image == "" {
		image = NoImage
	}
	// Marshalling strings and bools cannot fail.
	payload, _ := json.Marshal([]any{
		strings.TrimSpace(in.Prompt),
		topic,
		in.Personality,
		in.Mood,
		in.DeepTalk,
		in.Sulking,
		image,
	})
	sum := sha256.Sum256(payload)
	return Fingerprint(hex.EncodeToString(sum[:]))
}
