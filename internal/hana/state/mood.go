package state

// Mood is one entry of the fixed mood catalogue.
type Mood struct {
	Key   string
	Label string
	Glyph string
}

var (
	MoodNormal  = Mood{Key: "normal", Label: "Normal", Glyph: "🙂"}
	MoodHappy   = Mood{Key: "happy", Label: "Senang", Glyph: "😊"}
	MoodSad     = Mood{Key: "sad", Label: "Sedih", Glyph: "😢"}
	MoodAngry   = Mood{Key: "angry", Label: "Ngambek", Glyph: "😠"}
	MoodJealous = Mood{Key: "jealous", Label: "Cemburu", Glyph: "😒"}
	MoodLazy    = Mood{Key: "lazy", Label: "Mager", Glyph: "😪"}
	MoodCalm    = Mood{Key: "calm", Label: "Tenang", Glyph: "😌"}
	MoodLoving  = Mood{Key: "loving", Label: "Sayang", Glyph: "🥰"}
	MoodShy     = Mood{Key: "shy", Label: "Malu", Glyph: "😳"}
	MoodExcited = Mood{Key: "excited", Label: "Semangat", Glyph: "🤩"}
)

var catalogue = []Mood{
	MoodNormal, MoodHappy, MoodSad, MoodAngry, MoodJealous,
	MoodLazy, MoodCalm, MoodLoving, MoodShy, MoodExcited,
}

// Moods returns a copy of the catalogue in declaration order.
func Moods() []Mood {
	out := make([]Mood, len(catalogue))
	copy(out, catalogue)
	return out
}

// MoodByKey looks up a catalogue mood.
func MoodByKey(key string) (Mood, bool) {
	for _, m := range catalogue {
		if m.Key == key {
			return m, true
		}
	}
	return Mood{}, false
}

// Sticky moods never schedule an automatic revert.
func (m Mood) Sticky() bool {
	return m.Key == MoodNormal.Key || m.Key == MoodCalm.Key
}

func (m Mood) String() string {
	return m.Glyph + " " + m.Label
}
