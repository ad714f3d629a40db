package nlp

import (
	"strings"
	"unicode"
)

// Tone is the coarse emotional register of a message.
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneHappy        Tone = "happy"
	ToneSad          Tone = "sad"
	ToneAngry        Tone = "angry"
	ToneAffectionate Tone = "affectionate"
)

// Signals is what DetectSignals extracts from one message.
type Signals struct {
	// Topic is the first matching topic, or "" when none matched.
	Topic         string
	Tone          Tone
	Affectionate  bool
	DeepTalkStart bool
	DeepTalkStop  bool
}

type keywordSet struct {
	name     string
	keywords []string
}

// Ordered so that the more specific topic wins when several match.
var topicTable = []keywordSet{
	{"love", []string{"sayang", "cinta", "kangen", "rindu", "pacar", "love", "miss you", "crush"}},
	{"health", []string{"sakit", "pusing", "demam", "dokter", "obat", "sick", "fever", "headache", "doctor"}},
	{"food", []string{"makan", "lapar", "nasi", "masak", "kopi", "jajan", "eat", "hungry", "food", "lunch", "dinner", "breakfast", "coffee"}},
	{"work", []string{"kerja", "kantor", "bos", "lembur", "gaji", "meeting", "deadline", "office", "work", "boss"}},
	{"study", []string{"kuliah", "sekolah", "tugas", "ujian", "skripsi", "dosen", "exam", "homework", "class", "study"}},
	{"weather", []string{"hujan", "panas", "cuaca", "banjir", "gerah", "rain", "weather", "hot", "cold"}},
	{"music", []string{"lagu", "musik", "nyanyi", "konser", "song", "music", "playlist", "concert"}},
	{"games", []string{"game", "main", "mabar", "rank", "gaming", "play"}},
	{"sleep", []string{"tidur", "ngantuk", "begadang", "insomnia", "sleep", "sleepy", "tired"}},
}

var toneTable = []struct {
	tone     Tone
	keywords []string
}{
	{ToneAffectionate, []string{"sayang kamu", "love you", "cinta kamu", "kangen kamu", "miss you", "peluk", "hug", "muach", "sayangku"}},
	{ToneAngry, []string{"kesal", "kesel", "marah", "benci", "sebel", "bete", "angry", "annoyed", "hate", "mad"}},
	{ToneSad, []string{"sedih", "nangis", "galau", "kecewa", "capek", "lelah", "sad", "cry", "lonely", "upset"}},
	{ToneHappy, []string{"senang", "seneng", "bahagia", "asik", "yay", "haha", "wkwk", "happy", "great", "awesome"}},
}

var (
	deepTalkStop  = []string{"stop deep talk", "udahan deep talk", "selesai deep talk", "end deep talk", "udahan curhat", "selesai curhat"}
	deepTalkStart = []string{"deep talk", "mau curhat", "aku mau cerita", "serious talk", "ngobrol serius", "curhat dong"}
)

// DetectSignals classifies text with fixed keyword tables. Matching is
// case-insensitive and on whole words or phrases.
func DetectSignals(text string) Signals {
	norm := normalise(text)
	s := Signals{Tone: ToneNeutral}

	for _, t := range topicTable {
		if containsAny(norm, t.keywords) {
			s.Topic = t.name
			break
		}
	}
	for _, t := range toneTable {
		if containsAny(norm, t.keywords) {
			s.Tone = t.tone
			break
		}
	}
	s.Affectionate = s.Tone == ToneAffectionate

	if containsAny(norm, deepTalkStop) {
		s.DeepTalkStop = true
	} else if containsAny(norm, deepTalkStart) {
		s.DeepTalkStart = true
	}
	return s
}

// normalise lowercases text, replaces every non letter/digit run with a
// single space and pads both ends so " word " matches whole words only.
func normalise(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) + 2)
	sb.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	if !space {
		sb.WriteByte(' ')
	}
	return sb.String()
}

func containsAny(norm string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(norm, " "+p+" ") {
			return true
		}
	}
	return false
}
