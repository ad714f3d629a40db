package nlp_test

import (
	"testing"

	"github.com/bdobrica/Hana/internal/hana/nlp"
)

func TestDetectSignals(t *testing.T) {
	tests := []struct {
		text          string
		wantTopic     string
		wantTone      nlp.Tone
		wantAffection bool
		wantStart     bool
		wantStop      bool
	}{
		{text: "Aku lapar banget, mau makan nasi padang", wantTopic: "food", wantTone: nlp.ToneNeutral},
		{text: "Hari ini seneng banget wkwk", wantTone: nlp.ToneHappy},
		{text: "Bos aku bikin kesel, lembur lagi!", wantTopic: "work", wantTone: nlp.ToneAngry},
		{text: "I love you, Hana", wantTopic: "love", wantTone: nlp.ToneAffectionate, wantAffection: true},
		{text: "kangen kamu...", wantTopic: "love", wantTone: nlp.ToneAffectionate, wantAffection: true},
		{text: "Boleh deep talk bentar?", wantTone: nlp.ToneNeutral, wantStart: true},
		{text: "ok stop deep talk ya", wantTone: nlp.ToneNeutral, wantStop: true},
		{text: "", wantTone: nlp.ToneNeutral},
		// Whole-word matching: "maintenance" must not match "main".
		{text: "server maintenance tonight", wantTone: nlp.ToneNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := nlp.DetectSignals(tt.text)
			if got.Topic != tt.wantTopic {
				t.Errorf("Topic = %q, want %q", got.Topic, tt.wantTopic)
			}
			if got.Tone != tt.wantTone {
				t.Errorf("Tone = %q, want %q", got.Tone, tt.wantTone)
			}
			if got.Affectionate != tt.wantAffection {
				t.Errorf("Affectionate = %v, want %v", got.Affectionate, tt.wantAffection)
			}
			if got.DeepTalkStart != tt.wantStart || got.DeepTalkStop != tt.wantStop {
				t.Errorf("deep talk start/stop = %v/%v, want %v/%v",
					got.DeepTalkStart, got.DeepTalkStop, tt.wantStart, tt.wantStop)
			}
		})
	}
}
