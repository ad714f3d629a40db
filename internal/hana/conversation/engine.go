// Package conversation turns one inbound owner message into one reply.
//
// The order of the pipeline matters:
//
//	validate → record interaction → sleep window → signals → rate limit →
//	fingerprint → history → cache → assemble → inference → cache + history
//
// The sleep window answers before any rate-limit, cache or inference work.
// A cache hit never reaches the provider. Failed inference is answered with
// a fallback phrase that is never cached. The owner never sees a raw error.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Hana/common/trace"
	"github.com/bdobrica/Hana/internal/hana/config"
	"github.com/bdobrica/Hana/internal/hana/memory"
	"github.com/bdobrica/Hana/internal/hana/nlp"
	"github.com/bdobrica/Hana/internal/hana/report"
	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

// Defaults applied when the corresponding Options field is zero.
const (
	DefaultInferenceTimeout = 30 * time.Second
	DefaultMaxMessageRunes  = 2000
	DefaultMoodDuration     = 2 * time.Hour
)

// imagePlaceholder stands in for the text of an image-only message.
const imagePlaceholder = "[gambar] "

// Outcome classifies how a reply was produced.
type Outcome string

const (
	OutcomeReply     Outcome = "reply"
	OutcomeCached    Outcome = "cached"
	OutcomeSleeping  Outcome = "sleeping"
	OutcomeThrottled Outcome = "throttled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFallback  Outcome = "fallback"
)

// Inbound is one message from the owner.
type Inbound struct {
	RequesterID string
	Text        string
	// Image describes an attached image (caption or file name); empty when
	// there is none.
	Image string
}

// Reply is the text to send back.
type Reply struct {
	Text    string
	Outcome Outcome
}

// StateMachine is the slice of state.Machine the engine drives.
type StateMachine interface {
	RecordInteraction(ctx context.Context, now time.Time)
	SetDeepTalk(ctx context.Context, on bool) bool
	NoteAffection(ctx context.Context, now time.Time) bool
	NudgeMood(next state.Mood, d time.Duration) bool
	View(now time.Time) state.View
	Features() state.Features
}

// HistoryWriter appends to the rolling history.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, msg store.HistoryMessage) (store.HistoryMessage, error)
}

// FactWriter stores long-term facts.
type FactWriter interface {
	UpsertLTM(ctx context.Context, e store.LTMEntry) (store.LTMEntry, error)
}

// Limiter decides whether a requester is over its budget.
type Limiter interface {
	ShouldThrottle(requesterID string) bool
}

// Cache stores replies by context fingerprint.
type Cache interface {
	Lookup(fp nlp.Fingerprint) (string, bool)
	Store(fp nlp.Fingerprint, reply string)
}

// PromptAssembler builds the inference request.
type PromptAssembler interface {
	Assemble(ctx context.Context, req memory.Request) nlp.CompletionRequest
}

// Options wires an Engine. State, History, Limiter, Cache, Provider and
// Assembler are required.
type Options struct {
	State     StateMachine
	History   HistoryWriter
	Limiter   Limiter
	Cache     Cache
	Provider  nlp.Provider
	Assembler PromptAssembler

	// Facts and Extractor enable long-term memory when both are set.
	Facts     FactWriter
	Extractor memory.Extractor

	Persona config.Persona
	Sleep   memory.SleepWindow
	// Vision allows image messages; without it they get a canned reply.
	Vision bool

	MaxMessageRunes  int
	InferenceTimeout time.Duration
	MoodDuration     time.Duration

	Metrics  *nlp.Metrics
	Reporter report.Reporter
	Logger   *slog.Logger
	Now      func() time.Time
	// Rand picks persona phrases; it returns a value in [0, n).
	Rand func(n int) int
}

// Engine runs the reply pipeline. It is safe for concurrent use.
type Engine struct {
	opts Options
}

// New returns an Engine with defaults filled in.
func New(opts Options) *Engine {
	if opts.MaxMessageRunes <= 0 {
		opts.MaxMessageRunes = DefaultMaxMessageRunes
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = DefaultInferenceTimeout
	}
	if opts.MoodDuration <= 0 {
		opts.MoodDuration = DefaultMoodDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = report.LogReporter{Logger: opts.Logger}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.IntN
	}
	return &Engine{opts: opts}
}

// Respond produces the reply for in.
func (e *Engine) Respond(ctx context.Context, in Inbound) Reply {
	ctx, traceID := trace.Ensure(ctx)
	logger := e.opts.Logger.With("trace_id", traceID, "requester", in.RequesterID)

	text := strings.TrimSpace(in.Text)
	if r, ok := e.validate(text, in.Image); !ok {
		logger.Info("conversation: message rejected", "runes", utf8.RuneCountInString(text))
		return r
	}

	now := e.opts.Now()
	e.opts.State.RecordInteraction(ctx, now)

	if e.opts.Sleep.Contains(now) {
		logger.Debug("conversation: sleeping")
		return Reply{Text: e.pick(e.opts.Persona.Replies.Sleep), Outcome: OutcomeSleeping}
	}

	content := text
	if content == "" {
		content = imagePlaceholder + in.Image
	}

	sig := nlp.DetectSignals(text)
	e.applySignals(ctx, now, sig)

	if e.opts.Limiter.ShouldThrottle(in.RequesterID) {
		logger.Info("conversation: throttled")
		return Reply{Text: e.pick(e.opts.Persona.Replies.RateLimited), Outcome: OutcomeThrottled}
	}

	view := e.opts.State.View(now)
	fp := nlp.FingerprintInput{
		Prompt:      text,
		Topic:       sig.Topic,
		Personality: view.Personality.Key(),
		Mood:        view.Mood.Key,
		DeepTalk:    view.DeepTalk,
		Sulking:     view.Sulking,
		Image:       in.Image,
	}.Fingerprint()

	msgCtx := store.MessageContext{Topic: sig.Topic, Tone: string(sig.Tone)}
	userMsg, err := e.opts.History.AppendHistory(ctx, store.HistoryMessage{
		Role:        store.RoleUser,
		Content:     content,
		Timestamp:   now,
		RequesterID: in.RequesterID,
		Context:     msgCtx,
	})
	if err != nil {
		logger.Warn("conversation: history append failed", "err", err)
		e.opts.Reporter.ReportException(ctx, err, map[string]any{"stage": "history_user"})
	}
	e.remember(ctx, logger, text, now)

	if cached, ok := e.opts.Cache.Lookup(fp); ok {
		logger.Debug("conversation: cache hit")
		e.appendAssistant(ctx, logger, cached, in.RequesterID, msgCtx)
		return Reply{Text: cached, Outcome: OutcomeCached}
	}

	req := e.opts.Assembler.Assemble(ctx, memory.Request{
		Message:   content,
		MessageID: userMsg.ID,
		Image:     in.Image,
		State:     view,
	})

	reply, err := e.infer(ctx, req)
	if err != nil {
		logger.Error("conversation: inference failed", "err", err)
		e.opts.Reporter.ReportException(ctx, err, map[string]any{
			"stage": "inference",
			"topic": sig.Topic,
			"mood":  view.Mood.Key,
		})
		return Reply{Text: e.pick(e.opts.Persona.Replies.Fallback), Outcome: OutcomeFallback}
	}

	e.opts.Cache.Store(fp, reply)
	e.appendAssistant(ctx, logger, reply, in.RequesterID, msgCtx)
	return Reply{Text: reply, Outcome: OutcomeReply}
}

func (e *Engine) validate(text, image string) (Reply, bool) {
	switch {
	case text == "" && image == "":
		return Reply{Text: e.opts.Persona.Replies.Empty, Outcome: OutcomeRejected}, false
	case utf8.RuneCountInString(text) > e.opts.MaxMessageRunes:
		return Reply{Text: e.opts.Persona.Replies.TooLong, Outcome: OutcomeRejected}, false
	case image != "" && !e.opts.Vision:
		return Reply{Text: e.opts.Persona.Replies.ImageUnsupported, Outcome: OutcomeRejected}, false
	}
	return Reply{}, true
}

// applySignals turns detected cues into state changes. Deep-talk stop wins
// over start; affection goes through the romance gate; other tones nudge
// the mood for MoodDuration.
func (e *Engine) applySignals(ctx context.Context, now time.Time, sig nlp.Signals) {
	switch {
	case sig.DeepTalkStop:
		e.opts.State.SetDeepTalk(ctx, false)
	case sig.DeepTalkStart:
		e.opts.State.SetDeepTalk(ctx, true)
	}

	if sig.Affectionate && e.opts.State.Features().Romance {
		e.opts.State.NoteAffection(ctx, now)
		return
	}
	if mood, ok := moodForTone(sig.Tone); ok {
		e.opts.State.NudgeMood(mood, e.opts.MoodDuration)
	}
}

// moodForTone maps the owner's tone to the mood Hana answers in.
func moodForTone(t nlp.Tone) (state.Mood, bool) {
	switch t {
	case nlp.ToneHappy:
		return state.MoodHappy, true
	case nlp.ToneSad:
		return state.MoodSad, true
	case nlp.ToneAngry:
		return state.MoodSad, true
	case nlp.ToneAffectionate:
		return state.MoodShy, true
	}
	return state.Mood{}, false
}

func (e *Engine) infer(ctx context.Context, req nlp.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.InferenceTimeout)
	defer cancel()

	start := e.opts.Now()
	reply, err := e.opts.Provider.Complete(ctx, req)
	took := e.opts.Now().Sub(start)

	if err == nil && strings.TrimSpace(reply) == "" {
		err = nlp.ErrEmptyCompletion
	}
	switch {
	case err == nil:
		e.opts.Metrics.ObserveInference(nlp.OutcomeSuccess, took)
		return strings.TrimSpace(reply), nil
	case errors.Is(err, nlp.ErrEmptyCompletion):
		e.opts.Metrics.ObserveInference(nlp.OutcomeEmpty, took)
	case errors.Is(err, nlp.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		e.opts.Metrics.ObserveInference(nlp.OutcomeTimeout, took)
	default:
		e.opts.Metrics.ObserveInference(nlp.OutcomeError, took)
	}
	return "", err
}

func (e *Engine) appendAssistant(ctx context.Context, logger *slog.Logger, text, requesterID string, mc store.MessageContext) {
	_, err := e.opts.History.AppendHistory(ctx, store.HistoryMessage{
		Role:        store.RoleAssistant,
		Content:     text,
		Timestamp:   e.opts.Now(),
		RequesterID: requesterID,
		Context:     mc,
	})
	if err != nil {
		logger.Warn("conversation: history append failed", "err", err)
		e.opts.Reporter.ReportException(ctx, err, map[string]any{"stage": "history_assistant"})
	}
}

// remember stores a long-term fact when the message carries one.
func (e *Engine) remember(ctx context.Context, logger *slog.Logger, text string, now time.Time) {
	if e.opts.Facts == nil || e.opts.Extractor == nil || text == "" {
		return
	}
	entry, ok := e.opts.Extractor.Extract(text, now)
	if !ok {
		return
	}
	if _, err := e.opts.Facts.UpsertLTM(ctx, entry); err != nil {
		logger.Warn("conversation: ltm upsert failed", "err", err, "key", entry.Key)
		return
	}
	logger.Info("conversation: fact remembered", "key", entry.Key, "priority", entry.Priority)
}

func (e *Engine) pick(options []string) string {
	return config.Pick(options, e.opts.Rand)
}
