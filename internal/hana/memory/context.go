// Package memory assembles the model context for a reply: trailing history,
// prioritised long-term facts, ambient facts and the live interaction state,
// plus the sleep-window gate and the long-term fact extractor.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Hana/internal/hana/config"
	"github.com/bdobrica/Hana/internal/hana/nlp"
	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

const (
	// DefaultHistoryWindow is the number of trailing history messages sent.
	DefaultHistoryWindow = 4
	// DefaultFactLimit is the number of long-term facts sent.
	DefaultFactLimit = 5
	// DefaultMaxTokens bounds the combined history and fact blocks.
	DefaultMaxTokens = 3000
)

// HistoryReader reads the rolling history.
type HistoryReader interface {
	RecentHistory(ctx context.Context, limit int) ([]store.HistoryMessage, error)
}

// FactReader reads prioritised long-term facts.
type FactReader interface {
	TopLTM(ctx context.Context, n int) ([]store.LTMEntry, error)
}

// Assembler builds a CompletionRequest for the current message. Read
// failures degrade the prompt (the block is omitted) instead of failing the
// reply.
type Assembler struct {
	History HistoryReader
	// Facts may be nil when long-term memory is disabled.
	Facts   FactReader
	Ambient []AmbientSource
	Persona config.Persona

	HistoryWindow int
	FactLimit     int
	MaxTokens     int

	Logger *slog.Logger
}

// Request is the per-message input to Assemble.
type Request struct {
	Message string
	// MessageID is the history ID of Message when it was already stored;
	// that row is left out of the history block.
	MessageID string
	// Image is a textual description of an attached image, if any.
	Image string
	State state.View
}

// Assemble produces the request sent to the inference provider.
func (a *Assembler) Assemble(ctx context.Context, req Request) nlp.CompletionRequest {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := a.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	factLimit := a.FactLimit
	if factLimit <= 0 {
		factLimit = DefaultFactLimit
	}
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	history := a.history(ctx, logger, req.MessageID, window)
	historyTokens := estimateTokens(history)
	if historyTokens > maxTokens {
		history = trimToTokenBudget(history, maxTokens)
		historyTokens = estimateTokens(history)
	}

	var facts []store.LTMEntry
	if a.Facts != nil {
		facts = a.facts(ctx, logger, factLimit, maxTokens-historyTokens)
	}

	var ambient []string
	for _, src := range a.Ambient {
		if line, ok := src.Fetch(ctx); ok {
			ambient = append(ambient, line)
		}
	}

	return nlp.CompletionRequest{
		System:  a.systemPrompt(req, facts, ambient),
		History: history,
		Message: req.Message,
	}
}

func (a *Assembler) history(ctx context.Context, logger *slog.Logger, currentID string, window int) []nlp.Turn {
	if a.History == nil {
		return nil
	}
	// One extra row in case the current message is already stored.
	msgs, err := a.History.RecentHistory(ctx, window+1)
	if err != nil {
		logger.Warn("memory: history read failed", "err", err)
		return nil
	}

	turns := make([]nlp.Turn, 0, len(msgs))
	for _, m := range msgs {
		if currentID != "" && m.ID == currentID {
			continue
		}
		role := nlp.RoleUser
		if m.Role == store.RoleAssistant {
			role = nlp.RoleAssistant
		}
		turns = append(turns, nlp.Turn{Role: role, Content: m.Content})
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	return turns
}

func (a *Assembler) facts(ctx context.Context, logger *slog.Logger, limit, budget int) []store.LTMEntry {
	entries, err := a.Facts.TopLTM(ctx, limit)
	if err != nil {
		logger.Warn("memory: ltm read failed", "err", err)
		return nil
	}
	used := 0
	out := make([]store.LTMEntry, 0, len(entries))
	for _, e := range entries {
		cost := len(e.Value)/charsPerToken + perMessageOverhead
		if used+cost > budget {
			break
		}
		out = append(out, e)
		used += cost
	}
	return out
}

func (a *Assembler) systemPrompt(req Request, facts []store.LTMEntry, ambient []string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(a.Persona.BasePrompt))

	if p := personalityPrompt(req.State.Personality, a.Persona); p != "" {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(p))
	}

	v := req.State
	sb.WriteString("\n\nCurrent state:\n")
	fmt.Fprintf(&sb, "- Mood: %s (%s)\n", v.Mood.Label, v.Mood.Key)
	if v.RelationshipEnabled {
		fmt.Fprintf(&sb, "- Relationship: %s (%d/%d)\n", v.RelationshipLevel(), v.Relationship, state.MaxRelationship)
	}
	if v.Sulking && a.Persona.States.Sulking != "" {
		sb.WriteString("- " + strings.TrimSpace(a.Persona.States.Sulking) + "\n")
	}
	if v.DeepTalk && a.Persona.States.DeepTalk != "" {
		sb.WriteString("- " + strings.TrimSpace(a.Persona.States.DeepTalk) + "\n")
	}
	if v.Romance && a.Persona.States.Romance != "" {
		sb.WriteString("- " + strings.TrimSpace(a.Persona.States.Romance) + "\n")
	}

	if len(facts) > 0 {
		sb.WriteString("\nThings you remember about your owner:\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- %s\n", f.Value)
		}
	}

	if len(ambient) > 0 {
		sb.WriteString("\nContext:\n")
		for _, line := range ambient {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	if req.Image != "" {
		fmt.Fprintf(&sb, "\nYour owner attached an image: %s\n", req.Image)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// personalityPrompt is the one place personality is turned into text; every
// Personality value has a case.
func personalityPrompt(p state.Personality, persona config.Persona) string {
	switch p {
	case state.Tsundere:
		return persona.Personalities[state.Tsundere.Key()]
	case state.Deredere:
		return persona.Personalities[state.Deredere.Key()]
	}
	return ""
}

const (
	charsPerToken      = 4
	perMessageOverhead = 4
)

// estimateTokens is a rough count: ~4 characters per token plus framing.
func estimateTokens(turns []nlp.Turn) int {
	total := 0
	for _, t := range turns {
		total += len(t.Content)/charsPerToken + perMessageOverhead
	}
	return total
}

// trimToTokenBudget drops the oldest turns until within budget, keeping at
// least one.
func trimToTokenBudget(turns []nlp.Turn, budget int) []nlp.Turn {
	for len(turns) > 1 && estimateTokens(turns) > budget {
		turns = turns[1:]
	}
	return turns
}
