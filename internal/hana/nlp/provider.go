// Package nlp guards and performs the language-model inference call: the
// provider abstraction and Gemini implementation, the response cache and its
// fingerprint, the per-requester rate limiter, and the keyword signal
// detector that classifies each inbound message.
package nlp

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the model answers with no usable text.
var ErrEmptyCompletion = errors.New("nlp: empty completion")

// ErrTimeout is returned when the inference call exceeds its deadline.
var ErrTimeout = errors.New("nlp: inference timed out")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message injected into the model context.
type Turn struct {
	Role    string
	Content string
}

// CompletionRequest is everything the model sees for one reply.
type CompletionRequest struct {
	// System carries persona, personality, mood, facts and ambient context.
	System string
	// History holds the trailing conversation turns, oldest first.
	History []Turn
	// Message is the current user message.
	Message string
}

// Provider produces a reply for a request. Implementations must honour ctx
// cancellation and return ErrEmptyCompletion rather than an empty string.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
