package llm

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrInvocation wraps any model invocation failure. The conversation loop
// aborts the turn when it sees this; nothing is persisted.
var ErrInvocation = errors.New("llm: invocation failed")

type Message struct {
	Role    string
	Content string
}

// Request is the ephemeral context for one model call: the current turn's
// text, the resolvable local image paths attached to it (including any
// recalled ones), and optional prior turns for conversational continuity.
type Request struct {
	ConversationID string
	Text           string
	ImagePaths     []string
	History        []Message
}

type Response struct {
	Text       string
	MediaPaths []string
}

type Invoker interface {
	Name() string

	Invoke(ctx context.Context, req Request) (*Response, error)
}
