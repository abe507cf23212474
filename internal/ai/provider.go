package ai

import (
	"context"
	"errors"
)

// Message is one chat turn in provider wire order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// ErrUpstreamTimeout marks an upstream call that exceeded its deadline, as
// opposed to other upstream failures.
var ErrUpstreamTimeout = errors.New("upstream timed out")
