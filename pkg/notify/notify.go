// Package notify delivers confirmation prompts to pilots over Discord and
// feeds their replies and reactions back to the coordinator.
package notify

import (
	"context"
	"errors"
)

// ErrRateLimited indicates the channel asked us to slow down. The outbound
// worker honours the server-provided backoff before retrying.
var ErrRateLimited = errors.New("notification channel rate limited")

// ErrDeliveryFailed indicates a message could not be delivered within the
// bounded retry budget. The message is logged and dropped.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Notifier sends a message to the configured channel and returns the
// channel's message id, used to correlate the eventual reply.
type Notifier interface {
	Send(ctx context.Context, text string) (string, error)
}

// Prompt correlates a sent confirmation message with the pilot it concerns.
// At most one prompt is outstanding per pilot at a time.
type Prompt struct {
	MessageID   string
	Key         string
	RecipientID string
}

// Reply is an inbound message replying to one of the gateway's own messages.
type Reply struct {
	MessageID string // the replied-to message
	AuthorID  string
	Content   string
}

// Reaction is an inbound emoji reaction on one of the gateway's messages.
type Reaction struct {
	MessageID string
	AuthorID  string
	Emoji     string
}

// Handler receives inbound confirmation events. The gateway has already
// filtered out its own messages and reactions.
type Handler interface {
	OnReply(ctx context.Context, r Reply)
	OnReaction(ctx context.Context, r Reaction)
}
