// ABOUTME: Channel transport boundary used by the relay to deliver activities.
// ABOUTME: Defines send, update, continue-with-reference, and create-conversation operations.

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/deskbridge/internal/activity"
)

// Transport errors
var (
	// ErrNotConnected means the addressed party has no live session on this
	// transport (e.g. the web widget disconnected).
	ErrNotConnected = errors.New("recipient not connected")

	// ErrUnsupported means the transport does not implement the requested
	// operation (e.g. updating a message on the web widget).
	ErrUnsupported = errors.New("operation not supported by transport")
)

// Sender delivers activities to one channel. Implementations own the
// translation from the normalized activity model to the platform's wire
// format and addressing scheme.
type Sender interface {
	// SendToConversation sends a new activity addressed by conversation id
	// alone, without a stored reference. Returns the platform-assigned
	// activity id.
	SendToConversation(ctx context.Context, conversationID string, a *activity.Activity) (string, error)

	// UpdateActivity mutates a previously sent activity in place.
	UpdateActivity(ctx context.Context, conversationID, activityID string, a *activity.Activity) error

	// ContinueConversation re-opens a send session from a stored reference
	// and delivers the activity there. Returns the platform-assigned
	// activity id.
	ContinueConversation(ctx context.Context, ref *activity.ConversationReference, a *activity.Activity) (string, error)

	// CreateConversation opens a new conversation in the given target group
	// carrying the activity, and returns the new conversation id and the id
	// of the activity that opened it.
	CreateConversation(ctx context.Context, groupID string, a *activity.Activity) (conversationID, activityID string, err error)
}

// Disabled is a Sender for a channel with no configured integration. Every
// operation fails with ErrNotConnected, which keeps the relay's best-effort
// notice paths quiet and surfaces a clear error on the fatal ones.
type Disabled struct {
	// Name identifies the channel in errors.
	Name string
}

var _ Sender = Disabled{}

func (d Disabled) SendToConversation(ctx context.Context, conversationID string, a *activity.Activity) (string, error) {
	return "", d.err()
}

func (d Disabled) UpdateActivity(ctx context.Context, conversationID, activityID string, a *activity.Activity) error {
	return d.err()
}

func (d Disabled) ContinueConversation(ctx context.Context, ref *activity.ConversationReference, a *activity.Activity) (string, error) {
	return "", d.err()
}

func (d Disabled) CreateConversation(ctx context.Context, groupID string, a *activity.Activity) (string, string, error) {
	return "", "", d.err()
}

func (d Disabled) err() error {
	return fmt.Errorf("%s transport disabled: %w", d.Name, ErrNotConnected)
}
