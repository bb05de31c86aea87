// ABOUTME: Store interface and data types for deskbridge persistence
// ABOUTME: Defines ConversationRecord, SessionReference, TargetGroup and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of a conversation record.
type Status string

const (
	// StatusRequested is the nominal initial state. Records are persisted
	// directly as StatusUnanswered once the target-side request has been
	// sent, so Requested never survives past creation.
	StatusRequested Status = "requested"

	// StatusUnanswered means the request was delivered to the target group
	// but nobody has replied yet.
	StatusUnanswered Status = "unanswered"

	// StatusInProgress means at least one reply has flowed from the target
	// side back to the web side.
	StatusInProgress Status = "in_progress"

	// StatusEnded is terminal.
	StatusEnded Status = "ended"
)

// ConversationRecord is the logical end-user conversation, one per human
// engagement, tying a web-chat session to its target-platform thread.
type ConversationRecord struct {
	ID string

	// Foreign correlation ids into the two channels' reference spaces.
	WebConversationID       string
	TargetConversationID    string
	TargetRequestActivityID string

	Status Status

	// Submitted at creation, immutable once set.
	DisplayName  string
	EmailAddress string
	PhoneNumber  string
	Subject      string
	Description  string

	// Set only on termination.
	ClosingNotes string

	TargetGroupID string

	StartedAt time.Time
	EndedAt   *time.Time
}

// Ended reports whether the record is in its terminal state.
func (c *ConversationRecord) Ended() bool {
	return c.Status == StatusEnded
}

// SessionReference is the durable capability to resume sending on a channel
// conversation, one per physical channel-side conversation id. The blob is
// opaque to the store; last write wins.
type SessionReference struct {
	Channel        string
	ConversationID string
	Reference      json.RawMessage
	UpdatedAt      time.Time
}

// TargetGroup is a routable destination on the target channel that may
// receive new conversation requests. Deactivation is IsVisible=false;
// groups are never deleted.
type TargetGroup struct {
	ID          string
	DisplayName string
	IsVisible   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store defines the interface for deskbridge persistence. Upserts are
// per-document atomic; there are no cross-document transactions.
type Store interface {
	// Conversation records
	UpsertConversation(ctx context.Context, rec *ConversationRecord) error
	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)
	GetConversationByWebID(ctx context.Context, webConversationID string) (*ConversationRecord, error)
	GetConversationByTargetID(ctx context.Context, targetConversationID string) (*ConversationRecord, error)

	// Session references (last-write-wins)
	UpsertReference(ctx context.Context, ref *SessionReference) error
	GetReference(ctx context.Context, channel, conversationID string) (*SessionReference, error)

	// Target groups
	UpsertTargetGroup(ctx context.Context, group *TargetGroup) error
	GetTargetGroup(ctx context.Context, id string) (*TargetGroup, error)
	ListVisibleTargetGroups(ctx context.Context) ([]*TargetGroup, error)

	// Ping verifies the backing storage is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
