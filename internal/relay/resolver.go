// ABOUTME: Channel reference resolver mapping conversation ids to durable send capabilities.
// ABOUTME: Captures a reference on every inbound event; last write wins, references are never deleted.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/store"
)

// ReferenceStore provides access to persisted session references.
type ReferenceStore interface {
	UpsertReference(ctx context.Context, ref *store.SessionReference) error
	GetReference(ctx context.Context, channel, conversationID string) (*store.SessionReference, error)
}

// Resolver persists and resolves conversation references. The reference
// captured at one point in time may go stale (rotated session, reconnect),
// so Capture runs on every inbound event regardless of content.
type Resolver struct {
	store  ReferenceStore
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by the given reference store.
func NewResolver(refStore ReferenceStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  refStore,
		logger: logger.With("component", "resolver"),
	}
}

// Capture snapshots the inbound activity's conversation reference and
// persists it as an immutable value upsert keyed by channel + conversation
// id. Upserting is idempotent; no dedup is needed.
func (r *Resolver) Capture(ctx context.Context, a *activity.Activity) error {
	ref := activity.ReferenceFrom(a)
	blob, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encoding reference: %w", err)
	}

	if err := r.store.UpsertReference(ctx, &store.SessionReference{
		Channel:        string(a.Channel),
		ConversationID: a.Conversation.ID,
		Reference:      blob,
	}); err != nil {
		return fmt.Errorf("storing reference: %w", err)
	}

	r.logger.Debug("captured reference", "channel", a.Channel, "conversation_id", a.Conversation.ID)
	return nil
}

// Resolve returns the most recently captured reference for a channel
// conversation. Returns store.ErrNotFound if none has been captured.
func (r *Resolver) Resolve(ctx context.Context, channel activity.Channel, conversationID string) (*activity.ConversationReference, error) {
	rec, err := r.store.GetReference(ctx, string(channel), conversationID)
	if err != nil {
		return nil, err
	}

	var ref activity.ConversationReference
	if err := json.Unmarshal(rec.Reference, &ref); err != nil {
		return nil, fmt.Errorf("decoding reference: %w", err)
	}
	return &ref, nil
}
