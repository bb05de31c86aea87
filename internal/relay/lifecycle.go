// ABOUTME: Lifecycle controller orchestrating conversation start, hand-off, and termination.
// ABOUTME: Owns the chat-request card and the best-effort end notifications to both channels.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/cards"
	"github.com/2389/deskbridge/internal/store"
	"github.com/2389/deskbridge/internal/transport"
)

const (
	noticeStartConfirmed = "Thank you for submitting your details. Please wait and someone will be with you shortly."
	noticeTargetEnded    = "**This chat has now ended.**"
	noticeWebEnded       = "**This chat has now ended. Thank you for contacting us.**"
)

// Controller drives conversation lifecycle transitions and their side
// effects on both channels.
type Controller struct {
	store    store.Store
	refs     *Resolver
	renderer cards.Renderer
	web      transport.Sender
	target   transport.Sender
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewController creates a lifecycle controller.
func NewController(st store.Store, refs *Resolver, renderer cards.Renderer, web, target transport.Sender, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    st,
		refs:     refs,
		renderer: renderer,
		web:      web,
		target:   target,
		logger:   logger.With("component", "lifecycle"),
		now:      time.Now,
	}
}

// StartConversation validates a web-originated start request, creates the
// conversation record, and opens the request thread on the target channel.
// The record is persisted with the resulting target-side identifiers.
func (c *Controller) StartConversation(ctx context.Context, a *activity.Activity) (*store.ConversationRecord, error) {
	groupID := a.ValueString("targetGroupId")
	if groupID == "" {
		return nil, fmt.Errorf("%w: targetGroupId", ErrMissingField)
	}
	displayName := a.ValueString("displayName")
	if displayName == "" {
		return nil, fmt.Errorf("%w: displayName", ErrMissingField)
	}
	subject := a.ValueString("subject")
	if subject == "" {
		return nil, fmt.Errorf("%w: subject", ErrMissingField)
	}

	group, err := c.store.GetTargetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTargetGroup, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up target group: %w", err)
	}
	if !group.IsVisible {
		return nil, fmt.Errorf("%w: %s is not visible", ErrUnknownTargetGroup, groupID)
	}

	rec := &store.ConversationRecord{
		ID:                uuid.New().String(),
		WebConversationID: a.Conversation.ID,
		Status:            store.StatusUnanswered,
		DisplayName:       displayName,
		EmailAddress:      a.ValueString("emailAddress"),
		PhoneNumber:       a.ValueString("phoneNumber"),
		Subject:           subject,
		Description:       a.ValueString("description"),
		TargetGroupID:     group.ID,
		StartedAt:         c.now(),
	}

	// Confirm receipt to the requester before opening the target thread.
	confirm := activity.NewMessage(activity.ChannelWeb, a.Conversation.ID, noticeStartConfirmed)
	if _, err := c.web.SendToConversation(ctx, a.Conversation.ID, confirm); err != nil {
		c.logger.Warn("sending start confirmation failed", "conversation_id", a.Conversation.ID, "error", err)
	}

	card, err := c.RequestCard(rec, true)
	if err != nil {
		return nil, err
	}
	request := &activity.Activity{
		Kind:       activity.KindMessage,
		Channel:    activity.ChannelTarget,
		Card:       card,
		OnBehalfOf: &activity.Account{ID: a.From.ID, Name: displayName},
	}

	conversationID, activityID, err := c.target.CreateConversation(ctx, group.ID, request)
	if err != nil {
		return nil, fmt.Errorf("opening target conversation: %w", err)
	}
	rec.TargetConversationID = conversationID
	rec.TargetRequestActivityID = activityID

	if err := c.store.UpsertConversation(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}

	c.logger.Info("conversation started",
		"record_id", rec.ID,
		"target_group", group.ID,
		"target_conversation_id", conversationID,
	)
	return rec, nil
}

// EndConversation transitions a record to its terminal state and notifies
// both channels. The persisted end-state is the transition; notifications
// are best-effort and a failing one never blocks the other channel's notice.
// Ending an already-ended record is a no-op.
func (c *Controller) EndConversation(ctx context.Context, rec *store.ConversationRecord, closingNotes string, from activity.Channel) error {
	if rec.Ended() {
		c.logger.Debug("end ignored, conversation already ended", "record_id", rec.ID)
		return nil
	}

	if closingNotes != "" {
		rec.ClosingNotes = closingNotes
	}
	endedAt := c.now()
	rec.EndedAt = &endedAt
	rec.Status = store.StatusEnded
	if err := c.store.UpsertConversation(ctx, rec); err != nil {
		return fmt.Errorf("persisting end state: %w", err)
	}

	// Target-side notices. Addressed by conversation id, not reference: the
	// thread may never have been answered, so no reference may exist.
	if rec.TargetConversationID != "" && rec.TargetRequestActivityID != "" {
		notice := activity.NewMessage(activity.ChannelTarget, rec.TargetConversationID, noticeTargetEnded)
		if _, err := c.target.SendToConversation(ctx, rec.TargetConversationID, notice); err != nil {
			c.logger.Warn("sending target end notice failed", "record_id", rec.ID, "error", err)
		}

		// When the end came from the target's own card action, that surface
		// already re-renders itself; updating it again would double-update.
		if from != activity.ChannelTarget {
			if err := c.UpdateRequestActivity(ctx, rec, false); err != nil {
				c.logger.Warn("updating request activity failed", "record_id", rec.ID, "error", err)
			}
		}
	}

	// Web-side notices: the ended notice, then the end-of-conversation
	// signal so the widget closes its input.
	if rec.WebConversationID != "" {
		ref, err := c.refs.Resolve(ctx, activity.ChannelWeb, rec.WebConversationID)
		if err != nil {
			c.logger.Warn("resolving web reference failed", "record_id", rec.ID, "error", err)
		} else {
			notice := activity.NewMessage(activity.ChannelWeb, ref.Conversation.ID, noticeWebEnded)
			if _, err := c.web.ContinueConversation(ctx, ref, notice); err != nil {
				c.logger.Warn("sending web end notice failed", "record_id", rec.ID, "error", err)
			}
			if _, err := c.web.ContinueConversation(ctx, ref, activity.NewEndOfConversation(ref.Conversation.ID)); err != nil {
				c.logger.Warn("sending end-of-conversation signal failed", "record_id", rec.ID, "error", err)
			}
		}
	}

	c.logger.Info("conversation ended", "record_id", rec.ID, "from", from)
	return nil
}

// AddTargetGroup registers (or re-registers) a routable destination on the
// target channel and makes it visible to web chat visitors.
func (c *Controller) AddTargetGroup(ctx context.Context, groupID, displayName string) (*store.TargetGroup, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%w: groupId", ErrMissingField)
	}
	if displayName == "" {
		return nil, fmt.Errorf("%w: displayName", ErrMissingField)
	}

	group := &store.TargetGroup{
		ID:          groupID,
		DisplayName: displayName,
		IsVisible:   true,
	}
	if err := c.store.UpsertTargetGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("persisting target group: %w", err)
	}

	c.logger.Info("target group registered", "group_id", groupID, "display_name", displayName)
	return group, nil
}

// RequestCard renders the structured chat-request card for a record. Facts
// appear only for fields that are present. withEndAction attaches the "End
// chat" affordance; the ended rendering carries no actions.
func (c *Controller) RequestCard(rec *store.ConversationRecord, withEndAction bool) (*activity.Card, error) {
	data := cards.Payload{
		"status":            string(rec.Status),
		"subject":           rec.Subject,
		"webConversationId": rec.WebConversationID,
		"started":           cards.FormatTime(rec.StartedAt),
		"displayName":       rec.DisplayName,
		"emailAddress":      rec.EmailAddress,
		"phoneNumber":       rec.PhoneNumber,
		"description":       rec.Description,
		"closingNotes":      rec.ClosingNotes,
	}
	if rec.EndedAt != nil {
		data["ended"] = cards.FormatTime(*rec.EndedAt)
	}

	var extra []activity.Action
	if withEndAction {
		extra = append(extra, endChatAction())
	}
	return c.renderer.Render(cards.TemplateChatRequest, data, extra...)
}

// UpdateRequestActivity re-renders the chat-request card and mutates the
// original request message on the target channel in place.
func (c *Controller) UpdateRequestActivity(ctx context.Context, rec *store.ConversationRecord, withEndAction bool) error {
	card, err := c.RequestCard(rec, withEndAction)
	if err != nil {
		return err
	}
	update := activity.NewCardMessage(activity.ChannelTarget, rec.TargetConversationID, card)
	return c.target.UpdateActivity(ctx, rec.TargetConversationID, rec.TargetRequestActivityID, update)
}

// endChatAction is the card affordance letting the target side end the chat
// with required closing notes.
func endChatAction() activity.Action {
	return activity.Action{
		Kind:  activity.ActionShowCard,
		Title: "End chat",
		Inputs: []activity.Input{{
			ID:           "closingNotes",
			Kind:         activity.InputText,
			Label:        "Closing notes",
			Placeholder:  "Please provide some closing notes about the conversation",
			ErrorMessage: "Closing notes are required",
			Required:     true,
			Multiline:    true,
		}},
		Data: map[string]any{"action": ActionEndChatFromTarget},
	}
}
