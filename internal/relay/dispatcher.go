// ABOUTME: Activity dispatcher classifying inbound events by channel and kind.
// ABOUTME: Thin entry point in front of the relay engine and lifecycle controller.

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/cards"
	"github.com/2389/deskbridge/internal/dedupe"
	"github.com/2389/deskbridge/internal/store"
	"github.com/2389/deskbridge/internal/transport"
)

// GroupLister provides the visible target groups for the start prompt.
type GroupLister interface {
	ListVisibleTargetGroups(ctx context.Context) ([]*store.TargetGroup, error)
	GetConversationByTargetID(ctx context.Context, targetConversationID string) (*store.ConversationRecord, error)
}

// Dispatcher classifies inbound activities and routes them into the relay
// engine or the lifecycle controller.
type Dispatcher struct {
	seen      *dedupe.Cache
	resolver  *Resolver
	engine    *Engine
	lifecycle *Controller
	renderer  cards.Renderer
	store     GroupLister
	web       transport.Sender
	target    transport.Sender
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. The dedupe cache may be nil, in which
// case webhook redeliveries are not filtered.
func NewDispatcher(seen *dedupe.Cache, resolver *Resolver, engine *Engine, lifecycle *Controller, renderer cards.Renderer, groups GroupLister, web, target transport.Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		seen:      seen,
		resolver:  resolver,
		engine:    engine,
		lifecycle: lifecycle,
		renderer:  renderer,
		store:     groups,
		web:       web,
		target:    target,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch processes one inbound activity to completion. For invoke
// activities the returned acknowledgement is non-nil; for everything else
// it is nil. An error means the event's processing failed upstream and the
// caller should log and apologize to the sender.
func (d *Dispatcher) Dispatch(ctx context.Context, a *activity.Activity) (*activity.InvokeResponse, error) {
	var key string
	if d.seen != nil && a.ID != "" {
		key = dedupe.Key(string(a.Channel), a.ID)
		if d.seen.Check(key) {
			d.logger.Debug("duplicate activity ignored", "channel", a.Channel, "activity_id", a.ID)
			return nil, nil
		}
	}

	// Capture the conversation reference on every inbound event, regardless
	// of content: the last inbound contact always wins.
	if a.Conversation.ID != "" {
		if err := d.resolver.Capture(ctx, a); err != nil {
			return nil, fmt.Errorf("capturing reference: %w", err)
		}
	}

	resp, err := d.dispatch(ctx, a)
	if err != nil {
		return resp, err
	}

	// Mark as seen only after successful processing, so a failed event can
	// be redelivered.
	if key != "" {
		d.seen.Mark(key)
	}
	return resp, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, a *activity.Activity) (*activity.InvokeResponse, error) {
	switch a.Kind {
	case activity.KindInstallationUpdate:
		return nil, d.sendAddGroupInstructions(ctx, a)

	case activity.KindMembersAdded:
		if a.Channel != activity.ChannelWeb {
			return nil, nil
		}
		return nil, d.sendStartPrompt(ctx, a)

	case activity.KindMessage:
		if a.Channel == activity.ChannelWeb {
			return nil, d.engine.RelayFromWeb(ctx, a)
		}
		return nil, d.engine.RelayFromTarget(ctx, a)

	case activity.KindInvoke:
		return d.handleInvoke(ctx, a)

	default:
		d.logger.Debug("ignoring activity", "kind", a.Kind, "channel", a.Channel)
		return nil, nil
	}
}

// sendAddGroupInstructions replies with the add-group card when the bot is
// installed into a new target-channel group.
func (d *Dispatcher) sendAddGroupInstructions(ctx context.Context, a *activity.Activity) error {
	card, err := d.renderer.Render(cards.TemplateAddGroup, nil)
	if err != nil {
		return fmt.Errorf("rendering add-group card: %w", err)
	}
	out := activity.NewCardMessage(a.Channel, a.Conversation.ID, card)
	if _, err := d.target.SendToConversation(ctx, a.Conversation.ID, out); err != nil {
		return fmt.Errorf("sending add-group instructions: %w", err)
	}
	return nil
}

// sendStartPrompt greets newly added web members with the start-chat prompt
// listing the currently visible target groups. The bot itself is skipped.
func (d *Dispatcher) sendStartPrompt(ctx context.Context, a *activity.Activity) error {
	groups, err := d.store.ListVisibleTargetGroups(ctx)
	if err != nil {
		return fmt.Errorf("listing target groups: %w", err)
	}
	options := make([]activity.Option, 0, len(groups))
	for _, g := range groups {
		options = append(options, activity.Option{Title: g.DisplayName, Value: g.ID})
	}

	card, err := d.renderer.Render(cards.TemplateStartPrompt, cards.Payload{"groups": options})
	if err != nil {
		return fmt.Errorf("rendering start prompt: %w", err)
	}

	for _, member := range a.MembersAdded {
		if member.ID == a.Recipient.ID {
			continue
		}
		out := activity.NewCardMessage(activity.ChannelWeb, a.Conversation.ID, card)
		if _, err := d.web.SendToConversation(ctx, a.Conversation.ID, out); err != nil {
			return fmt.Errorf("sending start prompt: %w", err)
		}
	}
	return nil
}

// handleInvoke dispatches a target-channel card action by its embedded
// action name. It always produces a synchronous acknowledgement; an
// unrecognized action surfaces "not implemented" in the acknowledgement
// rather than an error to the transport.
func (d *Dispatcher) handleInvoke(ctx context.Context, a *activity.Activity) (*activity.InvokeResponse, error) {
	switch a.Action() {
	case ActionEndChatFromTarget:
		rec, err := d.store.GetConversationByTargetID(ctx, a.Conversation.ID)
		if err != nil {
			// No matching record: acknowledge with an empty body, matching
			// the platform's expectation that card actions always ack.
			d.logger.Warn("end action for unknown conversation", "conversation_id", a.Conversation.ID)
			return &activity.InvokeResponse{StatusCode: http.StatusOK}, nil
		}
		if err := d.lifecycle.EndConversation(ctx, rec, a.ValueString("closingNotes"), activity.ChannelTarget); err != nil {
			return nil, err
		}
		card, err := d.lifecycle.RequestCard(rec, false)
		if err != nil {
			return nil, err
		}
		return &activity.InvokeResponse{
			StatusCode: http.StatusOK,
			Type:       activity.CardContentType,
			Value:      card,
		}, nil

	case ActionAddGroup:
		groupID := a.GroupID
		displayName := a.ValueString("displayName")
		if groupID == "" || displayName == "" {
			d.logger.Warn("add-group action missing fields", "group_id", groupID)
			return &activity.InvokeResponse{StatusCode: http.StatusOK}, nil
		}
		group, err := d.lifecycle.AddTargetGroup(ctx, groupID, displayName)
		if err != nil {
			return nil, err
		}
		card, err := d.renderer.Render(cards.TemplateGroupAdded, cards.Payload{"displayName": group.DisplayName})
		if err != nil {
			return nil, err
		}
		return &activity.InvokeResponse{
			StatusCode: http.StatusOK,
			Type:       activity.CardContentType,
			Value:      card,
		}, nil

	default:
		d.logger.Warn("unsupported invoke action", "action", a.Action())
		return &activity.InvokeResponse{StatusCode: http.StatusNotImplemented}, nil
	}
}

// Apologize forwards to the engine's generic failure notice; the top-level
// HTTP handler uses it after logging a dispatch failure.
func (d *Dispatcher) Apologize(ctx context.Context, a *activity.Activity) {
	d.engine.Apologize(ctx, a)
}
