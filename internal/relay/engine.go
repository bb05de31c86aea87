// ABOUTME: Relay engine: the conversation state machine and bidirectional routing logic.
// ABOUTME: Maps inbound messages from either channel to outbound sends on the other.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/cards"
	"github.com/2389/deskbridge/internal/store"
	"github.com/2389/deskbridge/internal/transport"
)

// Relay errors
var (
	// ErrNoConversation means the inbound conversation id matches no record.
	ErrNoConversation = errors.New("no related conversation")

	// ErrConversationEnded means the matched record is terminal.
	ErrConversationEnded = errors.New("conversation has ended")

	// ErrUnknownTargetGroup means the requested target group does not exist
	// or is not visible.
	ErrUnknownTargetGroup = errors.New("unknown target group")

	// ErrMissingField means a required field was absent on a start request.
	ErrMissingField = errors.New("missing required field")

	// ErrUnsupportedAction means an invoke carried an unrecognized action name.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// User-visible notices. Internal errors are never relayed verbatim.
const (
	noticeNotRelatedWeb    = "**Sorry, your message is not related to any active chat.**"
	noticeNotRelatedTarget = "**Sorry, your message is not related to any in-progress web chat.**"
	noticeWebChatEnded     = "**Sorry, this chat has ended.**"
	noticeStartRejected    = "**Sorry, we couldn't start your chat. Please fill in the required details and choose a team.**"
	noticeApology          = "Sorry, we encountered an error. Please try again later."
)

// Action names carried in activity values.
const (
	ActionStartChat         = "startChat"
	ActionEndChatFromWeb    = "endChatFromWeb"
	ActionEndChatFromTarget = "endChatFromTarget"
	ActionAddGroup          = "addGroup"
)

// Engine drives the conversation state machine and routes content between
// the two channels. It is the sole mutator of a record's status and
// timestamps (via the lifecycle controller for terminal transitions).
type Engine struct {
	store     store.Store
	refs      *Resolver
	renderer  cards.Renderer
	web       transport.Sender
	target    transport.Sender
	lifecycle *Controller
	logger    *slog.Logger
}

// NewEngine creates a relay engine.
func NewEngine(st store.Store, refs *Resolver, renderer cards.Renderer, web, target transport.Sender, lifecycle *Controller, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		refs:      refs,
		renderer:  renderer,
		web:       web,
		target:    target,
		lifecycle: lifecycle,
		logger:    logger.With("component", "engine"),
	}
}

// senderFor picks the transport for a channel.
func (e *Engine) senderFor(channel activity.Channel) transport.Sender {
	if channel == activity.ChannelWeb {
		return e.web
	}
	return e.target
}

// notify sends a plain-text notice back to the activity's own channel.
// Notices are best-effort: a failed notice is logged, never fatal.
func (e *Engine) notify(ctx context.Context, a *activity.Activity, text string) {
	out := activity.NewMessage(a.Channel, a.Conversation.ID, text)
	if _, err := e.senderFor(a.Channel).SendToConversation(ctx, a.Conversation.ID, out); err != nil {
		e.logger.Warn("sending notice failed", "channel", a.Channel, "conversation_id", a.Conversation.ID, "error", err)
	}
}

// Apologize sends the generic failure notice to the activity's sender. The
// top-level handler calls this after logging an unexpected relay failure.
func (e *Engine) Apologize(ctx context.Context, a *activity.Activity) {
	e.notify(ctx, a, noticeApology)
}

// resolveByEitherID looks a record up by the web-channel id first and falls
// back to the target-channel id, supporting either party initiating lookup.
// The id present in the current inbound event wins the (defensive) tie.
func (e *Engine) resolveByEitherID(ctx context.Context, conversationID string, from activity.Channel) (*store.ConversationRecord, error) {
	first, second := e.store.GetConversationByWebID, e.store.GetConversationByTargetID
	if from == activity.ChannelTarget {
		first, second = second, first
	}

	rec, err := first(ctx, conversationID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	rec, err = second(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoConversation
	}
	return rec, err
}

// RelayFromWeb handles a web-originated message activity: either a plain
// relay toward the target channel, or an embedded action (start, end).
func (e *Engine) RelayFromWeb(ctx context.Context, a *activity.Activity) error {
	rec, lookupErr := e.resolveByEitherID(ctx, a.Conversation.ID, activity.ChannelWeb)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNoConversation) {
		return lookupErr
	}

	if a.Text != "" {
		switch {
		case rec == nil:
			e.notify(ctx, a, noticeNotRelatedWeb)
			return nil
		case rec.Ended():
			e.notify(ctx, a, noticeWebChatEnded)
			return nil
		default:
			return e.forwardToTarget(ctx, a, rec)
		}
	}

	switch a.Action() {
	case ActionStartChat:
		if rec != nil && !rec.Ended() {
			// Resolve-before-create keeps one non-terminal record per web
			// conversation id; a replayed start is a no-op.
			e.logger.Warn("start ignored, conversation already active", "record_id", rec.ID)
			return nil
		}
		_, err := e.lifecycle.StartConversation(ctx, a)
		if errors.Is(err, ErrMissingField) || errors.Is(err, ErrUnknownTargetGroup) {
			e.logger.Info("start request rejected", "conversation_id", a.Conversation.ID, "error", err)
			e.notify(ctx, a, noticeStartRejected)
			return nil
		}
		return err

	case ActionEndChatFromWeb:
		if rec == nil {
			e.notify(ctx, a, noticeNotRelatedWeb)
			return nil
		}
		return e.lifecycle.EndConversation(ctx, rec, a.ValueString("closingNotes"), activity.ChannelWeb)

	case "":
		e.logger.Debug("ignoring web activity with no text or action", "conversation_id", a.Conversation.ID)
		return nil

	default:
		e.logger.Warn("ignoring unknown web action", "action", a.Action())
		return nil
	}
}

// forwardToTarget relays web text to the target thread, attributed to the
// original requester, then refreshes the record's cross-reference ids.
func (e *Engine) forwardToTarget(ctx context.Context, a *activity.Activity, rec *store.ConversationRecord) error {
	if rec.TargetConversationID == "" {
		e.notify(ctx, a, noticeNotRelatedWeb)
		return nil
	}

	out := activity.NewMessage(activity.ChannelTarget, rec.TargetConversationID, a.Text)
	out.OnBehalfOf = &activity.Account{ID: a.From.ID, Name: rec.DisplayName}

	// Prefer a previously captured reference; fall back to an id-addressed
	// send, which the target platform accepts without one.
	ref, err := e.refs.Resolve(ctx, activity.ChannelTarget, rec.TargetConversationID)
	switch {
	case err == nil:
		_, err = e.target.ContinueConversation(ctx, ref, out)
	case errors.Is(err, store.ErrNotFound):
		_, err = e.target.SendToConversation(ctx, rec.TargetConversationID, out)
	default:
		return fmt.Errorf("resolving target reference: %w", err)
	}
	if err != nil {
		return fmt.Errorf("forwarding to target: %w", err)
	}

	// Self-heal against channel-side id churn.
	rec.WebConversationID = a.Conversation.ID
	if err := e.store.UpsertConversation(ctx, rec); err != nil {
		return fmt.Errorf("refreshing conversation ids: %w", err)
	}
	return nil
}

// RelayFromTarget handles a target-originated message: renders it as a
// timestamped, attributed bubble for the web widget and performs the
// unanswered-to-in-progress transition on first contact.
func (e *Engine) RelayFromTarget(ctx context.Context, a *activity.Activity) error {
	rec, err := e.store.GetConversationByTargetID(ctx, a.Conversation.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.notify(ctx, a, noticeNotRelatedTarget)
			return nil
		}
		return err
	}
	if rec.WebConversationID == "" || rec.Ended() {
		e.notify(ctx, a, noticeNotRelatedTarget)
		return nil
	}

	webRef, err := e.refs.Resolve(ctx, activity.ChannelWeb, rec.WebConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.notify(ctx, a, noticeNotRelatedTarget)
			return nil
		}
		return fmt.Errorf("resolving web reference: %w", err)
	}

	if a.Text != "" {
		card, err := e.renderer.Render(cards.TemplateChatMessage, cards.Payload{
			"displayName":  a.From.Name,
			"message":      a.Text,
			"sentDateTime": cards.FormatTime(time.Now()),
		})
		if err != nil {
			return fmt.Errorf("rendering chat message: %w", err)
		}
		out := activity.NewCardMessage(activity.ChannelWeb, webRef.Conversation.ID, card)
		if _, err := e.web.ContinueConversation(ctx, webRef, out); err != nil {
			return fmt.Errorf("forwarding to web: %w", err)
		}
	}

	// First target-side contact answers the request: transition the record
	// and update the original request message in place.
	if rec.Status == store.StatusUnanswered && rec.TargetConversationID != "" {
		rec.Status = store.StatusInProgress
		if err := e.lifecycle.UpdateRequestActivity(ctx, rec, true); err != nil {
			return fmt.Errorf("updating request activity: %w", err)
		}
	}

	rec.WebConversationID = webRef.Conversation.ID
	rec.TargetConversationID = a.Conversation.ID
	if err := e.store.UpsertConversation(ctx, rec); err != nil {
		return fmt.Errorf("refreshing conversation ids: %w", err)
	}
	return nil
}
