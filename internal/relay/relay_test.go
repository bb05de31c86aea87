// ABOUTME: Shared test fixtures for the relay package.
// ABOUTME: Provides a recording mock transport and a fully wired test rig.

package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/cards"
	"github.com/2389/deskbridge/internal/store"
)

type sentCall struct {
	conversationID string
	activity       *activity.Activity
}

type updateCall struct {
	conversationID string
	activityID     string
	activity       *activity.Activity
}

type createCall struct {
	groupID  string
	activity *activity.Activity
}

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu        sync.Mutex
	sent      []sentCall
	continued []sentCall
	updated   []updateCall
	created   []createCall

	sendErr     error
	continueErr error
	updateErr   error
	createErr   error

	// createdConversationID and createdActivityID are returned from
	// CreateConversation.
	createdConversationID string
	createdActivityID     string
}

func (m *mockSender) SendToConversation(ctx context.Context, conversationID string, a *activity.Activity) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, sentCall{conversationID, a})
	return fmt.Sprintf("act-%d", len(m.sent)), nil
}

func (m *mockSender) ContinueConversation(ctx context.Context, ref *activity.ConversationReference, a *activity.Activity) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.continueErr != nil {
		return "", m.continueErr
	}
	m.continued = append(m.continued, sentCall{ref.Conversation.ID, a})
	return fmt.Sprintf("act-c-%d", len(m.continued)), nil
}

func (m *mockSender) UpdateActivity(ctx context.Context, conversationID, activityID string, a *activity.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = append(m.updated, updateCall{conversationID, activityID, a})
	return nil
}

func (m *mockSender) CreateConversation(ctx context.Context, groupID string, a *activity.Activity) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", "", m.createErr
	}
	m.created = append(m.created, createCall{groupID, a})
	return m.createdConversationID, m.createdActivityID, nil
}

func (m *mockSender) lastSent(t *testing.T) sentCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "expected at least one send")
	return m.sent[len(m.sent)-1]
}

func (m *mockSender) lastContinued(t *testing.T) sentCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.continued, "expected at least one continued send")
	return m.continued[len(m.continued)-1]
}

// rig is a fully wired relay stack over the in-memory store and the real
// card renderer, with recording transports on both sides.
type rig struct {
	store      *store.MockStore
	resolver   *Resolver
	engine     *Engine
	controller *Controller
	dispatcher *Dispatcher
	web        *mockSender
	target     *mockSender
}

func newRig(t *testing.T) *rig {
	t.Helper()

	renderer, err := cards.NewTemplateRenderer()
	require.NoError(t, err)

	st := store.NewMockStore()
	web := &mockSender{}
	target := &mockSender{
		createdConversationID: "C123/1700000000.000100",
		createdActivityID:     "1700000000.000100",
	}

	resolver := NewResolver(st, nil)
	controller := NewController(st, resolver, renderer, web, target, nil)
	engine := NewEngine(st, resolver, renderer, web, target, controller, nil)
	dispatcher := NewDispatcher(nil, resolver, engine, controller, renderer, st, web, target, nil)

	return &rig{
		store:      st,
		resolver:   resolver,
		engine:     engine,
		controller: controller,
		dispatcher: dispatcher,
		web:        web,
		target:     target,
	}
}

// captureRef stores a reference for the given channel conversation so the
// resolver can address it proactively.
func (r *rig) captureRef(t *testing.T, channel activity.Channel, conversationID string) {
	t.Helper()
	err := r.resolver.Capture(context.Background(), &activity.Activity{
		Kind:         activity.KindMessage,
		Channel:      channel,
		Conversation: activity.Conversation{ID: conversationID},
		From:         activity.Account{ID: "user-1", Name: "Visitor"},
		Recipient:    activity.Account{ID: "bot-1"},
	})
	require.NoError(t, err)
}

// seedGroup registers a visible target group.
func (r *rig) seedGroup(t *testing.T, id, name string) {
	t.Helper()
	err := r.store.UpsertTargetGroup(context.Background(), &store.TargetGroup{
		ID:          id,
		DisplayName: name,
		IsVisible:   true,
	})
	require.NoError(t, err)
}

// seedConversation persists a record and returns it.
func (r *rig) seedConversation(t *testing.T, rec *store.ConversationRecord) *store.ConversationRecord {
	t.Helper()
	err := r.store.UpsertConversation(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func webMessage(conversationID, text string) *activity.Activity {
	return &activity.Activity{
		Kind:         activity.KindMessage,
		Channel:      activity.ChannelWeb,
		Conversation: activity.Conversation{ID: conversationID},
		From:         activity.Account{ID: "wc_user", Name: "Visitor"},
		Recipient:    activity.Account{ID: "bridge-bot"},
		Text:         text,
	}
}

func webAction(conversationID, action string, fields map[string]any) *activity.Activity {
	value := map[string]any{"action": action}
	for k, v := range fields {
		value[k] = v
	}
	return &activity.Activity{
		Kind:         activity.KindMessage,
		Channel:      activity.ChannelWeb,
		Conversation: activity.Conversation{ID: conversationID},
		From:         activity.Account{ID: "wc_user", Name: "Visitor"},
		Recipient:    activity.Account{ID: "bridge-bot"},
		Value:        value,
	}
}

func targetMessage(conversationID, from, text string) *activity.Activity {
	return &activity.Activity{
		Kind:         activity.KindMessage,
		Channel:      activity.ChannelTarget,
		Conversation: activity.Conversation{ID: conversationID},
		From:         activity.Account{ID: "U999", Name: from},
		Recipient:    activity.Account{ID: "bridge-bot"},
		Text:         text,
	}
}
