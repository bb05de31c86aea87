// ABOUTME: Tests for the widget WebSocket hub.
// ABOUTME: Dials real connections against an httptest server.

package webchat

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/auth"
	"github.com/2389/deskbridge/internal/transport"
)

var testSecret = []byte("test-secret")

// recorder collects handler activities for assertions.
type recorder struct {
	mu         sync.Mutex
	activities []*activity.Activity
}

func (r *recorder) handle(ctx context.Context, a *activity.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
	return nil
}

func (r *recorder) waitFor(t *testing.T, n int) []*activity.Activity {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		got := make([]*activity.Activity, len(r.activities))
		copy(got, r.activities)
		r.mu.Unlock()
		if len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d activities, have %d", n, len(got))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newTestHub(t *testing.T) (*Hub, *recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{}
	hub := NewHub(auth.NewVerifier(testSecret), rec.handle, nil)
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, rec, server
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mintToken(t *testing.T) (string, *auth.Session) {
	t.Helper()
	token, session, err := auth.NewIssuer(testSecret, time.Hour).Issue()
	require.NoError(t, err)
	return token, session
}

func TestHub_RejectsBadToken(t *testing.T) {
	_, _, server := newTestHub(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHub_ConnectAnnouncesJoin(t *testing.T) {
	_, rec, server := newTestHub(t)
	token, session := mintToken(t)
	dial(t, server, token)

	got := rec.waitFor(t, 1)
	join := got[0]
	assert.Equal(t, activity.KindMembersAdded, join.Kind)
	assert.Equal(t, activity.ChannelWeb, join.Channel)
	assert.Equal(t, session.ConversationID, join.Conversation.ID)

	ids := make([]string, 0, len(join.MembersAdded))
	for _, m := range join.MembersAdded {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, session.UserID)
}

func TestHub_InboundFrameBecomesMessage(t *testing.T) {
	_, rec, server := newTestHub(t)
	token, session := mintToken(t)
	conn := dial(t, server, token)

	err := conn.WriteJSON(&Frame{Type: FrameMessage, Text: "hello there"})
	require.NoError(t, err)

	got := rec.waitFor(t, 2)
	msg := got[1]
	assert.Equal(t, activity.KindMessage, msg.Kind)
	assert.Equal(t, session.ConversationID, msg.Conversation.ID)
	assert.Equal(t, session.UserID, msg.From.ID)
	assert.Equal(t, "hello there", msg.Text)
}

func TestHub_InboundActionFrame(t *testing.T) {
	_, rec, server := newTestHub(t)
	token, _ := mintToken(t)
	conn := dial(t, server, token)

	err := conn.WriteJSON(&Frame{Type: FrameMessage, Value: map[string]any{
		"action":  "startChat",
		"subject": "Billing",
	}})
	require.NoError(t, err)

	got := rec.waitFor(t, 2)
	assert.Equal(t, "startChat", got[1].Action())
	assert.Equal(t, "Billing", got[1].ValueString("subject"))
}

func TestHub_SendToConversation(t *testing.T) {
	hub, rec, server := newTestHub(t)
	token, session := mintToken(t)
	conn := dial(t, server, token)
	rec.waitFor(t, 1)

	id, err := hub.SendToConversation(context.Background(),
		session.ConversationID,
		activity.NewMessage(activity.ChannelWeb, session.ConversationID, "welcome"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameMessage, frame.Type)
	assert.Equal(t, "welcome", frame.Text)
}

func TestHub_SendCardFrame(t *testing.T) {
	hub, rec, server := newTestHub(t)
	token, session := mintToken(t)
	conn := dial(t, server, token)
	rec.waitFor(t, 1)

	card := &activity.Card{Title: "Grace", HTML: "<p>on it</p>"}
	_, err := hub.SendToConversation(context.Background(),
		session.ConversationID,
		activity.NewCardMessage(activity.ChannelWeb, session.ConversationID, card))
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameCard, frame.Type)
	require.NotNil(t, frame.Card)
	assert.Equal(t, "Grace", frame.Card.Title)
}

func TestHub_EndOfConversationFrame(t *testing.T) {
	hub, rec, server := newTestHub(t)
	token, session := mintToken(t)
	conn := dial(t, server, token)
	rec.waitFor(t, 1)

	_, err := hub.SendToConversation(context.Background(),
		session.ConversationID,
		activity.NewEndOfConversation(session.ConversationID))
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameEndOfConversation, frame.Type)
}

func TestHub_NotConnected(t *testing.T) {
	hub, _, _ := newTestHub(t)

	_, err := hub.SendToConversation(context.Background(), "nobody-home",
		activity.NewMessage(activity.ChannelWeb, "nobody-home", "hello"))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.False(t, hub.Connected("nobody-home"))
}

func TestHub_UnsupportedOperations(t *testing.T) {
	hub, _, _ := newTestHub(t)

	err := hub.UpdateActivity(context.Background(), "c", "a", activity.NewMessage(activity.ChannelWeb, "c", "x"))
	assert.ErrorIs(t, err, transport.ErrUnsupported)

	_, _, err = hub.CreateConversation(context.Background(), "g", activity.NewMessage(activity.ChannelWeb, "", "x"))
	assert.ErrorIs(t, err, transport.ErrUnsupported)
}

func TestHub_ReconnectReplacesSession(t *testing.T) {
	hub, rec, server := newTestHub(t)
	token, session := mintToken(t)

	dial(t, server, token)
	rec.waitFor(t, 1)
	second := dial(t, server, token)
	rec.waitFor(t, 2)

	require.True(t, hub.Connected(session.ConversationID))
	_, err := hub.SendToConversation(context.Background(),
		session.ConversationID,
		activity.NewMessage(activity.ChannelWeb, session.ConversationID, "still here"))
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, second.ReadJSON(&frame))
	assert.Equal(t, "still here", frame.Text)
}
