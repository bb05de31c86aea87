// ABOUTME: WebSocket hub for the embedded web chat widget.
// ABOUTME: Tracks live widget sessions and implements the web-side sender.

package webchat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/auth"
	"github.com/2389/deskbridge/internal/transport"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent connection is kept before being
	// considered dead; pings go out at pingPeriod to keep it refreshed.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 16 * 1024
)

// Frame is the wire format exchanged with the widget.
type Frame struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	Text  string         `json:"text,omitempty"`
	Value map[string]any `json:"value,omitempty"`
	Card  *activity.Card `json:"card,omitempty"`
}

// Frame types.
const (
	FrameMessage           = "message"
	FrameCard              = "card"
	FrameEndOfConversation = "endOfConversation"
)

// Handler consumes inbound widget activities.
type Handler func(ctx context.Context, a *activity.Activity) error

// Hub upgrades widget connections, tracks one live session per
// conversation, and sends outbound activities to connected widgets.
type Hub struct {
	verifier *auth.Verifier
	handler  Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	botAccount activity.Account

	mu       sync.RWMutex
	sessions map[string]*session
}

var _ transport.Sender = (*Hub)(nil)

type session struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
}

// NewHub creates a hub. The handler receives every activity produced by
// connected widgets, including the synthesized join on connect.
func NewHub(verifier *auth.Verifier, handler Handler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		verifier: verifier,
		handler:  handler,
		logger:   logger.With("component", "webchat"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The widget is embedded on arbitrary sites; the session token
			// is the access control, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		botAccount: activity.Account{ID: "deskbridge"},
		sessions:   make(map[string]*session),
	}
}

// ServeHTTP handles a widget connection request. The session token minted
// by the token endpoint travels in the token query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Warn("rejected widget connection", "error", err)
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{conn: conn, userID: sess.UserID}
	h.register(sess.ConversationID, s)
	h.logger.Info("widget connected", "conversation_id", sess.ConversationID, "user_id", sess.UserID)

	// Announce the join so the widget is greeted with the start prompt.
	join := &activity.Activity{
		Kind:         activity.KindMembersAdded,
		Channel:      activity.ChannelWeb,
		Conversation: activity.Conversation{ID: sess.ConversationID},
		From:         activity.Account{ID: sess.UserID},
		Recipient:    h.botAccount,
		MembersAdded: []activity.Account{h.botAccount, {ID: sess.UserID}},
	}
	if err := h.handler(r.Context(), join); err != nil {
		h.logger.Error("join handling failed", "conversation_id", sess.ConversationID, "error", err)
	}

	go h.pingLoop(sess.ConversationID, s)
	h.readLoop(r.Context(), sess, s)
}

func (h *Hub) register(conversationID string, s *session) {
	h.mu.Lock()
	old := h.sessions[conversationID]
	h.sessions[conversationID] = s
	h.mu.Unlock()

	// A reconnect replaces the previous socket for the same conversation.
	if old != nil {
		old.conn.Close()
	}
}

func (h *Hub) unregister(conversationID string, s *session) {
	h.mu.Lock()
	if h.sessions[conversationID] == s {
		delete(h.sessions, conversationID)
	}
	h.mu.Unlock()
	s.conn.Close()
}

func (h *Hub) readLoop(ctx context.Context, sess *auth.Session, s *session) {
	defer h.unregister(sess.ConversationID, s)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("widget connection dropped", "conversation_id", sess.ConversationID, "error", err)
			}
			return
		}

		a := &activity.Activity{
			ID:           frame.ID,
			Kind:         activity.KindMessage,
			Channel:      activity.ChannelWeb,
			Conversation: activity.Conversation{ID: sess.ConversationID},
			From:         activity.Account{ID: sess.UserID},
			Recipient:    h.botAccount,
			Text:         frame.Text,
			Value:        frame.Value,
		}
		if err := h.handler(ctx, a); err != nil {
			h.logger.Error("widget activity handling failed", "conversation_id", sess.ConversationID, "error", err)
		}
	}
}

func (h *Hub) pingLoop(conversationID string, s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		current := h.sessions[conversationID]
		h.mu.RUnlock()
		if current != s {
			return
		}

		s.writeMu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// Connected reports whether a widget session is live for the conversation.
func (h *Hub) Connected(conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[conversationID]
	return ok
}

// SendToConversation delivers an activity to the connected widget. Returns
// transport.ErrNotConnected when no session is live; the widget has no
// out-of-band delivery channel.
func (h *Hub) SendToConversation(ctx context.Context, conversationID string, a *activity.Activity) (string, error) {
	h.mu.RLock()
	s, ok := h.sessions[conversationID]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("widget %s: %w", conversationID, transport.ErrNotConnected)
	}

	frame := frameFor(a)
	frame.ID = uuid.New().String()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		return "", fmt.Errorf("writing to widget %s: %w", conversationID, err)
	}
	return frame.ID, nil
}

// ContinueConversation resolves through the live session registry; the
// persisted reference only contributes its conversation id.
func (h *Hub) ContinueConversation(ctx context.Context, ref *activity.ConversationReference, a *activity.Activity) (string, error) {
	return h.SendToConversation(ctx, ref.Conversation.ID, a)
}

// UpdateActivity is not supported: the widget renders an append-only
// transcript.
func (h *Hub) UpdateActivity(ctx context.Context, conversationID, activityID string, a *activity.Activity) error {
	return fmt.Errorf("widget messages are immutable: %w", transport.ErrUnsupported)
}

// CreateConversation is not supported: widget conversations are created by
// the widget connecting, never proactively.
func (h *Hub) CreateConversation(ctx context.Context, groupID string, a *activity.Activity) (string, string, error) {
	return "", "", fmt.Errorf("widget conversations start client-side: %w", transport.ErrUnsupported)
}

// Close drops every live session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.conn.Close()
		delete(h.sessions, id)
	}
}

func frameFor(a *activity.Activity) *Frame {
	switch {
	case a.Kind == activity.KindEndOfConversation:
		return &Frame{Type: FrameEndOfConversation}
	case a.Card != nil:
		return &Frame{Type: FrameCard, Card: a.Card}
	default:
		return &Frame{Type: FrameMessage, Text: a.Text}
	}
}
