// ABOUTME: HTTP server wiring the widget endpoints and Slack webhooks to the relay.
// ABOUTME: Owns listener setup, graceful shutdown, and the apology path for failed relays.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/auth"
	"github.com/2389/deskbridge/internal/transport"
	slackadapter "github.com/2389/deskbridge/internal/transport/slack"
	"github.com/2389/deskbridge/internal/transport/webchat"
)

// Dispatcher consumes inbound activities. *relay.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *activity.Activity) (*activity.InvokeResponse, error)
	Apologize(ctx context.Context, a *activity.Activity)
}

// Pinger reports storage liveness for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the server's collaborators.
type Config struct {
	HTTPAddr string

	Issuer     *auth.Issuer
	Hub        *webchat.Hub
	Dispatcher Dispatcher
	Store      Pinger

	// Slack webhook adapters; nil when the Slack integration is disabled.
	SlackEvents       *slackadapter.EventAdapter
	SlackInteractions *slackadapter.InteractionAdapter

	// Target applies card acknowledgements back onto the source message.
	Target transport.Sender

	Logger *slog.Logger
}

// Server is the deskbridge HTTP surface.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	// Widget endpoints. The session token minted here authenticates the
	// websocket connection.
	mux.HandleFunc("/api/tokens", s.handleTokens)
	mux.Handle("/ws", cfg.Hub)

	// Direct activity injection, used by the widget's HTTP fallback and
	// by integration tooling.
	mux.HandleFunc("/api/messages", s.handleMessages)

	if cfg.SlackEvents != nil {
		mux.HandleFunc("/api/slack/events", s.handleSlackEvents)
	}
	if cfg.SlackInteractions != nil {
		mux.HandleFunc("/api/slack/interactions", s.handleSlackInteractions)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.cfg.Hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if storage is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "storage unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// tokenResponse is the body returned by the token endpoint.
type tokenResponse struct {
	Token          string `json:"token"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// handleTokens mints a widget session token. Each token binds a fresh
// anonymous user id to a fresh conversation id.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, session, err := s.cfg.Issuer.Issue()
	if err != nil {
		s.logger.Error("minting session token failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{
		Token:          token,
		UserID:         session.UserID,
		ConversationID: session.ConversationID,
	})
}

// handleMessages accepts one activity as JSON and dispatches it. Invoke
// activities get the dispatcher's acknowledgement as the response body.
// Relay failures are answered with an apology toward the sender and a 200,
// so channel-side retry storms are not triggered for unrecoverable input.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var a activity.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "invalid activity", http.StatusBadRequest)
		return
	}

	resp, err := s.cfg.Dispatcher.Dispatch(r.Context(), &a)
	if err != nil {
		s.logger.Error("dispatch failed", "channel", a.Channel, "kind", a.Kind, "error", err)
		s.cfg.Dispatcher.Apologize(r.Context(), &a)
		w.WriteHeader(http.StatusOK)
		return
	}

	if resp != nil {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSlackEvents terminates Slack Events API deliveries. Failures are
// answered with a 500 so Slack redelivers; the dedupe cache drops the
// duplicates that were already processed.
func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	a, challenge, err := s.cfg.SlackEvents.ParseRequest(r)
	if err != nil {
		s.logger.Warn("rejected slack event", "error", err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if challenge != "" {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge))
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := s.cfg.Dispatcher.Dispatch(r.Context(), a); err != nil {
		s.logger.Error("slack event dispatch failed", "conversation_id", a.Conversation.ID, "error", err)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSlackInteractions terminates Slack interactivity callbacks. When
// the dispatcher acknowledges with a card, the source message is updated
// in place to show it.
func (s *Server) handleSlackInteractions(w http.ResponseWriter, r *http.Request) {
	a, err := s.cfg.SlackInteractions.ParseRequest(r)
	if err != nil {
		s.logger.Warn("rejected slack interaction", "error", err)
		http.Error(w, "invalid interaction", http.StatusBadRequest)
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	resp, err := s.cfg.Dispatcher.Dispatch(r.Context(), a)
	if err != nil {
		s.logger.Error("slack interaction dispatch failed", "conversation_id", a.Conversation.ID, "error", err)
		s.cfg.Dispatcher.Apologize(r.Context(), a)
		w.WriteHeader(http.StatusOK)
		return
	}

	if resp != nil && resp.Value != nil && s.cfg.Target != nil {
		// Block action acks carry no body on Slack; render the card by
		// rewriting the message the button lives on.
		_, messageTS := slackadapter.DecodeConversationID(a.Conversation.ID)
		update := activity.NewCardMessage(activity.ChannelTarget, a.Conversation.ID, resp.Value)
		if err := s.cfg.Target.UpdateActivity(r.Context(), a.Conversation.ID, messageTS, update); err != nil {
			s.logger.Warn("applying interaction card failed", "conversation_id", a.Conversation.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}
