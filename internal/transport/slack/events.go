// ABOUTME: Slack Events API translation into bridge activities.
// ABOUTME: Verifies signatures, answers URL verification, and filters bot echoes.

package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/2389/deskbridge/internal/activity"
)

// UserDirectory resolves member ids to profiles. *slack.Client satisfies it.
type UserDirectory interface {
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// EventAdapter translates verified Events API deliveries into activities.
type EventAdapter struct {
	signingSecret string
	botUserID     string
	users         UserDirectory

	mentionRe *regexp.Regexp

	mu    sync.Mutex
	names map[string]string
}

// NewEventAdapter creates an adapter for the given workspace credentials.
// botUserID is the bot's member id, used to filter its own messages and to
// strip @-mentions from relayed text. users may be nil, in which case
// relayed messages are attributed by member id.
func NewEventAdapter(signingSecret, botUserID string, users UserDirectory) *EventAdapter {
	return &EventAdapter{
		signingSecret: signingSecret,
		botUserID:     botUserID,
		users:         users,
		mentionRe:     regexp.MustCompile(`<@` + regexp.QuoteMeta(botUserID) + `(\|[^>]*)?>\s*`),
		names:         make(map[string]string),
	}
}

// ParseRequest verifies and parses one Events API HTTP delivery.
//
// The returned challenge is non-empty for url_verification handshakes and
// must be echoed back verbatim. The returned activity is nil for events
// the bridge does not relay.
func (e *EventAdapter) ParseRequest(r *http.Request) (a *activity.Activity, challenge string, err error) {
	verifier, err := slack.NewSecretsVerifier(r.Header, e.signingSecret)
	if err != nil {
		return nil, "", fmt.Errorf("initializing signature verifier: %w", err)
	}

	body, err := io.ReadAll(io.TeeReader(r.Body, &verifier))
	if err != nil {
		return nil, "", fmt.Errorf("reading event body: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return nil, "", fmt.Errorf("verifying event signature: %w", err)
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, "", fmt.Errorf("parsing event: %w", err)
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challengeResponse slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challengeResponse); err != nil {
			return nil, "", fmt.Errorf("parsing url verification: %w", err)
		}
		return nil, challengeResponse.Challenge, nil

	case slackevents.CallbackEvent:
		return e.translate(r.Context(), event.InnerEvent), "", nil

	default:
		return nil, "", nil
	}
}

func (e *EventAdapter) translate(ctx context.Context, inner slackevents.EventsAPIInnerEvent) *activity.Activity {
	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		return e.translateMessage(ctx, ev)

	case *slackevents.MemberJoinedChannelEvent:
		// The bot joining a channel is the installation moment for that
		// group; member joins by anyone else are not bridge events.
		if ev.User != e.botUserID {
			return nil
		}
		return &activity.Activity{
			Kind:         activity.KindInstallationUpdate,
			Channel:      activity.ChannelTarget,
			Conversation: activity.Conversation{ID: ev.Channel},
			GroupID:      ev.Channel,
		}

	default:
		return nil
	}
}

// translateMessage maps a channel message into a bridge message activity.
// Only thread replies are candidates: bridge conversations live in
// threads, and relaying top-level channel chatter would spam every
// unrelated message with a not-related notice.
func (e *EventAdapter) translateMessage(ctx context.Context, ev *slackevents.MessageEvent) *activity.Activity {
	if ev.BotID != "" || ev.User == e.botUserID {
		return nil
	}
	// Edits, deletions, joins and other subtypes are not relayable text.
	if ev.SubType != "" {
		return nil
	}
	if ev.ThreadTimeStamp == "" {
		return nil
	}

	text := e.mentionRe.ReplaceAllString(ev.Text, "")
	return &activity.Activity{
		ID:           ev.TimeStamp,
		Kind:         activity.KindMessage,
		Channel:      activity.ChannelTarget,
		Conversation: activity.Conversation{ID: EncodeConversationID(ev.Channel, ev.ThreadTimeStamp)},
		From:         activity.Account{ID: ev.User, Name: e.displayName(ctx, ev.User)},
		Recipient:    activity.Account{ID: e.botUserID},
		Text:         text,
		GroupID:      ev.Channel,
	}
}

// displayName resolves a member id through the user directory, caching the
// result for the adapter's lifetime. Falls back to the raw id.
func (e *EventAdapter) displayName(ctx context.Context, userID string) string {
	if e.users == nil {
		return userID
	}

	e.mu.Lock()
	name, ok := e.names[userID]
	e.mu.Unlock()
	if ok {
		return name
	}

	user, err := e.users.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}

	e.mu.Lock()
	e.names[userID] = name
	e.mu.Unlock()
	return name
}
