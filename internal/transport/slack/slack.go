// ABOUTME: Slack transport implementing the target-channel sender.
// ABOUTME: Encodes bridge conversations as channel/thread-timestamp pairs.

package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/transport"
)

// EncodeConversationID builds the bridge conversation id for a Slack
// thread. A conversation is a thread rooted at the request message; the
// bare channel id addresses the channel itself.
func EncodeConversationID(channelID, threadTS string) string {
	if threadTS == "" {
		return channelID
	}
	return channelID + "/" + threadTS
}

// DecodeConversationID splits a bridge conversation id back into its Slack
// channel and thread timestamp.
func DecodeConversationID(conversationID string) (channelID, threadTS string) {
	channelID, threadTS, _ = strings.Cut(conversationID, "/")
	return channelID, threadTS
}

// Client is the subset of the Slack API the transport uses.
type Client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// Transport sends bridge activities into Slack. Each bridge conversation
// maps to one thread; the thread root is the structured request message.
type Transport struct {
	client Client
	logger *slog.Logger
}

var _ transport.Sender = (*Transport)(nil)

// New creates a Slack transport over an API client.
func New(client Client, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		client: client,
		logger: logger.With("component", "slack"),
	}
}

// NewFromToken creates a transport with a real API client for the given
// bot token.
func NewFromToken(botToken string, logger *slog.Logger) *Transport {
	return New(slack.New(botToken), logger)
}

// SendToConversation posts an activity into the conversation's thread and
// returns the posted message timestamp.
func (t *Transport) SendToConversation(ctx context.Context, conversationID string, a *activity.Activity) (string, error) {
	channelID, threadTS := DecodeConversationID(conversationID)
	if channelID == "" {
		return "", fmt.Errorf("empty slack conversation id")
	}

	options := messageOptions(a)
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}

	_, ts, err := t.client.PostMessageContext(ctx, channelID, options...)
	if err != nil {
		return "", fmt.Errorf("posting to slack %s: %w", conversationID, err)
	}
	t.logger.Debug("posted message", "channel", channelID, "thread_ts", threadTS, "ts", ts)
	return ts, nil
}

// ContinueConversation sends via a previously captured reference. Slack
// sends are id-addressed, so the reference adds nothing beyond its
// conversation id.
func (t *Transport) ContinueConversation(ctx context.Context, ref *activity.ConversationReference, a *activity.Activity) (string, error) {
	return t.SendToConversation(ctx, ref.Conversation.ID, a)
}

// UpdateActivity replaces a previously posted message in place, used to
// keep the request card's status rendering current.
func (t *Transport) UpdateActivity(ctx context.Context, conversationID, activityID string, a *activity.Activity) error {
	channelID, _ := DecodeConversationID(conversationID)
	if channelID == "" || activityID == "" {
		return fmt.Errorf("update needs a channel and message timestamp")
	}

	_, _, _, err := t.client.UpdateMessageContext(ctx, channelID, activityID, messageOptions(a)...)
	if err != nil {
		return fmt.Errorf("updating slack message %s/%s: %w", channelID, activityID, err)
	}
	return nil
}

// CreateConversation opens a new thread in the group's channel by posting
// the activity as a top-level message. The resulting thread is the new
// conversation; its root timestamp doubles as the request activity id.
func (t *Transport) CreateConversation(ctx context.Context, groupID string, a *activity.Activity) (string, string, error) {
	if groupID == "" {
		return "", "", fmt.Errorf("empty slack group id")
	}

	_, ts, err := t.client.PostMessageContext(ctx, groupID, messageOptions(a)...)
	if err != nil {
		return "", "", fmt.Errorf("opening thread in %s: %w", groupID, err)
	}
	t.logger.Info("opened conversation thread", "channel", groupID, "ts", ts)
	return EncodeConversationID(groupID, ts), ts, nil
}

// messageOptions translates an activity into Slack message options. A
// card renders as Block Kit; plain text posts as mrkdwn. OnBehalfOf
// attribution becomes the posted username.
func messageOptions(a *activity.Activity) []slack.MsgOption {
	var options []slack.MsgOption
	if a.Card != nil {
		options = append(options, slack.MsgOptionBlocks(CardBlocks(a.Card)...))
		if a.Card.Title != "" {
			// Fallback text for notifications and clients without blocks.
			options = append(options, slack.MsgOptionText(a.Card.Title, false))
		}
	} else {
		options = append(options, slack.MsgOptionText(a.Text, false))
	}
	if a.OnBehalfOf != nil && a.OnBehalfOf.Name != "" {
		options = append(options, slack.MsgOptionUsername(a.OnBehalfOf.Name))
	}
	return options
}
