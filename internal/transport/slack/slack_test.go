// ABOUTME: Tests for the Slack transport, block rendering, and payload translation.
// ABOUTME: Uses a recording fake client; no Slack API calls are made.

package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/deskbridge/internal/activity"
)

type postCall struct {
	channelID string
	options   []slackapi.MsgOption
}

type fakeClient struct {
	posts   []postCall
	updates []postCall
	nextTS  string
	err     error
}

func (f *fakeClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.posts = append(f.posts, postCall{channelID, options})
	return channelID, f.nextTS, nil
}

func (f *fakeClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	if f.err != nil {
		return "", "", "", f.err
	}
	f.updates = append(f.updates, postCall{channelID, options})
	return channelID, timestamp, "", nil
}

func TestConversationIDCodec(t *testing.T) {
	assert.Equal(t, "C1/100.1", EncodeConversationID("C1", "100.1"))
	assert.Equal(t, "C1", EncodeConversationID("C1", ""))

	channel, ts := DecodeConversationID("C1/100.1")
	assert.Equal(t, "C1", channel)
	assert.Equal(t, "100.1", ts)

	channel, ts = DecodeConversationID("C1")
	assert.Equal(t, "C1", channel)
	assert.Empty(t, ts)
}

func TestSendToConversation_ThreadsReplies(t *testing.T) {
	client := &fakeClient{nextTS: "200.2"}
	tr := New(client, nil)

	ts, err := tr.SendToConversation(context.Background(), "C1/100.1", activity.NewMessage(activity.ChannelTarget, "C1/100.1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "200.2", ts)
	require.Len(t, client.posts, 1)
	assert.Equal(t, "C1", client.posts[0].channelID)
}

func TestSendToConversation_EmptyID(t *testing.T) {
	tr := New(&fakeClient{}, nil)
	_, err := tr.SendToConversation(context.Background(), "", activity.NewMessage(activity.ChannelTarget, "", "hello"))
	assert.Error(t, err)
}

func TestCreateConversation_ReturnsThreadIDs(t *testing.T) {
	client := &fakeClient{nextTS: "100.1"}
	tr := New(client, nil)

	card := &activity.Card{Title: "Billing question"}
	conversationID, activityID, err := tr.CreateConversation(context.Background(), "C1", activity.NewCardMessage(activity.ChannelTarget, "", card))
	require.NoError(t, err)
	assert.Equal(t, "C1/100.1", conversationID)
	assert.Equal(t, "100.1", activityID)
}

func TestUpdateActivity_RequiresIDs(t *testing.T) {
	tr := New(&fakeClient{}, nil)
	a := activity.NewMessage(activity.ChannelTarget, "C1/100.1", "x")
	assert.Error(t, tr.UpdateActivity(context.Background(), "C1/100.1", "", a))
	assert.NoError(t, tr.UpdateActivity(context.Background(), "C1/100.1", "100.1", a))
}

func TestCardBlocks(t *testing.T) {
	card := &activity.Card{
		Title:    "Billing question",
		Subtitle: "Status: unanswered",
		Facts: []activity.Fact{
			{Title: "Requested by", Value: "Ada"},
			{Title: "Started", Value: "Fri, Mar 14, 2025 3:09 PM"},
		},
		Actions: []activity.Action{{
			Kind:  activity.ActionShowCard,
			Title: "End chat",
			Inputs: []activity.Input{{
				ID:        "closingNotes",
				Label:     "Closing notes",
				Required:  true,
				Multiline: true,
			}},
			Data: map[string]any{"action": "endChatFromTarget"},
		}},
	}

	blocks := CardBlocks(card)
	require.Len(t, blocks, 5)

	header, ok := blocks[0].(*slackapi.HeaderBlock)
	require.True(t, ok)
	assert.Equal(t, "Billing question", header.Text.Text)

	_, ok = blocks[1].(*slackapi.ContextBlock)
	require.True(t, ok)

	facts, ok := blocks[2].(*slackapi.SectionBlock)
	require.True(t, ok)
	require.Len(t, facts.Fields, 2)
	assert.Contains(t, facts.Fields[0].Text, "Requested by")

	input, ok := blocks[3].(*slackapi.InputBlock)
	require.True(t, ok)
	assert.False(t, input.Optional)

	actions, ok := blocks[4].(*slackapi.ActionBlock)
	require.True(t, ok)
	require.Len(t, actions.Elements.ElementSet, 1)
	button, ok := actions.Elements.ElementSet[0].(*slackapi.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "endChatFromTarget", button.ActionID)
	assert.Contains(t, button.Value, "endChatFromTarget")
}

func TestTranslateMessage(t *testing.T) {
	adapter := NewEventAdapter("secret", "UBOT", nil)

	t.Run("thread reply relays with mention stripped", func(t *testing.T) {
		a := adapter.translateMessage(context.Background(), &slackevents.MessageEvent{
			User:            "U1",
			Channel:         "C1",
			Text:            "<@UBOT> we are looking into it",
			TimeStamp:       "200.2",
			ThreadTimeStamp: "100.1",
		})
		require.NotNil(t, a)
		assert.Equal(t, activity.KindMessage, a.Kind)
		assert.Equal(t, "C1/100.1", a.Conversation.ID)
		assert.Equal(t, "we are looking into it", a.Text)
		assert.Equal(t, "200.2", a.ID)
	})

	t.Run("top level messages ignored", func(t *testing.T) {
		a := adapter.translateMessage(context.Background(), &slackevents.MessageEvent{
			User: "U1", Channel: "C1", Text: "morning all", TimeStamp: "200.2",
		})
		assert.Nil(t, a)
	})

	t.Run("bot echoes ignored", func(t *testing.T) {
		a := adapter.translateMessage(context.Background(), &slackevents.MessageEvent{
			User: "UBOT", Channel: "C1", ThreadTimeStamp: "100.1",
		})
		assert.Nil(t, a)
		a = adapter.translateMessage(context.Background(), &slackevents.MessageEvent{
			BotID: "B1", Channel: "C1", ThreadTimeStamp: "100.1",
		})
		assert.Nil(t, a)
	})

	t.Run("subtypes ignored", func(t *testing.T) {
		a := adapter.translateMessage(context.Background(), &slackevents.MessageEvent{
			User: "U1", Channel: "C1", SubType: "message_changed", ThreadTimeStamp: "100.1",
		})
		assert.Nil(t, a)
	})
}

func TestTranslateMemberJoined(t *testing.T) {
	adapter := NewEventAdapter("secret", "UBOT", nil)

	a := adapter.translate(context.Background(), slackevents.EventsAPIInnerEvent{
		Data: &slackevents.MemberJoinedChannelEvent{User: "UBOT", Channel: "C9"},
	})
	require.NotNil(t, a)
	assert.Equal(t, activity.KindInstallationUpdate, a.Kind)
	assert.Equal(t, "C9", a.Conversation.ID)
	assert.Equal(t, "C9", a.GroupID)

	a = adapter.translate(context.Background(), slackevents.EventsAPIInnerEvent{
		Data: &slackevents.MemberJoinedChannelEvent{User: "U1", Channel: "C9"},
	})
	assert.Nil(t, a)
}

func TestTranslateInteraction(t *testing.T) {
	adapter := NewInteractionAdapter("secret", "UBOT")

	callback := &slackapi.InteractionCallback{
		Type:     slackapi.InteractionTypeBlockActions,
		ActionTs: "300.3",
		User:     slackapi.User{ID: "U1", Name: "grace"},
		Channel:  slackapi.Channel{GroupConversation: slackapi.GroupConversation{Conversation: slackapi.Conversation{ID: "C1"}}},
		ActionCallback: slackapi.ActionCallbacks{
			BlockActions: []*slackapi.BlockAction{{
				ActionID: "endChatFromTarget",
				Value:    `{"action":"endChatFromTarget"}`,
			}},
		},
		BlockActionState: &slackapi.BlockActionStates{
			Values: map[string]map[string]slackapi.BlockAction{
				"input_closingNotes": {
					"closingNotes": {Value: "resolved by refund"},
				},
			},
		},
	}
	callback.Message.Timestamp = "100.1"

	a := adapter.translate(callback)
	require.NotNil(t, a)
	assert.Equal(t, activity.KindInvoke, a.Kind)
	assert.Equal(t, "C1/100.1", a.Conversation.ID)
	assert.Equal(t, "endChatFromTarget", a.Action())
	assert.Equal(t, "resolved by refund", a.ValueString("closingNotes"))
	assert.Equal(t, "C1", a.GroupID)
}

func TestParseRequest_URLVerification(t *testing.T) {
	adapter := NewEventAdapter("secret", "UBOT", nil)

	body := `{"type":"url_verification","challenge":"challenge-token"}`
	req := signedRequest(t, "secret", body)

	a, challenge, err := adapter.ParseRequest(req)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, "challenge-token", challenge)
}

func TestParseRequest_BadSignature(t *testing.T) {
	adapter := NewEventAdapter("secret", "UBOT", nil)

	req := signedRequest(t, "wrong-secret", `{"type":"url_verification","challenge":"x"}`)
	_, _, err := adapter.ParseRequest(req)
	assert.Error(t, err)
}

// signedRequest builds a request carrying a valid v0 Slack signature for
// the given secret.
func signedRequest(t *testing.T, secret, body string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/slack/events", strings.NewReader(body))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)

	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
	return req
}
