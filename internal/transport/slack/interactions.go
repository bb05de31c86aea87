// ABOUTME: Slack interactivity payload translation into invoke activities.
// ABOUTME: Verifies signatures and flattens block action state into activity values.

package slack

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"

	"github.com/2389/deskbridge/internal/activity"
)

// InteractionAdapter translates verified interactivity callbacks into
// invoke activities.
type InteractionAdapter struct {
	signingSecret string
	botUserID     string
}

// NewInteractionAdapter creates an adapter for the given signing secret.
func NewInteractionAdapter(signingSecret, botUserID string) *InteractionAdapter {
	return &InteractionAdapter{
		signingSecret: signingSecret,
		botUserID:     botUserID,
	}
}

// ParseRequest verifies and parses one interactivity HTTP delivery. The
// returned activity is nil for interaction types the bridge does not
// handle.
func (i *InteractionAdapter) ParseRequest(r *http.Request) (*activity.Activity, error) {
	verifier, err := slack.NewSecretsVerifier(r.Header, i.signingSecret)
	if err != nil {
		return nil, fmt.Errorf("initializing signature verifier: %w", err)
	}

	body, err := io.ReadAll(io.TeeReader(r.Body, &verifier))
	if err != nil {
		return nil, fmt.Errorf("reading interaction body: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return nil, fmt.Errorf("verifying interaction signature: %w", err)
	}

	// Interactivity deliveries are form encoded with the callback under
	// the payload field.
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing interaction form: %w", err)
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(values.Get("payload")), &callback); err != nil {
		return nil, fmt.Errorf("parsing interaction payload: %w", err)
	}

	if callback.Type != slack.InteractionTypeBlockActions {
		return nil, nil
	}
	return i.translate(&callback), nil
}

// translate maps a block-actions callback onto an invoke activity. The
// pressed button's serialized data seeds the value map; submitted input
// state overlays it, so typed values win over template defaults.
func (i *InteractionAdapter) translate(callback *slack.InteractionCallback) *activity.Activity {
	if len(callback.ActionCallback.BlockActions) == 0 {
		return nil
	}
	pressed := callback.ActionCallback.BlockActions[0]

	value := map[string]any{"action": pressed.ActionID}
	if pressed.Value != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(pressed.Value), &data); err == nil {
			for k, v := range data {
				value[k] = v
			}
		}
	}
	if callback.BlockActionState != nil {
		for _, blockValues := range callback.BlockActionState.Values {
			for actionID, state := range blockValues {
				if state.Value != "" {
					value[actionID] = state.Value
				}
			}
		}
	}

	threadTS := callback.Container.ThreadTs
	if threadTS == "" {
		threadTS = callback.Message.ThreadTimestamp
	}
	if threadTS == "" {
		// A button on a top-level message roots its own thread.
		threadTS = callback.Message.Timestamp
	}

	return &activity.Activity{
		ID:           callback.ActionTs,
		Kind:         activity.KindInvoke,
		Channel:      activity.ChannelTarget,
		Conversation: activity.Conversation{ID: EncodeConversationID(callback.Channel.ID, threadTS)},
		From:         activity.Account{ID: callback.User.ID, Name: callback.User.Name},
		Recipient:    activity.Account{ID: i.botUserID},
		Value:        value,
		GroupID:      callback.Channel.ID,
	}
}
