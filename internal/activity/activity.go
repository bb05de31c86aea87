// ABOUTME: Normalized activity envelope shared by the dispatcher, relay engine, and transports.
// ABOUTME: Defines activity kinds, conversation references, cards, and invoke acknowledgements.

package activity

import "time"

// Channel identifies which side of the relay an activity belongs to.
type Channel string

const (
	// ChannelWeb is the embedded web chat widget side.
	ChannelWeb Channel = "webchat"

	// ChannelTarget is the group-messaging platform side.
	ChannelTarget Channel = "target"
)

// Kind classifies an inbound or outbound activity.
type Kind string

const (
	KindMessage            Kind = "message"
	KindInvoke             Kind = "invoke"
	KindInstallationUpdate Kind = "installationUpdate"
	KindMembersAdded       Kind = "membersAdded"
	KindEndOfConversation  Kind = "endOfConversation"
)

// CardContentType is the media type reported in invoke acknowledgements
// that carry a rendered card fragment.
const CardContentType = "application/vnd.deskbridge.card"

// Account identifies a participant on a channel.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation identifies a channel-side conversation.
type Conversation struct {
	ID string `json:"id"`
}

// Activity is the channel-agnostic event envelope. Transports translate
// platform events into Activities on the way in and Activities back into
// platform calls on the way out.
type Activity struct {
	// ID is the platform-assigned event identifier, used for dedupe.
	// May be empty for synthesized activities.
	ID string `json:"id,omitempty"`

	Kind         Kind         `json:"kind"`
	Channel      Channel      `json:"channel"`
	Conversation Conversation `json:"conversation"`
	From         Account      `json:"from,omitempty"`
	Recipient    Account      `json:"recipient,omitempty"`

	// Text is the plain message body for KindMessage activities.
	Text string `json:"text,omitempty"`

	// Value carries submitted action data for invoke and card-action
	// activities, keyed by input id plus an "action" discriminator.
	Value map[string]any `json:"value,omitempty"`

	// Card is a rendered card attachment, set on outbound activities only.
	Card *Card `json:"card,omitempty"`

	// MembersAdded lists newly joined accounts for KindMembersAdded.
	MembersAdded []Account `json:"membersAdded,omitempty"`

	// GroupID is the target-channel group the activity arrived from, when
	// the platform scopes events to a group (used by the add-group action).
	GroupID string `json:"groupId,omitempty"`

	// OnBehalfOf attributes an outbound target-channel message to the
	// original web-side sender.
	OnBehalfOf *Account `json:"onBehalfOf,omitempty"`

	// ServiceURL is the platform endpoint the activity was delivered from,
	// captured into conversation references for later sends.
	ServiceURL string `json:"serviceUrl,omitempty"`
}

// Action returns the action discriminator from the activity value, or "".
func (a *Activity) Action() string {
	if a.Value == nil {
		return ""
	}
	action, _ := a.Value["action"].(string)
	return action
}

// ValueString returns the named value field as a string, or "".
func (a *Activity) ValueString(key string) string {
	if a.Value == nil {
		return ""
	}
	s, _ := a.Value[key].(string)
	return s
}

// ConversationReference is the durable capability to resume sending on a
// channel conversation outside the context of an inbound request. It is
// persisted as an opaque blob and must carry everything a transport needs
// to re-open a send session.
type ConversationReference struct {
	Channel      Channel      `json:"channel"`
	Conversation Conversation `json:"conversation"`
	ServiceURL   string       `json:"serviceUrl,omitempty"`
	Bot          Account      `json:"bot,omitempty"`
	User         Account      `json:"user,omitempty"`
	CapturedAt   time.Time    `json:"capturedAt"`
}

// ReferenceFrom captures a conversation reference from an inbound activity.
func ReferenceFrom(a *Activity) *ConversationReference {
	return &ConversationReference{
		Channel:      a.Channel,
		Conversation: a.Conversation,
		ServiceURL:   a.ServiceURL,
		Bot:          a.Recipient,
		User:         a.From,
		CapturedAt:   time.Now().UTC(),
	}
}

// InvokeResponse is the synchronous acknowledgement body returned for
// invoke-style activities.
type InvokeResponse struct {
	StatusCode int    `json:"statusCode"`
	Type       string `json:"type,omitempty"`
	Value      *Card  `json:"value,omitempty"`
}

// NewMessage builds an outbound plain-text message activity.
func NewMessage(channel Channel, conversationID, text string) *Activity {
	return &Activity{
		Kind:         KindMessage,
		Channel:      channel,
		Conversation: Conversation{ID: conversationID},
		Text:         text,
	}
}

// NewCardMessage builds an outbound message activity carrying a card.
func NewCardMessage(channel Channel, conversationID string, card *Card) *Activity {
	return &Activity{
		Kind:         KindMessage,
		Channel:      channel,
		Conversation: Conversation{ID: conversationID},
		Card:         card,
	}
}

// NewEndOfConversation builds the end-of-conversation signal for the web
// widget so it can close its input.
func NewEndOfConversation(conversationID string) *Activity {
	return &Activity{
		Kind:         KindEndOfConversation,
		Channel:      ChannelWeb,
		Conversation: Conversation{ID: conversationID},
	}
}
