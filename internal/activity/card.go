// ABOUTME: Renderable card structures produced by the card renderer.
// ABOUTME: Transports translate cards into their platform-native rich message format.

package activity

// Card is a renderable rich message. It is the renderer's output format and
// deliberately knows nothing about any platform's native card schema.
type Card struct {
	ContentType string `json:"contentType"`
	TemplateID  string `json:"templateId,omitempty"`
	Title       string `json:"title,omitempty"`
	Subtitle    string `json:"subtitle,omitempty"`

	// Body is the card body text (markdown source).
	Body string `json:"body,omitempty"`

	// HTML is the body rendered to HTML, set for web-widget-bound cards.
	HTML string `json:"html,omitempty"`

	Footer  string   `json:"footer,omitempty"`
	Facts   []Fact   `json:"facts,omitempty"`
	Inputs  []Input  `json:"inputs,omitempty"`
	Actions []Action `json:"actions,omitempty"`

	// Payload carries template data that must survive the round trip to
	// the platform and back (e.g. the web conversation id on the chat
	// request card).
	Payload map[string]any `json:"payload,omitempty"`
}

// Fact is a titled value on a card's fact set.
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Input kinds.
const (
	InputText   = "text"
	InputChoice = "choice"
)

// Input is a user-editable field on a card.
type Input struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Label        string   `json:"label,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Required     bool     `json:"required,omitempty"`
	Multiline    bool     `json:"multiline,omitempty"`
	Options      []Option `json:"options,omitempty"`
}

// Option is a selectable choice on a choice input.
type Option struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Action kinds.
const (
	ActionExecute  = "execute"
	ActionShowCard = "showcard"
)

// Action is an invokable affordance attached to a card. ShowCard actions
// expose their own inputs before executing.
type Action struct {
	Kind   string         `json:"kind"`
	Title  string         `json:"title"`
	Data   map[string]any `json:"data,omitempty"`
	Inputs []Input        `json:"inputs,omitempty"`
}
