// ABOUTME: Card renderer turning template id + data payload into renderable cards.
// ABOUTME: Templates are TOML definitions with ${placeholder} expansion; bodies may render to HTML.

package cards

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yuin/goldmark"

	"github.com/2389/deskbridge/internal/activity"
)

// Template ids shipped with deskbridge.
const (
	TemplateAddGroup    = "add-group"
	TemplateStartPrompt = "start-prompt"
	TemplateChatMessage = "chat-message"
	TemplateGroupAdded  = "group-added"
	TemplateChatRequest = "chat-request"
)

// TimeFormat is the human-readable timestamp format used on card facts and
// message bubbles.
const TimeFormat = "Mon, Jan 2, 2006 3:04 PM"

// FormatTime renders a timestamp in the card display format.
func FormatTime(t time.Time) string {
	return t.Format(TimeFormat)
}

// Payload is the data merged into a template on render.
type Payload map[string]any

// Renderer is the card rendering boundary. The relay never depends on the
// renderer's internal template format.
type Renderer interface {
	Render(templateID string, data Payload, extra ...activity.Action) (*activity.Card, error)
}

//go:embed templates/*.toml
var templateFS embed.FS

// template is the on-disk TOML shape of a card template.
type template struct {
	ID       string   `toml:"id"`
	Title    string   `toml:"title"`
	Subtitle string   `toml:"subtitle"`
	Body     string   `toml:"body"`
	Footer   string   `toml:"footer"`
	Markdown bool     `toml:"markdown"`
	Payload  []string `toml:"payload"`

	Facts   []factTemplate   `toml:"facts"`
	Inputs  []inputTemplate  `toml:"inputs"`
	Actions []actionTemplate `toml:"actions"`
}

type factTemplate struct {
	Title string `toml:"title"`
	Value string `toml:"value"`
}

type inputTemplate struct {
	ID           string `toml:"id"`
	Kind         string `toml:"kind"`
	Label        string `toml:"label"`
	Placeholder  string `toml:"placeholder"`
	ErrorMessage string `toml:"error_message"`
	Required     bool   `toml:"required"`
	Multiline    bool   `toml:"multiline"`

	// OptionsFrom names the payload key holding []activity.Option choices.
	OptionsFrom string `toml:"options_from"`
}

type actionTemplate struct {
	Kind   string          `toml:"kind"`
	Title  string          `toml:"title"`
	Data   map[string]any  `toml:"data"`
	Inputs []inputTemplate `toml:"inputs"`
}

// TemplateRenderer renders cards from the embedded TOML template set.
type TemplateRenderer struct {
	templates map[string]*template
}

// NewTemplateRenderer loads the embedded template set.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	entries, err := fs.Glob(templateFS, "templates/*.toml")
	if err != nil {
		return nil, fmt.Errorf("globbing templates: %w", err)
	}

	templates := make(map[string]*template, len(entries))
	for _, name := range entries {
		data, err := templateFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		var tmpl template
		if err := toml.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		if tmpl.ID == "" {
			return nil, fmt.Errorf("template %s has no id", name)
		}
		templates[tmpl.ID] = &tmpl
	}

	return &TemplateRenderer{templates: templates}, nil
}

// placeholderRe matches ${key} placeholders in template strings.
var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expand replaces ${key} placeholders with values from the payload.
// Missing keys expand to the empty string.
func expand(s string, data Payload) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := data[key]
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	})
}

// Render merges the payload into the named template. Facts whose value
// expands to the empty string are omitted, so optional record fields only
// appear on the card when present. Extra actions are appended after the
// template's own actions.
func (r *TemplateRenderer) Render(templateID string, data Payload, extra ...activity.Action) (*activity.Card, error) {
	tmpl, ok := r.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown card template %q", templateID)
	}
	if data == nil {
		data = Payload{}
	}

	card := &activity.Card{
		ContentType: activity.CardContentType,
		TemplateID:  tmpl.ID,
		Title:       expand(tmpl.Title, data),
		Subtitle:    expand(tmpl.Subtitle, data),
		Body:        expand(tmpl.Body, data),
		Footer:      expand(tmpl.Footer, data),
	}

	if tmpl.Markdown && card.Body != "" {
		var htmlBuf bytes.Buffer
		if err := goldmark.Convert([]byte(card.Body), &htmlBuf); err != nil {
			return nil, fmt.Errorf("rendering body markdown: %w", err)
		}
		card.HTML = htmlBuf.String()
	}

	for _, fact := range tmpl.Facts {
		value := expand(fact.Value, data)
		if value == "" {
			continue
		}
		card.Facts = append(card.Facts, activity.Fact{Title: fact.Title, Value: value})
	}

	for _, in := range tmpl.Inputs {
		card.Inputs = append(card.Inputs, buildInput(in, data))
	}

	for _, act := range tmpl.Actions {
		card.Actions = append(card.Actions, buildAction(act, data))
	}
	card.Actions = append(card.Actions, extra...)

	for _, key := range tmpl.Payload {
		if value, ok := data[key]; ok {
			if card.Payload == nil {
				card.Payload = make(map[string]any)
			}
			card.Payload[key] = value
		}
	}

	return card, nil
}

func buildInput(in inputTemplate, data Payload) activity.Input {
	kind := in.Kind
	if kind == "" {
		kind = activity.InputText
	}
	input := activity.Input{
		ID:           in.ID,
		Kind:         kind,
		Label:        in.Label,
		Placeholder:  in.Placeholder,
		ErrorMessage: in.ErrorMessage,
		Required:     in.Required,
		Multiline:    in.Multiline,
	}
	if in.OptionsFrom != "" {
		if options, ok := data[in.OptionsFrom].([]activity.Option); ok {
			input.Options = options
		}
	}
	return input
}

func buildAction(act actionTemplate, data Payload) activity.Action {
	action := activity.Action{
		Kind:  act.Kind,
		Title: act.Title,
		Data:  act.Data,
	}
	for _, in := range act.Inputs {
		action.Inputs = append(action.Inputs, buildInput(in, data))
	}
	return action
}

var _ Renderer = (*TemplateRenderer)(nil)
