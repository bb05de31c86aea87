// ABOUTME: Card to Block Kit translation.
// ABOUTME: Maps card titles, facts, inputs, and actions onto Slack blocks.

package slack

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/2389/deskbridge/internal/activity"
)

// CardBlocks renders a card as Block Kit blocks. Card actions become
// buttons whose action id is the card action name; showcard inputs become
// message input blocks so the submitted state travels with the button
// press.
func CardBlocks(card *activity.Card) []slack.Block {
	var blocks []slack.Block

	if card.Title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, card.Title, false, false),
		))
	}
	if card.Subtitle != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, card.Subtitle, false, false),
		))
	}
	if card.Body != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, card.Body, false, false),
			nil, nil,
		))
	}

	if len(card.Facts) > 0 {
		fields := make([]*slack.TextBlockObject, 0, len(card.Facts))
		for _, fact := range card.Facts {
			fields = append(fields, slack.NewTextBlockObject(
				slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", fact.Title, fact.Value),
				false, false,
			))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	for _, act := range card.Actions {
		blocks = append(blocks, actionBlocks(act)...)
	}

	if card.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, card.Footer, false, false),
		))
	}

	return blocks
}

// actionBlocks renders one card action. Showcard actions inline their
// inputs ahead of the submit button; Slack has no progressive disclosure
// for message-level inputs.
func actionBlocks(act activity.Action) []slack.Block {
	actionID, _ := act.Data["action"].(string)
	if actionID == "" {
		actionID = act.Title
	}

	var blocks []slack.Block
	for _, in := range act.Inputs {
		blocks = append(blocks, inputBlock(in))
	}

	button := slack.NewButtonBlockElement(actionID, buttonValue(act.Data),
		slack.NewTextBlockObject(slack.PlainTextType, act.Title, false, false))
	blocks = append(blocks, slack.NewActionBlock("actions_"+actionID, button))
	return blocks
}

func inputBlock(in activity.Input) slack.Block {
	element := slack.NewPlainTextInputBlockElement(
		placeholderText(in.Placeholder), in.ID,
	)
	element.Multiline = in.Multiline

	label := slack.NewTextBlockObject(slack.PlainTextType, in.Label, false, false)
	block := slack.NewInputBlock("input_"+in.ID, label, nil, element)
	block.Optional = !in.Required
	// DispatchAction stays false: values are read from the block action
	// state when the submit button fires.
	return block
}

func placeholderText(placeholder string) *slack.TextBlockObject {
	if placeholder == "" {
		return nil
	}
	return slack.NewTextBlockObject(slack.PlainTextType, placeholder, false, false)
}

// buttonValue serializes the action's data payload into the button value
// so it round-trips through the interaction callback.
func buttonValue(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(raw)
}
