package slack

import (
	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/chatgate/internal/messenger"
)

// ReviewActionsBlockID identifies the button row of a review thread.
const ReviewActionsBlockID = "review_actions"

// BuildReviewBlocks builds the Block Kit layout for a review thread: the
// command text followed by one button per option.
func BuildReviewBlocks(text string, options []messenger.ReviewOption) []slacklib.Block {
	textBlock := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
		nil,
		nil,
	)

	if len(options) == 0 {
		return []slacklib.Block{textBlock}
	}

	buttons := make([]slacklib.BlockElement, 0, len(options))
	for _, opt := range options {
		btn := slacklib.NewButtonBlockElement(
			"review_"+opt.Value,
			opt.Value,
			slacklib.NewTextBlockObject(slacklib.PlainTextType, opt.Label, false, false),
		)
		switch opt.Value {
		case messenger.AnswerApprove:
			btn.Style = slacklib.StylePrimary
		case messenger.AnswerReject:
			btn.Style = slacklib.StyleDanger
		}
		buttons = append(buttons, btn)
	}

	return []slacklib.Block{textBlock, slacklib.NewActionBlock(ReviewActionsBlockID, buttons...)}
}
