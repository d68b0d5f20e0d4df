package slack

import (
	"encoding/json"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/kestrelops/kestrel/pkg/approval"
)

const maxBlockTextLength = 2900

// Fingerprint returns the stable text marker embedded in an approval
// request message. Resolution notifications use it to find the thread.
func Fingerprint(pendingID string) string {
	return "pending:" + pendingID
}

// BuildApprovalRequestMessage creates Block Kit blocks for a pending tool
// call notification.
func BuildApprovalRequestMessage(call *approval.PendingCall, dashboardURL string) []goslack.Block {
	header := fmt.Sprintf(":lock: *Tool call awaiting approval* (`%s`)", Fingerprint(call.ID))

	args := "{}"
	if raw, err := json.Marshal(call.Args); err == nil {
		args = string(raw)
	}
	details := fmt.Sprintf(
		"*Tool:* `%s`\n*Instance:* `%s`\n*Requested by:* %s\n*Safety:* %s\n*Reason:* %s\n*Args:* `%s`\n*Expires:* %s",
		call.Tool, call.InstanceID, call.Principal, call.Safety, call.Reason,
		truncateForSlack(args), call.ExpiresAt.UTC().Format("15:04:05 MST"),
	)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, details, false, false),
			nil, nil,
		),
	}

	if dashboardURL != "" {
		url := fmt.Sprintf("%s/approvals/%s", dashboardURL, call.ID)
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "Review in Dashboard", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

// BuildResolutionMessage creates Block Kit blocks for an approval decision,
// posted as a threaded reply to the request message.
func BuildResolutionMessage(call *approval.PendingCall, approved bool) []goslack.Block {
	var text string
	if approved {
		text = fmt.Sprintf(":white_check_mark: *Approved*: `%s` on instance `%s` is executing.",
			call.Tool, call.InstanceID)
	} else {
		text = fmt.Sprintf(":no_entry_sign: *Rejected*: `%s` on instance `%s` was not executed; the run continues without it.",
			call.Tool, call.InstanceID)
	}
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
