package models

import "encoding/json"

// Safety is the risk classification of a tool call.
type Safety string

const (
	SafetySafe      Safety = "safe"
	SafetyModerate  Safety = "moderate"
	SafetyDangerous Safety = "dangerous"
)

// ToolOrigin identifies where a tool descriptor came from.
type ToolOrigin string

const (
	OriginBuiltin ToolOrigin = "builtin"
	OriginMCP     ToolOrigin = "mcp"
)

// ToolDescriptor describes a callable tool. Descriptors are immutable once
// registered and shared between sessions. The (Origin, ServerID, Name) triple
// is unique; ServerID is empty for built-ins.
type ToolDescriptor struct {
	Origin      ToolOrigin      `json:"origin"`
	ServerID    string          `json:"server_id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`

	// SafetyDefault is the static classification used when no per-call
	// classification applies (run_command is classified per call).
	SafetyDefault Safety `json:"safety_default"`
}

// ContentPart is one typed element of a tool result.
// Text parts carry Text; image parts carry base64 Data plus MIMEType.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds a base64-encoded image content part.
func ImagePart(data, mimeType string) ContentPart {
	return ContentPart{Type: "image", Data: data, MIMEType: mimeType}
}

// ToolOutput is the uniform result of executing any tool.
type ToolOutput struct {
	Status  string        `json:"status"` // "success" or "error"
	Content []ContentPart `json:"content"`
	Safety  Safety        `json:"safety_level"`
}

// ApprovalMode controls whether tool calls are gated for human approval.
type ApprovalMode string

const (
	// ModeRequireApproval gates every non-exempt tool call.
	ModeRequireApproval ApprovalMode = "require_approval"
	// ModeTrust bypasses gating for non-dangerous tools other than run_command.
	ModeTrust ApprovalMode = "trust_mode"
)
