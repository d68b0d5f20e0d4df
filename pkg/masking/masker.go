// Package masking redacts secrets from tool results before they reach the
// model, the event log, or the API. External MCP servers routinely return
// credentials embedded in config dumps; masking is applied to every remote
// result rather than trusting servers to sanitize their own output.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/kestrelops/kestrel/pkg/models"
)

const redacted = "***MASKED***"

// pattern pairs a compiled regex with its replacement. Replacements keep
// the key visible and redact only the value so results stay debuggable.
type pattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the credential shapes seen in MCP tool output:
// key/value config dumps, auth headers, cloud keys, and PEM blocks.
var builtinPatterns = []struct {
	name        string
	expr        string
	replacement string
}{
	{
		name:        "api_key",
		expr:        `(?i)(api[_-]?key["'\s]*[:=]["'\s]*)[\w\-\.]{8,}`,
		replacement: "${1}" + redacted,
	},
	{
		name:        "password",
		expr:        `(?i)(password["'\s]*[:=]["'\s]*)\S+`,
		replacement: "${1}" + redacted,
	},
	{
		name:        "secret",
		expr:        `(?i)(secret[_-]?(?:key|token)?["'\s]*[:=]["'\s]*)[\w\-\.]{8,}`,
		replacement: "${1}" + redacted,
	},
	{
		name:        "bearer_token",
		expr:        `(?i)(bearer\s+)[\w\-\.=]{16,}`,
		replacement: "${1}" + redacted,
	},
	{
		name:        "basic_auth_url",
		expr:        `(://[^/\s:]+:)[^@\s]+(@)`,
		replacement: "${1}" + redacted + "${2}",
	},
	{
		name:        "aws_access_key",
		expr:        `\bAKIA[0-9A-Z]{16}\b`,
		replacement: redacted,
	},
	{
		name:        "private_key_block",
		expr:        `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: redacted,
	},
	{
		name:        "kubernetes_secret_data",
		expr:        `(?m)^(\s+[\w\-\.]+:\s+)[A-Za-z0-9+/]{16,}={0,2}\s*$`,
		replacement: "${1}" + redacted,
	},
}

// Masker applies the built-in redaction patterns. Stateless after
// construction and safe for concurrent use.
type Masker struct {
	patterns []pattern
}

// New compiles the built-in pattern set. A pattern that fails to compile is
// a programming error in the table and panics at startup.
func New() *Masker {
	m := &Masker{patterns: make([]pattern, 0, len(builtinPatterns))}
	for _, p := range builtinPatterns {
		m.patterns = append(m.patterns, pattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.expr),
			replacement: p.replacement,
		})
	}
	slog.Debug("Masker initialized", "patterns", len(m.patterns))
	return m
}

// MaskText redacts all pattern matches in text.
func (m *Masker) MaskText(text string) string {
	for _, p := range m.patterns {
		text = p.regex.ReplaceAllString(text, p.replacement)
	}
	return text
}

// MaskOutput redacts the text parts of a tool output in place and returns
// it. Image parts pass through untouched.
func (m *Masker) MaskOutput(out *models.ToolOutput) *models.ToolOutput {
	if out == nil {
		return nil
	}
	for i, part := range out.Content {
		if part.Type == "text" && part.Text != "" {
			out.Content[i].Text = m.MaskText(part.Text)
		}
	}
	return out
}
