package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/models"
)

// OpenAIClient drives any endpoint speaking the OpenAI chat-completions
// dialect. One client is shared across all agent loops; the SDK client is
// safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.LLMConfig
	logger *slog.Logger
}

// NewOpenAIClient builds the default driver from config. The API key is
// read from the environment variable the config names, never stored in the
// config file itself.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key env var %q is empty", cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: slog.Default(),
	}, nil
}

// ChatCompletion performs a single completion call. No retries happen here;
// the agent loop owns retry and backoff policy.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
	for _, desc := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  json.RawMessage(desc.InputSchema),
			},
		})
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout.Std())
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(callCtx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty choices")
	}

	choice := resp.Choices[0]
	result := &Response{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := ToolCall{
			ID:      tc.ID,
			Name:    tc.Function.Name,
			RawArgs: tc.Function.Arguments,
			Args:    map[string]any{},
		}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Args); err != nil {
				c.logger.Warn("model emitted unparseable tool arguments",
					"tool", call.Name, "error", err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	return result, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.Parts) > 0 {
			converted.Content = flattenParts(m.Parts)
		}
		for _, tc := range m.ToolCalls {
			args := tc.RawArgs
			if args == "" {
				raw, err := json.Marshal(tc.Args)
				if err != nil {
					raw = []byte("{}")
				}
				args = string(raw)
			}
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		result = append(result, converted)
	}
	return result
}

// flattenParts serializes structured tool output into message text. Image
// parts become data URLs; the chat-completions tool role only carries text.
func flattenParts(parts []models.ContentPart) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString("\n")
		}
		switch p.Type {
		case "image":
			b.WriteString("data:" + p.MIMEType + ";base64," + p.Data)
		default:
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
