package expert

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

const anthropicVersion = "2023-06-01"

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	cfg    Config
	client jsonClient
}

func NewAnthropicBackend(cfg Config, logger *logrus.Logger) *AnthropicBackend {
	return &AnthropicBackend{cfg: cfg, client: newJSONClient(logger)}
}

func (b *AnthropicBackend) Complete(ctx context.Context, prompt models.Prompt) (*Completion, error) {
	// The Messages API takes the system prompt separately and only
	// user/assistant turns in the list.
	system := []string{}
	if prompt.System != "" {
		system = append(system, prompt.System)
	}
	messages := make([]chatMessage, 0, len(prompt.History)+1)
	for _, m := range prompt.History {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})

	req := messagesRequest{
		Model:       b.cfg.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         b.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp messagesResponse
	if err := b.client.postJSON(ctx, b.cfg.Endpoint+"/v1/messages", headers, req, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, fmt.Errorf("%w: no text content", errMalformed)
	}

	return &Completion{Content: content, Tokens: resp.Usage.InputTokens + resp.Usage.OutputTokens}, nil
}
