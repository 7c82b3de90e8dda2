package expert

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Finish  string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIBackend talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIBackend struct {
	cfg    Config
	client jsonClient
}

func NewOpenAIBackend(cfg Config, logger *logrus.Logger) *OpenAIBackend {
	return &OpenAIBackend{cfg: cfg, client: newJSONClient(logger)}
}

func (b *OpenAIBackend) Complete(ctx context.Context, prompt models.Prompt) (*Completion, error) {
	messages := make([]chatMessage, 0, len(prompt.History)+2)
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	for _, m := range prompt.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})

	req := chatCompletionRequest{
		Model:       b.cfg.Model,
		Messages:    messages,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	}

	headers := map[string]string{}
	if b.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.cfg.APIKey
	}

	var resp chatCompletionResponse
	if err := b.client.postJSON(ctx, b.cfg.Endpoint+"/chat/completions", headers, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", errMalformed)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", errMalformed)
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return &Completion{Content: content, Tokens: tokens}, nil
}
