//go:build integration

package expert

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_OpenAI(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY required for integration tests")
	}

	pool, err := NewPool([]Config{{
		Name:         "gpt-4o-mini",
		Kind:         KindOpenAI,
		Endpoint:     "https://api.openai.com/v1",
		APIKey:       apiKey,
		Model:        "gpt-4o-mini",
		Modalities:   []Modality{ModalityText},
		CostPerToken: 0.0000006,
		MaxTokens:    64,
		Temperature:  0.2,
		Enabled:      true,
	}}, logrus.New())
	require.NoError(t, err)

	result, err := pool.Invoke(context.Background(), "gpt-4o-mini", models.Prompt{User: "Reply with the single word: pong"}, 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Content)
	assert.Positive(t, result.Tokens)
}

func TestIntegration_Anthropic(t *testing.T) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		t.Skip("ANTHROPIC_API_KEY required for integration tests")
	}

	pool, err := NewPool([]Config{{
		Name:       "claude",
		Kind:       KindAnthropic,
		Endpoint:   "https://api.anthropic.com",
		APIKey:     apiKey,
		Model:      "claude-3-5-haiku-latest",
		Modalities: []Modality{ModalityText},
		MaxTokens:  64,
		Enabled:    true,
	}}, logrus.New())
	require.NoError(t, err)

	result, err := pool.Invoke(context.Background(), "claude", models.Prompt{User: "Reply with the single word: pong"}, 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Content)
}
