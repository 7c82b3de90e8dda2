package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/sirupsen/logrus"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(cfg config.EmbeddingConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonData, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}

	c.logger.WithFields(logrus.Fields{
		"model":      c.model,
		"dimensions": len(parsed.Data[0].Embedding),
	}).Debug("Embedding generated")

	return parsed.Data[0].Embedding, nil
}

// Store persists vectors by key. A miss returns (nil, nil).
type Store interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, error)
	SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}

// Cached memoizes another Embedder under a content hash. Cache errors are
// logged and the underlying embedder is used.
type Cached struct {
	next   Embedder
	store  Store
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCached(next Embedder, store Store, ttl time.Duration, logger *logrus.Logger) *Cached {
	return &Cached{next: next, store: store, ttl: ttl, logger: logger}
}

// Key is the cache key for text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(text)

	vector, err := c.store.GetEmbedding(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Embedding cache read failed")
	} else if vector != nil {
		return vector, nil
	}

	vector, err = c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.store.SetEmbedding(ctx, key, vector, c.ttl); err != nil {
		c.logger.WithError(err).Warn("Embedding cache write failed")
	}
	return vector, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
