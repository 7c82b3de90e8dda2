package expert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Completion is a backend's raw answer. Tokens is zero when the backend did
// not report usage.
type Completion struct {
	Content string
	Tokens  int
}

// Backend performs one completion call. Implementations must honour ctx but
// the pool does not rely on it to bound latency.
type Backend interface {
	Complete(ctx context.Context, prompt models.Prompt) (*Completion, error)
}

// jsonClient is the shared HTTP plumbing for every backend kind.
type jsonClient struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

func newJSONClient(logger *logrus.Logger) jsonClient {
	// No client-level timeout: every call carries the competition deadline.
	return jsonClient{httpClient: &http.Client{}, logger: logger}
}

func (c jsonClient) postJSON(ctx context.Context, url string, headers map[string]string, payload interface{}, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"url":          url,
		"payload_size": len(jsonData),
	}).Debug("Making expert API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"url":           url,
		"response_size": len(responseBody),
	}).Debug("Expert API response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(responseBody)
		if len(body) > 500 {
			body = body[:500]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if err := json.Unmarshal(responseBody, result); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}
