package expert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Pool gives uniform access to every configured expert.
type Pool struct {
	mu      sync.RWMutex
	members map[string]*member
	logger  *logrus.Logger
}

type member struct {
	cfg     Config
	backend Backend
}

// NewPool builds the HTTP backend for every config.
func NewPool(configs []Config, logger *logrus.Logger) (*Pool, error) {
	p := &Pool{members: make(map[string]*member), logger: logger}
	for _, cfg := range configs {
		var backend Backend
		switch cfg.Kind {
		case KindOpenAI:
			backend = NewOpenAIBackend(cfg, logger)
		case KindAnthropic:
			backend = NewAnthropicBackend(cfg, logger)
		default:
			return nil, fmt.Errorf("expert %s: unsupported kind %q", cfg.Name, cfg.Kind)
		}
		if err := p.Register(cfg, backend); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register adds an expert with an explicit backend.
func (p *Pool) Register(cfg Config, backend Backend) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.members[cfg.Name]; exists {
		return fmt.Errorf("expert %s already registered", cfg.Name)
	}
	p.members[cfg.Name] = &member{cfg: cfg, backend: backend}
	return nil
}

// Config returns the configuration for a named expert.
func (p *Pool) Config(name string) (Config, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.members[name]
	if !ok {
		return Config{}, false
	}
	return m.cfg, true
}

// Configs lists every expert sorted by name.
func (p *Pool) Configs() []Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Config, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Eligible resolves the experts for a request. Requested names must exist;
// an empty request means every enabled expert. Experts that cannot handle
// every attachment modality are dropped.
func (p *Pool) Eligible(requested []string, attachments []models.Attachment) ([]string, error) {
	var candidates []Config
	if len(requested) > 0 {
		seen := make(map[string]bool, len(requested))
		for _, name := range requested {
			if seen[name] {
				continue
			}
			seen[name] = true
			cfg, ok := p.Config(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", models.ErrUnknownExpert, name)
			}
			candidates = append(candidates, cfg)
		}
	} else {
		for _, cfg := range p.Configs() {
			if cfg.Enabled {
				candidates = append(candidates, cfg)
			}
		}
	}

	var names []string
	for _, cfg := range candidates {
		ok := true
		for _, a := range attachments {
			if !cfg.Supports(Modality(a.Modality)) {
				ok = false
				break
			}
		}
		if ok {
			names = append(names, cfg.Name)
		}
	}
	return names, nil
}

type completionResult struct {
	completion *Completion
	err        error
}

// Invoke calls one expert and enforces timeout locally: it returns when the
// timeout fires even if the backend ignores cancellation. No retries happen
// here. On failure the returned result carries the reason and err is a *Failure.
func (p *Pool) Invoke(ctx context.Context, name string, prompt models.Prompt, timeout time.Duration) (models.ExpertResult, error) {
	result := models.ExpertResult{Expert: name}

	p.mu.RLock()
	m, ok := p.members[name]
	p.mu.RUnlock()
	if !ok {
		err := &Failure{Expert: name, Reason: models.FailureBackendError, Err: models.ErrUnknownExpert}
		result.Failure = err.Reason
		result.Error = err.Error()
		return result, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan completionResult, 1)
	go func() {
		completion, err := m.backend.Complete(callCtx, prompt)
		done <- completionResult{completion: completion, err: err}
	}()

	var outcome completionResult
	select {
	case outcome = <-done:
	case <-callCtx.Done():
		outcome = completionResult{err: callCtx.Err()}
	}
	result.LatencyMs = time.Since(start).Milliseconds()

	if outcome.err == nil && (outcome.completion == nil || outcome.completion.Content == "") {
		outcome.err = fmt.Errorf("%w: empty completion", errMalformed)
	}
	if outcome.err != nil {
		failure := &Failure{Expert: name, Reason: Classify(outcome.err), Err: outcome.err}
		result.Failure = failure.Reason
		result.Error = failure.Error()

		p.logger.WithFields(logrus.Fields{
			"expert":     name,
			"reason":     failure.Reason,
			"latency_ms": result.LatencyMs,
		}).WithError(outcome.err).Warn("Expert invocation failed")
		return result, failure
	}

	tokens := outcome.completion.Tokens
	if tokens <= 0 {
		tokens = EstimateTokens(prompt, outcome.completion.Content)
	}
	result.Content = outcome.completion.Content
	result.Tokens = tokens
	result.Cost = float64(tokens) * m.cfg.CostPerToken

	p.logger.WithFields(logrus.Fields{
		"expert":     name,
		"latency_ms": result.LatencyMs,
		"tokens":     result.Tokens,
		"cost":       result.Cost,
	}).Debug("Expert invocation completed")

	return result, nil
}

// EstimateTokens approximates usage at four characters per token when a
// backend does not report it.
func EstimateTokens(prompt models.Prompt, content string) int {
	chars := len(prompt.System) + len(prompt.User) + len(content)
	for _, m := range prompt.History {
		chars += len(m.Content)
	}
	tokens := chars / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
