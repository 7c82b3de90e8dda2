package expert

import (
	"fmt"
	"strings"

	"github.com/Ayash-Bera/arena/internal/config"
)

// Kind is the closed set of backend protocols an expert can speak.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

type Modality string

const (
	ModalityText     Modality = "text"
	ModalityImage    Modality = "image"
	ModalityAudio    Modality = "audio"
	ModalityDocument Modality = "document"
)

type LatencyClass string

const (
	LatencyFast     LatencyClass = "fast"
	LatencyStandard LatencyClass = "standard"
	LatencySlow     LatencyClass = "slow"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// Config identifies one validated model backend. It is immutable after Parse.
type Config struct {
	Name          string
	Kind          Kind
	Endpoint      string
	APIKey        string
	Model         string
	Modalities    []Modality
	CostPerToken  float64
	LatencyClass  LatencyClass
	QualityPrior  float64
	QualityPriors map[string]float64
	MaxTokens     int
	Temperature   float64
	Enabled       bool
}

// Supports reports whether the expert accepts input of modality m.
func (c Config) Supports(m Modality) bool {
	for _, have := range c.Modalities {
		if have == m {
			return true
		}
	}
	return false
}

// PriorFor returns the configured quality prior for a task category, falling
// back to the expert-wide prior. ok is false when neither is configured.
func (c Config) PriorFor(category string) (prior float64, ok bool) {
	if p, found := c.QualityPriors[strings.ToLower(category)]; found {
		return p, true
	}
	if c.QualityPrior > 0 {
		return c.QualityPrior, true
	}
	return 0, false
}

// Parse validates raw config entries once at startup.
func Parse(entries []config.ExpertEntry) ([]Config, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]Config, 0, len(entries))

	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("expert %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("expert %s: duplicate name", name)
		}
		seen[name] = true

		kind := Kind(strings.ToLower(e.Kind))
		switch kind {
		case KindOpenAI, KindAnthropic:
		default:
			return nil, fmt.Errorf("expert %s: unsupported kind %q", name, e.Kind)
		}
		if e.Endpoint == "" {
			return nil, fmt.Errorf("expert %s: endpoint is required", name)
		}
		if e.Model == "" {
			return nil, fmt.Errorf("expert %s: model is required", name)
		}
		if e.CostPerToken < 0 {
			return nil, fmt.Errorf("expert %s: cost_per_token cannot be negative", name)
		}

		modalities := []Modality{ModalityText}
		if len(e.Modalities) > 0 {
			modalities = modalities[:0]
			for _, m := range e.Modalities {
				switch mod := Modality(strings.ToLower(m)); mod {
				case ModalityText, ModalityImage, ModalityAudio, ModalityDocument:
					modalities = append(modalities, mod)
				default:
					return nil, fmt.Errorf("expert %s: unsupported modality %q", name, m)
				}
			}
		}

		latency := LatencyClass(strings.ToLower(e.LatencyClass))
		switch latency {
		case "":
			latency = LatencyStandard
		case LatencyFast, LatencyStandard, LatencySlow:
		default:
			return nil, fmt.Errorf("expert %s: unsupported latency class %q", name, e.LatencyClass)
		}

		priors := make(map[string]float64, len(e.QualityPriors))
		for category, p := range e.QualityPriors {
			if p < 0 || p > 1 {
				return nil, fmt.Errorf("expert %s: quality prior for %s must be within [0,1]", name, category)
			}
			priors[strings.ToLower(category)] = p
		}
		if e.QualityPrior < 0 || e.QualityPrior > 1 {
			return nil, fmt.Errorf("expert %s: quality_prior must be within [0,1]", name)
		}

		maxTokens := e.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		temperature := e.Temperature
		if temperature <= 0 {
			temperature = defaultTemperature
		}

		out = append(out, Config{
			Name:          name,
			Kind:          kind,
			Endpoint:      strings.TrimSuffix(e.Endpoint, "/"),
			APIKey:        e.APIKey(),
			Model:         e.Model,
			Modalities:    modalities,
			CostPerToken:  e.CostPerToken,
			LatencyClass:  latency,
			QualityPrior:  e.QualityPrior,
			QualityPriors: priors,
			MaxTokens:     maxTokens,
			Temperature:   temperature,
			Enabled:       !e.Disabled,
		})
	}

	return out, nil
}
