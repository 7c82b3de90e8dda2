package models

// Ephemeral competition types. They live for one request and are never persisted
// as-is; CompetitionRecord is the durable projection.

// Message is one turn of a conversation window.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is what every expert receives for a competition.
type Prompt struct {
	System  string    `json:"system,omitempty"`
	History []Message `json:"history,omitempty"`
	User    string    `json:"user"`
}

// Attachment references user-supplied material. Only its modality matters to
// the core: experts that cannot handle it are not eligible.
type Attachment struct {
	Name     string `json:"name"`
	Modality string `json:"modality"`
	URL      string `json:"url,omitempty"`
}

// CompetitionRequest is one user turn fanned out to the eligible experts.
type CompetitionRequest struct {
	ID           string
	Prompt       Prompt
	TaskCategory string
	Attachments  []Attachment
	Experts      []string
}

// FailureReason classifies why an expert produced no usable response.
type FailureReason string

const (
	FailureTimeout         FailureReason = "timeout"
	FailureBackendError    FailureReason = "backend_error"
	FailureRateLimited     FailureReason = "rate_limited"
	FailureInvalidResponse FailureReason = "invalid_response"
)

// Retryable reports whether the coordinator may retry a failure of this kind.
func (r FailureReason) Retryable() bool {
	return r == FailureBackendError || r == FailureRateLimited
}

// ExpertResult is one expert's outcome in one competition.
type ExpertResult struct {
	Expert    string        `json:"expert"`
	Content   string        `json:"content,omitempty"`
	LatencyMs int64         `json:"latency_ms"`
	Tokens    int           `json:"tokens"`
	Cost      float64       `json:"cost"`
	Failure   FailureReason `json:"failure,omitempty"`
	Error     string        `json:"error,omitempty"`

	// Filled by the scorer. Scored is false for the single-candidate short circuit.
	Scored    bool    `json:"scored"`
	Quality   float64 `json:"quality,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	CostScore float64 `json:"cost_score,omitempty"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank,omitempty"`
	Winner    bool    `json:"winner"`
}

// Succeeded reports whether the expert returned a usable response.
func (r ExpertResult) Succeeded() bool {
	return r.Failure == ""
}

// CompetitionOutcome is the frozen result of one competition.
type CompetitionOutcome struct {
	ID             string         `json:"competition_id"`
	TaskCategory   string         `json:"task_category"`
	Results        []ExpertResult `json:"results"`
	TotalLatencyMs int64          `json:"total_latency_ms"`
	TotalCost      float64        `json:"total_cost"`
}

// Winner returns the winning result, or nil when every expert failed.
func (o *CompetitionOutcome) Winner() *ExpertResult {
	for i := range o.Results {
		if o.Results[i].Winner {
			return &o.Results[i]
		}
	}
	return nil
}

// Successful returns the results that produced a response.
func (o *CompetitionOutcome) Successful() []ExpertResult {
	var out []ExpertResult
	for _, r := range o.Results {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}
