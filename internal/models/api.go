package models

type CompeteRequest struct {
	Prompt         string       `json:"prompt" binding:"required"`
	TaskCategory   string       `json:"task_category"`
	AgentID        string       `json:"agent_id"`
	ConversationID string       `json:"conversation_id"`
	History        []Message    `json:"history"`
	Experts        []string     `json:"experts"`
	Attachments    []Attachment `json:"attachments"`

	// Set from the X-User-ID header, never from the body.
	UserID string `json:"-"`
}

type CompeteResponse struct {
	CompetitionID  string         `json:"competition_id"`
	Winner         string         `json:"winner"`
	Response       string         `json:"response"`
	Results        []ExpertResult `json:"results"`
	Guidance       []string       `json:"guidance"`
	TotalLatencyMs int64          `json:"total_latency_ms"`
	TotalCost      float64        `json:"total_cost"`
}

type FeedbackRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

type FeedbackResponse struct {
	CompetitionID string `json:"competition_id"`
	Applied       int    `json:"applied"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type SweepResponse struct {
	Archived []string `json:"archived"`
	Promoted []string `json:"promoted"`
	Flushed  int      `json:"flushed"`
}

type ExpertView struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Model        string   `json:"model"`
	Modalities   []string `json:"modalities"`
	CostPerToken float64  `json:"cost_per_token"`
	LatencyClass string   `json:"latency_class"`
	QualityPrior float64  `json:"quality_prior"`
	Enabled      bool     `json:"enabled"`
}

type ExpertStatsView struct {
	ExpertStats
	WinRate float64 `json:"win_rate"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
