package models

import (
	"fmt"
	"time"
)

// ExtractionKind selects which extraction prompt a job runs.
type ExtractionKind string

const (
	ExtractionPlatform ExtractionKind = "platform"
	ExtractionAgent    ExtractionKind = "agent"
)

// ExtractionJob is the out-of-band handoff from a finished competition to the
// learning extractor. Platform jobs carry the execution reflection; agent jobs
// additionally carry the conversation window.
type ExtractionJob struct {
	ID              string         `json:"id"`
	Kind            ExtractionKind `json:"kind"`
	CompetitionID   string         `json:"competition_id"`
	TaskCategory    string         `json:"task_category"`
	Prompt          string         `json:"prompt"`
	WinningExpert   string         `json:"winning_expert"`
	WinningResponse string         `json:"winning_response"`
	AgentID         string         `json:"agent_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Conversation    []Message      `json:"conversation,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (j *ExtractionJob) Validate() error {
	switch j.Kind {
	case ExtractionPlatform:
	case ExtractionAgent:
		if j.AgentID == "" {
			return fmt.Errorf("agent extraction requires an agent ID")
		}
	default:
		return fmt.Errorf("invalid extraction kind: %s", j.Kind)
	}
	if j.CompetitionID == "" {
		return fmt.Errorf("competition ID is required")
	}
	return nil
}
