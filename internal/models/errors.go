package models

import "errors"

// Error taxonomy shared across the arena packages. Callers match with errors.Is.
var (
	ErrExpertTimeout    = errors.New("expert timed out")
	ErrExpertBackend    = errors.New("expert backend error")
	ErrRateLimited      = errors.New("expert rate limited")
	ErrInvalidResponse  = errors.New("expert returned an invalid response")
	ErrNoViableResponse = errors.New("no expert could complete the request in time")
	ErrRetrievalTimeout = errors.New("learning retrieval timed out")
	ErrPersistence      = errors.New("persistence failure")
	ErrExtraction       = errors.New("learning extraction failed")

	ErrUnknownExpert      = errors.New("unknown expert")
	ErrLearningNotFound   = errors.New("learning not found")
	ErrInvalidTransition  = errors.New("invalid learning state transition")
	ErrCompetitionUnknown = errors.New("competition has no pending learning applications")
)
