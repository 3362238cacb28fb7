package models

import "time"

// FaultEvent is broadcast when the fault signature is matched.
type FaultEvent struct {
	// Unique identifier of the hunt run
	RunID string `json:"run_id"`

	// Human-readable test label from the run configuration
	TestLabel string `json:"test_label"`

	// Host the fault was detected on
	SourceID string `json:"source_id"`

	// When the match was observed
	Timestamp time.Time `json:"timestamp"`

	// The fault signature that matched
	Pattern string `json:"pattern"`

	// The matched log text
	Payload string `json:"payload"`

	// Local collection session directory
	LogDirectory string `json:"log_directory,omitempty"`
}
