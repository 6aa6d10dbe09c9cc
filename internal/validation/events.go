package validation

import "time"

// Canonical event types published on the engine bus.
const (
	EventSubmission            = "validation.submission"
	EventFeedbackAdded         = "validation.feedback_added"
	EventExpertAdded           = "validation.expert_added"
	EventStateChanged          = "validation.state_changed"
	EventConsensusReached      = "validation.consensus_reached"
	EventCompleted             = "validation.completed"
	EventImprovementIntegrated = "validation.improvement_integrated"
	// Signals that the minimum feedback threshold was crossed and consensus
	// can be calculated.
	EventReadyForConsensus = "validation.ready_for_consensus"
)

// SubmissionPayload accompanies EventSubmission.
type SubmissionPayload struct {
	Item ValidationItem `json:"item"`
}

// FeedbackAddedPayload accompanies EventFeedbackAdded.
type FeedbackAddedPayload struct {
	FeedbackID    string `json:"feedbackId"`
	ExpertID      string `json:"expertId"`
	Approved      bool   `json:"approved"`
	FeedbackCount int    `json:"feedbackCount"`
}

// StateChangedPayload accompanies EventStateChanged, EventConsensusReached,
// EventCompleted and EventImprovementIntegrated.
type StateChangedPayload struct {
	Change StateChange `json:"change"`
}

// ReadyForConsensusPayload accompanies EventReadyForConsensus.
type ReadyForConsensusPayload struct {
	FeedbackCount int `json:"feedbackCount"`
	MinRequired   int `json:"minRequired"`
}

// ExpertAddedPayload accompanies EventExpertAdded.
type ExpertAddedPayload struct {
	Expert ExpertProfile `json:"expert"`
}

// ConsensusPayload accompanies consensus computation notifications.
type ConsensusPayload struct {
	Result     ConsensusResult `json:"result"`
	ComputedAt time.Time       `json:"computedAt"`
}
