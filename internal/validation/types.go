// Package validation defines the domain model of the collaborative
// validation engine: validation items, lifecycle states, expert feedback,
// consensus results, and the shared request/response envelopes.
package validation

import "time"

// ContentKind tags the payload of a validation item.
type ContentKind string

const (
	ContentKindSign        ContentKind = "sign"
	ContentKindTranslation ContentKind = "translation"
	ContentKindExpression  ContentKind = "expression"
	ContentKindDocument    ContentKind = "document"
)

// Known reports whether the kind is a member of the closed set.
func (k ContentKind) Known() bool {
	switch k {
	case ContentKindSign, ContentKindTranslation, ContentKindExpression, ContentKindDocument:
		return true
	}
	return false
}

// LifecycleState is the closed set of states a validation item moves through.
type LifecycleState string

const (
	StateUnknown              LifecycleState = "unknown"
	StateSubmitted            LifecycleState = "submitted"
	StatePending              LifecycleState = "pending"
	StateInReview             LifecycleState = "in_review"
	StateFeedbackCollecting   LifecycleState = "feedback_collecting"
	StateConsensusCalculating LifecycleState = "consensus_calculating"
	StateConsensusReached     LifecycleState = "consensus_reached"
	StateNeedsImprovement     LifecycleState = "needs_improvement"
	StateApproved             LifecycleState = "approved"
	StateRejected             LifecycleState = "rejected"
	StateIntegrated           LifecycleState = "integrated"
	StateCancelled            LifecycleState = "cancelled"
	StateExpired              LifecycleState = "expired"
)

// States lists every lifecycle state except Unknown, which only appears
// before the first transition.
func States() []LifecycleState {
	return []LifecycleState{
		StateSubmitted, StatePending, StateInReview, StateFeedbackCollecting,
		StateConsensusCalculating, StateConsensusReached, StateNeedsImprovement,
		StateApproved, StateRejected, StateIntegrated, StateCancelled, StateExpired,
	}
}

// Known reports whether the state is a member of the closed set.
func (s LifecycleState) Known() bool {
	if s == StateUnknown {
		return true
	}
	for _, state := range States() {
		if s == state {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions other than
// an explicit re-open path.
func (s LifecycleState) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateIntegrated, StateCancelled, StateExpired:
		return true
	}
	return false
}

// ValidationItem is one request to be reviewed. The payload is never mutated
// after submission; lifecycle and feedback are appended alongside it.
type ValidationItem struct {
	ID                  string                 `json:"id"`
	ContentKind         ContentKind            `json:"contentKind"`
	Payload             map[string]interface{} `json:"payload,omitempty"`
	RequesterID         string                 `json:"requesterId"`
	SubmittedAt         time.Time              `json:"submittedAt"`
	MinFeedbackRequired int                    `json:"minFeedbackRequired"`
}

// SubmitRequest is the inbound payload for a new validation item.
type SubmitRequest struct {
	ContentKind         ContentKind            `json:"contentKind"`
	Payload             map[string]interface{} `json:"payload,omitempty"`
	RequesterID         string                 `json:"requesterId"`
	MinFeedbackRequired int                    `json:"minFeedbackRequired,omitempty"`
}

// DefaultMinFeedback is applied when a submission does not set a threshold.
const DefaultMinFeedback = 3

// StateChange is an immutable audit record of one lifecycle transition.
type StateChange struct {
	ValidationID  string         `json:"validationId"`
	PreviousState LifecycleState `json:"previousState"`
	NewState      LifecycleState `json:"newState"`
	ChangedBy     string         `json:"changedBy,omitempty"`
	ChangedAt     time.Time      `json:"changedAt"`
	Reason        string         `json:"reason,omitempty"`
}

// ExpertiseLevel is the ordered qualification of a reviewer.
type ExpertiseLevel string

const (
	ExpertiseNovice       ExpertiseLevel = "novice"
	ExpertiseBeginner     ExpertiseLevel = "beginner"
	ExpertiseIntermediate ExpertiseLevel = "intermediate"
	ExpertiseAdvanced     ExpertiseLevel = "advanced"
	ExpertiseExpert       ExpertiseLevel = "expert"
	ExpertiseTrainer      ExpertiseLevel = "trainer"
	ExpertiseResearcher   ExpertiseLevel = "researcher"
)

var expertiseRanks = map[ExpertiseLevel]int{
	ExpertiseNovice:       1,
	ExpertiseBeginner:     2,
	ExpertiseIntermediate: 3,
	ExpertiseAdvanced:     4,
	ExpertiseExpert:       5,
	ExpertiseTrainer:      6,
	ExpertiseResearcher:   7,
}

// Known reports whether the level is a member of the closed set.
func (l ExpertiseLevel) Known() bool {
	_, ok := expertiseRanks[l]
	return ok
}

// Rank returns the ordinal position of the level, 1 (novice) through
// 7 (researcher), or 0 for an unknown level.
func (l ExpertiseLevel) Rank() int {
	return expertiseRanks[l]
}

// Priority weights an improvement proposal.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Weight maps a priority to its tally weight. Unknown priorities count as low.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// ImprovementProposal is one suggested change attached to a feedback entry.
type ImprovementProposal struct {
	Field         string      `json:"field"`
	ProposedValue interface{} `json:"proposedValue"`
	Reason        string      `json:"reason,omitempty"`
	Priority      Priority    `json:"priority,omitempty"`
}

// FeedbackEntry is one expert's accepted judgment on one validation item.
type FeedbackEntry struct {
	ID                string                `json:"id"`
	ExpertID          string                `json:"expertId"`
	ValidationID      string                `json:"validationId"`
	Approved          bool                  `json:"approved"`
	IsNativeValidator bool                  `json:"isNativeValidator"`
	ExpertiseLevel    ExpertiseLevel        `json:"expertiseLevel,omitempty"`
	Score             *float64              `json:"score,omitempty"`      // 0..10
	Confidence        *float64              `json:"confidence,omitempty"` // 0..1
	Comments          string                `json:"comments,omitempty"`
	Suggestions       []ImprovementProposal `json:"suggestions,omitempty"`
	Timestamp         time.Time             `json:"timestamp"`
}

// FeedbackInput is the inbound shape for adding feedback. Approved and
// IsNativeValidator are pointers so a missing field is distinguishable from
// an explicit false.
type FeedbackInput struct {
	ExpertID          string                `json:"expertId"`
	Approved          *bool                 `json:"approved"`
	IsNativeValidator *bool                 `json:"isNativeValidator"`
	ExpertiseLevel    ExpertiseLevel        `json:"expertiseLevel,omitempty"`
	Score             *float64              `json:"score,omitempty"`
	Confidence        *float64              `json:"confidence,omitempty"`
	Comments          string                `json:"comments,omitempty"`
	Suggestions       []ImprovementProposal `json:"suggestions,omitempty"`
}

// FeedbackPatch updates an accepted entry. Nil fields are left untouched;
// the entry is re-validated and re-stamped on success.
type FeedbackPatch struct {
	Approved          *bool                  `json:"approved,omitempty"`
	IsNativeValidator *bool                  `json:"isNativeValidator,omitempty"`
	ExpertiseLevel    *ExpertiseLevel        `json:"expertiseLevel,omitempty"`
	Score             *float64               `json:"score,omitempty"`
	Confidence        *float64               `json:"confidence,omitempty"`
	Comments          *string                `json:"comments,omitempty"`
	Suggestions       *[]ImprovementProposal `json:"suggestions,omitempty"`
}

// Algorithm selects a consensus reduction strategy.
type Algorithm string

const (
	AlgorithmMajority      Algorithm = "majority"
	AlgorithmWeighted      Algorithm = "weighted"
	AlgorithmSupermajority Algorithm = "supermajority"
	AlgorithmDelphi        Algorithm = "delphi"
)

// Known reports whether the algorithm is a member of the closed set.
func (a Algorithm) Known() bool {
	switch a {
	case AlgorithmMajority, AlgorithmWeighted, AlgorithmSupermajority, AlgorithmDelphi:
		return true
	}
	return false
}

// ConsensusOptions tunes a consensus computation.
type ConsensusOptions struct {
	Algorithm            Algorithm                  `json:"algorithm"`
	ApprovalThreshold    float64                    `json:"approvalThreshold"`
	ExpertWeights        map[ExpertiseLevel]float64 `json:"expertWeights,omitempty"`
	NativeValidatorBonus float64                    `json:"nativeValidatorBonus"`
	MinParticipants      int                        `json:"minParticipants"`
}

// DefaultConsensusOptions returns the engine defaults: weighted algorithm,
// 0.7 approval threshold, 0.25 native bonus, 3 participants minimum.
func DefaultConsensusOptions() ConsensusOptions {
	return ConsensusOptions{
		Algorithm:            AlgorithmWeighted,
		ApprovalThreshold:    0.7,
		NativeValidatorBonus: 0.25,
		MinParticipants:      3,
	}
}

// ImplementationDifficulty estimates how contested an improvement is.
type ImplementationDifficulty string

const (
	DifficultyEasy    ImplementationDifficulty = "easy"
	DifficultyMedium  ImplementationDifficulty = "medium"
	DifficultyComplex ImplementationDifficulty = "complex"
)

// ConsensusImprovement is the elected improvement for one field.
type ConsensusImprovement struct {
	Field                    string                   `json:"field"`
	ProposedValue            interface{}              `json:"proposedValue"`
	SupportPercentage        float64                  `json:"supportPercentage"`
	ImplementationDifficulty ImplementationDifficulty `json:"implementationDifficulty"`
	Reasons                  []string                 `json:"reasons,omitempty"`
}

// ConsensusResult is the derived collective decision for one validation
// item. Recomputing overwrites the previous result; no history is kept.
type ConsensusResult struct {
	ValidationID           string                 `json:"validationId"`
	Approved               bool                   `json:"approved"`
	ConsensusLevel         float64                `json:"consensusLevel"` // 0..1
	Confidence             float64                `json:"confidence"`     // 0..1
	AgreementLevel         float64                `json:"agreementLevel"` // 0..1
	ExpertCount            int                    `json:"expertCount"`
	NativeExpertCount      int                    `json:"nativeExpertCount"`
	ApprovalCount          int                    `json:"approvalCount"`
	RejectionCount         int                    `json:"rejectionCount"`
	Algorithm              Algorithm              `json:"algorithm"`
	Score                  float64                `json:"score"` // composite consensus score
	AggregatedComments     []string               `json:"aggregatedComments,omitempty"`
	AggregatedImprovements []ConsensusImprovement `json:"aggregatedImprovements,omitempty"`
	ComputedAt             time.Time              `json:"computedAt"`
}

// ExpertProfile describes a registered reviewer.
type ExpertProfile struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ExpertiseLevel ExpertiseLevel    `json:"expertiseLevel"`
	IsNative       bool              `json:"isNative"`
	Domains        []string          `json:"domains,omitempty"`
	Specialties    []string          `json:"specialties,omitempty"`
	Experience     int               `json:"experience,omitempty"` // years
	Affiliation    string            `json:"affiliation,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RegisteredAt   time.Time         `json:"registeredAt"`
}

// ExpertStats aggregates one expert's review history.
type ExpertStats struct {
	ExpertID           string  `json:"expertId"`
	FeedbackCount      int     `json:"feedbackCount"`
	ApprovalRate       float64 `json:"approvalRate"`
	ConsensusAlignment float64 `json:"consensusAlignment"`
}

// ExpertCriteria filters expert lookups.
type ExpertCriteria struct {
	MinExpertiseLevel ExpertiseLevel `json:"minExpertiseLevel,omitempty"`
	NativeOnly        bool           `json:"nativeOnly,omitempty"`
	Domain            string         `json:"domain,omitempty"`
	Specialty         string         `json:"specialty,omitempty"`
}

// ExpertFeedbackRef is the compact feedback reference returned by the
// expert-lookup collaborator.
type ExpertFeedbackRef struct {
	ValidationID string   `json:"validationId"`
	Approved     bool     `json:"approved"`
	Score        *float64 `json:"score,omitempty"`
}

// SearchCriteria filters validation item searches.
type SearchCriteria struct {
	States          []LifecycleState `json:"states,omitempty"`
	ContentKind     ContentKind      `json:"contentKind,omitempty"`
	RequesterID     string           `json:"requesterId,omitempty"`
	SubmittedAfter  time.Time        `json:"submittedAfter,omitempty"`
	SubmittedBefore time.Time        `json:"submittedBefore,omitempty"`
}
