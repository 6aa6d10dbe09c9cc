package validationengine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/metrics"
	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
)

// delphi boosts senior tiers and native validators over the plain weighted
// reduction, then inflates the consensus level to model round convergence.
const (
	delphiExpertWeight     = 1.5
	delphiTrainerWeight    = 1.8
	delphiResearcherWeight = 2.0
	delphiNativeBonus      = 0.5
	delphiLevelInflation   = 1.2
)

// ConsensusEngine reduces a feedback set to a collective decision.
type ConsensusEngine struct {
	store   *repository.Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewConsensusEngine creates the consensus manager.
func NewConsensusEngine(store *repository.Store, m *metrics.Metrics, log *zap.Logger) *ConsensusEngine {
	return &ConsensusEngine{store: store, metrics: m, log: log.With(zap.String("manager", "consensus"))}
}

// Compute runs one consensus calculation over the given feedback snapshot.
// Fewer entries than MinParticipants yields the guard result: counts filled,
// not approved, zero levels, no algorithm recorded.
func (ce *ConsensusEngine) Compute(validationID string, entries []validation.FeedbackEntry, opts validation.ConsensusOptions) (validation.ConsensusResult, error) {
	opts = normalizeOptions(opts)
	if !opts.Algorithm.Known() {
		return validation.ConsensusResult{}, validation.InvalidField("algorithm", "not a known consensus algorithm")
	}

	start := time.Now()
	result := computeConsensus(validationID, entries, opts)
	if ce.metrics != nil {
		ce.metrics.ConsensusRuns.WithLabelValues(string(opts.Algorithm)).Inc()
		ce.metrics.ConsensusDuration.Observe(time.Since(start).Seconds())
	}
	ce.log.Debug("consensus computed",
		zap.String("validation_id", validationID),
		zap.String("algorithm", string(result.Algorithm)),
		zap.Int("experts", result.ExpertCount),
		zap.Float64("level", result.ConsensusLevel))
	return result, nil
}

func normalizeOptions(opts validation.ConsensusOptions) validation.ConsensusOptions {
	defaults := validation.DefaultConsensusOptions()
	if opts.Algorithm == "" {
		opts.Algorithm = defaults.Algorithm
	}
	if opts.ApprovalThreshold <= 0 || opts.ApprovalThreshold > 1 {
		opts.ApprovalThreshold = defaults.ApprovalThreshold
	}
	if opts.MinParticipants <= 0 {
		opts.MinParticipants = defaults.MinParticipants
	}
	if opts.NativeValidatorBonus < 0 {
		opts.NativeValidatorBonus = 0
	}
	return opts
}

func computeConsensus(validationID string, entries []validation.FeedbackEntry, opts validation.ConsensusOptions) validation.ConsensusResult {
	result := validation.ConsensusResult{
		ValidationID: validationID,
		ExpertCount:  len(entries),
		ComputedAt:   time.Now().UTC(),
	}
	for _, e := range entries {
		if e.Approved {
			result.ApprovalCount++
		} else {
			result.RejectionCount++
		}
		if e.IsNativeValidator {
			result.NativeExpertCount++
		}
	}

	if len(entries) < opts.MinParticipants {
		return result
	}
	result.Algorithm = opts.Algorithm

	switch opts.Algorithm {
	case validation.AlgorithmMajority:
		applyProportional(&result, entries, opts.ApprovalThreshold)
	case validation.AlgorithmSupermajority:
		applyProportional(&result, entries, math.Max(opts.ApprovalThreshold, 0.75))
	case validation.AlgorithmWeighted:
		applyWeighted(&result, entries, opts)
	case validation.AlgorithmDelphi:
		applyDelphi(&result, entries, opts)
	}

	result.AggregatedComments = collectComments(entries)
	result.AggregatedImprovements = aggregateImprovements(entries)
	result.Score = clamp01(0.4*result.ConsensusLevel +
		0.3*result.Confidence +
		0.2*result.AgreementLevel +
		0.1*math.Min(1, float64(result.ExpertCount)/10))
	return result
}

// applyProportional is the unweighted head-count reduction shared by the
// majority and supermajority algorithms.
func applyProportional(result *validation.ConsensusResult, entries []validation.FeedbackEntry, threshold float64) {
	rate := float64(result.ApprovalCount) / float64(len(entries))
	result.Approved = rate >= threshold
	result.ConsensusLevel = math.Max(rate, 1-rate)
	result.AgreementLevel = clamp01(math.Abs(rate-0.5) * 2)
	result.Confidence = blendConfidence(entries, result.Approved, result.AgreementLevel)
}

func applyWeighted(result *validation.ConsensusResult, entries []validation.FeedbackEntry, opts validation.ConsensusOptions) {
	var totalWeight, approvedWeight float64
	for _, e := range entries {
		w := expertWeight(e, opts)
		totalWeight += w
		if e.Approved {
			approvedWeight += w
		}
	}
	rate := approvedWeight / totalWeight
	result.Approved = rate >= opts.ApprovalThreshold
	result.ConsensusLevel = math.Max(rate, 1-rate)

	// Agreement reflects raw head counts, not weights, so a single heavy
	// voter cannot masquerade as unanimity.
	raw := float64(result.ApprovalCount) / float64(len(entries))
	result.AgreementLevel = clamp01(math.Abs(raw-0.5) * 2)
	result.Confidence = blendConfidence(entries, result.Approved, result.AgreementLevel)
}

func applyDelphi(result *validation.ConsensusResult, entries []validation.FeedbackEntry, opts validation.ConsensusOptions) {
	dopts := opts
	dopts.NativeValidatorBonus = delphiNativeBonus
	dopts.ExpertWeights = make(map[validation.ExpertiseLevel]float64, len(opts.ExpertWeights)+3)
	for level, w := range opts.ExpertWeights {
		dopts.ExpertWeights[level] = w
	}
	dopts.ExpertWeights[validation.ExpertiseExpert] = delphiExpertWeight
	dopts.ExpertWeights[validation.ExpertiseTrainer] = delphiTrainerWeight
	dopts.ExpertWeights[validation.ExpertiseResearcher] = delphiResearcherWeight

	applyWeighted(result, entries, dopts)
	result.ConsensusLevel = clamp01(result.ConsensusLevel * delphiLevelInflation)

	senior := 0
	for _, e := range entries {
		if e.IsNativeValidator || e.ExpertiseLevel.Rank() >= validation.ExpertiseExpert.Rank() {
			senior++
		}
	}
	fraction := float64(senior) / float64(len(entries))
	result.Confidence = clamp01(result.Confidence + 0.5*fraction)
}

func expertWeight(e validation.FeedbackEntry, opts validation.ConsensusOptions) float64 {
	w := 1.0
	if custom, ok := opts.ExpertWeights[e.ExpertiseLevel]; ok && custom > 0 {
		w = custom
	}
	if e.IsNativeValidator {
		w *= 1 + opts.NativeValidatorBonus
	}
	if e.Confidence != nil {
		w *= 0.5 + 0.5*clamp01(*e.Confidence)
	}
	return w
}

// blendConfidence averages the self-reported confidences, amplifying voters
// on the winning side and damping dissenters. Without any self-reports the
// agreement level stands in.
func blendConfidence(entries []validation.FeedbackEntry, approved bool, agreement float64) float64 {
	var sum float64
	n := 0
	for _, e := range entries {
		if e.Confidence == nil {
			continue
		}
		adjusted := *e.Confidence
		if e.Approved == approved {
			adjusted *= 1.2
		} else {
			adjusted *= 0.8
		}
		sum += clamp01(adjusted)
		n++
	}
	if n == 0 {
		return agreement
	}
	return clamp01(sum / float64(n))
}

func collectComments(entries []validation.FeedbackEntry) []string {
	var out []string
	for _, e := range entries {
		if e.Comments != "" {
			out = append(out, e.Comments)
		}
	}
	return out
}

type valueTally struct {
	value       interface{}
	count       int
	prioritySum int
	reasons     []string
}

// aggregateImprovements groups suggestions by field and elects, per field,
// the proposed value with the most backers (priority weight breaks ties).
func aggregateImprovements(entries []validation.FeedbackEntry) []validation.ConsensusImprovement {
	groups := make(map[string]map[string]*valueTally)
	groupSizes := make(map[string]int)
	for _, e := range entries {
		for _, s := range e.Suggestions {
			if s.Field == "" {
				continue
			}
			byValue := groups[s.Field]
			if byValue == nil {
				byValue = make(map[string]*valueTally)
				groups[s.Field] = byValue
			}
			key := fmt.Sprintf("%v", s.ProposedValue)
			tally := byValue[key]
			if tally == nil {
				tally = &valueTally{value: s.ProposedValue}
				byValue[key] = tally
			}
			tally.count++
			tally.prioritySum += s.Priority.Weight()
			if s.Reason != "" {
				tally.reasons = append(tally.reasons, s.Reason)
			}
			groupSizes[s.Field]++
		}
	}
	if len(groups) == 0 {
		return nil
	}

	fields := make([]string, 0, len(groups))
	for field := range groups {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]validation.ConsensusImprovement, 0, len(fields))
	for _, field := range fields {
		byValue := groups[field]
		keys := make([]string, 0, len(byValue))
		for key := range byValue {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var winner *valueTally
		for _, key := range keys {
			tally := byValue[key]
			if winner == nil ||
				tally.count > winner.count ||
				(tally.count == winner.count && tally.prioritySum > winner.prioritySum) {
				winner = tally
			}
		}

		support := float64(winner.count) / float64(groupSizes[field])
		out = append(out, validation.ConsensusImprovement{
			Field:                    field,
			ProposedValue:            winner.value,
			SupportPercentage:        support,
			ImplementationDifficulty: difficultyFor(support),
			Reasons:                  winner.reasons,
		})
	}
	return out
}

func difficultyFor(support float64) validation.ImplementationDifficulty {
	switch {
	case support >= 0.8:
		return validation.DifficultyEasy
	case support >= 0.6:
		return validation.DifficultyMedium
	default:
		return validation.DifficultyComplex
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
