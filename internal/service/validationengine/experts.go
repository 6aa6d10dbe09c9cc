package validationengine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/eventbus"
)

// ExpertDirectory is the outbound collaborator for expert lookups. When an
// external directory is not wired the registry answers from its own store.
type ExpertDirectory interface {
	FindExperts(ctx context.Context, criteria validation.ExpertCriteria) ([]validation.ExpertProfile, error)
	GetExpertFeedback(ctx context.Context, expertID string) ([]validation.ExpertFeedbackRef, error)
}

// ExpertRegistry manages reviewer profiles and derives per-expert
// statistics from the feedback and consensus stores.
type ExpertRegistry struct {
	store     *repository.Store
	bus       *eventbus.Bus
	directory ExpertDirectory
	log       *zap.Logger
}

// NewExpertRegistry creates the expert manager. directory may be nil.
func NewExpertRegistry(store *repository.Store, bus *eventbus.Bus, directory ExpertDirectory, log *zap.Logger) *ExpertRegistry {
	return &ExpertRegistry{
		store:     store,
		bus:       bus,
		directory: directory,
		log:       log.With(zap.String("manager", "experts")),
	}
}

// Register stores a new profile, generating an id when the caller does not
// supply one.
func (er *ExpertRegistry) Register(_ context.Context, profile validation.ExpertProfile) (validation.ExpertProfile, error) {
	if err := validateProfile(profile); err != nil {
		return validation.ExpertProfile{}, err
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.RegisteredAt = time.Now().UTC()
	if err := er.store.CreateExpert(profile); err != nil {
		return validation.ExpertProfile{}, err
	}
	er.bus.Publish("", validation.EventExpertAdded, validation.ExpertAddedPayload{Expert: profile})
	er.log.Info("expert registered",
		zap.String("expert_id", profile.ID),
		zap.String("level", string(profile.ExpertiseLevel)))
	return profile, nil
}

// Get returns one profile by id.
func (er *ExpertRegistry) Get(_ context.Context, id string) (validation.ExpertProfile, error) {
	return er.store.Expert(id)
}

// Update replaces an existing profile. The registration timestamp is
// preserved from the stored profile.
func (er *ExpertRegistry) Update(_ context.Context, profile validation.ExpertProfile) (validation.ExpertProfile, error) {
	if err := validateProfile(profile); err != nil {
		return validation.ExpertProfile{}, err
	}
	existing, err := er.store.Expert(profile.ID)
	if err != nil {
		return validation.ExpertProfile{}, err
	}
	profile.RegisteredAt = existing.RegisteredAt
	if err := er.store.UpdateExpert(profile); err != nil {
		return validation.ExpertProfile{}, err
	}
	return profile, nil
}

// List returns registered profiles in registration order.
func (er *ExpertRegistry) List(_ context.Context, page validation.PageRequest) validation.Page[validation.ExpertProfile] {
	return validation.PageOf(er.store.Experts(), page)
}

// Find matches experts against the criteria, preferring the external
// directory when one is wired.
func (er *ExpertRegistry) Find(ctx context.Context, criteria validation.ExpertCriteria) ([]validation.ExpertProfile, error) {
	if er.directory != nil {
		return er.directory.FindExperts(ctx, criteria)
	}
	var out []validation.ExpertProfile
	for _, profile := range er.store.Experts() {
		if matchesExpert(profile, criteria) {
			out = append(out, profile)
		}
	}
	return out, nil
}

// Stats aggregates one expert's review history: feedback count, approval
// rate, and alignment with the consensus outcomes of the items reviewed.
// Alignment only counts items whose consensus has been computed.
func (er *ExpertRegistry) Stats(ctx context.Context, expertID string) (validation.ExpertStats, error) {
	if _, err := er.store.Expert(expertID); err != nil {
		return validation.ExpertStats{}, err
	}

	refs, err := er.feedbackRefs(ctx, expertID)
	if err != nil {
		return validation.ExpertStats{}, err
	}

	stats := validation.ExpertStats{ExpertID: expertID, FeedbackCount: len(refs)}
	if len(refs) == 0 {
		return stats, nil
	}

	approvals := 0
	considered := 0
	aligned := 0
	for _, ref := range refs {
		if ref.Approved {
			approvals++
		}
		result, ok := er.store.Consensus(ref.ValidationID)
		if !ok || result.Algorithm == "" {
			continue
		}
		considered++
		if ref.Approved == result.Approved {
			aligned++
		}
	}
	stats.ApprovalRate = float64(approvals) / float64(len(refs))
	if considered > 0 {
		stats.ConsensusAlignment = float64(aligned) / float64(considered)
	}
	return stats, nil
}

func (er *ExpertRegistry) feedbackRefs(ctx context.Context, expertID string) ([]validation.ExpertFeedbackRef, error) {
	if er.directory != nil {
		return er.directory.GetExpertFeedback(ctx, expertID)
	}
	entries := er.store.FeedbackByExpert(expertID)
	refs := make([]validation.ExpertFeedbackRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, validation.ExpertFeedbackRef{
			ValidationID: e.ValidationID,
			Approved:     e.Approved,
			Score:        e.Score,
		})
	}
	return refs, nil
}

func validateProfile(profile validation.ExpertProfile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return validation.MissingField("name")
	}
	if profile.ExpertiseLevel != "" && !profile.ExpertiseLevel.Known() {
		return validation.InvalidField("expertiseLevel", "not a known expertise level")
	}
	return nil
}

func matchesExpert(profile validation.ExpertProfile, criteria validation.ExpertCriteria) bool {
	if criteria.MinExpertiseLevel != "" && profile.ExpertiseLevel.Rank() < criteria.MinExpertiseLevel.Rank() {
		return false
	}
	if criteria.NativeOnly && !profile.IsNative {
		return false
	}
	if criteria.Domain != "" && !containsFold(profile.Domains, criteria.Domain) {
		return false
	}
	if criteria.Specialty != "" && !containsFold(profile.Specialties, criteria.Specialty) {
		return false
	}
	return true
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
