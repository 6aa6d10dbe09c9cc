package validationengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/eventbus"
)

func newTestExpertRegistry(t *testing.T, directory ExpertDirectory) (*repository.Store, *ExpertRegistry) {
	t.Helper()
	store := repository.NewStore()
	bus := eventbus.New(zap.NewNop())
	return store, NewExpertRegistry(store, bus, directory, zap.NewNop())
}

func TestRegisterExpertValidation(t *testing.T) {
	_, er := newTestExpertRegistry(t, nil)
	ctx := context.Background()

	_, err := er.Register(ctx, validation.ExpertProfile{})
	assert.Equal(t, validation.CodeMissingRequiredField, validation.CodeOf(err))

	_, err = er.Register(ctx, validation.ExpertProfile{Name: "Ana", ExpertiseLevel: "wizard"})
	assert.Equal(t, validation.CodeInvalidData, validation.CodeOf(err))
}

func TestRegisterExpertGeneratesID(t *testing.T) {
	_, er := newTestExpertRegistry(t, nil)
	ctx := context.Background()

	created, err := er.Register(ctx, validation.ExpertProfile{Name: "Ana", ExpertiseLevel: validation.ExpertiseExpert})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.RegisteredAt.IsZero())

	got, err := er.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)

	_, err = er.Register(ctx, validation.ExpertProfile{ID: created.ID, Name: "Ana"})
	assert.Equal(t, validation.CodeDuplicateEntry, validation.CodeOf(err))
}

func TestUpdateExpertPreservesRegistration(t *testing.T) {
	_, er := newTestExpertRegistry(t, nil)
	ctx := context.Background()

	created, err := er.Register(ctx, validation.ExpertProfile{Name: "Ana"})
	require.NoError(t, err)

	created.Affiliation = "deaf studies lab"
	created.RegisteredAt = created.RegisteredAt.AddDate(-1, 0, 0)
	updated, err := er.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "deaf studies lab", updated.Affiliation)

	stored, err := er.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, created.RegisteredAt, stored.RegisteredAt)

	_, err = er.Update(ctx, validation.ExpertProfile{ID: "ghost", Name: "Nobody"})
	assert.Equal(t, validation.CodeExpertNotFound, validation.CodeOf(err))
}

func TestFindExpertsLocalCriteria(t *testing.T) {
	_, er := newTestExpertRegistry(t, nil)
	ctx := context.Background()

	profiles := []validation.ExpertProfile{
		{Name: "Ana", ExpertiseLevel: validation.ExpertiseResearcher, IsNative: true, Domains: []string{"ASL"}},
		{Name: "Ben", ExpertiseLevel: validation.ExpertiseIntermediate, Domains: []string{"ASL"}, Specialties: []string{"fingerspelling"}},
		{Name: "Cho", ExpertiseLevel: validation.ExpertiseExpert, Domains: []string{"BSL"}},
	}
	for _, p := range profiles {
		_, err := er.Register(ctx, p)
		require.NoError(t, err)
	}

	found, err := er.Find(ctx, validation.ExpertCriteria{MinExpertiseLevel: validation.ExpertiseExpert})
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = er.Find(ctx, validation.ExpertCriteria{NativeOnly: true})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ana", found[0].Name)

	found, err = er.Find(ctx, validation.ExpertCriteria{Domain: "asl", Specialty: "Fingerspelling"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ben", found[0].Name)
}

func TestExpertStatsFromLocalStore(t *testing.T) {
	store, er := newTestExpertRegistry(t, nil)
	ctx := context.Background()

	created, err := er.Register(ctx, validation.ExpertProfile{Name: "Ana"})
	require.NoError(t, err)

	seedItem(t, store, "v-1")
	seedItem(t, store, "v-2")
	seedItem(t, store, "v-3")
	feedback := []validation.FeedbackEntry{
		{ID: "f-1", ExpertID: created.ID, ValidationID: "v-1", Approved: true},
		{ID: "f-2", ExpertID: created.ID, ValidationID: "v-2", Approved: true},
		{ID: "f-3", ExpertID: created.ID, ValidationID: "v-3", Approved: false},
	}
	for _, f := range feedback {
		_, err := store.AddFeedback(f)
		require.NoError(t, err)
	}
	// Consensus exists for two of the three items; the expert agreed once.
	store.SaveConsensus(validation.ConsensusResult{ValidationID: "v-1", Approved: true, Algorithm: validation.AlgorithmMajority})
	store.SaveConsensus(validation.ConsensusResult{ValidationID: "v-2", Approved: false, Algorithm: validation.AlgorithmMajority})

	stats, err := er.Stats(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FeedbackCount)
	assert.InDelta(t, 2.0/3.0, stats.ApprovalRate, 1e-9)
	assert.InDelta(t, 0.5, stats.ConsensusAlignment, 1e-9)

	_, err = er.Stats(ctx, "ghost")
	assert.Equal(t, validation.CodeExpertNotFound, validation.CodeOf(err))
}

// stubDirectory answers lookups from fixed data, standing in for an
// external expert service.
type stubDirectory struct {
	experts []validation.ExpertProfile
	refs    []validation.ExpertFeedbackRef
}

func (d *stubDirectory) FindExperts(context.Context, validation.ExpertCriteria) ([]validation.ExpertProfile, error) {
	return d.experts, nil
}

func (d *stubDirectory) GetExpertFeedback(context.Context, string) ([]validation.ExpertFeedbackRef, error) {
	return d.refs, nil
}

func TestExpertDirectoryPreferred(t *testing.T) {
	dir := &stubDirectory{
		experts: []validation.ExpertProfile{{ID: "remote-1", Name: "Remote"}},
		refs: []validation.ExpertFeedbackRef{
			{ValidationID: "v-1", Approved: true},
			{ValidationID: "v-2", Approved: false},
		},
	}
	_, er := newTestExpertRegistry(t, dir)
	ctx := context.Background()

	created, err := er.Register(ctx, validation.ExpertProfile{Name: "Ana"})
	require.NoError(t, err)

	found, err := er.Find(ctx, validation.ExpertCriteria{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "remote-1", found[0].ID)

	stats, err := er.Stats(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FeedbackCount)
	assert.InDelta(t, 0.5, stats.ApprovalRate, 1e-9)
}
