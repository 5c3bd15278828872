package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-biomarker-engine/internal/domain"
)

func TestFlagger_Reconcile_CreatesCorrelatedFlags(t *testing.T) {
	s := newTestStore(t)
	tax := domain.DefaultTaxonomy()
	flagger := NewFlagger(s, tax, newTestLogger())
	ctx := context.Background()

	created, err := flagger.Reconcile(ctx, "u1", []string{"fatigue"})

	require.NoError(t, err)
	require.Len(t, created, len(tax.CorrelatedBiomarkers("fatigue")))

	biomarkers := make(map[string]bool)
	for _, flag := range created {
		assert.Equal(t, "u1", flag.UserID)
		assert.Equal(t, "fatigue", flag.TriggeringSymptomKey)
		assert.Equal(t, "Symptom correlation: Fatigue", flag.Reason)
		assert.Equal(t, domain.FlagActive, flag.Status)
		assert.NotEmpty(t, flag.ID)
		biomarkers[flag.BiomarkerKey] = true
	}
	assert.True(t, biomarkers["vitamin_d"])
}

func TestFlagger_Reconcile_Idempotent(t *testing.T) {
	s := newTestStore(t)
	flagger := NewFlagger(s, domain.DefaultTaxonomy(), newTestLogger())
	ctx := context.Background()

	first, err := flagger.Reconcile(ctx, "u1", []string{"fatigue", "hair_loss"})
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := flagger.Reconcile(ctx, "u1", []string{"fatigue", "hair_loss"})
	require.NoError(t, err)
	assert.Empty(t, second, "same active set must create zero new flags")

	// Overlapping correlations (fatigue and hair_loss both map to tsh and
	// ferritin) produce one flag per (biomarker, symptom) pair, and never
	// a duplicate active pair.
	flags, err := flagger.ActiveFlags(ctx, "u1")
	require.NoError(t, err)
	seen := make(map[string]int)
	for _, flag := range flags {
		seen[flag.BiomarkerKey+"/"+flag.TriggeringSymptomKey]++
	}
	for pair, count := range seen {
		assert.Equal(t, 1, count, "duplicate active flag for %s", pair)
	}
}

func TestFlagger_Reconcile_UncorrelatedSymptomIsNoop(t *testing.T) {
	s := newTestStore(t)
	tax, err := domain.NewTaxonomy("test", map[string]domain.SymptomDef{
		"dry_skin": {DisplayName: "Dry Skin", Category: "skin_hair"},
	}, nil)
	require.NoError(t, err)

	flagger := NewFlagger(s, tax, newTestLogger())
	created, err := flagger.Reconcile(context.Background(), "u1", []string{"dry_skin"})

	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestFlagger_Resolve_Terminal(t *testing.T) {
	s := newTestStore(t)
	flagger := NewFlagger(s, domain.DefaultTaxonomy(), newTestLogger())
	ctx := context.Background()

	created, err := flagger.Reconcile(ctx, "u1", []string{"insomnia"})
	require.NoError(t, err)
	require.NotEmpty(t, created)
	flagID := created[0].ID

	resolved, err := flagger.Resolve(ctx, flagID, "reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, domain.FlagResolved, resolved.Status)
	assert.Equal(t, "reviewer-7", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	// Resolving twice is an error, not a no-op.
	_, err = flagger.Resolve(ctx, flagID, "reviewer-8")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	// A resolved flag never reappears via the active view.
	flags, err := flagger.ActiveFlags(ctx, "u1")
	require.NoError(t, err)
	for _, flag := range flags {
		assert.NotEqual(t, flagID, flag.ID)
	}
}

func TestFlagger_Resolve_Unknown(t *testing.T) {
	s := newTestStore(t)
	flagger := NewFlagger(s, domain.DefaultTaxonomy(), newTestLogger())

	_, err := flagger.Resolve(context.Background(), "no-such-flag", "reviewer-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFlagger_Resolve_Validation(t *testing.T) {
	s := newTestStore(t)
	flagger := NewFlagger(s, domain.DefaultTaxonomy(), newTestLogger())
	ctx := context.Background()

	_, err := flagger.Resolve(ctx, "", "reviewer-1")
	assert.True(t, domain.IsValidation(err))

	_, err = flagger.Resolve(ctx, "some-id", "")
	assert.True(t, domain.IsValidation(err))
}

func TestFlagger_ResolvedFlagDoesNotBlockRecreation(t *testing.T) {
	s := newTestStore(t)
	flagger := NewFlagger(s, domain.DefaultTaxonomy(), newTestLogger())
	ctx := context.Background()

	created, err := flagger.Reconcile(ctx, "u1", []string{"headache"})
	require.NoError(t, err)
	require.NotEmpty(t, created)
	oldID := created[0].ID

	_, err = flagger.Resolve(ctx, oldID, "reviewer-1")
	require.NoError(t, err)

	// The symptom re-triggers: a fresh flag for the same pair is allowed.
	recreated, err := flagger.Reconcile(ctx, "u1", []string{"headache"})
	require.NoError(t, err)
	require.NotEmpty(t, recreated)
	for _, flag := range recreated {
		assert.NotEqual(t, oldID, flag.ID, "recreated flag must get a new ID")
		assert.Equal(t, domain.FlagActive, flag.Status)
	}
}
