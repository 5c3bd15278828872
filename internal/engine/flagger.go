package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// Flagger derives biomarker flags from the active-symptom set via the
// correlation table. It is the single place the correlation rule is applied
// and the single owner of the active-flag uniqueness invariant.
type Flagger struct {
	store    domain.Store
	taxonomy *domain.Taxonomy
	log      *logrus.Logger
	now      func() time.Time
}

// NewFlagger creates a flagging engine bound to a store and taxonomy.
func NewFlagger(store domain.Store, taxonomy *domain.Taxonomy, logger *logrus.Logger) *Flagger {
	return &Flagger{
		store:    store,
		taxonomy: taxonomy,
		log:      logger,
		now:      time.Now,
	}
}

// Reconcile creates any biomarker flags implied by the active-symptom set
// that do not already exist as active flags. It never resolves anything:
// flags are a clinical review queue and only close through Resolve, even if
// the triggering symptom has long expired. Running Reconcile twice with the
// same active set creates nothing the second time.
func (f *Flagger) Reconcile(ctx context.Context, userID string, activeSymptomKeys []string) ([]domain.BiomarkerFlag, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "user ID is required", userID)
	}

	existing, err := f.store.GetFlags(ctx, userID, domain.FlagActive)
	if err != nil {
		return nil, fmt.Errorf("loading active flags: %w", err)
	}
	covered := make(map[string]bool, len(existing))
	for _, flag := range existing {
		covered[flag.BiomarkerKey+"\x00"+flag.TriggeringSymptomKey] = true
	}

	now := f.now().UTC()
	var created []domain.BiomarkerFlag
	for _, symptomKey := range activeSymptomKeys {
		for _, biomarker := range f.taxonomy.CorrelatedBiomarkers(symptomKey) {
			pair := biomarker + "\x00" + symptomKey
			if covered[pair] {
				continue
			}
			covered[pair] = true
			created = append(created, domain.BiomarkerFlag{
				ID:                   uuid.NewString(),
				UserID:               userID,
				BiomarkerKey:         biomarker,
				TriggeringSymptomKey: symptomKey,
				Reason:               "Symptom correlation: " + f.taxonomy.DisplayName(symptomKey),
				Status:               domain.FlagActive,
				CreatedAt:            now,
			})
		}
	}

	if len(created) == 0 {
		return nil, nil
	}

	if err := f.store.CreateFlags(ctx, created); err != nil {
		return nil, fmt.Errorf("creating flags: %w", err)
	}

	f.log.WithFields(logrus.Fields{
		"user_id":       userID,
		"created_flags": len(created),
	}).Info("Reconciled biomarker flags")

	return created, nil
}

// Resolve closes a flag. The reviewer identity is opaque here; authorization
// happens in the caller before this is invoked. Resolving a missing or
// already-resolved flag returns ErrNotFound so concurrent reviewers can
// detect that someone else got there first.
func (f *Flagger) Resolve(ctx context.Context, flagID, resolvedBy string) (*domain.BiomarkerFlag, error) {
	if flagID == "" {
		return nil, domain.NewValidationError("flag_id", "flag ID is required", flagID)
	}
	if resolvedBy == "" {
		return nil, domain.NewValidationError("resolved_by", "reviewer identity is required", resolvedBy)
	}

	flag, err := f.store.ResolveFlag(ctx, flagID, resolvedBy, f.now().UTC())
	if err != nil {
		return nil, err
	}

	f.log.WithFields(logrus.Fields{
		"flag_id":       flag.ID,
		"user_id":       flag.UserID,
		"biomarker_key": flag.BiomarkerKey,
		"resolved_by":   resolvedBy,
	}).Info("Biomarker flag resolved")

	return flag, nil
}

// ActiveFlags returns a user's currently active flags.
func (f *Flagger) ActiveFlags(ctx context.Context, userID string) ([]domain.BiomarkerFlag, error) {
	return f.store.GetFlags(ctx, userID, domain.FlagActive)
}
