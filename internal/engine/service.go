package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// SummaryCache is the optional read cache for analytics summaries. A nil
// cache disables caching; failures inside the cache must never fail a read.
type SummaryCache interface {
	Get(ctx context.Context, userID string) (*domain.AnalyticsSummary, bool)
	Set(ctx context.Context, userID string, summary *domain.AnalyticsSummary)
	Invalidate(ctx context.Context, userID string)
}

// FlagNotifier receives newly created flags, e.g. for the review console's
// live feed. Delivery is best effort.
type FlagNotifier interface {
	FlagsCreated(flags []domain.BiomarkerFlag)
}

// ResolutionRecorder appends reviewer resolutions to an audit trail.
type ResolutionRecorder interface {
	RecordResolution(ctx context.Context, flag *domain.BiomarkerFlag) error
}

// IngestResult is the outcome of one submission event: the merge result plus
// the IDs of any flags the reconciliation created.
type IngestResult struct {
	ActiveSymptomKeys []string `json:"active_symptom_keys"`
	Skipped           []string `json:"skipped,omitempty"`
	CreatedFlagIDs    []string `json:"created_flag_ids,omitempty"`
}

// Service is the engine facade the transport layer talks to. It owns the
// per-user write serialization the ledger and flagger require: Merge and
// Reconcile for one user always run as a single logical write transaction
// under that user's lock, while different users proceed fully in parallel.
//
// The engine assumes at-least-once delivery with caller-side dedup of
// identical events; replaying an already-applied event is the caller's bug
// to prevent, not the engine's to detect.
type Service struct {
	ledger     *Ledger
	flagger    *Flagger
	analytics  *Analytics
	normalizer *domain.Normalizer
	cache      SummaryCache
	notifier   FlagNotifier
	audit      ResolutionRecorder
	log        *logrus.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewService wires the engine components together. cache, notifier, and
// audit may be nil.
func NewService(ledger *Ledger, flagger *Flagger, analytics *Analytics, normalizer *domain.Normalizer, logger *logrus.Logger) *Service {
	return &Service{
		ledger:     ledger,
		flagger:    flagger,
		analytics:  analytics,
		normalizer: normalizer,
		log:        logger,
		userLocks:  make(map[string]*sync.Mutex),
	}
}

// WithCache attaches an analytics summary cache.
func (s *Service) WithCache(cache SummaryCache) *Service {
	s.cache = cache
	return s
}

// WithNotifier attaches a flag-created notifier.
func (s *Service) WithNotifier(notifier FlagNotifier) *Service {
	s.notifier = notifier
	return s
}

// WithAudit attaches a resolution audit recorder.
func (s *Service) WithAudit(audit ResolutionRecorder) *Service {
	s.audit = audit
	return s
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

// Ingest processes one submission event end to end: normalize the raw
// answers, merge into the ledger, and reconcile biomarker flags against the
// resulting active set.
func (s *Service) Ingest(ctx context.Context, userID, assessmentType string, answers []domain.RawAnswer, eventTime time.Time) (*IngestResult, error) {
	tuples, unknown := s.normalizer.Normalize(answers)

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	merged, err := s.ledger.Merge(ctx, userID, assessmentType, tuples, eventTime)
	if err != nil {
		return nil, err
	}

	created, err := s.flagger.Reconcile(ctx, userID, merged.ActiveSymptomKeys)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
	if s.notifier != nil && len(created) > 0 {
		s.notifier.FlagsCreated(created)
	}

	result := &IngestResult{
		ActiveSymptomKeys: merged.ActiveSymptomKeys,
		Skipped:           append(unknown, merged.Skipped...),
	}
	for _, flag := range created {
		result.CreatedFlagIDs = append(result.CreatedFlagIDs, flag.ID)
	}
	return result, nil
}

// IngestTuples is Ingest for callers that already hold canonical tuples.
func (s *Service) IngestTuples(ctx context.Context, userID, assessmentType string, tuples []domain.SymptomTuple, eventTime time.Time) (*IngestResult, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	merged, err := s.ledger.Merge(ctx, userID, assessmentType, tuples, eventTime)
	if err != nil {
		return nil, err
	}
	created, err := s.flagger.Reconcile(ctx, userID, merged.ActiveSymptomKeys)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
	if s.notifier != nil && len(created) > 0 {
		s.notifier.FlagsCreated(created)
	}

	result := &IngestResult{ActiveSymptomKeys: merged.ActiveSymptomKeys, Skipped: merged.Skipped}
	for _, flag := range created {
		result.CreatedFlagIDs = append(result.CreatedFlagIDs, flag.ID)
	}
	return result, nil
}

// ResolveFlag closes a flag on behalf of a reviewer. Authorization is the
// caller's job; this only enforces the terminal-state invariant and records
// the audit trail.
func (s *Service) ResolveFlag(ctx context.Context, flagID, resolvedBy string) (*domain.BiomarkerFlag, error) {
	flag, err := s.flagger.Resolve(ctx, flagID, resolvedBy)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, flag.UserID)
	}
	if s.audit != nil {
		if err := s.audit.RecordResolution(ctx, flag); err != nil {
			// The resolution itself committed; an audit write failure is
			// logged, not surfaced.
			s.log.WithError(err).WithField("flag_id", flag.ID).Error("Failed to record resolution audit entry")
		}
	}
	return flag, nil
}

// ActiveSymptoms returns the user's active symptom records as of now.
func (s *Service) ActiveSymptoms(ctx context.Context, userID string) ([]domain.SymptomRecord, error) {
	return s.ledger.ActiveRecords(ctx, userID, time.Now().UTC())
}

// History returns the user's submission history, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	return s.ledger.History(ctx, userID, limit)
}

// ActiveFlags returns the user's active biomarker flags.
func (s *Service) ActiveFlags(ctx context.Context, userID string) ([]domain.BiomarkerFlag, error) {
	return s.flagger.ActiveFlags(ctx, userID)
}

// Analytics returns the user's analytics summary, served from cache when a
// fresh snapshot exists.
func (s *Service) Analytics(ctx context.Context, userID string) (*domain.AnalyticsSummary, error) {
	if s.cache != nil {
		if summary, ok := s.cache.Get(ctx, userID); ok {
			return summary, nil
		}
	}

	summary, err := s.analytics.Summary(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, userID, summary)
	}
	return summary, nil
}
