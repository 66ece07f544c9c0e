package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
	"github.com/carebridge-hub/backend/internal/processing"
	"github.com/carebridge-hub/backend/internal/review"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

// ReviewSource records where an opened review got its form from
type ReviewSource string

const (
	ReviewSourceCache  ReviewSource = "cache"
	ReviewSourceServer ReviewSource = "server"
	ReviewSourceRecord ReviewSource = "record"
)

// ReviewBackend is the part of the handoff API a reviewer works against
type ReviewBackend interface {
	review.FormReader
	review.FormWriter
	review.Finalizer
	// LoadExtraction returns the server's cached extraction; a miss is a
	// not-found error.
	LoadExtraction(ctx context.Context, sessionID string) (*providers.CachedExtraction, error)
	LoadTranscript(ctx context.Context, sessionID string) (string, error)
	LoadFollowUps(ctx context.Context, sessionID string) ([]entities.FollowUpQuestion, error)
	SaveFollowUps(ctx context.Context, sessionID string, list []entities.FollowUpQuestion) error
}

// ReviewSession is one reviewer's working copy of a session
type ReviewSession struct {
	SessionID string
	Source    ReviewSource
	Store     *review.FormStore
	Segments  []entities.TranscriptSegment
	FollowUps *review.FollowUps
	Gate      *review.Gate
}

// Readiness reports what still blocks approval
func (rs *ReviewSession) Readiness() review.Readiness {
	return rs.Gate.Check(rs.Store.Form(), rs.FollowUps.List())
}

// Next returns the next field needing attention after the given one
func (rs *ReviewSession) Next(after entities.FieldName) (entities.FieldName, bool) {
	return review.FindNext(rs.Store.Form(), review.FieldOrder, after)
}

// ReviewState is the part of a review a form save does not carry: pinned
// segments, suggestions from answered follow-ups and staged edits
type ReviewState struct {
	Pinned      []string                      `json:"pinned,omitempty"`
	Suggestions map[entities.FieldName]string `json:"suggestions,omitempty"`
	Pending     map[entities.FieldName]string `json:"pending,omitempty"`
}

// IsEmpty reports whether there is nothing to keep
func (st ReviewState) IsEmpty() bool {
	return len(st.Pinned) == 0 && len(st.Suggestions) == 0 && len(st.Pending) == 0
}

// State captures the working state of a review
func (rs *ReviewSession) State() ReviewState {
	var st ReviewState
	for _, seg := range review.PinnedSegments(rs.Segments) {
		st.Pinned = append(st.Pinned, seg.ID)
	}
	for name, meta := range rs.Store.Form().Text {
		if meta != nil && meta.SuggestedValue != nil {
			if st.Suggestions == nil {
				st.Suggestions = make(map[entities.FieldName]string)
			}
			st.Suggestions[name] = *meta.SuggestedValue
		}
		if value, ok := rs.Store.Pending(name); ok {
			if st.Pending == nil {
				st.Pending = make(map[entities.FieldName]string)
			}
			st.Pending[name] = value
		}
	}
	return st
}

// restore reapplies saved state. Entries that no longer fit the form, such
// as a segment id the transcript lost, are skipped.
func (rs *ReviewSession) restore(st ReviewState) int {
	skipped := 0
	for _, id := range st.Pinned {
		if !review.TogglePin(rs.Segments, id) {
			skipped++
		}
	}
	for name, value := range st.Suggestions {
		if err := rs.Store.Suggest(name, value); err != nil {
			skipped++
		}
	}
	for name, value := range st.Pending {
		if err := rs.Store.Edit(name, value); err != nil {
			skipped++
		}
	}
	return skipped
}

// ReviewService opens reviews from the local extraction cache, the server's
// extraction cache or the persisted record, and carries them through save
// and approval. Working state is kept in the local cache between opens.
type ReviewService struct {
	backend  ReviewBackend
	cache    providers.CacheProvider
	keywords review.KeywordTable
	required []entities.FieldName
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// ReviewServiceOption configures a ReviewService
type ReviewServiceOption func(*ReviewService)

// WithKeywordTable replaces the evidence keyword table
func WithKeywordTable(table review.KeywordTable) ReviewServiceOption {
	return func(s *ReviewService) { s.keywords = table }
}

// WithRequiredFields sets the fields approval depends on
func WithRequiredFields(fields ...entities.FieldName) ReviewServiceOption {
	return func(s *ReviewService) { s.required = fields }
}

// WithReviewMetrics records extraction cache hits and misses
func WithReviewMetrics(metrics *observability.Metrics) ReviewServiceOption {
	return func(s *ReviewService) { s.metrics = metrics }
}

// WithReviewLogger sets the service logger
func WithReviewLogger(logger zerolog.Logger) ReviewServiceOption {
	return func(s *ReviewService) { s.logger = logger }
}

// NewReviewService creates a review service. cache may be nil.
func NewReviewService(backend ReviewBackend, cache providers.CacheProvider, opts ...ReviewServiceOption) *ReviewService {
	s := &ReviewService{
		backend:  backend,
		cache:    cache,
		keywords: review.DefaultKeywordTable(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheExtraction keeps a finished processing result for the next Open
func (s *ReviewService) CacheExtraction(ctx context.Context, sessionID string, result *processing.Result) error {
	if s.cache == nil || result == nil {
		return nil
	}
	data, err := json.Marshal(providers.CachedExtraction{Transcript: result.Transcript, Form: result.Form})
	if err != nil {
		return fmt.Errorf("failed to encode extraction: %w", err)
	}
	if err := s.cache.Set(ctx, providers.ExtractionCacheKey(sessionID), data, 0); err != nil {
		return fmt.Errorf("failed to cache extraction: %w", err)
	}
	return nil
}

// Open builds a review. The local cached extraction wins, then the
// server's cached extraction, then the persisted record. Follow-ups always
// come from the server, which holds answers saved since extraction.
func (s *ReviewService) Open(ctx context.Context, sessionID string) (*ReviewSession, error) {
	logger := s.logger.With().Str("session_id", sessionID).Logger()

	source := ReviewSourceCache
	form, transcript, ok := s.fromCache(ctx, logger, sessionID)
	if !ok {
		source = ReviewSourceServer
		form, transcript, ok = s.fromServer(ctx, logger, sessionID)
	}
	if !ok {
		source = ReviewSourceRecord
		record, err := s.backend.LoadForm(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load form: %w", err)
		}
		form = review.FromPatientRecord(*record)

		transcript, err = s.backend.LoadTranscript(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load transcript: %w", err)
		}
	}
	followUps, err := s.backend.LoadFollowUps(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load follow-ups: %w", err)
	}

	segments := review.SplitTranscript(transcript)
	form = review.AssignEvidence(form, segments, s.keywords)

	rs := &ReviewSession{
		SessionID: sessionID,
		Source:    source,
		Store:     review.NewFormStore(form),
		Segments:  segments,
		FollowUps: review.NewFollowUps(followUps),
		Gate:      review.NewGate(s.backend, s.backend, s.required...),
	}
	if st, ok := s.loadState(ctx, logger, sessionID); ok {
		if skipped := rs.restore(st); skipped > 0 {
			logger.Debug().Int("skipped", skipped).Msg("review state partly restored")
		}
	}

	logger.Debug().Str("source", string(source)).Int("segments", len(segments)).Msg("review opened")
	return rs, nil
}

func (s *ReviewService) fromCache(ctx context.Context, logger zerolog.Logger, sessionID string) (entities.IntakeForm, string, bool) {
	if s.cache == nil {
		return entities.IntakeForm{}, "", false
	}
	data, err := s.cache.Get(ctx, providers.ExtractionCacheKey(sessionID))
	if err != nil {
		observability.RecordCacheMiss(ctx, s.metrics, "client")
		return entities.IntakeForm{}, "", false
	}
	observability.RecordCacheHit(ctx, s.metrics, "client")

	var cached providers.CachedExtraction
	if err := json.Unmarshal(data, &cached); err != nil {
		logger.Warn().Err(err).Msg("cached extraction is malformed, trying server")
		return entities.IntakeForm{}, "", false
	}
	form, ok := decodeCached(logger, &cached)
	return form, cached.Transcript, ok
}

// fromServer reads the server's extraction cache and keeps a local copy for
// the next Open
func (s *ReviewService) fromServer(ctx context.Context, logger zerolog.Logger, sessionID string) (entities.IntakeForm, string, bool) {
	cached, err := s.backend.LoadExtraction(ctx, sessionID)
	if err != nil {
		if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			logger.Warn().Err(err).Msg("server extraction unavailable, using persisted form")
		}
		return entities.IntakeForm{}, "", false
	}
	form, ok := decodeCached(logger, cached)
	if !ok {
		return entities.IntakeForm{}, "", false
	}
	if s.cache != nil {
		if data, err := json.Marshal(providers.CachedExtraction{Transcript: cached.Transcript, Form: cached.Form}); err == nil {
			if err := s.cache.Set(ctx, providers.ExtractionCacheKey(sessionID), data, 0); err != nil {
				logger.Warn().Err(err).Msg("failed to keep server extraction locally")
			}
		}
	}
	return form, cached.Transcript, true
}

func decodeCached(logger zerolog.Logger, cached *providers.CachedExtraction) (entities.IntakeForm, bool) {
	raw, err := entities.DecodeRawExtractedForm(cached.Form)
	if err != nil {
		logger.Warn().Err(err).Msg("cached extraction payload is malformed")
		return entities.IntakeForm{}, false
	}
	return review.FromRawExtraction(raw), true
}

func (s *ReviewService) loadState(ctx context.Context, logger zerolog.Logger, sessionID string) (ReviewState, bool) {
	var st ReviewState
	if s.cache == nil {
		return st, false
	}
	data, err := s.cache.Get(ctx, providers.ReviewStateCacheKey(sessionID))
	if err != nil {
		return st, false
	}
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Warn().Err(err).Msg("saved review state is malformed, ignoring it")
		return st, false
	}
	return st, true
}

// SaveState keeps the working state of a review for the next Open
func (s *ReviewService) SaveState(ctx context.Context, rs *ReviewSession) error {
	if s.cache == nil {
		return nil
	}
	st := rs.State()
	if st.IsEmpty() {
		s.dropState(ctx, rs.SessionID)
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode review state: %w", err)
	}
	if err := s.cache.Set(ctx, providers.ReviewStateCacheKey(rs.SessionID), data, 0); err != nil {
		return fmt.Errorf("failed to save review state: %w", err)
	}
	return nil
}

// SaveDraft persists the whole form and the follow-ups, then the working
// state. The cached extraction is dropped so the next Open sees the saved
// record.
func (s *ReviewService) SaveDraft(ctx context.Context, rs *ReviewSession) error {
	if rs.Store.Locked() {
		return review.ErrFormLocked
	}
	if err := s.backend.SaveForm(ctx, rs.SessionID, review.ToPatientRecord(rs.Store.Form())); err != nil {
		return fmt.Errorf("failed to save form: %w", err)
	}
	if err := s.backend.SaveFollowUps(ctx, rs.SessionID, rs.FollowUps.List()); err != nil {
		return fmt.Errorf("failed to save follow-ups: %w", err)
	}
	s.dropCache(ctx, rs.SessionID)
	return s.SaveState(ctx, rs)
}

// Reset discards unsaved working state and reopens the session
func (s *ReviewService) Reset(ctx context.Context, sessionID string) (*ReviewSession, error) {
	s.dropState(ctx, sessionID)
	return s.Open(ctx, sessionID)
}

// Approve saves the follow-ups, then hands the form to the approval gate.
// Nothing is written unless the form is ready.
func (s *ReviewService) Approve(ctx context.Context, rs *ReviewSession, confirmer review.Confirmer) error {
	if readiness := rs.Readiness(); !readiness.Ready() {
		return fmt.Errorf("%w: %d required fields missing, %d follow-ups unresolved",
			review.ErrNotReady, len(readiness.MissingRequired), len(readiness.UnresolvedFollowUps))
	}
	if rs.Gate.Approved() || rs.Store.Locked() {
		return review.ErrAlreadyApproved
	}
	if err := s.backend.SaveFollowUps(ctx, rs.SessionID, rs.FollowUps.List()); err != nil {
		return fmt.Errorf("failed to save follow-ups: %w", err)
	}
	if err := rs.Gate.Approve(ctx, rs.SessionID, rs.Store, rs.FollowUps.List(), confirmer); err != nil {
		return err
	}
	s.dropCache(ctx, rs.SessionID)
	s.dropState(ctx, rs.SessionID)
	s.logger.Info().Str("session_id", rs.SessionID).Msg("handoff approved")
	return nil
}

func (s *ReviewService) dropCache(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, providers.ExtractionCacheKey(sessionID)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to drop cached extraction")
	}
}

func (s *ReviewService) dropState(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, providers.ReviewStateCacheKey(sessionID)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to drop review state")
	}
}

// Forget drops everything kept locally for a session
func (s *ReviewService) Forget(ctx context.Context, sessionID string) {
	s.dropCache(ctx, sessionID)
	s.dropState(ctx, sessionID)
}
