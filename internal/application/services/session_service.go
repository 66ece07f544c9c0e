package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/domain/repositories"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
	"github.com/carebridge-hub/backend/internal/review"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

// Progress checkpoints of the server-side pipeline
const (
	ProgressUploaded    = 25
	ProgressTranscribed = 75
	ProgressComplete    = 100
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// summaryFields are the record fields a session list row counts as missing
var summaryFields = []entities.FieldName{
	entities.FieldPatientName, entities.FieldDOB, entities.FieldRoom, entities.FieldAllergies,
	entities.FieldCodeStatus, entities.FieldReasonForAdmission, entities.FieldRelevantPMH,
	entities.FieldTemp, entities.FieldHeartRate, entities.FieldRespiratoryRate,
	entities.FieldBPSystolic, entities.FieldBPDiastolic, entities.FieldPainLevel,
	entities.FieldNurseName,
}

// SessionService owns the server-side session lifecycle: recording,
// the upload → transcribe → extract pipeline, persistence and finalization.
type SessionService struct {
	repo        repositories.SessionRepository
	transcriber providers.TranscriptionProvider
	extractor   providers.ExtractionProvider
	cache       providers.CacheProvider
	events      providers.EventBus
	svi         *SVIService
	metrics     *observability.Metrics
	cacheTTL    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// SessionServiceOption configures a SessionService
type SessionServiceOption func(*SessionService)

// WithExtractionCache keeps raw extraction results for ttl
func WithExtractionCache(cache providers.CacheProvider, ttl time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithEventBus publishes session progress events
func WithEventBus(bus providers.EventBus) SessionServiceOption {
	return func(s *SessionService) { s.events = bus }
}

// WithSVI resolves the patient's county during processing and adds the
// social vulnerability follow-ups it raises
func WithSVI(svi *SVIService) SessionServiceOption {
	return func(s *SessionService) { s.svi = svi }
}

// WithSessionMetrics records session transitions
func WithSessionMetrics(metrics *observability.Metrics) SessionServiceOption {
	return func(s *SessionService) { s.metrics = metrics }
}

// WithSessionLogger sets the service logger
func WithSessionLogger(logger zerolog.Logger) SessionServiceOption {
	return func(s *SessionService) { s.logger = logger }
}

// WithSessionClock replaces the time source
func WithSessionClock(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) { s.now = now }
}

// NewSessionService creates a new session service
func NewSessionService(
	repo repositories.SessionRepository,
	transcriber providers.TranscriptionProvider,
	extractor providers.ExtractionProvider,
	opts ...SessionServiceOption,
) *SessionService {
	s := &SessionService{
		repo:        repo,
		transcriber: transcriber,
		extractor:   extractor,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new, empty session
func (s *SessionService) Create(ctx context.Context) (*entities.Session, error) {
	now := s.now().UTC()
	session := &entities.Session{
		ID:        uuid.NewString(),
		Record:    entities.NewPatientRecord(),
		FollowUps: []entities.FollowUpQuestion{},
		Status:    entities.SessionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}
	s.publish(ctx, session.ID, entities.SessionEventTypeCreated, session.Status, 0)
	return session, nil
}

// List returns session rows with attention counts, most recent first
func (s *SessionService) List(ctx context.Context, limit, offset int) ([]entities.SessionSummary, error) {
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 1 || limit > maxListLimit {
		return nil, apperrors.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", maxListLimit), nil)
	}
	if offset < 0 {
		return nil, apperrors.NewValidationError("offset must not be negative", nil)
	}

	sessions, err := s.repo.List(ctx, repositories.SessionFilter{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}

	out := make([]entities.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, Summarize(session))
	}
	return out, nil
}

// Summarize builds the list row of a session
func Summarize(session *entities.Session) entities.SessionSummary {
	form := review.FromPatientRecord(session.Record)
	counts := review.CountIssues(form, summaryFields)
	name := session.Record.PatientInfo.Name
	if name == entities.UnknownName {
		name = ""
	}
	return entities.SessionSummary{
		ID:        session.ID,
		Name:      name,
		RoomNum:   session.Record.PatientInfo.RoomNum,
		Status:    session.Status,
		Progress:  session.Progress,
		Missing:   counts.Missing,
		Uncertain: counts.Uncertain,
		FollowUps: review.NewFollowUps(session.FollowUps).Unresolved(),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
}

// Get returns a session
func (s *SessionService) Get(ctx context.Context, id string) (*entities.Session, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *SessionService) getOpen(ctx context.Context, id string) (*entities.Session, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsFinal() {
		return nil, apperrors.NewConflictError(fmt.Sprintf("session %s is already final", id), nil)
	}
	return session, nil
}

// StartRecording marks a session as recording
func (s *SessionService) StartRecording(ctx context.Context, id string) (*entities.ProcessingStatus, error) {
	if _, err := s.getOpen(ctx, id); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, id, entities.SessionStatusRecording, 0); err != nil {
		return nil, err
	}
	return &entities.ProcessingStatus{ID: id, Status: entities.SessionStatusRecording, Progress: 0}, nil
}

// Process runs the pipeline on uploaded audio: transcription, extraction and
// persistence of the extracted record. Progress moves 25 → 75 → 100; any
// failure leaves the session in error with progress 0.
func (s *SessionService) Process(ctx context.Context, id, filename string, audio []byte) (*entities.ProcessingResult, error) {
	if len(audio) == 0 {
		return nil, apperrors.NewValidationError("audio file is empty", nil)
	}
	if _, err := s.getOpen(ctx, id); err != nil {
		return nil, err
	}

	logger := s.logger.With().Str("session_id", id).Logger()

	if err := s.setStatus(ctx, id, entities.SessionStatusProcessing, ProgressUploaded); err != nil {
		return nil, err
	}
	logger.Info().Str("filename", filename).Int("bytes", len(audio)).Msg("audio received, starting transcription")

	transcript, err := s.transcriber.Transcribe(ctx, filename, audio)
	if err != nil {
		s.fail(ctx, logger, id, "transcription", err)
		return nil, apperrors.NewExternalError("transcription failed", err)
	}

	if err := s.repo.UpdateTranscript(ctx, id, transcript, entities.SessionStatusProcessing, ProgressTranscribed); err != nil {
		s.fail(ctx, logger, id, "store transcript", err)
		return nil, err
	}
	s.publish(ctx, id, entities.SessionEventTypeStatus, entities.SessionStatusProcessing, ProgressTranscribed)
	logger.Info().Int("chars", len(transcript)).Msg("transcription complete, starting extraction")

	extraction, err := s.extractor.Extract(ctx, transcript)
	if err != nil {
		s.fail(ctx, logger, id, "extraction", err)
		return nil, apperrors.NewExternalError("processing failed", err)
	}

	form := extraction.Form
	raw, err := entities.DecodeRawExtractedForm(form)
	if err != nil {
		s.fail(ctx, logger, id, "decode extraction", err)
		return nil, apperrors.NewExternalError("processing failed", err)
	}

	followUps := extraction.FollowUps
	if s.svi != nil {
		form, raw, followUps = s.applySVI(ctx, logger, transcript, form, raw, followUps)
	}

	// The record is a convenience copy for GET /form; the raw payload below
	// still reaches the reviewer if saving it fails.
	record := review.ToPatientRecord(review.FromRawExtraction(raw))
	if err := s.repo.UpdateRecord(ctx, id, record); err != nil {
		logger.Warn().Err(err).Msg("failed to save extracted form")
	}
	if len(followUps) > 0 {
		if err := s.repo.UpdateFollowUps(ctx, id, followUps); err != nil {
			logger.Warn().Err(err).Msg("failed to save follow-ups")
		}
	}
	s.cacheExtraction(ctx, logger, id, providers.CachedExtraction{
		Transcript: transcript,
		Form:       form,
		FollowUps:  followUps,
	})

	if err := s.setStatus(ctx, id, entities.SessionStatusComplete, ProgressComplete); err != nil {
		return nil, err
	}
	logger.Info().Msg("processing complete")

	return &entities.ProcessingResult{
		ID:         id,
		Status:     entities.SessionStatusComplete,
		Progress:   ProgressComplete,
		Transcript: transcript,
		Form:       form,
		FollowUps:  followUps,
	}, nil
}

// applySVI writes the resolved county into the payload's geolocation and
// appends the vulnerability follow-ups. Lookup failures only cost the
// enrichment.
func (s *SessionService) applySVI(
	ctx context.Context,
	logger zerolog.Logger,
	transcript string,
	form json.RawMessage,
	raw entities.RawExtractedForm,
	followUps []entities.FollowUpQuestion,
) (json.RawMessage, entities.RawExtractedForm, []entities.FollowUpQuestion) {
	report := s.svi.Report(ctx, transcript)
	if report.Error != "" {
		logger.Info().Str("reason", report.Error).Msg("no social vulnerability data for session")
	}
	if report.Location != "" {
		updated, err := entities.SetGeoLocation(form, report.Location)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set geolocation")
		} else if decoded, err := entities.DecodeRawExtractedForm(updated); err == nil {
			form, raw = updated, decoded
		}
	}
	return form, raw, MergeFollowUps(followUps, report.Questions)
}

// MergeFollowUps appends the questions of extra whose ids are not in list yet
func MergeFollowUps(list, extra []entities.FollowUpQuestion) []entities.FollowUpQuestion {
	if len(extra) == 0 {
		return list
	}
	seen := make(map[string]struct{}, len(list))
	for _, q := range list {
		seen[q.ID] = struct{}{}
	}
	out := append([]entities.FollowUpQuestion{}, list...)
	for _, q := range extra {
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		out = append(out, q)
	}
	return out
}

func (s *SessionService) fail(ctx context.Context, logger zerolog.Logger, id, stage string, cause error) {
	logger.Error().Err(cause).Str("stage", stage).Msg("processing failed")
	// The request context may already be gone; the error status must still land.
	ctx = context.WithoutCancel(ctx)
	if err := s.setStatus(ctx, id, entities.SessionStatusError, 0); err != nil {
		logger.Error().Err(err).Msg("failed to record processing error")
	}
}

func (s *SessionService) cacheExtraction(ctx context.Context, logger zerolog.Logger, id string, payload providers.CachedExtraction) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode extraction for cache")
		return
	}
	if err := s.cache.Set(ctx, providers.ExtractionCacheKey(id), data, int(s.cacheTTL.Seconds())); err != nil {
		logger.Warn().Err(err).Msg("failed to cache extraction")
	}
}

// CachedExtraction returns the raw extraction kept for a session
func (s *SessionService) CachedExtraction(ctx context.Context, id string) (*providers.CachedExtraction, error) {
	if s.cache == nil {
		return nil, apperrors.NewNotFoundError("extraction cache is disabled")
	}
	data, err := s.cache.Get(ctx, providers.ExtractionCacheKey(id))
	if err != nil {
		observability.RecordCacheMiss(ctx, s.metrics, "server")
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no cached extraction for session %s", id))
	}
	observability.RecordCacheHit(ctx, s.metrics, "server")

	var out providers.CachedExtraction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.NewInternalError("cached extraction is malformed", err)
	}
	return &out, nil
}

// Status returns the processing status of a session
func (s *SessionService) Status(ctx context.Context, id string) (*entities.ProcessingStatus, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entities.ProcessingStatus{ID: id, Status: session.Status, Progress: session.Progress}, nil
}

// Transcript returns the stored transcript
func (s *SessionService) Transcript(ctx context.Context, id string) (string, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return session.Transcript, nil
}

// Form returns the persisted record
func (s *SessionService) Form(ctx context.Context, id string) (*entities.PatientRecord, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &session.Record, nil
}

// SaveForm replaces the whole record. Final sessions are read-only.
func (s *SessionService) SaveForm(ctx context.Context, id string, record entities.PatientRecord) (*entities.PatientRecord, error) {
	if err := validateRecord(record); err != nil {
		return nil, err
	}
	if _, err := s.getOpen(ctx, id); err != nil {
		return nil, err
	}
	if record.Medications == nil {
		record.Medications = []entities.Medication{}
	}
	if err := s.repo.UpdateRecord(ctx, id, record); err != nil {
		return nil, err
	}
	// A saved draft supersedes the extraction.
	s.dropCachedExtraction(ctx, id)
	s.publishCurrent(ctx, id, entities.SessionEventTypeFormSaved)
	return &record, nil
}

func validateRecord(record entities.PatientRecord) error {
	if record.PatientInfo.DOB < 0 || record.PatientInfo.RoomNum < 0 {
		return apperrors.NewValidationError("age and room number must not be negative", nil)
	}
	if p := record.CurrentAssessment.PainLevel; p != nil && (*p < 0 || *p > 10) {
		return apperrors.NewValidationError("pain level must be between 0 and 10", nil)
	}
	for _, med := range record.Medications {
		if med.Source != "" && med.Source != entities.MedicationSourceAI && med.Source != entities.MedicationSourceUser {
			return apperrors.NewValidationError(fmt.Sprintf("unknown medication source %q", med.Source), nil)
		}
	}
	return nil
}

// Finalize marks the session approved. Finalizing a final session is a
// no-op so a retried approval succeeds.
func (s *SessionService) Finalize(ctx context.Context, id string) error {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if session.IsFinal() {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, id, entities.SessionStatusFinal, ProgressComplete); err != nil {
		return err
	}
	observability.RecordSessionUpdate(ctx, s.metrics, string(entities.SessionStatusFinal))
	s.publish(ctx, id, entities.SessionEventTypeFinalized, entities.SessionStatusFinal, ProgressComplete)
	s.dropCachedExtraction(ctx, id)
	return nil
}

func (s *SessionService) dropCachedExtraction(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, providers.ExtractionCacheKey(id)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("failed to drop cached extraction")
	}
}

// SVI reports the social vulnerability of the county the session's
// transcript mentions
func (s *SessionService) SVI(ctx context.Context, id string) (*entities.SVIReport, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.svi.Report(ctx, session.Transcript), nil
}

// FollowUps returns the follow-up questions of a session
func (s *SessionService) FollowUps(ctx context.Context, id string) ([]entities.FollowUpQuestion, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.FollowUps == nil {
		return []entities.FollowUpQuestion{}, nil
	}
	return session.FollowUps, nil
}

// SaveFollowUps replaces the follow-up questions of a session
func (s *SessionService) SaveFollowUps(ctx context.Context, id string, list []entities.FollowUpQuestion) ([]entities.FollowUpQuestion, error) {
	seen := make(map[string]struct{}, len(list))
	for _, q := range list {
		if q.ID == "" || q.Question == "" {
			return nil, apperrors.NewValidationError("follow-ups need an id and a question", nil)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, apperrors.NewValidationError(fmt.Sprintf("duplicate follow-up id %q", q.ID), nil)
		}
		seen[q.ID] = struct{}{}
		switch q.Status {
		case entities.FollowUpStatusNew, entities.FollowUpStatusAsked, entities.FollowUpStatusAnswered:
		default:
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown follow-up status %q", q.Status), nil)
		}
		for _, f := range q.RelatedFieldIDs {
			if !entities.IsKnownField(f) {
				return nil, apperrors.NewValidationError(fmt.Sprintf("unknown related field %q", f), nil)
			}
		}
	}
	if _, err := s.getOpen(ctx, id); err != nil {
		return nil, err
	}
	if list == nil {
		list = []entities.FollowUpQuestion{}
	}
	if err := s.repo.UpdateFollowUps(ctx, id, list); err != nil {
		return nil, err
	}
	s.publishCurrent(ctx, id, entities.SessionEventTypeFollowUps)
	return list, nil
}

// Delete removes a session and its cached extraction
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, providers.ExtractionCacheKey(id))
	}
	return nil
}

func (s *SessionService) setStatus(ctx context.Context, id string, status entities.SessionStatus, progress int) error {
	if err := s.repo.UpdateStatus(ctx, id, status, progress); err != nil {
		return err
	}
	observability.RecordSessionUpdate(ctx, s.metrics, string(status))
	s.publish(ctx, id, entities.SessionEventTypeStatus, status, progress)
	return nil
}

func (s *SessionService) publishCurrent(ctx context.Context, id string, eventType entities.SessionEventType) {
	if s.events == nil {
		return
	}
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return
	}
	s.publish(ctx, id, eventType, session.Status, session.Progress)
}

func (s *SessionService) publish(ctx context.Context, id string, eventType entities.SessionEventType, status entities.SessionStatus, progress int) {
	if s.events == nil {
		return
	}
	event := entities.NewSessionEvent(id, eventType, status, progress)
	for _, channel := range []string{providers.GetSessionChannel(id), providers.EventChannelSessionUpdates} {
		if err := s.events.Publish(ctx, channel, event); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Str("channel", channel).Msg("failed to publish session event")
		}
	}
}
