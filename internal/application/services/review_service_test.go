package services_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/adapters/cache"
	"github.com/carebridge-hub/backend/internal/application/services"
	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/processing"
	"github.com/carebridge-hub/backend/internal/review"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

type MockReviewBackend struct {
	mock.Mock
}

func (m *MockReviewBackend) LoadForm(ctx context.Context, sessionID string) (*entities.PatientRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PatientRecord), args.Error(1)
}

func (m *MockReviewBackend) SaveForm(ctx context.Context, sessionID string, record entities.PatientRecord) error {
	return m.Called(ctx, sessionID, record).Error(0)
}

func (m *MockReviewBackend) Finalize(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockReviewBackend) LoadExtraction(ctx context.Context, sessionID string) (*providers.CachedExtraction, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.CachedExtraction), args.Error(1)
}

func (m *MockReviewBackend) LoadTranscript(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockReviewBackend) LoadFollowUps(ctx context.Context, sessionID string) ([]entities.FollowUpQuestion, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.FollowUpQuestion), args.Error(1)
}

func (m *MockReviewBackend) SaveFollowUps(ctx context.Context, sessionID string, list []entities.FollowUpQuestion) error {
	return m.Called(ctx, sessionID, list).Error(0)
}

const handoffTranscript = "Patient is Jane Doe in room 12.\nHeart rate is 88 bpm and steady."

func noServerExtraction(backend *MockReviewBackend, sessionID string) {
	backend.On("LoadExtraction", mock.Anything, sessionID).
		Return(nil, apperrors.NewNotFoundError("no cached extraction for session "+sessionID))
}

func approvableRecord() *entities.PatientRecord {
	rec := entities.NewPatientRecord()
	reason := "pneumonia"
	rec.PatientInfo.Name = "Jane Doe"
	rec.PatientInfo.ReasonForAdmission = &reason
	rec.Background.PastMedicalHistory = []string{"COPD"}
	return &rec
}

func acceptApproval() review.Confirmer {
	return review.ConfirmerFunc(func(context.Context, string, review.Readiness) (bool, error) {
		return true, nil
	})
}

func TestReviewService_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers the cached extraction", func(t *testing.T) {
		backend := new(MockReviewBackend)
		store := cache.NewMemoryAdapter()
		service := services.NewReviewService(backend, store)

		require.NoError(t, service.CacheExtraction(ctx, "s-1", &processing.Result{
			Transcript: handoffTranscript,
			Form:       json.RawMessage(extractedForm),
		}))
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)

		rs, err := service.Open(ctx, "s-1")

		require.NoError(t, err)
		assert.Equal(t, services.ReviewSourceCache, rs.Source)
		assert.Equal(t, "Jane Doe", rs.Store.Value(entities.FieldPatientName))
		assert.Equal(t, entities.FieldStatusUncertain, rs.Store.Form().Status(entities.FieldPatientName))
		require.Len(t, rs.Segments, 2)
		view, _ := rs.Store.View(entities.FieldHeartRate)
		assert.Equal(t, []string{"seg-1"}, view.EvidenceIDs)
		backend.AssertNotCalled(t, "LoadForm", mock.Anything, mock.Anything)
	})

	t.Run("malformed cache entry falls back to the persisted form", func(t *testing.T) {
		backend := new(MockReviewBackend)
		store := cache.NewMemoryAdapter()
		require.NoError(t, store.Set(ctx, providers.ExtractionCacheKey("s-1"), []byte("{not json"), 0))
		service := services.NewReviewService(backend, store)

		noServerExtraction(backend, "s-1")
		backend.On("LoadForm", mock.Anything, "s-1").Return(approvableRecord(), nil)
		backend.On("LoadTranscript", mock.Anything, "s-1").Return(handoffTranscript, nil)
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return(nil, nil)

		rs, err := service.Open(ctx, "s-1")

		require.NoError(t, err)
		assert.Equal(t, services.ReviewSourceRecord, rs.Source)
		assert.Equal(t, entities.FieldStatusFilled, rs.Store.Form().Status(entities.FieldPatientName))
		assert.Empty(t, rs.FollowUps.List())
		backend.AssertExpectations(t)
	})

	t.Run("cached payload that is not an object falls back", func(t *testing.T) {
		backend := new(MockReviewBackend)
		store := cache.NewMemoryAdapter()
		require.NoError(t, newReviewService(t, backend, store).CacheExtraction(ctx, "s-1", &processing.Result{
			Form: json.RawMessage(`"just text"`),
		}))

		noServerExtraction(backend, "s-1")
		backend.On("LoadForm", mock.Anything, "s-1").Return(approvableRecord(), nil)
		backend.On("LoadTranscript", mock.Anything, "s-1").Return("", nil)
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)

		rs, err := newReviewService(t, backend, store).Open(ctx, "s-1")

		require.NoError(t, err)
		assert.Equal(t, services.ReviewSourceRecord, rs.Source)
		assert.Empty(t, rs.Segments)
	})

	t.Run("falls back to the server extraction and keeps it locally", func(t *testing.T) {
		backend := new(MockReviewBackend)
		store := cache.NewMemoryAdapter()
		service := services.NewReviewService(backend, store)

		backend.On("LoadExtraction", mock.Anything, "s-1").Return(&providers.CachedExtraction{
			Transcript: handoffTranscript,
			Form:       json.RawMessage(extractedForm),
		}, nil).Once()
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)

		rs, err := service.Open(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, services.ReviewSourceServer, rs.Source)
		assert.Equal(t, entities.FieldStatusUncertain, rs.Store.Form().Status(entities.FieldPatientName))
		assert.Len(t, rs.Segments, 2)

		again, err := service.Open(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, services.ReviewSourceCache, again.Source)
		backend.AssertNumberOfCalls(t, "LoadExtraction", 1)
		backend.AssertNotCalled(t, "LoadForm", mock.Anything, mock.Anything)
	})

	t.Run("unreachable server extraction uses the record", func(t *testing.T) {
		backend := new(MockReviewBackend)
		backend.On("LoadExtraction", mock.Anything, "s-1").Return(nil, apperrors.NewUnavailableError("session api unreachable", assert.AnError))
		backend.On("LoadForm", mock.Anything, "s-1").Return(approvableRecord(), nil)
		backend.On("LoadTranscript", mock.Anything, "s-1").Return("", nil)
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)

		rs, err := services.NewReviewService(backend, nil).Open(ctx, "s-1")

		require.NoError(t, err)
		assert.Equal(t, services.ReviewSourceRecord, rs.Source)
	})

	t.Run("backend failure surfaces", func(t *testing.T) {
		backend := new(MockReviewBackend)
		noServerExtraction(backend, "s-1")
		backend.On("LoadForm", mock.Anything, "s-1").Return(nil, assert.AnError)

		_, err := services.NewReviewService(backend, nil).Open(ctx, "s-1")

		assert.ErrorIs(t, err, assert.AnError)
	})
}

func newReviewService(t *testing.T, backend services.ReviewBackend, store providers.CacheProvider) *services.ReviewService {
	t.Helper()
	return services.NewReviewService(backend, store)
}

func TestReviewService_SaveDraft(t *testing.T) {
	ctx := context.Background()
	backend := new(MockReviewBackend)
	store := cache.NewMemoryAdapter()
	svc := services.NewReviewService(backend, store)

	require.NoError(t, svc.CacheExtraction(ctx, "s-1", &processing.Result{
		Transcript: handoffTranscript,
		Form:       json.RawMessage(extractedForm),
	}))
	followUps := []entities.FollowUpQuestion{{ID: "q1", Question: "Allergies?", Status: entities.FollowUpStatusNew}}
	backend.On("LoadFollowUps", mock.Anything, "s-1").Return(followUps, nil)

	rs, err := svc.Open(ctx, "s-1")
	require.NoError(t, err)
	require.NoError(t, rs.Store.Confirm(entities.FieldPatientName, "Jane Q. Doe"))

	backend.On("SaveForm", mock.Anything, "s-1", mock.MatchedBy(func(rec entities.PatientRecord) bool {
		return rec.PatientInfo.Name == "Jane Q. Doe" && rec.PatientInfo.RoomNum == 12
	})).Return(nil)
	backend.On("SaveFollowUps", mock.Anything, "s-1", followUps).Return(nil)

	require.NoError(t, svc.SaveDraft(ctx, rs))

	exists, err := store.Exists(ctx, providers.ExtractionCacheKey("s-1"))
	require.NoError(t, err)
	assert.False(t, exists, "saved draft drops the cached extraction")
	backend.AssertExpectations(t)
}

func TestReviewService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready writes nothing", func(t *testing.T) {
		backend := new(MockReviewBackend)
		rec := entities.NewPatientRecord()
		noServerExtraction(backend, "s-1")
		backend.On("LoadForm", mock.Anything, "s-1").Return(&rec, nil)
		backend.On("LoadTranscript", mock.Anything, "s-1").Return("", nil)
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)
		svc := services.NewReviewService(backend, nil)

		rs, err := svc.Open(ctx, "s-1")
		require.NoError(t, err)

		err = svc.Approve(ctx, rs, acceptApproval())

		assert.ErrorIs(t, err, review.ErrNotReady)
		backend.AssertNotCalled(t, "SaveFollowUps", mock.Anything, mock.Anything, mock.Anything)
		backend.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything)
	})

	t.Run("ready form is saved, finalized and locked", func(t *testing.T) {
		backend := new(MockReviewBackend)
		store := cache.NewMemoryAdapter()
		require.NoError(t, store.Set(ctx, providers.ExtractionCacheKey("s-1"), []byte("{broken"), 0))
		noServerExtraction(backend, "s-1")
		backend.On("LoadForm", mock.Anything, "s-1").Return(approvableRecord(), nil)
		backend.On("LoadTranscript", mock.Anything, "s-1").Return(handoffTranscript, nil)
		backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)
		svc := services.NewReviewService(backend, store)

		rs, err := svc.Open(ctx, "s-1")
		require.NoError(t, err)
		require.True(t, rs.Readiness().Ready())

		backend.On("SaveFollowUps", mock.Anything, "s-1", []entities.FollowUpQuestion{}).Return(nil)
		backend.On("SaveForm", mock.Anything, "s-1", mock.Anything).Return(nil)
		backend.On("Finalize", mock.Anything, "s-1").Return(nil)

		require.NoError(t, svc.Approve(ctx, rs, acceptApproval()))

		assert.True(t, rs.Store.Locked())
		assert.True(t, rs.Gate.Approved())
		exists, err := store.Exists(ctx, providers.ExtractionCacheKey("s-1"))
		require.NoError(t, err)
		assert.False(t, exists)
		backend.AssertExpectations(t)

		assert.ErrorIs(t, svc.Approve(ctx, rs, acceptApproval()), review.ErrAlreadyApproved)
		assert.ErrorIs(t, svc.SaveDraft(ctx, rs), review.ErrFormLocked)
	})
}

func TestReviewSession_Next(t *testing.T) {
	ctx := context.Background()
	backend := new(MockReviewBackend)
	noServerExtraction(backend, "s-1")
	backend.On("LoadForm", mock.Anything, "s-1").Return(approvableRecord(), nil)
	backend.On("LoadTranscript", mock.Anything, "s-1").Return("", nil)
	backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)

	rs, err := services.NewReviewService(backend, nil).Open(ctx, "s-1")
	require.NoError(t, err)

	next, ok := rs.Next("")
	require.True(t, ok)
	assert.Equal(t, entities.FieldDOB, next)

	next, ok = rs.Next(entities.FieldDOB)
	require.True(t, ok)
	assert.Equal(t, entities.FieldRoom, next)
}

func TestReviewService_Forget(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryAdapter()
	service := newReviewService(t, new(MockReviewBackend), store)

	require.NoError(t, service.CacheExtraction(ctx, "s-1", &processing.Result{
		Transcript: handoffTranscript,
		Form:       json.RawMessage(extractedForm),
	}))
	service.Forget(ctx, "s-1")

	exists, err := store.Exists(ctx, providers.ExtractionCacheKey("s-1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReviewService_StateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	backend := new(MockReviewBackend)
	store := cache.NewMemoryAdapter()
	svc := services.NewReviewService(backend, store)

	require.NoError(t, svc.CacheExtraction(ctx, "s-1", &processing.Result{
		Transcript: handoffTranscript,
		Form:       json.RawMessage(extractedForm),
	}))
	followUps := []entities.FollowUpQuestion{{
		ID: "q1", Question: "Any allergies?", Status: entities.FollowUpStatusNew,
		RelatedFieldIDs: []entities.FieldName{entities.FieldAllergies},
	}}
	backend.On("LoadFollowUps", mock.Anything, "s-1").Return(followUps, nil)

	rs, err := svc.Open(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, review.TogglePin(rs.Segments, "seg-1"))
	require.NoError(t, rs.FollowUps.Answer("q1", "Penicillin", rs.Store))
	require.NoError(t, rs.Store.Edit(entities.FieldRoom, "14"))
	require.NoError(t, svc.SaveState(ctx, rs))

	reopened, err := svc.Open(ctx, "s-1")
	require.NoError(t, err)

	pinned := review.PinnedSegments(reopened.Segments)
	require.Len(t, pinned, 1)
	assert.Equal(t, "seg-1", pinned[0].ID)

	suggested := reopened.Store.Form().Text[entities.FieldAllergies].SuggestedValue
	require.NotNil(t, suggested)
	assert.Equal(t, "Penicillin", *suggested)

	pending, ok := reopened.Store.Pending(entities.FieldRoom)
	require.True(t, ok)
	assert.Equal(t, "14", pending)

	require.NoError(t, reopened.Store.AcceptSuggestion(entities.FieldAllergies))
	require.NoError(t, reopened.Store.ConfirmPending(entities.FieldAllergies))
	assert.Equal(t, "Penicillin", reopened.Store.Value(entities.FieldAllergies))
	assert.Equal(t, entities.FieldStatusConfirmed, reopened.Store.Form().Status(entities.FieldAllergies))

	t.Run("reset discards the state", func(t *testing.T) {
		fresh, err := svc.Reset(ctx, "s-1")
		require.NoError(t, err)
		assert.Empty(t, review.PinnedSegments(fresh.Segments))
		_, ok := fresh.Store.Pending(entities.FieldRoom)
		assert.False(t, ok)

		exists, err := store.Exists(ctx, providers.ReviewStateCacheKey("s-1"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("empty state is not stored", func(t *testing.T) {
		fresh, err := svc.Open(ctx, "s-1")
		require.NoError(t, err)
		require.NoError(t, svc.SaveState(ctx, fresh))

		exists, err := store.Exists(ctx, providers.ReviewStateCacheKey("s-1"))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestReviewService_StaleStateIsSkipped(t *testing.T) {
	ctx := context.Background()
	backend := new(MockReviewBackend)
	store := cache.NewMemoryAdapter()
	require.NoError(t, store.Set(ctx, providers.ReviewStateCacheKey("s-1"),
		[]byte(`{"pinned":["seg-9","seg-0"],"suggestions":{"shoeSize":"11"},"pending":{"room":"14"}}`), 0))
	noServerExtraction(backend, "s-1")
	backend.On("LoadForm", mock.Anything, "s-1").Return(approvableRecord(), nil)
	backend.On("LoadTranscript", mock.Anything, "s-1").Return(handoffTranscript, nil)
	backend.On("LoadFollowUps", mock.Anything, "s-1").Return([]entities.FollowUpQuestion{}, nil)

	rs, err := services.NewReviewService(backend, store).Open(ctx, "s-1")
	require.NoError(t, err)

	pinned := review.PinnedSegments(rs.Segments)
	require.Len(t, pinned, 1)
	assert.Equal(t, "seg-0", pinned[0].ID)
	pending, ok := rs.Store.Pending(entities.FieldRoom)
	assert.True(t, ok)
	assert.Equal(t, "14", pending)
}
