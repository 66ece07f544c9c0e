package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/application/services"
	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

type MockGeoResolver struct {
	mock.Mock
}

func (m *MockGeoResolver) ResolveZIP(ctx context.Context, zip string) (*entities.County, error) {
	args := m.Called(ctx, zip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.County), args.Error(1)
}

type MockSVIProvider struct {
	mock.Mock
}

func (m *MockSVIProvider) Flags(ctx context.Context, county, state string) (*entities.SVIFlags, error) {
	args := m.Called(ctx, county, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SVIFlags), args.Error(1)
}

var alameda = &entities.County{Name: "Alameda County", State: "California"}

func questionIDs(list []entities.FollowUpQuestion) []string {
	var ids []string
	for _, q := range list {
		ids = append(ids, q.ID)
	}
	return ids
}

func TestExtractZIP(t *testing.T) {
	zip, ok := services.ExtractZIP("Lives in Oakland, 94601, with her daughter.")
	assert.True(t, ok)
	assert.Equal(t, "94601", zip)

	_, ok = services.ExtractZIP("Room 12, BP 120 over 80, MRN 1234567.")
	assert.False(t, ok)
}

func TestSVIMetrics(t *testing.T) {
	metrics := services.SVIMetrics(entities.SVIFlags{Theme1: 3, LimitedEnglish: 1})

	require.Len(t, metrics, 5)
	assert.Equal(t, entities.SVIMetric{Label: "Socioeconomic", Score: "0.75", Category: entities.SVICategoryHigh}, metrics[0])
	assert.Equal(t, entities.SVIMetric{Label: "Language Access", Score: "1.00", Category: entities.SVICategoryHigh}, metrics[1])
	assert.Equal(t, entities.SVIMetric{Label: "Transportation", Score: "0.00", Category: entities.SVICategoryLow}, metrics[3])

	tests := []struct {
		theme1 int
		want   string
	}{
		{0, entities.SVICategoryLow},
		{1, entities.SVICategoryModerate},
		{2, entities.SVICategoryModerate},
		{4, entities.SVICategoryHigh},
	}
	for _, tt := range tests {
		got := services.SVIMetrics(entities.SVIFlags{Theme1: tt.theme1})[0].Category
		assert.Equal(t, tt.want, got, "theme1=%d", tt.theme1)
	}
}

func TestSVIQuestions(t *testing.T) {
	assert.Empty(t, services.SVIQuestions(entities.SVIFlags{Theme1: 1}))

	all := services.SVIQuestions(entities.SVIFlags{Theme1: 2, LimitedEnglish: 1, Crowding: 1, NoVehicle: 1, GroupQuarters: 1})
	assert.Equal(t, []string{"q-noveh", "q-limeng", "q-socio", "q-crowd", "q-groupq"}, questionIDs(all))
	for _, q := range all {
		assert.Equal(t, entities.FollowUpStatusNew, q.Status)
		assert.Contains(t, q.RelatedFieldIDs, entities.FieldAdditionalInfo)
	}
	assert.Equal(t, []entities.FieldName{entities.FieldGeoLocation, entities.FieldAdditionalInfo}, all[0].RelatedFieldIDs)

	// Returned questions do not share state with the rule table.
	all[0].RelatedFieldIDs[0] = entities.FieldRoom
	again := services.SVIQuestions(entities.SVIFlags{NoVehicle: 1})
	assert.Equal(t, entities.FieldGeoLocation, again[0].RelatedFieldIDs[0])
}

func TestSVIService_Report(t *testing.T) {
	ctx := context.Background()
	const transcript = "Jane lives at home in 94601 with her son."

	t.Run("resolves county and raises questions", func(t *testing.T) {
		geo := new(MockGeoResolver)
		table := new(MockSVIProvider)
		geo.On("ResolveZIP", mock.Anything, "94601").Return(alameda, nil)
		table.On("Flags", mock.Anything, "Alameda County", "California").
			Return(&entities.SVIFlags{NoVehicle: 1, LimitedEnglish: 1}, nil)

		report := services.NewSVIService(geo, table).Report(ctx, transcript)

		assert.Empty(t, report.Error)
		assert.Equal(t, "94601", report.ZIP)
		assert.Equal(t, "Alameda County, California", report.Location)
		assert.Len(t, report.Metrics, 5)
		assert.Equal(t, []string{"q-noveh", "q-limeng"}, questionIDs(report.Questions))
	})

	t.Run("county without table row keeps the location", func(t *testing.T) {
		geo := new(MockGeoResolver)
		table := new(MockSVIProvider)
		geo.On("ResolveZIP", mock.Anything, "94601").Return(alameda, nil)
		table.On("Flags", mock.Anything, mock.Anything, mock.Anything).Return(nil, providers.ErrLocationNotFound)

		report := services.NewSVIService(geo, table).Report(ctx, transcript)

		assert.Equal(t, entities.SVIErrorLocationNotFound, report.Error)
		assert.Equal(t, "Alameda County, California", report.Location)
		assert.Empty(t, report.Metrics)
		assert.Empty(t, report.Questions)
	})

	t.Run("lookup failures are reported by code", func(t *testing.T) {
		geo := new(MockGeoResolver)
		geo.On("ResolveZIP", mock.Anything, "94601").Return(nil, errors.New("dial tcp: timeout"))
		svc := services.NewSVIService(geo, new(MockSVIProvider))

		assert.Equal(t, entities.SVIErrorCountyLookupFailed, svc.Report(ctx, transcript).Error)
		assert.Equal(t, entities.SVIErrorNoZIP, svc.Report(ctx, "no postcode here").Error)
		assert.Equal(t, entities.SVIErrorTranscriptNotReady, svc.Report(ctx, "  ").Error)
	})

	t.Run("nil service is unavailable", func(t *testing.T) {
		var svc *services.SVIService
		report := svc.Report(ctx, transcript)
		assert.Equal(t, entities.SVIErrorUnavailable, report.Error)
		assert.NotNil(t, report.Metrics)
		assert.NotNil(t, report.Questions)
	})
}

func TestMergeFollowUps(t *testing.T) {
	list := []entities.FollowUpQuestion{{ID: "q-noveh", Question: "kept", Status: entities.FollowUpStatusAnswered}}
	extra := services.SVIQuestions(entities.SVIFlags{NoVehicle: 1, Crowding: 1})

	merged := services.MergeFollowUps(list, extra)

	assert.Equal(t, []string{"q-noveh", "q-crowd"}, questionIDs(merged))
	assert.Equal(t, "kept", merged[0].Question)
	assert.Len(t, list, 1)
}

func TestSessionService_ProcessWithSVI(t *testing.T) {
	ctx := context.Background()
	const transcript = "Jane Doe in room 12, lives in 94601."

	repo := new(MockSessionRepository)
	transcriber := new(MockTranscriber)
	extractor := new(MockExtractor)
	geo := new(MockGeoResolver)
	table := new(MockSVIProvider)
	service := services.NewSessionService(repo, transcriber, extractor,
		services.WithSVI(services.NewSVIService(geo, table)))

	extracted := []entities.FollowUpQuestion{{
		ID: "q1", Question: "Code status?", Status: entities.FollowUpStatusNew,
		RelatedFieldIDs: []entities.FieldName{entities.FieldCodeStatus},
	}}

	repo.On("GetByID", mock.Anything, "s-1").Return(openSession("s-1"), nil)
	repo.On("UpdateStatus", mock.Anything, "s-1", mock.Anything, mock.Anything).Return(nil)
	transcriber.On("Transcribe", mock.Anything, "a.m4a", mock.Anything).Return(transcript, nil)
	repo.On("UpdateTranscript", mock.Anything, "s-1", transcript, entities.SessionStatusProcessing, 75).Return(nil)
	extractor.On("Extract", mock.Anything, transcript).
		Return(&providers.Extraction{Form: json.RawMessage(extractedForm), FollowUps: extracted}, nil)
	geo.On("ResolveZIP", mock.Anything, "94601").Return(alameda, nil)
	table.On("Flags", mock.Anything, "Alameda County", "California").Return(&entities.SVIFlags{NoVehicle: 1}, nil)
	repo.On("UpdateRecord", mock.Anything, "s-1", mock.MatchedBy(func(rec entities.PatientRecord) bool {
		return rec.PatientInfo.GeoLocation != nil && *rec.PatientInfo.GeoLocation == "Alameda County, California"
	})).Return(nil)
	var saved []entities.FollowUpQuestion
	repo.On("UpdateFollowUps", mock.Anything, "s-1", mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(2).([]entities.FollowUpQuestion) }).
		Return(nil)

	result, err := service.Process(ctx, "s-1", "a.m4a", []byte("audio"))
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "q-noveh"}, questionIDs(saved))
	assert.Equal(t, saved, result.FollowUps)

	raw, err := entities.DecodeRawExtractedForm(result.Form)
	require.NoError(t, err)
	assert.Equal(t, "Alameda County, California", raw.PatientInformation.GeoLocation.Text())
	assert.Equal(t, "Jane Doe", raw.PatientInformation.Name.Text())

	row := services.Summarize(&entities.Session{ID: "s-1", Record: entities.NewPatientRecord(), FollowUps: saved})
	assert.Equal(t, 2, row.FollowUps)
	repo.AssertExpectations(t)
}

func TestSessionService_ProcessSVILookupFailureStillCompletes(t *testing.T) {
	ctx := context.Background()

	repo := new(MockSessionRepository)
	transcriber := new(MockTranscriber)
	extractor := new(MockExtractor)
	geo := new(MockGeoResolver)
	service := services.NewSessionService(repo, transcriber, extractor,
		services.WithSVI(services.NewSVIService(geo, new(MockSVIProvider))))

	repo.On("GetByID", mock.Anything, "s-1").Return(openSession("s-1"), nil)
	repo.On("UpdateStatus", mock.Anything, "s-1", mock.Anything, mock.Anything).Return(nil)
	transcriber.On("Transcribe", mock.Anything, "a.m4a", mock.Anything).Return("zip 94601", nil)
	repo.On("UpdateTranscript", mock.Anything, "s-1", "zip 94601", entities.SessionStatusProcessing, 75).Return(nil)
	extractor.On("Extract", mock.Anything, "zip 94601").Return(&providers.Extraction{Form: json.RawMessage(extractedForm)}, nil)
	geo.On("ResolveZIP", mock.Anything, "94601").Return(nil, errors.New("upstream 503"))
	repo.On("UpdateRecord", mock.Anything, "s-1", mock.Anything).Return(nil)

	result, err := service.Process(ctx, "s-1", "a.m4a", []byte("audio"))
	require.NoError(t, err)

	assert.Equal(t, entities.SessionStatusComplete, result.Status)
	assert.JSONEq(t, extractedForm, string(result.Form))
	repo.AssertNotCalled(t, "UpdateFollowUps", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_SVI(t *testing.T) {
	ctx := context.Background()

	t.Run("reports from the stored transcript", func(t *testing.T) {
		repo := new(MockSessionRepository)
		geo := new(MockGeoResolver)
		table := new(MockSVIProvider)
		service := services.NewSessionService(repo, nil, nil, services.WithSVI(services.NewSVIService(geo, table)))

		session := openSession("s-1")
		session.Transcript = "Discharge to 94601."
		repo.On("GetByID", mock.Anything, "s-1").Return(session, nil)
		geo.On("ResolveZIP", mock.Anything, "94601").Return(alameda, nil)
		table.On("Flags", mock.Anything, "Alameda County", "California").Return(&entities.SVIFlags{GroupQuarters: 1}, nil)

		report, err := service.SVI(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"q-groupq"}, questionIDs(report.Questions))
	})

	t.Run("without svi configured", func(t *testing.T) {
		repo := new(MockSessionRepository)
		service := services.NewSessionService(repo, nil, nil)
		repo.On("GetByID", mock.Anything, "s-1").Return(openSession("s-1"), nil)

		report, err := service.SVI(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, entities.SVIErrorUnavailable, report.Error)
	})

	t.Run("unknown session", func(t *testing.T) {
		repo := new(MockSessionRepository)
		service := services.NewSessionService(repo, nil, nil)
		repo.On("GetByID", mock.Anything, "nope").Return(nil, apperrors.NewNotFoundError("session not found"))

		_, err := service.SVI(ctx, "nope")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})
}
