package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
)

var zipPattern = regexp.MustCompile(`\b\d{5}\b`)

// ExtractZIP returns the first five-digit ZIP code mentioned in text
func ExtractZIP(text string) (string, bool) {
	zip := zipPattern.FindString(text)
	return zip, zip != ""
}

// sviQuestion is a follow-up raised when its flag is set
type sviQuestion struct {
	applies  func(entities.SVIFlags) bool
	question entities.FollowUpQuestion
}

var sviQuestions = []sviQuestion{
	{
		applies: func(f entities.SVIFlags) bool { return f.NoVehicle > 0 },
		question: entities.FollowUpQuestion{
			ID:              "q-noveh",
			Question:        "Do you have reliable transportation to pick up prescriptions?",
			Rationale:       "Patient's area shows vehicle access vulnerability.",
			RelatedFieldIDs: []entities.FieldName{entities.FieldGeoLocation, entities.FieldAdditionalInfo},
		},
	},
	{
		applies: func(f entities.SVIFlags) bool { return f.LimitedEnglish > 0 },
		question: entities.FollowUpQuestion{
			ID:              "q-limeng",
			Question:        "Would you prefer to receive instructions in a language other than English?",
			Rationale:       "Patient's area has limited English proficiency indicators.",
			RelatedFieldIDs: []entities.FieldName{entities.FieldAdditionalInfo},
		},
	},
	{
		applies: func(f entities.SVIFlags) bool { return f.Theme1 >= 2 },
		question: entities.FollowUpQuestion{
			ID:              "q-socio",
			Question:        "Do you have any concerns about affording medications or follow-up visits?",
			Rationale:       "Patient's area shows socioeconomic vulnerability.",
			RelatedFieldIDs: []entities.FieldName{entities.FieldAdditionalInfo},
		},
	},
	{
		applies: func(f entities.SVIFlags) bool { return f.Crowding > 0 },
		question: entities.FollowUpQuestion{
			ID:              "q-crowd",
			Question:        "Will you have a quiet, clean space at home to recover?",
			Rationale:       "Patient's area shows housing crowding indicators.",
			RelatedFieldIDs: []entities.FieldName{entities.FieldAdditionalInfo},
		},
	},
	{
		applies: func(f entities.SVIFlags) bool { return f.GroupQuarters > 0 },
		question: entities.FollowUpQuestion{
			ID:              "q-groupq",
			Question:        "Can you describe your current living situation?",
			Rationale:       "Patient's area has group quarters population indicators.",
			RelatedFieldIDs: []entities.FieldName{entities.FieldAdditionalInfo},
		},
	},
}

// SVIQuestions returns the follow-up questions raised by a county's flags,
// all with status new
func SVIQuestions(flags entities.SVIFlags) []entities.FollowUpQuestion {
	out := []entities.FollowUpQuestion{}
	for _, rule := range sviQuestions {
		if !rule.applies(flags) {
			continue
		}
		q := rule.question
		q.Status = entities.FollowUpStatusNew
		q.RelatedFieldIDs = append([]entities.FieldName{}, rule.question.RelatedFieldIDs...)
		out = append(out, q)
	}
	return out
}

// SVIMetrics renders a county's flags for display. The socioeconomic theme
// counts up to four flags and is scaled to 0-1; the rest are 0 or 1.
func SVIMetrics(flags entities.SVIFlags) []entities.SVIMetric {
	binary := func(label string, v int) entities.SVIMetric {
		category := entities.SVICategoryLow
		if v != 0 {
			category = entities.SVICategoryHigh
		}
		return entities.SVIMetric{Label: label, Score: fmt.Sprintf("%.2f", float64(v)), Category: category}
	}

	theme := entities.SVIMetric{
		Label:    "Socioeconomic",
		Score:    fmt.Sprintf("%.2f", float64(flags.Theme1)/4),
		Category: entities.SVICategoryHigh,
	}
	switch {
	case flags.Theme1 == 0:
		theme.Category = entities.SVICategoryLow
	case flags.Theme1 <= 2:
		theme.Category = entities.SVICategoryModerate
	}

	return []entities.SVIMetric{
		theme,
		binary("Language Access", flags.LimitedEnglish),
		binary("Housing Crowding", flags.Crowding),
		binary("Transportation", flags.NoVehicle),
		binary("Group Quarters", flags.GroupQuarters),
	}
}

// SVIService looks up the social vulnerability of the county a transcript
// mentions
type SVIService struct {
	geo     providers.GeoResolver
	table   providers.SVIProvider
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// SVIServiceOption configures an SVIService
type SVIServiceOption func(*SVIService)

// WithSVIMetrics records lookup outcomes
func WithSVIMetrics(metrics *observability.Metrics) SVIServiceOption {
	return func(s *SVIService) { s.metrics = metrics }
}

// WithSVILogger sets the service logger
func WithSVILogger(logger zerolog.Logger) SVIServiceOption {
	return func(s *SVIService) { s.logger = logger }
}

// NewSVIService creates a new SVI service
func NewSVIService(geo providers.GeoResolver, table providers.SVIProvider, opts ...SVIServiceOption) *SVIService {
	s := &SVIService{geo: geo, table: table, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report resolves the transcript's ZIP code to a county and reports its
// flags. Lookup problems are reported in the Error field; Location is set
// whenever the county resolved, even if the table has no row for it. A nil
// service reports svi_unavailable.
func (s *SVIService) Report(ctx context.Context, transcript string) *entities.SVIReport {
	report := &entities.SVIReport{
		Metrics:   []entities.SVIMetric{},
		Questions: []entities.FollowUpQuestion{},
	}
	if s == nil || s.geo == nil || s.table == nil {
		report.Error = entities.SVIErrorUnavailable
		return report
	}
	defer func() {
		outcome := report.Error
		if outcome == "" {
			outcome = "ok"
		}
		observability.RecordSVILookup(ctx, s.metrics, outcome)
	}()

	if strings.TrimSpace(transcript) == "" {
		report.Error = entities.SVIErrorTranscriptNotReady
		return report
	}
	zip, ok := ExtractZIP(transcript)
	if !ok {
		report.Error = entities.SVIErrorNoZIP
		return report
	}
	report.ZIP = zip

	county, err := s.geo.ResolveZIP(ctx, zip)
	if err != nil || county == nil || county.Name == "" || county.State == "" {
		s.logger.Warn().Err(err).Str("zip", zip).Msg("county lookup failed")
		report.Error = entities.SVIErrorCountyLookupFailed
		return report
	}
	report.Location = county.Location()

	flags, err := s.table.Flags(ctx, county.Name, county.State)
	if err != nil {
		if errors.Is(err, providers.ErrLocationNotFound) {
			report.Error = entities.SVIErrorLocationNotFound
		} else {
			s.logger.Error().Err(err).Str("location", report.Location).Msg("svi lookup failed")
			report.Error = err.Error()
		}
		return report
	}

	report.Metrics = SVIMetrics(*flags)
	report.Questions = SVIQuestions(*flags)
	return report
}
