package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/adapters/cache"
	"github.com/carebridge-hub/backend/internal/application/services"
	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/processing"
	"github.com/carebridge-hub/backend/internal/review"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

// memoryBackend keeps one session's record and follow-ups the way the API
// would between commands
type memoryBackend struct {
	mu         sync.Mutex
	record     entities.PatientRecord
	transcript string
	followUps  []entities.FollowUpQuestion
	finalized  bool
}

func (b *memoryBackend) LoadForm(_ context.Context, _ string) (*entities.PatientRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record
	return &rec, nil
}

func (b *memoryBackend) SaveForm(_ context.Context, _ string, record entities.PatientRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record = record
	return nil
}

func (b *memoryBackend) Finalize(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true
	return nil
}

func (b *memoryBackend) LoadExtraction(_ context.Context, sessionID string) (*providers.CachedExtraction, error) {
	return nil, apperrors.NewNotFoundError("no cached extraction for " + sessionID)
}

func (b *memoryBackend) LoadTranscript(_ context.Context, _ string) (string, error) {
	return b.transcript, nil
}

func (b *memoryBackend) LoadFollowUps(_ context.Context, _ string) ([]entities.FollowUpQuestion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]entities.FollowUpQuestion{}, b.followUps...), nil
}

func (b *memoryBackend) SaveFollowUps(_ context.Context, _ string, list []entities.FollowUpQuestion) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.followUps = append([]entities.FollowUpQuestion{}, list...)
	return nil
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		record: entities.PatientRecord{
			Nurse: entities.Nurse{Name: "Ana"},
			PatientInfo: entities.PatientInfo{
				Name:       "Jane Doe",
				DOB:        67,
				RoomNum:    12,
				Allergies:  entities.NoAllergies,
				CodeStatus: "DNR",
			},
		},
		transcript: "Jane Doe is in room twelve tonight.\nI think I react to some antibiotics.\nShe is DNR per the family.",
		followUps: []entities.FollowUpQuestion{
			{ID: "q1", Question: "Any drug allergies?", Status: entities.FollowUpStatusNew, RelatedFieldIDs: []entities.FieldName{entities.FieldAllergies}},
		},
	}
}

// useBackend points the review commands at backend and a cache file that
// is reopened by every command
func useBackend(t *testing.T, backend *memoryBackend) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	prev := openReviewService
	openReviewService = func() (*services.ReviewService, io.Closer, error) {
		store, err := cache.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return services.NewReviewService(backend, store), store, nil
	}
	t.Cleanup(func() { openReviewService = prev })
	return path
}

func runCommand(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			confirm := promptConfirmer(strings.NewReader(tt.input), &out)
			ok, err := confirm(context.Background(), "s1", review.Readiness{Attention: review.IssueCounts{Uncertain: 2}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "2 fields are still uncertain")
			assert.Contains(t, out.String(), "Approve handoff s1?")
		})
	}
}

func TestActiveStep(t *testing.T) {
	snap := processing.Snapshot{Steps: processing.ProjectSteps(25, "processing")}
	assert.NotEmpty(t, activeStep(snap))

	snap = processing.Snapshot{Steps: processing.ProjectSteps(100, "complete")}
	assert.Empty(t, activeStep(snap))
}

func TestReviewCommands_StateSurvivesBetweenCommands(t *testing.T) {
	backend := newMemoryBackend()
	useBackend(t, backend)

	out, err := runCommand(pinCmd(), "s1", "seg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 segments pinned")

	out, err = runCommand(answerCmd(), "s1", "q1", "penicillin")
	require.NoError(t, err)
	assert.Contains(t, out, "0 follow-ups unresolved")
	assert.Equal(t, entities.NoAllergies, backend.record.PatientInfo.Allergies, "an answer only suggests")

	out, err = runCommand(reviewCmd(), "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "allergies: penicillin (suggested)")
	assert.Contains(t, out, "seg-1 Patient: I think I react to some antibiotics.")

	out, err = runCommand(acceptCmd(), "s1", "allergies")
	require.NoError(t, err)
	assert.Contains(t, out, `allergies = "penicillin" (confirmed)`)
	assert.Equal(t, "penicillin", backend.record.PatientInfo.Allergies)

	out, err = runCommand(reviewCmd(), "s1")
	require.NoError(t, err)
	assert.NotContains(t, out, "(suggested)")
	assert.Contains(t, out, "pinned:", "pins outlive a saved draft")

	out, err = runCommand(askCmd(), "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1 marked asked\n", out)
	assert.Equal(t, entities.FollowUpStatusAsked, backend.followUps[0].Status)

	out, err = runCommand(editCmd(), "s1", "room", "14")
	require.NoError(t, err)
	assert.Contains(t, out, "run accept to commit")
	assert.Equal(t, 12, backend.record.PatientInfo.RoomNum, "an edit is only staged")

	out, err = runCommand(reviewCmd(), "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "room: 14 (edit)")

	_, err = runCommand(acceptCmd(), "s1", "room")
	require.NoError(t, err)
	assert.Equal(t, 14, backend.record.PatientInfo.RoomNum)

	out, err = runCommand(pinCmd(), "s1", "seg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "0 segments pinned")
}

func TestReviewCommands_Errors(t *testing.T) {
	useBackend(t, newMemoryBackend())

	t.Run("unknown segment", func(t *testing.T) {
		_, err := runCommand(pinCmd(), "s1", "seg-9")
		assert.EqualError(t, err, "segment seg-9 not found")
	})

	t.Run("accept without suggestion or edit", func(t *testing.T) {
		_, err := runCommand(acceptCmd(), "s1", "codeStatus")
		assert.ErrorIs(t, err, review.ErrNoSuggestion)
	})

	t.Run("unknown question", func(t *testing.T) {
		_, err := runCommand(askCmd(), "s1", "q9")
		assert.ErrorIs(t, err, review.ErrFollowUpNotFound)
	})
}

func TestNextCommand(t *testing.T) {
	useBackend(t, newMemoryBackend())

	out, err := runCommand(nextCmd(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "allergies (missing)\n", out)

	out, err = runCommand(nextCmd(), "s1", "--after", "allergies")
	require.NoError(t, err)
	assert.Equal(t, "reasonForAdmission (missing)\n", out)
}

func TestResetCommand(t *testing.T) {
	backend := newMemoryBackend()
	path := useBackend(t, backend)

	_, err := runCommand(pinCmd(), "s1", "seg-0")
	require.NoError(t, err)
	_, err = runCommand(editCmd(), "s1", "room", "20")
	require.NoError(t, err)

	out, err := runCommand(resetCmd(), "s1")
	require.NoError(t, err)
	assert.NotContains(t, out, "pinned:")
	assert.NotContains(t, out, "room: 20")

	store, err := cache.OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Get(context.Background(), providers.ReviewStateCacheKey("s1"))
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
}
