package review_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/review"
)

func TestSplitTranscript(t *testing.T) {
	text := "Good morning, I'm your nurse today.\nHello there, thanks.\n\n\nOk.\n  What brings you in today?  \n"

	segments := review.SplitTranscript(text)

	require.Len(t, segments, 3)
	assert.Equal(t, "seg-0", segments[0].ID)
	assert.Equal(t, entities.SpeakerNurse, segments[0].Speaker)
	assert.Equal(t, "Good morning, I'm your nurse today.", segments[0].Text)
	assert.Equal(t, entities.SpeakerPatient, segments[1].Speaker)
	assert.Equal(t, "seg-2", segments[2].ID)
	assert.Equal(t, entities.SpeakerNurse, segments[2].Speaker)
	assert.Equal(t, "What brings you in today?", segments[2].Text)
	assert.Equal(t, "—", segments[2].Timestamp)
}

func TestSplitTranscript_Empty(t *testing.T) {
	assert.Empty(t, review.SplitTranscript(""))
	assert.Empty(t, review.SplitTranscript("ok\n\nyes\n"))
}

func TestTogglePin(t *testing.T) {
	segments := review.SplitTranscript("Patient is resting comfortably.\nNo complaints overnight.")

	assert.True(t, review.TogglePin(segments, "seg-1"))
	assert.True(t, segments[1].IsPinned)
	assert.Equal(t, []entities.TranscriptSegment{segments[1]}, review.PinnedSegments(segments))

	assert.True(t, review.TogglePin(segments, "seg-1"))
	assert.False(t, segments[1].IsPinned)
	assert.False(t, review.TogglePin(segments, "seg-9"))
}
