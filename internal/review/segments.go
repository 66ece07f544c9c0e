package review

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

const (
	minSegmentLength     = 5
	placeholderTimestamp = "—"
)

var blankLines = regexp.MustCompile(`\n{2,}`)

// SplitTranscript splits plain transcript text into attributed segments.
// Speakers alternate by position starting with the nurse, since the
// transcriber does no diarization.
func SplitTranscript(text string) []entities.TranscriptSegment {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	for _, block := range blankLines.Split(text, -1) {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if len([]rune(line)) > minSegmentLength {
				chunks = append(chunks, line)
			}
		}
	}

	segments := make([]entities.TranscriptSegment, 0, len(chunks))
	for i, chunk := range chunks {
		speaker := entities.SpeakerNurse
		if i%2 == 1 {
			speaker = entities.SpeakerPatient
		}
		segments = append(segments, entities.TranscriptSegment{
			ID:        fmt.Sprintf("seg-%d", i),
			Speaker:   speaker,
			Timestamp: placeholderTimestamp,
			Text:      chunk,
		})
	}
	return segments
}

// TogglePin flips the pin on one segment and reports whether it was found
func TogglePin(segments []entities.TranscriptSegment, id string) bool {
	for i := range segments {
		if segments[i].ID == id {
			segments[i].IsPinned = !segments[i].IsPinned
			return true
		}
	}
	return false
}

// PinnedSegments returns the pinned segments in transcript order
func PinnedSegments(segments []entities.TranscriptSegment) []entities.TranscriptSegment {
	var out []entities.TranscriptSegment
	for _, s := range segments {
		if s.IsPinned {
			out = append(out, s)
		}
	}
	return out
}
