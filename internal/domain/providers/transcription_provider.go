package providers

import (
	"context"
	"encoding/json"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// TranscriptionProvider turns recorded audio into plain transcript text
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Extraction is the structured output of the extraction service. Form is the
// raw extraction payload, kept verbatim for the reviewer.
type Extraction struct {
	Form      json.RawMessage             `json:"extracted_form"`
	FollowUps []entities.FollowUpQuestion `json:"follow_ups,omitempty"`
}

// ExtractionProvider turns a transcript into a raw intake form
type ExtractionProvider interface {
	Extract(ctx context.Context, transcript string) (*Extraction, error)
}
