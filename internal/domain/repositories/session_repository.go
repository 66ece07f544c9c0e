package repositories

import (
	"context"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// SessionRepository defines the interface for session data operations
type SessionRepository interface {
	// Create inserts a new session with its empty record
	Create(ctx context.Context, session *entities.Session) error

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id string) (*entities.Session, error)

	// List retrieves sessions ordered by most recently updated
	List(ctx context.Context, filter SessionFilter) ([]*entities.Session, error)

	// UpdateStatus sets status and progress
	UpdateStatus(ctx context.Context, id string, status entities.SessionStatus, progress int) error

	// UpdateTranscript stores the transcript along with status and progress
	UpdateTranscript(ctx context.Context, id string, transcript string, status entities.SessionStatus, progress int) error

	// UpdateRecord replaces the whole patient record
	UpdateRecord(ctx context.Context, id string, record entities.PatientRecord) error

	// UpdateFollowUps replaces the follow-up list
	UpdateFollowUps(ctx context.Context, id string, followUps []entities.FollowUpQuestion) error

	// Delete deletes a session
	Delete(ctx context.Context, id string) error
}

// SessionFilter defines paging for listing sessions
type SessionFilter struct {
	Limit  int
	Offset int
}
