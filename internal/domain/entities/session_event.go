package entities

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType represents the type of session event
type SessionEventType string

const (
	SessionEventTypeCreated   SessionEventType = "session_created"
	SessionEventTypeStatus    SessionEventType = "status_update"
	SessionEventTypeFormSaved SessionEventType = "form_saved"
	SessionEventTypeFollowUps SessionEventType = "follow_ups_update"
	SessionEventTypeFinalized SessionEventType = "session_finalized"
)

// SessionEvent represents a real-time update for one session
type SessionEvent struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	EventType SessionEventType `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	Status    SessionStatus    `json:"status"`
	Progress  int              `json:"progress"`
}

// NewSessionEvent creates a new session event
func NewSessionEvent(sessionID string, eventType SessionEventType, status SessionStatus, progress int) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		EventType: eventType,
		Timestamp: time.Now(),
		Status:    status,
		Progress:  progress,
	}
}

// IsTerminal reports whether no further progress events will follow
func (e *SessionEvent) IsTerminal() bool {
	switch e.Status {
	case SessionStatusComplete, SessionStatusError, SessionStatusFinal:
		return true
	}
	return false
}
