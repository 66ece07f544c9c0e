package entities

import (
	"encoding/json"
	"time"
)

// SessionStatus is the server-side lifecycle status of a handoff session
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusRecording  SessionStatus = "recording"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusComplete   SessionStatus = "complete"
	SessionStatusError      SessionStatus = "error"
	SessionStatusFinal      SessionStatus = "final"
)

// Session is one nurse-patient intake, from recording through approval
type Session struct {
	ID         string             `json:"id" db:"id"`
	Record     PatientRecord      `json:"record"`
	Transcript string             `json:"transcript,omitempty" db:"transcript"`
	FollowUps  []FollowUpQuestion `json:"follow_ups"`
	Status     SessionStatus      `json:"status" db:"status"`
	Progress   int                `json:"progress" db:"progress"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" db:"updated_at"`
}

// IsFinal reports whether the session has been approved
func (s *Session) IsFinal() bool {
	return s.Status == SessionStatusFinal
}

// SessionSummary is a list row with attention counts
type SessionSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	RoomNum   int           `json:"room_num,omitempty"`
	Status    SessionStatus `json:"status"`
	Progress  int           `json:"progress"`
	Missing   int           `json:"missing"`
	Uncertain int           `json:"uncertain"`
	FollowUps int           `json:"follow_ups"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ProcessingStatus is the answer to a status query
type ProcessingStatus struct {
	ID       string        `json:"id"`
	Status   SessionStatus `json:"status"`
	Progress int           `json:"progress"`
}

// Normalized returns a copy with progress clamped to [0,100]
func (p ProcessingStatus) Normalized() ProcessingStatus {
	switch {
	case p.Progress < 0:
		p.Progress = 0
	case p.Progress > 100:
		p.Progress = 100
	}
	return p
}

// IsComplete reports whether the backend finished processing
func (p ProcessingStatus) IsComplete() bool {
	return p.Status == SessionStatusComplete || p.Status == SessionStatusFinal
}

// IsError reports whether backend processing failed
func (p ProcessingStatus) IsError() bool {
	return p.Status == SessionStatusError
}

// ProcessingResult is the response to an audio submission. Form holds the
// raw extraction payload exactly as the extraction service produced it.
type ProcessingResult struct {
	ID         string             `json:"id"`
	Status     SessionStatus      `json:"status"`
	Progress   int                `json:"progress"`
	Transcript string             `json:"transcript"`
	Form       json.RawMessage    `json:"form"`
	FollowUps  []FollowUpQuestion `json:"follow_ups,omitempty"`
}
