package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/repositories"
	"github.com/carebridge-hub/backend/internal/infrastructure/clients/postgres"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

const sessionsTable = "handoff_sessions"

const defaultListLimit = 50

var sessionColumns = []interface{}{
	"id", "nurse", "patient_info", "background", "current_assessment", "vital_signs",
	"medications", "follow_ups", "transcript", "status", "progress", "created_at", "updated_at",
}

// SessionAdapter implements SessionRepository on PostgreSQL. Each record
// section lives in its own JSONB column and is always written whole.
type SessionAdapter struct {
	client  *postgres.Client
	db      *goqu.Database
	metrics *observability.Metrics
	now     func() time.Time
}

// NewSessionAdapter creates a new session adapter. metrics may be nil.
func NewSessionAdapter(client *postgres.Client, metrics *observability.Metrics) repositories.SessionRepository {
	return &SessionAdapter{
		client:  client,
		db:      goqu.New("postgres", client.DB()),
		metrics: metrics,
		now:     time.Now,
	}
}

func (a *SessionAdapter) observe(ctx context.Context, operation string, start time.Time) {
	observability.RecordDBMetric(ctx, a.metrics, operation, time.Since(start))
}

func recordColumns(record entities.PatientRecord) (goqu.Record, error) {
	sections := map[string]interface{}{
		"nurse":              record.Nurse,
		"patient_info":       record.PatientInfo,
		"background":         record.Background,
		"current_assessment": record.CurrentAssessment,
		"vital_signs":        record.VitalSigns,
		"medications":        nonNilMedications(record.Medications),
	}
	out := make(goqu.Record, len(sections))
	for column, value := range sections {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", column, err)
		}
		out[column] = string(data)
	}
	return out, nil
}

func nonNilMedications(meds []entities.Medication) []entities.Medication {
	if meds == nil {
		return []entities.Medication{}
	}
	return meds
}

func encodeFollowUps(list []entities.FollowUpQuestion) (string, error) {
	if list == nil {
		list = []entities.FollowUpQuestion{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode follow_ups: %w", err)
	}
	return string(data), nil
}

// Create inserts a new session
func (a *SessionAdapter) Create(ctx context.Context, session *entities.Session) error {
	defer a.observe(ctx, "session.create", time.Now())

	record, err := recordColumns(session.Record)
	if err != nil {
		return apperrors.NewInternalError("failed to encode session record", err)
	}
	followUps, err := encodeFollowUps(session.FollowUps)
	if err != nil {
		return apperrors.NewInternalError("failed to encode follow-ups", err)
	}
	record["id"] = session.ID
	record["follow_ups"] = followUps
	record["transcript"] = session.Transcript
	record["status"] = string(session.Status)
	record["progress"] = session.Progress
	record["created_at"] = session.CreatedAt
	record["updated_at"] = session.UpdatedAt

	query, args, err := a.db.Insert(sessionsTable).Prepared(true).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create session", err)
	}
	return nil
}

// GetByID retrieves a session by ID
func (a *SessionAdapter) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	defer a.observe(ctx, "session.get", time.Now())

	query, args, err := a.db.From(sessionsTable).Prepared(true).
		Select(sessionColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	session, err := scanSession(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get session", err)
	}
	return session, nil
}

// List retrieves sessions ordered by most recently updated
func (a *SessionAdapter) List(ctx context.Context, filter repositories.SessionFilter) ([]*entities.Session, error) {
	defer a.observe(ctx, "session.list", time.Now())

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query, args, err := a.db.From(sessionsTable).Prepared(true).
		Select(sessionColumns...).
		Order(goqu.I("updated_at").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list sessions", err)
	}
	defer rows.Close()

	sessions := make([]*entities.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate sessions", err)
	}
	return sessions, nil
}

// UpdateStatus sets status and progress
func (a *SessionAdapter) UpdateStatus(ctx context.Context, id string, status entities.SessionStatus, progress int) error {
	defer a.observe(ctx, "session.update_status", time.Now())
	return a.update(ctx, id, goqu.Record{
		"status":   string(status),
		"progress": progress,
	})
}

// UpdateTranscript stores the transcript along with status and progress
func (a *SessionAdapter) UpdateTranscript(ctx context.Context, id string, transcript string, status entities.SessionStatus, progress int) error {
	defer a.observe(ctx, "session.update_transcript", time.Now())
	return a.update(ctx, id, goqu.Record{
		"transcript": transcript,
		"status":     string(status),
		"progress":   progress,
	})
}

// UpdateRecord replaces the whole patient record
func (a *SessionAdapter) UpdateRecord(ctx context.Context, id string, record entities.PatientRecord) error {
	defer a.observe(ctx, "session.update_record", time.Now())
	columns, err := recordColumns(record)
	if err != nil {
		return apperrors.NewInternalError("failed to encode session record", err)
	}
	return a.update(ctx, id, columns)
}

// UpdateFollowUps replaces the follow-up list
func (a *SessionAdapter) UpdateFollowUps(ctx context.Context, id string, followUps []entities.FollowUpQuestion) error {
	defer a.observe(ctx, "session.update_follow_ups", time.Now())
	encoded, err := encodeFollowUps(followUps)
	if err != nil {
		return apperrors.NewInternalError("failed to encode follow-ups", err)
	}
	return a.update(ctx, id, goqu.Record{"follow_ups": encoded})
}

func (a *SessionAdapter) update(ctx context.Context, id string, set goqu.Record) error {
	set["updated_at"] = a.now()

	query, args, err := a.db.Update(sessionsTable).Prepared(true).
		Set(set).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update session", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return nil
}

// Delete deletes a session
func (a *SessionAdapter) Delete(ctx context.Context, id string) error {
	defer a.observe(ctx, "session.delete", time.Now())

	query, args, err := a.db.Delete(sessionsTable).Prepared(true).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to delete session", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*entities.Session, error) {
	var session entities.Session
	var nurse, patientInfo, background, assessment []byte
	var vitals, medications, followUps []byte
	var status string
	err := row.Scan(
		&session.ID,
		&nurse,
		&patientInfo,
		&background,
		&assessment,
		&vitals,
		&medications,
		&followUps,
		&session.Transcript,
		&status,
		&session.Progress,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Status = entities.SessionStatus(status)

	sections := []struct {
		column string
		data   []byte
		dst    interface{}
	}{
		{"nurse", nurse, &session.Record.Nurse},
		{"patient_info", patientInfo, &session.Record.PatientInfo},
		{"background", background, &session.Record.Background},
		{"current_assessment", assessment, &session.Record.CurrentAssessment},
		{"vital_signs", vitals, &session.Record.VitalSigns},
		{"medications", medications, &session.Record.Medications},
		{"follow_ups", followUps, &session.FollowUps},
	}
	for _, s := range sections {
		if len(s.data) == 0 {
			continue
		}
		if err := json.Unmarshal(s.data, s.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.column, err)
		}
	}
	if session.Record.Medications == nil {
		session.Record.Medications = []entities.Medication{}
	}
	if session.FollowUps == nil {
		session.FollowUps = []entities.FollowUpQuestion{}
	}
	return &session, nil
}
