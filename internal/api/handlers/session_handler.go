package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

// MaxAudioBytes caps a single audio upload
const MaxAudioBytes = 100 << 20

const maxJSONBytes = 1 << 20

// SessionService is what the session endpoints need from the application layer
type SessionService interface {
	Create(ctx context.Context) (*entities.Session, error)
	List(ctx context.Context, limit, offset int) ([]entities.SessionSummary, error)
	StartRecording(ctx context.Context, id string) (*entities.ProcessingStatus, error)
	Process(ctx context.Context, id, filename string, audio []byte) (*entities.ProcessingResult, error)
	Status(ctx context.Context, id string) (*entities.ProcessingStatus, error)
	Transcript(ctx context.Context, id string) (string, error)
	Form(ctx context.Context, id string) (*entities.PatientRecord, error)
	CachedExtraction(ctx context.Context, id string) (*providers.CachedExtraction, error)
	SVI(ctx context.Context, id string) (*entities.SVIReport, error)
	SaveForm(ctx context.Context, id string, record entities.PatientRecord) (*entities.PatientRecord, error)
	Finalize(ctx context.Context, id string) error
	FollowUps(ctx context.Context, id string) ([]entities.FollowUpQuestion, error)
	SaveFollowUps(ctx context.Context, id string, list []entities.FollowUpQuestion) ([]entities.FollowUpQuestion, error)
	Delete(ctx context.Context, id string) error
}

// SessionHandler handles session HTTP requests
type SessionHandler struct {
	service SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(service SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type formResponse struct {
	ID string `json:"id"`
	entities.PatientRecord
}

type extractionResponse struct {
	ID string `json:"id"`
	providers.CachedExtraction
}

type transcriptResponse struct {
	ID         string `json:"id"`
	Transcript string `json:"transcript"`
}

// CreateSession handles POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Create(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": session.ID})
}

// ListSessions handles GET /api/sessions?limit=&offset=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}
	offset, err := intParam(query.Get("offset"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid offset parameter")
		return
	}

	rows, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// StartRecording handles POST /api/sessions/{id}/start
func (h *SessionHandler) StartRecording(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.StartRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// StopRecording handles POST /api/sessions/{id}/stop with a multipart
// audio_file. The response is sent once processing finished.
func (h *SessionHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioBytes)
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "audio file is too large")
			return
		}
		respondWithError(w, http.StatusBadRequest, "audio_file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	result, err := h.service.Process(r.Context(), r.PathValue("id"), header.Filename, audio)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetStatus handles GET /api/sessions/{id}/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// GetTranscript handles GET /api/sessions/{id}/transcript
func (h *SessionHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	transcript, err := h.service.Transcript(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transcriptResponse{ID: id, Transcript: transcript})
}

// GetForm handles GET /api/sessions/{id}/form
func (h *SessionHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.service.Form(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, formResponse{ID: id, PatientRecord: *record})
}

// GetExtraction handles GET /api/sessions/{id}/extraction. It serves the raw
// extraction kept since processing; 404 once it expired or a draft was saved.
func (h *SessionHandler) GetExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cached, err := h.service.CachedExtraction(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, extractionResponse{ID: id, CachedExtraction: *cached})
}

// GetSVI handles GET /api/sessions/{id}/svi. Lookup problems are reported
// in the body's error field with status 200.
func (h *SessionHandler) GetSVI(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SVI(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// UpdateForm handles PUT /api/sessions/{id}/form with the whole record
func (h *SessionHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var record entities.PatientRecord
	if !decodeJSON(w, r, &record) {
		return
	}

	id := r.PathValue("id")
	saved, err := h.service.SaveForm(r.Context(), id, record)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, formResponse{ID: id, PatientRecord: *saved})
}

// Finalize handles POST /api/sessions/{id}/finalize
func (h *SessionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Finalize(r.Context(), id); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(entities.SessionStatusFinal),
	})
}

// GetFollowUps handles GET /api/sessions/{id}/follow-ups
func (h *SessionHandler) GetFollowUps(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.FollowUps(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

// UpdateFollowUps handles PUT /api/sessions/{id}/follow-ups
func (h *SessionHandler) UpdateFollowUps(w http.ResponseWriter, r *http.Request) {
	var list []entities.FollowUpQuestion
	if !decodeJSON(w, r, &list) {
		return
	}

	saved, err := h.service.SaveFollowUps(r.Context(), r.PathValue("id"), list)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		respondWithAppError(w, r, apperrors.NewValidationError("invalid request body", err))
		return false
	}
	return true
}
