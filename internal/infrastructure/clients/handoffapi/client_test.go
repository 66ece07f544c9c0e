package handoffapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/infrastructure/clients/handoffapi"
	"github.com/carebridge-hub/backend/internal/processing"
	"github.com/carebridge-hub/backend/internal/review"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

var (
	_ processing.StatusQuerier = (*handoffapi.HTTPClient)(nil)
	_ processing.AudioSubmitter = (*handoffapi.HTTPClient)(nil)
	_ review.FormReader         = (*handoffapi.HTTPClient)(nil)
	_ review.FormWriter         = (*handoffapi.HTTPClient)(nil)
	_ review.Finalizer          = (*handoffapi.HTTPClient)(nil)
)

func newClient(t *testing.T, mux *http.ServeMux) *handoffapi.HTTPClient {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return handoffapi.NewClient(server.URL+"/", time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": r.PathValue("id"), "status": "processing", "progress": 75})
	})
	client := newClient(t, mux)

	status, err := client.Status(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", status.ID)
	assert.Equal(t, entities.SessionStatusProcessing, status.Status)
	assert.Equal(t, 75, status.Progress)
}

func TestSubmitAudio(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("audio_file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "recording.m4a", header.Filename)
		assert.Equal(t, "audio-bytes", string(data))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":         r.PathValue("id"),
			"status":     "complete",
			"progress":   100,
			"transcript": "Nurse: hello",
			"form":       map[string]interface{}{"nurse_on_shift": "Dana"},
		})
	})
	client := newClient(t, mux)

	result, err := client.SubmitAudio(context.Background(), "s-1", []byte("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, entities.SessionStatusComplete, result.Status)
	assert.Equal(t, "Nurse: hello", result.Transcript)
	assert.JSONEq(t, `{"nurse_on_shift":"Dana"}`, string(result.Form))
}

func TestFormRoundTrip(t *testing.T) {
	var saved entities.PatientRecord
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}/form", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, handoffapi.FormResponse{ID: r.PathValue("id"), PatientRecord: entities.NewPatientRecord()})
	})
	mux.HandleFunc("PUT /api/sessions/{id}/form", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
		writeJSON(w, http.StatusOK, handoffapi.FormResponse{ID: r.PathValue("id"), PatientRecord: saved})
	})
	client := newClient(t, mux)

	record, err := client.LoadForm(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, entities.UnknownName, record.PatientInfo.Name)

	record.PatientInfo.Name = "Jane Doe"
	require.NoError(t, client.SaveForm(context.Background(), "s-1", *record))
	assert.Equal(t, "Jane Doe", saved.PatientInfo.Name)
}

func TestFinalize_Conflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{id}/finalize", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session already final", "type": "CONFLICT"})
	})
	client := newClient(t, mux)

	err := client.Finalize(context.Background(), "s-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	assert.Contains(t, err.Error(), "session already final")
}

func TestNotFound(t *testing.T) {
	client := newClient(t, http.NewServeMux())

	_, err := client.Transcript(context.Background(), "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestUnreachable(t *testing.T) {
	client := handoffapi.NewClient("http://127.0.0.1:1", 200*time.Millisecond)

	_, err := client.Status(context.Background(), "s-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnavailable))
}

func TestListSessions_Query(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, []entities.SessionSummary{{ID: "a", Missing: 3}})
	})
	client := newClient(t, mux)

	list, err := client.ListSessions(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Missing)
}

func TestDeleteSession_NoContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	client := newClient(t, mux)

	assert.NoError(t, client.DeleteSession(context.Background(), "s-1"))
}

func TestLoadExtraction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/s-1/extraction", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":         "s-1",
			"transcript": "Jane Doe in room 12.",
			"form":       map[string]interface{}{"patient_information": map[string]string{"name": "Jane Doe"}},
			"follow_ups": []map[string]interface{}{{"id": "q1", "question": "Allergies?", "status": "new"}},
		})
	})
	mux.HandleFunc("GET /api/sessions/s-2/extraction", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cached extraction for session s-2", "type": "NOT_FOUND"})
	})
	client := newClient(t, mux)

	cached, err := client.LoadExtraction(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe in room 12.", cached.Transcript)
	assert.JSONEq(t, `{"patient_information":{"name":"Jane Doe"}}`, string(cached.Form))
	require.Len(t, cached.FollowUps, 1)
	assert.Equal(t, entities.FollowUpStatusNew, cached.FollowUps[0].Status)

	_, err = client.LoadExtraction(context.Background(), "s-2")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestSVI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/s-1/svi", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": []interface{}{}, "questions": []interface{}{}, "error": "no_zip_found"})
	})
	client := newClient(t, mux)

	report, err := client.SVI(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, entities.SVIErrorNoZIP, report.Error)
}
