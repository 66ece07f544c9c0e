package handoffapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

// HTTPClient talks to the session API. It is the remote side of the
// processing machine and of the approval gate.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	// uploadClient has no overall timeout; processing an upload takes as long
	// as transcription and extraction take.
	uploadClient *http.Client
}

// CreatedSession is the answer to a create call
type CreatedSession struct {
	ID string `json:"id"`
}

// Transcript is the stored transcript of a session
type Transcript struct {
	ID         string `json:"id"`
	Transcript string `json:"transcript"`
}

// FormResponse is a persisted record together with its session id
type FormResponse struct {
	ID string `json:"id"`
	entities.PatientRecord
}

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// NewClient creates a session API client
func NewClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		uploadClient: &http.Client{},
	}
}

func (c *HTTPClient) sessionURL(sessionID string, parts ...string) string {
	endpoint := fmt.Sprintf("%s/api/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	for _, p := range parts {
		endpoint += "/" + p
	}
	return endpoint
}

// CreateSession starts a new, empty session
func (c *HTTPClient) CreateSession(ctx context.Context) (*CreatedSession, error) {
	out := &CreatedSession{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/sessions", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions lists sessions with attention counts, most recent first
func (c *HTTPClient) ListSessions(ctx context.Context, limit, offset int) ([]entities.SessionSummary, error) {
	parsed, err := url.Parse(c.baseURL + "/api/sessions")
	if err != nil {
		return nil, err
	}
	query := parsed.Query()
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	parsed.RawQuery = query.Encode()

	var out []entities.SessionSummary
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, parsed.String(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartRecording marks a session as recording
func (c *HTTPClient) StartRecording(ctx context.Context, sessionID string) (*entities.ProcessingStatus, error) {
	out := &entities.ProcessingStatus{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, c.sessionURL(sessionID, "start"), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status implements processing.StatusQuerier
func (c *HTTPClient) Status(ctx context.Context, sessionID string) (*entities.ProcessingStatus, error) {
	out := &entities.ProcessingStatus{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, c.sessionURL(sessionID, "status"), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitAudio implements processing.AudioSubmitter. The call returns once
// the server finished transcription and extraction.
func (c *HTTPClient) SubmitAudio(ctx context.Context, sessionID string, audio []byte) (*entities.ProcessingResult, error) {
	return c.SubmitAudioFile(ctx, sessionID, "recording.m4a", audio)
}

// SubmitAudioFile uploads audio under an explicit file name
func (c *HTTPClient) SubmitAudioFile(ctx context.Context, sessionID, filename string, audio []byte) (*entities.ProcessingResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL(sessionID, "stop"), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	out := &entities.ProcessingResult{}
	if err := c.do(c.uploadClient, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transcript returns the stored transcript
func (c *HTTPClient) Transcript(ctx context.Context, sessionID string) (*Transcript, error) {
	out := &Transcript{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, c.sessionURL(sessionID, "transcript"), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadTranscript returns only the transcript text
func (c *HTTPClient) LoadTranscript(ctx context.Context, sessionID string) (string, error) {
	out, err := c.Transcript(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// LoadExtraction returns the raw extraction the server kept after
// processing. A miss is a not-found error.
func (c *HTTPClient) LoadExtraction(ctx context.Context, sessionID string) (*providers.CachedExtraction, error) {
	out := &providers.CachedExtraction{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, c.sessionURL(sessionID, "extraction"), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SVI returns the social vulnerability report of a session
func (c *HTTPClient) SVI(ctx context.Context, sessionID string) (*entities.SVIReport, error) {
	out := &entities.SVIReport{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, c.sessionURL(sessionID, "svi"), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadForm implements review.FormReader
func (c *HTTPClient) LoadForm(ctx context.Context, sessionID string) (*entities.PatientRecord, error) {
	out := &FormResponse{}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, c.sessionURL(sessionID, "form"), nil, out); err != nil {
		return nil, err
	}
	return &out.PatientRecord, nil
}

// SaveForm implements review.FormWriter; the record is sent whole
func (c *HTTPClient) SaveForm(ctx context.Context, sessionID string, record entities.PatientRecord) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPut, c.sessionURL(sessionID, "form"), record, &FormResponse{})
}

// Finalize implements review.Finalizer
func (c *HTTPClient) Finalize(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPost, c.sessionURL(sessionID, "finalize"), nil, nil)
}

// LoadFollowUps returns the follow-up questions of a session
func (c *HTTPClient) LoadFollowUps(ctx context.Context, sessionID string) ([]entities.FollowUpQuestion, error) {
	var out []entities.FollowUpQuestion
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, c.sessionURL(sessionID, "follow-ups"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveFollowUps replaces the follow-up questions of a session
func (c *HTTPClient) SaveFollowUps(ctx context.Context, sessionID string, list []entities.FollowUpQuestion) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPut, c.sessionURL(sessionID, "follow-ups"), list, nil)
}

// DeleteSession removes a session
func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, c.httpClient, http.MethodDelete, c.sessionURL(sessionID), nil, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, client *http.Client, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(client, req, out)
}

func (c *HTTPClient) do(client *http.Client, req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewUnavailableError("session api unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewExternalError("failed to decode session api response", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	message := body.Error
	if message == "" {
		message = fmt.Sprintf("session api returned status %d", resp.StatusCode)
	}
	cause := fmt.Errorf("status %d", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return apperrors.NewNotFoundError(message)
	case http.StatusConflict:
		return apperrors.NewConflictError(message, cause)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.NewValidationError(message, cause)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewUnauthorizedError(message)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperrors.NewUnavailableError(message, cause)
	default:
		return apperrors.NewExternalError(message, cause)
	}
}
