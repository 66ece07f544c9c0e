package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/pkg/config"
)

// ErrUnauthorized is returned when the service rejects the API key
var ErrUnauthorized = errors.New("transcription service rejected credentials")

// Client calls the external transcription and extraction service. Both
// calls share one circuit breaker so a dead service fails fast.
type Client struct {
	baseURL         string
	apiKey          string
	transcribeModel string
	extractModel    string
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker
	logger          zerolog.Logger
}

var (
	_ providers.TranscriptionProvider = (*Client)(nil)
	_ providers.ExtractionProvider    = (*Client)(nil)
)

// NewClient creates a new transcription client
func NewClient(cfg *config.TranscriptionConfig, logger zerolog.Logger) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("transcription service url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.URL, "/"),
		apiKey:          cfg.APIKey,
		transcribeModel: cfg.TranscribeModel,
		extractModel:    cfg.ExtractModel,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logger.With().Str("component", "transcription_client").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "transcription",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c, nil
}

// Transcribe uploads audio and returns the plain-text transcript
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("audio is empty")
	}
	if filename == "" {
		filename = "audio.m4a"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":           c.transcribeModel,
		"language":        "en",
		"response_format": "text",
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	raw, err := c.do(ctx, "transcribe", "/audio/transcriptions", writer.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", err
	}

	transcript := strings.TrimSpace(string(raw))
	// Some deployments ignore response_format and answer with {"text": ...}.
	if strings.HasPrefix(transcript, "{") {
		var envelope struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			transcript = strings.TrimSpace(envelope.Text)
		}
	}
	return transcript, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatEnvelope struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract turns a transcript into the raw extraction payload
func (c *Client) Extract(ctx context.Context, transcript string) (*providers.Extraction, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.New("transcript is empty")
	}

	payload := map[string]interface{}{
		"model": c.extractModel,
		"messages": []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: transcript},
		},
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	raw, err := c.do(ctx, "extract", "/chat/completions", "application/json", body)
	if err != nil {
		return nil, err
	}

	var envelope chatEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	if len(envelope.Choices) == 0 || strings.TrimSpace(envelope.Choices[0].Message.Content) == "" {
		return nil, errors.New("extraction response missing content")
	}

	form := []byte(stripCodeFence(envelope.Choices[0].Message.Content))
	if _, err := entities.DecodeRawExtractedForm(form); err != nil {
		return nil, fmt.Errorf("failed to parse extracted form: %w", err)
	}

	form, followUps := splitFollowUps(form)
	c.logger.Debug().Int("follow_ups", len(followUps)).Msg("extraction complete")

	return &providers.Extraction{Form: json.RawMessage(form), FollowUps: followUps}, nil
}

type suggestedFollowUp struct {
	Question      string   `json:"question"`
	Rationale     string   `json:"rationale"`
	RelatedFields []string `json:"related_fields"`
}

// splitFollowUps removes the suggested questions from the extraction
// payload and turns them into new follow-ups. Entries without a question
// are dropped, as are related fields the form does not have.
func splitFollowUps(form []byte) ([]byte, []entities.FollowUpQuestion) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(form, &top); err != nil {
		return form, nil
	}
	raw, ok := top["follow_ups"]
	if !ok {
		return form, nil
	}
	delete(top, "follow_ups")
	stripped, err := json.Marshal(top)
	if err != nil {
		return form, nil
	}

	var suggested []suggestedFollowUp
	if err := json.Unmarshal(raw, &suggested); err != nil {
		return stripped, nil
	}

	var out []entities.FollowUpQuestion
	for _, s := range suggested {
		question := strings.TrimSpace(s.Question)
		if question == "" {
			continue
		}
		var related []entities.FieldName
		for _, f := range s.RelatedFields {
			if name := entities.FieldName(strings.TrimSpace(f)); entities.IsKnownField(name) {
				related = append(related, name)
			}
		}
		out = append(out, entities.FollowUpQuestion{
			ID:              uuid.NewString(),
			Question:        question,
			Rationale:       strings.TrimSpace(s.Rationale),
			Status:          entities.FollowUpStatusNew,
			RelatedFieldIDs: related,
		})
	}
	return stripped, out
}

func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

func (c *Client) do(ctx context.Context, operation, path, contentType string, body []byte) ([]byte, error) {
	start := time.Now()
	var status int

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("transcription service %s failed with status %d", operation, resp.StatusCode)
		}
		return data, nil
	})

	recordRequestMetric(ctx, operation, status, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

type clientMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     *clientMetrics
)

func ensureMetrics() *clientMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/carebridge-hub/backend/transcription")

		requestCount, err := meter.Int64Counter(
			"handoff.transcription.request.count",
			metric.WithDescription("Number of transcription service requests"),
		)
		if err != nil {
			return
		}
		requestDuration, err := meter.Float64Histogram(
			"handoff.transcription.request.duration",
			metric.WithDescription("Transcription service request duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return
		}
		requestErrors, err := meter.Int64Counter(
			"handoff.transcription.request.errors",
			metric.WithDescription("Number of failed transcription service requests"),
		)
		if err != nil {
			return
		}
		metrics = &clientMetrics{
			requestCount:    requestCount,
			requestDuration: requestDuration,
			requestErrors:   requestErrors,
		}
	})
	return metrics
}

func recordRequestMetric(ctx context.Context, operation string, statusCode int, duration time.Duration, err error) {
	m := ensureMetrics()
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("transcription.operation", operation),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		attrs = append(attrs, attribute.Bool("breaker.rejected", true))
	}

	m.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
