package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/adapters/events"
	"github.com/carebridge-hub/backend/internal/api/handlers"
	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	apperrors "github.com/carebridge-hub/backend/pkg/errors"
)

type MockStatusReader struct {
	mock.Mock
}

func (m *MockStatusReader) Status(ctx context.Context, id string) (*entities.ProcessingStatus, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ProcessingStatus), args.Error(1)
}

func startStream(t *testing.T, handler http.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler(w, req)
		close(done)
	}()
	return w, cancel, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestSSEHandler_StreamSessionUpdates(t *testing.T) {
	t.Run("sends current status then bus events", func(t *testing.T) {
		bus := events.NewMemoryEventBus()
		defer bus.Close()
		statuses := new(MockStatusReader)
		statuses.On("Status", mock.Anything, "s-1").
			Return(&entities.ProcessingStatus{ID: "s-1", Status: entities.SessionStatusProcessing, Progress: 25}, nil)
		handler := handlers.NewSSEHandler(bus, statuses)

		req := httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/stream", nil)
		req.SetPathValue("id", "s-1")
		w, cancel, done := startStream(t, handler.StreamSessionUpdates, req)
		defer cancel()

		require.Eventually(t, func() bool { return handler.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

		event := entities.NewSessionEvent("s-1", entities.SessionEventTypeStatus, entities.SessionStatusProcessing, 75)
		require.NoError(t, bus.Publish(context.Background(), providers.GetSessionChannel("s-1"), event))
		time.Sleep(100 * time.Millisecond)

		cancel()
		waitDone(t, done)

		result := w.Result()
		assert.Equal(t, "text/event-stream", result.Header.Get("Content-Type"))
		assert.Equal(t, "no-cache", result.Header.Get("Cache-Control"))
		body := w.Body.String()
		assert.Contains(t, body, "event: connected\n")
		assert.Contains(t, body, `"progress":25`)
		assert.Contains(t, body, "event: status_update\n")
		assert.Contains(t, body, `"progress":75`)
		assert.Equal(t, 0, handler.GetClientCount())
	})

	t.Run("heartbeat on idle stream", func(t *testing.T) {
		bus := events.NewMemoryEventBus()
		defer bus.Close()
		statuses := new(MockStatusReader)
		statuses.On("Status", mock.Anything, "s-1").
			Return(&entities.ProcessingStatus{ID: "s-1", Status: entities.SessionStatusRecording}, nil)
		handler := handlers.NewSSEHandler(bus, statuses, handlers.WithHeartbeat(20*time.Millisecond))

		req := httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/stream", nil)
		req.SetPathValue("id", "s-1")
		w, cancel, done := startStream(t, handler.StreamSessionUpdates, req)

		time.Sleep(100 * time.Millisecond)
		cancel()
		waitDone(t, done)

		assert.Contains(t, w.Body.String(), "event: heartbeat\n")
	})

	t.Run("unknown session", func(t *testing.T) {
		bus := events.NewMemoryEventBus()
		defer bus.Close()
		statuses := new(MockStatusReader)
		statuses.On("Status", mock.Anything, "nope").Return(nil, apperrors.NewNotFoundError("session not found"))
		handler := handlers.NewSSEHandler(bus, statuses)

		req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope/stream", nil)
		req.SetPathValue("id", "nope")
		w := httptest.NewRecorder()

		handler.StreamSessionUpdates(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing session ID", func(t *testing.T) {
		handler := handlers.NewSSEHandler(events.NewMemoryEventBus(), new(MockStatusReader))
		w := httptest.NewRecorder()

		handler.StreamSessionUpdates(w, httptest.NewRequest(http.MethodGet, "/api/sessions//stream", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSSEHandler_StreamAllUpdates(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewSSEHandler(bus, new(MockStatusReader))

	w, cancel, done := startStream(t, handler.StreamAllUpdates, httptest.NewRequest(http.MethodGet, "/api/stream/sessions", nil))
	defer cancel()

	require.Eventually(t, func() bool { return handler.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	event := entities.NewSessionEvent("s-2", entities.SessionEventTypeFinalized, entities.SessionStatusFinal, 100)
	require.NoError(t, bus.Publish(context.Background(), providers.EventChannelSessionUpdates, event))
	time.Sleep(100 * time.Millisecond)

	cancel()
	waitDone(t, done)

	assert.Contains(t, w.Body.String(), "event: session_finalized\n")
	assert.Contains(t, w.Body.String(), `"session_id":"s-2"`)
}
