package processing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// State is the externally visible state of a Machine
type State string

const (
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateOffline    State = "offline"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateCapture    State = "capture"
)

// IsTerminal reports whether no further processing happens in this state
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateFailed || s == StateCapture
}

// Authority names the single signal source allowed to finish a session
type Authority string

const (
	AuthorityUpload Authority = "upload"
	AuthorityPoll   Authority = "poll"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultOfflineAfter = 3

	uploadStep = "Upload / Processing"
	pollStep   = "Transcribe"
)

var (
	ErrNotFailed      = errors.New("restart is only possible after a failure")
	ErrAlreadyStarted = errors.New("machine already started")
)

// StatusQuerier reads the backend processing status of a session
type StatusQuerier interface {
	Status(ctx context.Context, sessionID string) (*entities.ProcessingStatus, error)
}

// AudioSubmitter uploads recorded audio and waits for the processing result
type AudioSubmitter interface {
	SubmitAudio(ctx context.Context, sessionID string, audio []byte) (*entities.ProcessingResult, error)
}

// ErrorDescriptor describes a terminal failure for display
type ErrorDescriptor struct {
	Message   string    `json:"message"`
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is what a successful upload hands to the review stage
type Result struct {
	Transcript string          `json:"transcript"`
	Form       json.RawMessage `json:"form"`
}

// Snapshot is a consistent copy of the machine state
type Snapshot struct {
	SessionID string           `json:"session_id"`
	State     State            `json:"state"`
	Authority Authority        `json:"authority"`
	Progress  int              `json:"progress"`
	Steps     []Step           `json:"steps"`
	Result    *Result          `json:"result,omitempty"`
	Error     *ErrorDescriptor `json:"error,omitempty"`
}

// Option configures a Machine
type Option func(*Machine)

// WithPollInterval sets the status poll interval
func WithPollInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTickSource replaces the poll ticker. Each value received triggers one
// status query.
func WithTickSource(ticks <-chan time.Time) Option {
	return func(m *Machine) {
		m.ticks = ticks
	}
}

// WithOfflineAfter sets how many consecutive failed polls mark the session
// offline. Zero disables the offline state.
func WithOfflineAfter(n int) Option {
	return func(m *Machine) {
		if n >= 0 {
			m.offlineAfter = n
		}
	}
}

// WithLogger sets the machine logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithClock replaces the time source used for error timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// Machine drives one session from upload or polling to ready or failed.
// The authority is fixed at construction: with local audio only the upload
// result may finish the session, otherwise only a polled complete or error
// status may. Results captured under an older generation are dropped.
type Machine struct {
	sessionID    string
	audio        []byte
	authority    Authority
	statuses     StatusQuerier
	uploader     AudioSubmitter
	interval     time.Duration
	ticks        <-chan time.Time
	offlineAfter int
	logger       zerolog.Logger
	now          func() time.Time

	mu            sync.Mutex
	state         State
	progress      int
	steps         []Step
	result        *Result
	errDesc       *ErrorDescriptor
	failures      int
	generation    uint64
	started       bool
	stopped       bool
	uploadSettled bool
	cancel        context.CancelFunc
	done          chan struct{}
	doneClosed    bool
	changes       chan Snapshot
}

// New creates a machine for sessionID. A non-empty audio payload makes the
// upload path authoritative.
func New(sessionID string, audio []byte, statuses StatusQuerier, uploader AudioSubmitter, opts ...Option) *Machine {
	m := &Machine{
		sessionID:    sessionID,
		audio:        audio,
		authority:    AuthorityPoll,
		statuses:     statuses,
		uploader:     uploader,
		interval:     DefaultPollInterval,
		offlineAfter: DefaultOfflineAfter,
		logger:       zerolog.Nop(),
		now:          time.Now,
		state:        StateProcessing,
		steps:        ProjectSteps(0, entities.SessionStatusPending),
		done:         make(chan struct{}),
		changes:      make(chan Snapshot, 1),
	}
	if len(audio) > 0 {
		m.authority = AuthorityUpload
		m.state = StateUploading
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().
		Str("session_id", sessionID).
		Str("authority", string(m.authority)).
		Logger()
	return m
}

// Authority returns the signal source fixed at construction
func (m *Machine) Authority() Authority {
	return m.authority
}

// Start begins polling and, under upload authority, submits the audio once
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	if m.stopped || m.state.IsTerminal() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	gen := m.generation

	ticks := m.ticks
	stopTicker := func() {}
	if ticks == nil {
		ticker := time.NewTicker(m.interval)
		ticks = ticker.C
		stopTicker = ticker.Stop
	}

	go m.pollLoop(loopCtx, gen, ticks, stopTicker)
	if m.authority == AuthorityUpload {
		go m.upload(loopCtx, gen)
	}

	m.logger.Info().Dur("poll_interval", m.interval).Msg("processing started")
	m.publishLocked()
	return nil
}

func (m *Machine) pollLoop(ctx context.Context, gen uint64, ticks <-chan time.Time, stopTicker func()) {
	defer stopTicker()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok || ctx.Err() != nil {
				return
			}
			status, err := m.statuses.Status(ctx, m.sessionID)
			m.applyPoll(gen, status, err)
		}
	}
}

func (m *Machine) upload(ctx context.Context, gen uint64) {
	result, err := m.uploader.SubmitAudio(ctx, m.sessionID, m.audio)
	m.applyUpload(gen, result, err)
}

// current reports whether a result captured under gen may still be applied
func (m *Machine) current(gen uint64) bool {
	return gen == m.generation && !m.stopped && !m.state.IsTerminal()
}

func (m *Machine) applyPoll(gen uint64, status *entities.ProcessingStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(gen) {
		recordDiscarded("poll")
		return
	}

	if err != nil || status == nil {
		m.failures++
		recordPollFailure()
		m.logger.Debug().Err(err).Int("consecutive_failures", m.failures).Msg("status poll failed")
		if m.offlineAfter > 0 && m.failures >= m.offlineAfter && m.state != StateOffline {
			m.transitionLocked(StateOffline)
			m.publishLocked()
		}
		return
	}

	m.failures = 0
	if m.state == StateOffline {
		m.transitionLocked(m.activeState())
	}

	st := status.Normalized()
	m.progress = st.Progress
	m.steps = ProjectSteps(st.Progress, st.Status)

	if m.authority == AuthorityPoll {
		switch {
		case st.IsComplete():
			m.finishReadyLocked(nil)
			return
		case st.IsError():
			m.finishFailedLocked("processing failed on the server", pollStep)
			return
		}
	}
	m.publishLocked()
}

func (m *Machine) applyUpload(gen uint64, result *entities.ProcessingResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadSettled || !m.current(gen) {
		recordDiscarded("upload")
		return
	}
	m.uploadSettled = true

	if err != nil {
		m.finishFailedLocked(err.Error(), uploadStep)
		return
	}
	if result == nil {
		m.finishFailedLocked("empty processing result", uploadStep)
		return
	}
	m.finishReadyLocked(&Result{
		Transcript: result.Transcript,
		Form:       append(json.RawMessage(nil), result.Form...),
	})
}

func (m *Machine) activeState() State {
	if m.authority == AuthorityUpload && !m.uploadSettled {
		return StateUploading
	}
	return StateProcessing
}

func (m *Machine) finishReadyLocked(result *Result) {
	m.progress = 100
	m.steps = allComplete()
	m.result = result
	m.transitionLocked(StateReady)
	m.logger.Info().Bool("has_result", result != nil).Msg("processing ready")
	m.endLocked()
}

func (m *Machine) finishFailedLocked(message, step string) {
	m.errDesc = &ErrorDescriptor{
		Message:   message,
		Step:      step,
		Timestamp: m.now().UTC(),
	}
	m.steps = FailedSteps()
	m.transitionLocked(StateFailed)
	m.logger.Warn().Str("step", step).Str("error", message).Msg("processing failed")
	m.endLocked()
}

// endLocked stops polling after a terminal transition
func (m *Machine) endLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.closeDoneLocked()
	m.publishLocked()
}

func (m *Machine) transitionLocked(to State) {
	if m.state == to {
		return
	}
	recordTransition(m.state, to)
	m.logger.Debug().Str("from", string(m.state)).Str("to", string(to)).Msg("state transition")
	m.state = to
}

func (m *Machine) closeDoneLocked() {
	if !m.doneClosed {
		close(m.done)
		m.doneClosed = true
	}
}

// publishLocked replaces any unread snapshot with the current one
func (m *Machine) publishLocked() {
	snap := m.snapshotLocked()
	select {
	case <-m.changes:
	default:
	}
	m.changes <- snap
}

// Stop tears the machine down. Polling stops and any poll or upload result
// delivered afterwards is discarded.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	m.generation++
	if m.cancel != nil {
		m.cancel()
	}
	m.closeDoneLocked()
	m.logger.Debug().Msg("processing stopped")
}

// Restart leaves a failed machine for the capture stage
func (m *Machine) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateFailed {
		return ErrNotFailed
	}
	m.generation++
	m.errDesc = nil
	m.progress = 0
	m.steps = ProjectSteps(0, entities.SessionStatusPending)
	m.transitionLocked(StateCapture)
	m.publishLocked()
	return nil
}

// Snapshot returns a copy of the current state
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: m.sessionID,
		State:     m.state,
		Authority: m.authority,
		Progress:  m.progress,
		Steps:     append([]Step(nil), m.steps...),
	}
	if m.result != nil {
		r := *m.result
		r.Form = append(json.RawMessage(nil), m.result.Form...)
		snap.Result = &r
	}
	if m.errDesc != nil {
		e := *m.errDesc
		snap.Error = &e
	}
	return snap
}

// Changes delivers the latest snapshot after each change. Unread snapshots
// are replaced, so a slow reader only sees the most recent one.
func (m *Machine) Changes() <-chan Snapshot {
	return m.changes
}

// Done is closed once the machine is ready, failed or stopped
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until Done or ctx ends and returns the final snapshot
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-m.done:
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}
