package review

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

var (
	ErrNotReady         = errors.New("form is not ready for approval")
	ErrApprovalDeclined = errors.New("approval was not confirmed")
	ErrAlreadyApproved  = errors.New("form is already approved")
)

// DefaultRequiredFields must be non-missing before a form can be approved
var DefaultRequiredFields = []entities.FieldName{
	entities.FieldPatientName,
	entities.FieldReasonForAdmission,
	entities.FieldRelevantPMH,
}

// FormReader loads the persisted record of a session
type FormReader interface {
	LoadForm(ctx context.Context, sessionID string) (*entities.PatientRecord, error)
}

// FormWriter persists the whole record of a session
type FormWriter interface {
	SaveForm(ctx context.Context, sessionID string, record entities.PatientRecord) error
}

// Finalizer reports an approval to the backend
type Finalizer interface {
	Finalize(ctx context.Context, sessionID string) error
}

// Confirmer asks the reviewer to accept the approval
type Confirmer interface {
	ConfirmApproval(ctx context.Context, sessionID string, readiness Readiness) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer
type ConfirmerFunc func(ctx context.Context, sessionID string, readiness Readiness) (bool, error)

func (f ConfirmerFunc) ConfirmApproval(ctx context.Context, sessionID string, readiness Readiness) (bool, error) {
	return f(ctx, sessionID, readiness)
}

// Readiness explains what blocks approval
type Readiness struct {
	MissingRequired     []entities.FieldName `json:"missing_required"`
	UnresolvedFollowUps []string             `json:"unresolved_follow_ups"`
	Attention           IssueCounts          `json:"attention"`
}

// Ready reports whether nothing blocks approval
func (r Readiness) Ready() bool {
	return len(r.MissingRequired) == 0 && len(r.UnresolvedFollowUps) == 0
}

// Gate decides and performs approval of a reviewed form
type Gate struct {
	mu        sync.Mutex
	required  []entities.FieldName
	writer    FormWriter
	finalizer Finalizer
	approved  bool
}

// NewGate creates a gate. With no required fields given the defaults apply.
func NewGate(writer FormWriter, finalizer Finalizer, required ...entities.FieldName) *Gate {
	if len(required) == 0 {
		required = DefaultRequiredFields
	}
	return &Gate{
		required:  append([]entities.FieldName{}, required...),
		writer:    writer,
		finalizer: finalizer,
	}
}

// RequiredFields returns the fields approval depends on
func (g *Gate) RequiredFields() []entities.FieldName {
	return append([]entities.FieldName{}, g.required...)
}

// Check reports what blocks approval of form
func (g *Gate) Check(form entities.IntakeForm, followUps []entities.FollowUpQuestion) Readiness {
	r := Readiness{Attention: CountIssues(form, FieldOrder)}
	for _, f := range g.required {
		status := form.Status(f)
		if status == "" || status == entities.FieldStatusMissing {
			r.MissingRequired = append(r.MissingRequired, f)
		}
	}
	for _, q := range followUps {
		if q.Status == entities.FollowUpStatusNew {
			r.UnresolvedFollowUps = append(r.UnresolvedFollowUps, q.ID)
		}
	}
	return r
}

// CanApprove reports whether every required field has a value and every
// follow-up has at least been asked.
func (g *Gate) CanApprove(form entities.IntakeForm, followUps []entities.FollowUpQuestion) bool {
	return g.Check(form, followUps).Ready()
}

// Approved reports whether Approve has succeeded
func (g *Gate) Approved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approved
}

// Approve confirms with the reviewer, writes the whole form and then
// reports the approval. Any failure leaves the store and gate unchanged so
// the call can be retried. On success the store is locked.
func (g *Gate) Approve(ctx context.Context, sessionID string, store *FormStore, followUps []entities.FollowUpQuestion, confirmer Confirmer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.approved || store.Locked() {
		return ErrAlreadyApproved
	}

	form := store.Form()
	readiness := g.Check(form, followUps)
	if !readiness.Ready() {
		return fmt.Errorf("%w: %d required fields missing, %d follow-ups unresolved",
			ErrNotReady, len(readiness.MissingRequired), len(readiness.UnresolvedFollowUps))
	}

	if confirmer == nil {
		return ErrApprovalDeclined
	}
	ok, err := confirmer.ConfirmApproval(ctx, sessionID, readiness)
	if err != nil {
		return fmt.Errorf("approval confirmation failed: %w", err)
	}
	if !ok {
		return ErrApprovalDeclined
	}

	if err := g.writer.SaveForm(ctx, sessionID, ToPatientRecord(form)); err != nil {
		return fmt.Errorf("failed to save form: %w", err)
	}
	if err := g.finalizer.Finalize(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	store.Lock()
	g.approved = true
	return nil
}
