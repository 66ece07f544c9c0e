package review

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

var (
	ErrFollowUpNotFound  = errors.New("follow-up question not found")
	ErrInvalidTransition = errors.New("invalid follow-up status transition")
	ErrEmptyAnswer       = errors.New("follow-up answer must not be empty")
)

// FollowUps tracks the follow-up questions of one review
type FollowUps struct {
	items []entities.FollowUpQuestion
}

// NewFollowUps takes a copy of items. Unknown statuses are read as new.
func NewFollowUps(items []entities.FollowUpQuestion) *FollowUps {
	out := make([]entities.FollowUpQuestion, len(items))
	for i, q := range items {
		q.RelatedFieldIDs = append([]entities.FieldName(nil), q.RelatedFieldIDs...)
		switch q.Status {
		case entities.FollowUpStatusAsked, entities.FollowUpStatusAnswered:
		default:
			q.Status = entities.FollowUpStatusNew
		}
		out[i] = q
	}
	return &FollowUps{items: out}
}

// List returns a copy of the questions
func (f *FollowUps) List() []entities.FollowUpQuestion {
	out := make([]entities.FollowUpQuestion, len(f.items))
	copy(out, f.items)
	return out
}

// Add appends a new question
func (f *FollowUps) Add(question, rationale string, related ...entities.FieldName) entities.FollowUpQuestion {
	q := entities.FollowUpQuestion{
		ID:              uuid.NewString(),
		Question:        question,
		Rationale:       rationale,
		Status:          entities.FollowUpStatusNew,
		RelatedFieldIDs: related,
	}
	f.items = append(f.items, q)
	return q
}

// Unresolved counts questions still in the new state
func (f *FollowUps) Unresolved() int {
	n := 0
	for _, q := range f.items {
		if q.Status == entities.FollowUpStatusNew {
			n++
		}
	}
	return n
}

func (f *FollowUps) find(id string) (*entities.FollowUpQuestion, error) {
	for i := range f.items {
		if f.items[i].ID == id {
			return &f.items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFollowUpNotFound, id)
}

// MarkAsked records that the question was put to the patient. Calling it on
// an answered question reopens it for editing.
func (f *FollowUps) MarkAsked(id string) error {
	q, err := f.find(id)
	if err != nil {
		return err
	}
	q.Status = entities.FollowUpStatusAsked
	return nil
}

// Answer stores the answer and pushes it into the related fields of store as
// a suggestion. Answering a new question implies it was asked. An answered
// question must be reopened with MarkAsked before it can be answered again.
func (f *FollowUps) Answer(id, answer string, store *FormStore) error {
	q, err := f.find(id)
	if err != nil {
		return err
	}
	if q.Status == entities.FollowUpStatusAnswered {
		return fmt.Errorf("%w: %s is already answered", ErrInvalidTransition, id)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ErrEmptyAnswer
	}
	if store != nil && store.Locked() {
		return ErrFormLocked
	}

	q.Answer = answer
	q.Status = entities.FollowUpStatusAnswered

	if store == nil {
		return nil
	}
	for _, field := range q.RelatedFieldIDs {
		if !entities.IsTextField(field) {
			continue
		}
		if err := store.Suggest(field, answer); err != nil {
			return err
		}
	}
	return nil
}
