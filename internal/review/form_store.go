package review

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

var (
	ErrEmptyValue         = errors.New("value must not be empty once the field has one")
	ErrFormLocked         = errors.New("form is locked after approval")
	ErrUnknownField       = errors.New("unknown form field")
	ErrNoSuggestion       = errors.New("field has no suggested value")
	ErrNoPendingEdit      = errors.New("field has no pending edit")
	ErrMedicationNotFound = errors.New("medication not found")
)

// IssueCounts summarizes fields needing attention
type IssueCounts struct {
	Missing   int `json:"missing"`
	Uncertain int `json:"uncertain"`
}

// Total returns the number of fields needing attention
func (c IssueCounts) Total() int {
	return c.Missing + c.Uncertain
}

// Section groups fields for display
type Section struct {
	Title  string               `json:"title"`
	Fields []entities.FieldName `json:"fields"`
}

// Sections is the fixed grouping of form fields
var Sections = []Section{
	{Title: "Patient Information", Fields: []entities.FieldName{
		entities.FieldPatientName, entities.FieldDOB, entities.FieldRoom, entities.FieldAllergies,
		entities.FieldCodeStatus, entities.FieldReasonForAdmission, entities.FieldGeoLocation,
	}},
	{Title: "Background", Fields: []entities.FieldName{
		entities.FieldRelevantPMH, entities.FieldHospitalDay, entities.FieldProcedures,
	}},
	{Title: "Vital Signs", Fields: []entities.FieldName{
		entities.FieldTemp, entities.FieldHeartRate, entities.FieldRespiratoryRate,
		entities.FieldBPSystolic, entities.FieldBPDiastolic,
	}},
	{Title: "Current Assessment", Fields: []entities.FieldName{
		entities.FieldPainLevel, entities.FieldAdditionalInfo,
	}},
	{Title: "Medications", Fields: []entities.FieldName{entities.FieldMedications}},
	{Title: "Nurse", Fields: []entities.FieldName{entities.FieldNurseName}},
}

// FormStore holds the editable form of one review. A field only moves out of
// missing, never back, and a value is empty exactly when the field is
// missing. FormStore is not safe for concurrent use.
type FormStore struct {
	form        entities.IntakeForm
	pending     map[entities.FieldName]string
	pendingMeds []entities.Medication
	hasPendMeds bool
	locked      bool
}

// NewFormStore takes ownership of a copy of form
func NewFormStore(form entities.IntakeForm) *FormStore {
	f := form.Clone()
	f.Normalize()
	return &FormStore{
		form:    f,
		pending: make(map[entities.FieldName]string),
	}
}

// Form returns a copy of the current form
func (s *FormStore) Form() entities.IntakeForm {
	return s.form.Clone()
}

// View returns the value-independent view of a field
func (s *FormStore) View(field entities.FieldName) (entities.FieldView, bool) {
	return s.form.View(field)
}

// Value returns a text field's value
func (s *FormStore) Value(field entities.FieldName) string {
	return s.form.TextValue(field)
}

// Medications returns a copy of the medication list
func (s *FormStore) Medications() []entities.Medication {
	return append([]entities.Medication{}, s.form.Medications.Value...)
}

// Lock makes the store read-only
func (s *FormStore) Lock() {
	s.locked = true
}

// Locked reports whether the store is read-only
func (s *FormStore) Locked() bool {
	return s.locked
}

func (s *FormStore) textField(field entities.FieldName) (*entities.FieldMetadata[string], error) {
	if s.locked {
		return nil, ErrFormLocked
	}
	meta, ok := s.form.Text[field]
	if !ok || meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return meta, nil
}

// SetValue replaces a text field's value. A missing field becomes filled
// when given a value; other statuses are kept.
func (s *FormStore) SetValue(field entities.FieldName, value string) error {
	meta, err := s.textField(field)
	if err != nil {
		return err
	}
	empty := entities.IsEmptyText(value)
	if meta.Status == entities.FieldStatusMissing {
		if empty {
			delete(s.pending, field)
			return nil
		}
		meta.Status = entities.FieldStatusFilled
	} else if empty {
		return fmt.Errorf("%w: %s", ErrEmptyValue, field)
	}

	meta.Value = value
	s.commitText(field, meta)
	return nil
}

// Confirm replaces a text field's value and marks it confirmed
func (s *FormStore) Confirm(field entities.FieldName, value string) error {
	meta, err := s.textField(field)
	if err != nil {
		return err
	}
	if entities.IsEmptyText(value) {
		return fmt.Errorf("%w: %s", ErrEmptyValue, field)
	}
	meta.Value = value
	meta.Status = entities.FieldStatusConfirmed
	s.commitText(field, meta)
	return nil
}

func (s *FormStore) commitText(field entities.FieldName, meta *entities.FieldMetadata[string]) {
	delete(s.pending, field)
	if meta.SuggestedValue != nil && strings.TrimSpace(*meta.SuggestedValue) == strings.TrimSpace(meta.Value) {
		meta.SuggestedValue = nil
	}
}

// Edit stages a value in the pending edit buffer without committing it
func (s *FormStore) Edit(field entities.FieldName, value string) error {
	if _, err := s.textField(field); err != nil {
		return err
	}
	s.pending[field] = value
	return nil
}

// Pending returns the staged edit for a text field
func (s *FormStore) Pending(field entities.FieldName) (string, bool) {
	v, ok := s.pending[field]
	return v, ok
}

// PendingMedications returns the staged medication list
func (s *FormStore) PendingMedications() ([]entities.Medication, bool) {
	if !s.hasPendMeds {
		return nil, false
	}
	return append([]entities.Medication{}, s.pendingMeds...), true
}

// Suggest records a suggested value for a text field, e.g. from a follow-up
// answer. The value itself is untouched.
func (s *FormStore) Suggest(field entities.FieldName, value string) error {
	meta, err := s.textField(field)
	if err != nil {
		return err
	}
	if entities.IsEmptyText(value) {
		meta.SuggestedValue = nil
		return nil
	}
	meta.SuggestedValue = &value
	return nil
}

// AcceptSuggestion copies a field's suggested value into the pending edit
// buffer. Committing still requires SetValue, Confirm or ConfirmPending.
func (s *FormStore) AcceptSuggestion(field entities.FieldName) error {
	if s.locked {
		return ErrFormLocked
	}
	if field == entities.FieldMedications {
		if s.form.Medications.SuggestedValue == nil {
			return fmt.Errorf("%w: %s", ErrNoSuggestion, field)
		}
		s.pendingMeds = append([]entities.Medication{}, (*s.form.Medications.SuggestedValue)...)
		s.hasPendMeds = true
		return nil
	}
	meta, err := s.textField(field)
	if err != nil {
		return err
	}
	if meta.SuggestedValue == nil {
		return fmt.Errorf("%w: %s", ErrNoSuggestion, field)
	}
	s.pending[field] = *meta.SuggestedValue
	return nil
}

// ConfirmPending commits the staged edit of a field as confirmed
func (s *FormStore) ConfirmPending(field entities.FieldName) error {
	if s.locked {
		return ErrFormLocked
	}
	if field == entities.FieldMedications {
		if !s.hasPendMeds {
			return fmt.Errorf("%w: %s", ErrNoPendingEdit, field)
		}
		return s.ConfirmMedications(s.pendingMeds)
	}
	value, ok := s.pending[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingEdit, field)
	}
	return s.Confirm(field, value)
}

// SetMedications replaces the medication list under the same rules as
// SetValue.
func (s *FormStore) SetMedications(list []entities.Medication) error {
	if s.locked {
		return ErrFormLocked
	}
	meta := &s.form.Medications
	empty := entities.IsEmptyMedications(list)
	if meta.Status == entities.FieldStatusMissing {
		if empty {
			s.clearPendingMeds()
			return nil
		}
		meta.Status = entities.FieldStatusFilled
	} else if empty {
		return fmt.Errorf("%w: %s", ErrEmptyValue, entities.FieldMedications)
	}
	meta.Value = append([]entities.Medication{}, list...)
	s.commitMeds()
	return nil
}

// ConfirmMedications replaces the medication list and marks it confirmed
func (s *FormStore) ConfirmMedications(list []entities.Medication) error {
	if s.locked {
		return ErrFormLocked
	}
	if entities.IsEmptyMedications(list) {
		return fmt.Errorf("%w: %s", ErrEmptyValue, entities.FieldMedications)
	}
	s.form.Medications.Value = append([]entities.Medication{}, list...)
	s.form.Medications.Status = entities.FieldStatusConfirmed
	s.commitMeds()
	return nil
}

func (s *FormStore) commitMeds() {
	s.clearPendingMeds()
	s.form.Medications.SuggestedValue = nil
}

func (s *FormStore) clearPendingMeds() {
	s.pendingMeds = nil
	s.hasPendMeds = false
}

// AddMedication appends a reviewer-entered medication
func (s *FormStore) AddMedication(name, dose, frequency string) (entities.Medication, error) {
	if s.locked {
		return entities.Medication{}, ErrFormLocked
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return entities.Medication{}, fmt.Errorf("%w: medication name", ErrEmptyValue)
	}
	med := entities.Medication{
		ID:        uuid.NewString(),
		Name:      name,
		Dose:      strings.TrimSpace(dose),
		Frequency: strings.TrimSpace(frequency),
		Source:    entities.MedicationSourceUser,
	}
	list := append(s.Medications(), med)
	if err := s.SetMedications(list); err != nil {
		return entities.Medication{}, err
	}
	return med, nil
}

// RemoveMedication removes a medication by id. The last entry of a list that
// has left missing cannot be removed.
func (s *FormStore) RemoveMedication(id string) error {
	if s.locked {
		return ErrFormLocked
	}
	current := s.form.Medications.Value
	list := make([]entities.Medication, 0, len(current))
	found := false
	for _, m := range current {
		if m.ID == id {
			found = true
			continue
		}
		list = append(list, m)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMedicationNotFound, id)
	}
	return s.SetMedications(list)
}

// SectionIssueCounts counts missing and uncertain fields among fields
func (s *FormStore) SectionIssueCounts(fields []entities.FieldName) IssueCounts {
	return CountIssues(s.form, fields)
}

// Attention counts missing and uncertain fields across the whole form
func (s *FormStore) Attention() IssueCounts {
	return CountIssues(s.form, FieldOrder)
}

// CountIssues counts missing and uncertain fields of form among fields
func CountIssues(form entities.IntakeForm, fields []entities.FieldName) IssueCounts {
	var counts IssueCounts
	for _, f := range fields {
		switch form.Status(f) {
		case entities.FieldStatusMissing:
			counts.Missing++
		case entities.FieldStatusUncertain:
			counts.Uncertain++
		}
	}
	return counts
}
