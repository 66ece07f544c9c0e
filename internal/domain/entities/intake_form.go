package entities

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldStatus is the provenance/attention status of one form field
type FieldStatus string

const (
	FieldStatusMissing   FieldStatus = "missing"
	FieldStatusUncertain FieldStatus = "uncertain"
	FieldStatusFilled    FieldStatus = "filled"
	FieldStatusConfirmed FieldStatus = "confirmed"
)

// FieldName identifies a slot in the intake form
type FieldName string

const (
	FieldPatientName        FieldName = "patientName"
	FieldDOB                FieldName = "dob"
	FieldRoom               FieldName = "room"
	FieldAllergies          FieldName = "allergies"
	FieldCodeStatus         FieldName = "codeStatus"
	FieldReasonForAdmission FieldName = "reasonForAdmission"
	FieldGeoLocation        FieldName = "geoLocation"
	FieldRelevantPMH        FieldName = "relevantPMH"
	FieldHospitalDay        FieldName = "hospitalDay"
	FieldProcedures         FieldName = "procedures"
	FieldTemp               FieldName = "temp"
	FieldHeartRate          FieldName = "heartRate"
	FieldRespiratoryRate    FieldName = "respiratoryRate"
	FieldBPSystolic         FieldName = "bpSystolic"
	FieldBPDiastolic        FieldName = "bpDiastolic"
	FieldPainLevel          FieldName = "painLevel"
	FieldAdditionalInfo     FieldName = "additionalInfo"
	FieldMedications        FieldName = "medications"
	FieldNurseName          FieldName = "nurseName"
)

// TextFields lists every string-valued field of the form. Medications is
// the only list-valued field.
var TextFields = []FieldName{
	FieldPatientName, FieldDOB, FieldRoom, FieldAllergies, FieldCodeStatus,
	FieldReasonForAdmission, FieldGeoLocation,
	FieldRelevantPMH, FieldHospitalDay, FieldProcedures,
	FieldTemp, FieldHeartRate, FieldRespiratoryRate, FieldBPSystolic, FieldBPDiastolic,
	FieldPainLevel, FieldAdditionalInfo,
	FieldNurseName,
}

// IsTextField reports whether name is one of TextFields
func IsTextField(name FieldName) bool {
	for _, f := range TextFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsKnownField reports whether name is a field of the intake form
func IsKnownField(name FieldName) bool {
	return name == FieldMedications || IsTextField(name)
}

// FieldMetadata carries a field's value plus provenance. Status is missing
// exactly when Value is empty.
type FieldMetadata[T any] struct {
	Value          T           `json:"value"`
	Status         FieldStatus `json:"status"`
	Confidence     *float64    `json:"confidence,omitempty"`
	EvidenceIDs    []string    `json:"evidenceIds,omitempty"`
	SuggestedValue *T          `json:"suggestedValue,omitempty"`
	IsRequired     bool        `json:"isRequired,omitempty"`
}

// FieldView is the value-independent view of a field
type FieldView struct {
	Name        FieldName
	Status      FieldStatus
	Empty       bool
	IsRequired  bool
	Confidence  *float64
	EvidenceIDs []string
}

// IsEmptyText reports whether a text value counts as empty
func IsEmptyText(v string) bool {
	return strings.TrimSpace(v) == ""
}

// IsEmptyMedications reports whether a medication list counts as empty
func IsEmptyMedications(v []Medication) bool {
	return len(v) == 0
}

// IntakeForm maps every field name to its metadata. It is created whole and
// persisted whole.
type IntakeForm struct {
	Text        map[FieldName]*FieldMetadata[string]
	Medications FieldMetadata[[]Medication]
}

// NewIntakeForm returns a form with every field present and missing
func NewIntakeForm() IntakeForm {
	form := IntakeForm{
		Text: make(map[FieldName]*FieldMetadata[string], len(TextFields)),
		Medications: FieldMetadata[[]Medication]{
			Value:  []Medication{},
			Status: FieldStatusMissing,
		},
	}
	for _, name := range TextFields {
		form.Text[name] = &FieldMetadata[string]{Status: FieldStatusMissing}
	}
	return form
}

// View returns the value-independent view of a field
func (f IntakeForm) View(name FieldName) (FieldView, bool) {
	if name == FieldMedications {
		m := f.Medications
		return FieldView{
			Name:        name,
			Status:      m.Status,
			Empty:       IsEmptyMedications(m.Value),
			IsRequired:  m.IsRequired,
			Confidence:  m.Confidence,
			EvidenceIDs: m.EvidenceIDs,
		}, true
	}
	meta, ok := f.Text[name]
	if !ok || meta == nil {
		return FieldView{}, false
	}
	return FieldView{
		Name:        name,
		Status:      meta.Status,
		Empty:       IsEmptyText(meta.Value),
		IsRequired:  meta.IsRequired,
		Confidence:  meta.Confidence,
		EvidenceIDs: meta.EvidenceIDs,
	}, true
}

// Status returns a field's status, or "" for an unknown field
func (f IntakeForm) Status(name FieldName) FieldStatus {
	view, ok := f.View(name)
	if !ok {
		return ""
	}
	return view.Status
}

// TextValue returns a text field's value
func (f IntakeForm) TextValue(name FieldName) string {
	if meta, ok := f.Text[name]; ok && meta != nil {
		return meta.Value
	}
	return ""
}

// Clone returns a deep copy of the form
func (f IntakeForm) Clone() IntakeForm {
	out := IntakeForm{
		Text:        make(map[FieldName]*FieldMetadata[string], len(f.Text)),
		Medications: cloneMeta(f.Medications),
	}
	out.Medications.Value = append([]Medication{}, f.Medications.Value...)
	if f.Medications.SuggestedValue != nil {
		s := append([]Medication{}, (*f.Medications.SuggestedValue)...)
		out.Medications.SuggestedValue = &s
	}
	for name, meta := range f.Text {
		if meta == nil {
			continue
		}
		c := cloneMeta(*meta)
		out.Text[name] = &c
	}
	return out
}

func cloneMeta[T any](m FieldMetadata[T]) FieldMetadata[T] {
	out := m
	if m.Confidence != nil {
		c := *m.Confidence
		out.Confidence = &c
	}
	if m.EvidenceIDs != nil {
		out.EvidenceIDs = append([]string{}, m.EvidenceIDs...)
	}
	if m.SuggestedValue != nil {
		s := *m.SuggestedValue
		out.SuggestedValue = &s
	}
	return out
}

// Normalize restores the status/emptiness invariant on every field. Forms
// decoded from outside the process go through it.
func (f *IntakeForm) Normalize() {
	if f.Text == nil {
		f.Text = make(map[FieldName]*FieldMetadata[string], len(TextFields))
	}
	for _, name := range TextFields {
		meta, ok := f.Text[name]
		if !ok || meta == nil {
			meta = &FieldMetadata[string]{}
			f.Text[name] = meta
		}
		meta.Status = normalizedStatus(meta.Status, IsEmptyText(meta.Value))
	}
	for name := range f.Text {
		if !IsTextField(name) {
			delete(f.Text, name)
		}
	}
	if f.Medications.Value == nil {
		f.Medications.Value = []Medication{}
	}
	f.Medications.Status = normalizedStatus(f.Medications.Status, IsEmptyMedications(f.Medications.Value))
}

func normalizedStatus(status FieldStatus, empty bool) FieldStatus {
	if empty {
		return FieldStatusMissing
	}
	switch status {
	case FieldStatusUncertain, FieldStatusFilled, FieldStatusConfirmed:
		return status
	default:
		return FieldStatusFilled
	}
}

// MarshalJSON writes the form as a flat object keyed by field name
func (f IntakeForm) MarshalJSON() ([]byte, error) {
	flat := make(map[FieldName]interface{}, len(f.Text)+1)
	for name, meta := range f.Text {
		flat[name] = meta
	}
	flat[FieldMedications] = f.Medications
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat object keyed by field name. Absent fields are
// missing and unknown keys are ignored.
func (f *IntakeForm) UnmarshalJSON(data []byte) error {
	var flat map[FieldName]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("intake form: %w", err)
	}

	form := NewIntakeForm()
	for _, name := range TextFields {
		raw, ok := flat[name]
		if !ok {
			continue
		}
		var meta FieldMetadata[string]
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("intake form field %s: %w", name, err)
		}
		form.Text[name] = &meta
	}
	if raw, ok := flat[FieldMedications]; ok {
		if err := json.Unmarshal(raw, &form.Medications); err != nil {
			return fmt.Errorf("intake form field %s: %w", FieldMedications, err)
		}
	}

	form.Normalize()
	*f = form
	return nil
}
