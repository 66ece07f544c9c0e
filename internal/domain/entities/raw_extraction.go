package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawExtractedForm is the payload produced by the extraction service. Every
// field is optional; a section that fails to decode is treated as absent.
type RawExtractedForm struct {
	PatientInformation RawPatientInformation `json:"patient_information"`
	Background         RawBackground         `json:"background"`
	VitalSigns         RawVitalSigns         `json:"vital_signs"`
	CurrentAssessment  RawCurrentAssessment  `json:"current_assessment"`
	Medications        []RawMedication       `json:"medications"`
	NurseOnShift       *RawValue             `json:"nurse_on_shift"`
}

type RawPatientInformation struct {
	Name               *RawValue `json:"name"`
	DOB                *RawValue `json:"dob"`
	Room               *RawValue `json:"room"`
	Allergies          *RawValue `json:"allergies"`
	CodeStatus         *RawValue `json:"code_status"`
	ReasonForAdmission *RawValue `json:"reason_for_admission"`
	GeoLocation        *RawValue `json:"geolocation"`
	RelevantPMH        *RawValue `json:"relevant_pmh"`
}

type RawBackground struct {
	RelevantPMH *RawValue `json:"relevant_pmh"`
	HospitalDay *RawValue `json:"hospital_day"`
	Procedures  *RawValue `json:"procedures"`
}

type RawVitalSigns struct {
	TemperatureF    *RawValue `json:"temperature_f"`
	HeartRate       *RawValue `json:"heart_rate"`
	RespiratoryRate *RawValue `json:"respiratory_rate"`
	BPSystolic      *RawValue `json:"bp_systolic"`
	BPDiastolic     *RawValue `json:"bp_diastolic"`
}

type RawCurrentAssessment struct {
	PainLevel      *RawValue `json:"pain_level_0_10"`
	AdditionalInfo *RawValue `json:"additional_info"`
}

type RawMedication struct {
	Name      *RawValue `json:"name"`
	Dose      *RawValue `json:"dose"`
	Frequency *RawValue `json:"frequency"`
}

// DecodeRawExtractedForm decodes an extraction payload. Only a payload that is
// not a JSON object is an error; bad sections and bad medication entries are
// skipped.
func DecodeRawExtractedForm(data []byte) (RawExtractedForm, error) {
	var out RawExtractedForm

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return out, fmt.Errorf("raw extraction payload: %w", err)
	}
	if top == nil {
		return out, fmt.Errorf("raw extraction payload: not an object")
	}

	decodeSection(top["patient_information"], &out.PatientInformation)
	decodeSection(top["background"], &out.Background)
	decodeSection(top["vital_signs"], &out.VitalSigns)
	decodeSection(top["current_assessment"], &out.CurrentAssessment)

	if raw, ok := top["nurse_on_shift"]; ok {
		out.NurseOnShift = &RawValue{raw: raw}
	}

	var meds []json.RawMessage
	if raw, ok := top["medications"]; ok && json.Unmarshal(raw, &meds) == nil {
		for _, m := range meds {
			var med RawMedication
			if json.Unmarshal(m, &med) == nil {
				out.Medications = append(out.Medications, med)
			}
		}
	}

	return out, nil
}

func decodeSection(raw json.RawMessage, dst interface{}) {
	if len(raw) == 0 {
		return
	}
	// A section that is not an object leaves dst zero-valued.
	_ = json.Unmarshal(raw, dst)
}

// RawValue holds any JSON scalar or list as produced by the extractor
type RawValue struct {
	raw json.RawMessage
}

// NewRawValue wraps an already-encoded JSON value
func NewRawValue(raw string) *RawValue {
	return &RawValue{raw: json.RawMessage(raw)}
}

func (v *RawValue) UnmarshalJSON(data []byte) error {
	v.raw = append(v.raw[:0], data...)
	return nil
}

func (v RawValue) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// IsNull reports whether the value is absent or JSON null
func (v *RawValue) IsNull() bool {
	if v == nil {
		return true
	}
	trimmed := bytes.TrimSpace(v.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Text renders the value as display text. Lists are joined with ", ";
// objects and null render as "".
func (v *RawValue) Text() string {
	if v.IsNull() {
		return ""
	}
	return strings.TrimSpace(renderRaw(v.raw))
}

// Number returns the value as a number. Numeric strings are accepted.
func (v *RawValue) Number() (float64, bool) {
	if v.IsNull() {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v.raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// List returns the non-empty items of a list value, or the text of a
// scalar value as a single item.
func (v *RawValue) List() []string {
	if v.IsNull() {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v.raw, &items); err != nil {
		if text := v.Text(); text != "" {
			return []string{text}
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if text := strings.TrimSpace(renderRaw(item)); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func renderRaw(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if text := strings.TrimSpace(renderRaw(item)); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// SetGeoLocation returns the payload with patient_information.geolocation
// replaced by location. A missing or non-object section is replaced.
func SetGeoLocation(data []byte, location string) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("raw extraction payload: %w", err)
	}
	if top == nil {
		return nil, fmt.Errorf("raw extraction payload: not an object")
	}

	var section map[string]json.RawMessage
	if raw, ok := top["patient_information"]; !ok || json.Unmarshal(raw, &section) != nil || section == nil {
		section = map[string]json.RawMessage{}
	}
	value, err := json.Marshal(location)
	if err != nil {
		return nil, err
	}
	section["geolocation"] = value

	encoded, err := json.Marshal(section)
	if err != nil {
		return nil, err
	}
	top["patient_information"] = encoded
	return json.Marshal(top)
}
