package review

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// ExtractionConfidence is the confidence attached to every non-empty field
// read from an extraction payload.
const ExtractionConfidence = 0.85

const maxAge = 130

// clinicallyRequired marks fields the reviewer is expected to complete. It
// drives display only; approval readiness is decided by Gate.
var clinicallyRequired = map[entities.FieldName]bool{
	entities.FieldPatientName:        true,
	entities.FieldDOB:                true,
	entities.FieldRoom:               true,
	entities.FieldAllergies:          true,
	entities.FieldCodeStatus:         true,
	entities.FieldReasonForAdmission: true,
	entities.FieldRelevantPMH:        true,
	entities.FieldTemp:               true,
	entities.FieldHeartRate:          true,
	entities.FieldRespiratoryRate:    true,
	entities.FieldBPSystolic:         true,
	entities.FieldBPDiastolic:        true,
	entities.FieldPainLevel:          true,
	entities.FieldNurseName:          true,
}

// FromRawExtraction builds a reviewable form from an extraction payload.
// Non-empty fields are uncertain; absent or empty ones are missing.
func FromRawExtraction(raw entities.RawExtractedForm) entities.IntakeForm {
	return FromRawExtractionAt(raw, time.Now())
}

// FromRawExtractionAt is FromRawExtraction with an explicit reference time
// for converting a date of birth into an age.
func FromRawExtractionAt(raw entities.RawExtractedForm, now time.Time) entities.IntakeForm {
	pi := raw.PatientInformation
	bg := raw.Background
	vs := raw.VitalSigns
	ca := raw.CurrentAssessment

	pmh := pi.RelevantPMH.Text()
	if pmh == "" {
		pmh = bg.RelevantPMH.Text()
	}

	values := map[entities.FieldName]string{
		entities.FieldPatientName:        pi.Name.Text(),
		entities.FieldDOB:                ageFromRaw(pi.DOB, now),
		entities.FieldRoom:               pi.Room.Text(),
		entities.FieldAllergies:          pi.Allergies.Text(),
		entities.FieldCodeStatus:         pi.CodeStatus.Text(),
		entities.FieldReasonForAdmission: pi.ReasonForAdmission.Text(),
		entities.FieldGeoLocation:        pi.GeoLocation.Text(),
		entities.FieldRelevantPMH:        pmh,
		entities.FieldHospitalDay:        bg.HospitalDay.Text(),
		entities.FieldProcedures:         bg.Procedures.Text(),
		entities.FieldTemp:               celsiusFromRaw(vs.TemperatureF),
		entities.FieldHeartRate:          vs.HeartRate.Text(),
		entities.FieldRespiratoryRate:    vs.RespiratoryRate.Text(),
		entities.FieldBPSystolic:         vs.BPSystolic.Text(),
		entities.FieldBPDiastolic:        vs.BPDiastolic.Text(),
		entities.FieldPainLevel:          ca.PainLevel.Text(),
		entities.FieldAdditionalInfo:     ca.AdditionalInfo.Text(),
		entities.FieldNurseName:          raw.NurseOnShift.Text(),
	}

	form := entities.NewIntakeForm()
	for name, value := range values {
		form.Text[name] = extractedField(value, clinicallyRequired[name])
	}

	meds := make([]entities.Medication, 0, len(raw.Medications))
	for _, m := range raw.Medications {
		name := m.Name.Text()
		if name == "" {
			continue
		}
		meds = append(meds, entities.Medication{
			ID:        fmt.Sprintf("ai-med-%d", len(meds)),
			Name:      name,
			Dose:      m.Dose.Text(),
			Frequency: m.Frequency.Text(),
			Source:    entities.MedicationSourceAI,
		})
	}
	form.Medications = entities.FieldMetadata[[]entities.Medication]{
		Value:  meds,
		Status: entities.FieldStatusMissing,
	}
	if len(meds) > 0 {
		confidence := ExtractionConfidence
		form.Medications.Status = entities.FieldStatusUncertain
		form.Medications.Confidence = &confidence
	}

	return form
}

func extractedField(value string, required bool) *entities.FieldMetadata[string] {
	meta := &entities.FieldMetadata[string]{IsRequired: required}
	if entities.IsEmptyText(value) {
		meta.Status = entities.FieldStatusMissing
		return meta
	}
	confidence := ExtractionConfidence
	meta.Value = value
	meta.Status = entities.FieldStatusUncertain
	meta.Confidence = &confidence
	return meta
}

var dobLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006", "2006-01", "2006"}

// ageFromRaw converts a date of birth into whole years of age. A bare number
// below maxAge is taken as an age already.
func ageFromRaw(v *entities.RawValue, now time.Time) string {
	if n, ok := v.Number(); ok {
		switch {
		case n > 0 && n < maxAge:
			return strconv.Itoa(int(n))
		case n >= 1000:
			return ageString(now.Year() - int(n))
		}
		return ""
	}
	text := v.Text()
	if text == "" {
		return ""
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return ageString(now.Year() - t.Year())
		}
	}
	return ""
}

func ageString(age int) string {
	if age <= 0 || age >= maxAge {
		return ""
	}
	return strconv.Itoa(age)
}

func celsiusFromRaw(v *entities.RawValue) string {
	f, ok := v.Number()
	if !ok {
		return ""
	}
	return strconv.FormatFloat((f-32)*5/9, 'f', 1, 64)
}

// FromPatientRecord builds a reviewable form from a persisted record.
// Sentinel defaults read as empty; everything else is filled.
func FromPatientRecord(rec entities.PatientRecord) entities.IntakeForm {
	pi := rec.PatientInfo
	bg := rec.Background
	vs := rec.VitalSigns
	ca := rec.CurrentAssessment

	values := map[entities.FieldName]string{
		entities.FieldPatientName:        unlessSentinel(pi.Name, entities.UnknownName),
		entities.FieldDOB:                nonZeroInt(pi.DOB),
		entities.FieldRoom:               nonZeroInt(pi.RoomNum),
		entities.FieldAllergies:          unlessSentinel(pi.Allergies, entities.NoAllergies),
		entities.FieldCodeStatus:         unlessSentinel(pi.CodeStatus, entities.DefaultCodeStatus),
		entities.FieldReasonForAdmission: derefString(pi.ReasonForAdmission),
		entities.FieldGeoLocation:        derefString(pi.GeoLocation),
		entities.FieldRelevantPMH:        strings.Join(bg.PastMedicalHistory, ", "),
		entities.FieldHospitalDay:        derefInt(bg.HospitalDay),
		entities.FieldProcedures:         strings.Join(bg.Procedures, ", "),
		entities.FieldTemp:               derefFloat(vs.TempC),
		entities.FieldHeartRate:          derefInt(vs.HRBpm),
		entities.FieldRespiratoryRate:    derefInt(vs.RRBpm),
		entities.FieldBPSystolic:         derefInt(vs.BPSys),
		entities.FieldBPDiastolic:        derefInt(vs.BPDia),
		entities.FieldPainLevel:          derefInt(ca.PainLevel),
		entities.FieldAdditionalInfo:     derefString(ca.AdditionalInfo),
		entities.FieldNurseName:          unlessSentinel(rec.Nurse.Name, entities.UnknownName),
	}

	form := entities.NewIntakeForm()
	for name, value := range values {
		meta := &entities.FieldMetadata[string]{
			Value:      strings.TrimSpace(value),
			Status:     entities.FieldStatusFilled,
			IsRequired: clinicallyRequired[name],
		}
		if entities.IsEmptyText(meta.Value) {
			meta.Value = ""
			meta.Status = entities.FieldStatusMissing
		}
		form.Text[name] = meta
	}

	meds := append([]entities.Medication{}, rec.Medications...)
	form.Medications = entities.FieldMetadata[[]entities.Medication]{
		Value:  meds,
		Status: entities.FieldStatusMissing,
	}
	if len(meds) > 0 {
		form.Medications.Status = entities.FieldStatusFilled
	}
	return form
}

// ToPatientRecord converts a form into the whole record persisted for the
// session. Empty fields become the record's sentinels or nulls.
func ToPatientRecord(form entities.IntakeForm) entities.PatientRecord {
	get := func(name entities.FieldName) string {
		return strings.TrimSpace(form.TextValue(name))
	}

	rec := entities.NewPatientRecord()
	rec.Nurse.Name = orDefault(get(entities.FieldNurseName), entities.UnknownName)

	rec.PatientInfo = entities.PatientInfo{
		Name:               orDefault(get(entities.FieldPatientName), entities.UnknownName),
		DOB:                intOrZero(get(entities.FieldDOB)),
		RoomNum:            intOrZero(get(entities.FieldRoom)),
		Allergies:          orDefault(get(entities.FieldAllergies), entities.NoAllergies),
		CodeStatus:         orDefault(get(entities.FieldCodeStatus), entities.DefaultCodeStatus),
		ReasonForAdmission: stringOrNil(get(entities.FieldReasonForAdmission)),
		GeoLocation:        stringOrNil(get(entities.FieldGeoLocation)),
	}
	rec.Background = entities.Background{
		PastMedicalHistory: splitList(get(entities.FieldRelevantPMH)),
		HospitalDay:        intOrNil(get(entities.FieldHospitalDay)),
		Procedures:         splitList(get(entities.FieldProcedures)),
	}
	rec.CurrentAssessment = entities.CurrentAssessment{
		PainLevel:      intOrNil(get(entities.FieldPainLevel)),
		AdditionalInfo: stringOrNil(get(entities.FieldAdditionalInfo)),
	}
	rec.VitalSigns = entities.VitalSigns{
		TempC: floatOrNil(get(entities.FieldTemp)),
		HRBpm: intOrNil(get(entities.FieldHeartRate)),
		RRBpm: intOrNil(get(entities.FieldRespiratoryRate)),
		BPSys: intOrNil(get(entities.FieldBPSystolic)),
		BPDia: intOrNil(get(entities.FieldBPDiastolic)),
	}
	rec.Medications = append([]entities.Medication{}, form.Medications.Value...)
	return rec
}

func unlessSentinel(v, sentinel string) string {
	if strings.TrimSpace(v) == sentinel {
		return ""
	}
	return v
}

func nonZeroInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func derefFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func stringOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// parseNumber accepts a leading number and ignores trailing units ("98 bpm")
func parseNumber(v string) (float64, bool) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimRight(fields[0], ",;"), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func intOrNil(v string) *int {
	f, ok := parseNumber(v)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

func intOrZero(v string) int {
	if p := intOrNil(v); p != nil {
		return *p
	}
	return 0
}

func floatOrNil(v string) *float64 {
	f, ok := parseNumber(v)
	if !ok {
		return nil
	}
	return &f
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
