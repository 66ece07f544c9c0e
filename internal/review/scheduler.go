package review

import "github.com/carebridge-hub/backend/internal/domain/entities"

// FieldOrder is the order fields are shown and resolved in
var FieldOrder = []entities.FieldName{
	entities.FieldPatientName,
	entities.FieldDOB,
	entities.FieldRoom,
	entities.FieldAllergies,
	entities.FieldCodeStatus,
	entities.FieldReasonForAdmission,
	entities.FieldGeoLocation,
	entities.FieldRelevantPMH,
	entities.FieldHospitalDay,
	entities.FieldProcedures,
	entities.FieldTemp,
	entities.FieldHeartRate,
	entities.FieldRespiratoryRate,
	entities.FieldBPSystolic,
	entities.FieldBPDiastolic,
	entities.FieldPainLevel,
	entities.FieldAdditionalInfo,
	entities.FieldMedications,
	entities.FieldNurseName,
}

// FindNext picks the next field to resolve. Missing fields come before
// uncertain ones regardless of position; within each pass the search starts
// right after startAfter and wraps around. An empty or unknown startAfter
// starts from the head of order.
func FindNext(form entities.IntakeForm, order []entities.FieldName, startAfter entities.FieldName) (entities.FieldName, bool) {
	rotated := rotateAfter(order, startAfter)
	for _, want := range []entities.FieldStatus{entities.FieldStatusMissing, entities.FieldStatusUncertain} {
		for _, f := range rotated {
			if form.Status(f) == want {
				return f, true
			}
		}
	}
	return "", false
}

func rotateAfter(order []entities.FieldName, startAfter entities.FieldName) []entities.FieldName {
	if startAfter == "" {
		return order
	}
	for i, f := range order {
		if f == startAfter {
			out := make([]entities.FieldName, 0, len(order))
			out = append(out, order[i+1:]...)
			return append(out, order[:i+1]...)
		}
	}
	return order
}
