package review_test

import (
	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// formWith returns a form where the listed fields carry the given status and
// a matching value; every other field is missing.
func formWith(statuses map[entities.FieldName]entities.FieldStatus) entities.IntakeForm {
	form := entities.NewIntakeForm()
	for name, status := range statuses {
		if name == entities.FieldMedications {
			form.Medications.Status = status
			if status != entities.FieldStatusMissing {
				form.Medications.Value = []entities.Medication{{ID: "m-1", Name: "Aspirin", Source: entities.MedicationSourceAI}}
			}
			continue
		}
		meta := form.Text[name]
		meta.Status = status
		if status != entities.FieldStatusMissing {
			meta.Value = "value for " + string(name)
		}
	}
	return form
}

func allFields() []entities.FieldName {
	return append(append([]entities.FieldName{}, entities.TextFields...), entities.FieldMedications)
}

func assertInvariant(t interface {
	Errorf(format string, args ...interface{})
}, form entities.IntakeForm) {
	for _, name := range allFields() {
		view, ok := form.View(name)
		if !ok {
			t.Errorf("field %s is absent", name)
			continue
		}
		if (view.Status == entities.FieldStatusMissing) != view.Empty {
			t.Errorf("field %s: status %s but empty=%v", name, view.Status, view.Empty)
		}
	}
}
