package entities

// MedicationSource records who added a medication
type MedicationSource string

const (
	MedicationSourceAI   MedicationSource = "AI"
	MedicationSourceUser MedicationSource = "User"
)

// Medication is one entry of the medications field
type Medication struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Dose      string           `json:"dose"`
	Frequency string           `json:"frequency"`
	Source    MedicationSource `json:"source"`
}
