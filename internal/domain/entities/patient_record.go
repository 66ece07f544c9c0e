package entities

// Sentinels the persisted record uses in place of empty values.
const (
	UnknownName       = "Unknown"
	NoAllergies       = "None"
	DefaultCodeStatus = "Full"
)

// PatientRecord is the persisted form of a session, written and read as a
// whole record.
type PatientRecord struct {
	Nurse             Nurse             `json:"nurse"`
	PatientInfo       PatientInfo       `json:"patient_info"`
	Background        Background        `json:"background"`
	CurrentAssessment CurrentAssessment `json:"current_assessment"`
	VitalSigns        VitalSigns        `json:"vital_signs"`
	Medications       []Medication      `json:"medications"`
}

// Nurse identifies the nurse on shift
type Nurse struct {
	Name string `json:"name"`
}

// PatientInfo holds patient identity fields. DOB stores age in years.
type PatientInfo struct {
	Name               string  `json:"name"`
	DOB                int     `json:"DOB"`
	RoomNum            int     `json:"room_num"`
	Allergies          string  `json:"allergies"`
	CodeStatus         string  `json:"code_status"`
	ReasonForAdmission *string `json:"reason_for_admission"`
	GeoLocation        *string `json:"geo_location"`
}

// Background holds history fields
type Background struct {
	PastMedicalHistory []string `json:"past_medical_history"`
	HospitalDay        *int     `json:"hospital_day"`
	Procedures         []string `json:"procedures"`
}

// VitalSigns holds the most recent vitals. Temperature is Celsius.
type VitalSigns struct {
	TempC *float64 `json:"temp_c"`
	HRBpm *int     `json:"hr_bpm"`
	RRBpm *int     `json:"rr_bpm"`
	BPSys *int     `json:"bp_sys"`
	BPDia *int     `json:"bp_dia"`
}

// CurrentAssessment holds the nurse's current assessment
type CurrentAssessment struct {
	PainLevel      *int    `json:"pain_level_0_10"`
	AdditionalInfo *string `json:"additional_info"`
}

// NewPatientRecord returns the empty record a new session starts with
func NewPatientRecord() PatientRecord {
	return PatientRecord{
		Nurse: Nurse{Name: UnknownName},
		PatientInfo: PatientInfo{
			Name:       UnknownName,
			Allergies:  NoAllergies,
			CodeStatus: DefaultCodeStatus,
		},
		Medications: []Medication{},
	}
}
