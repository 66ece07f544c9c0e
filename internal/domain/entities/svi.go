package entities

// SVIFlags are the CDC Social Vulnerability Index flags of one county.
// Theme1 counts the socioeconomic flags (0-4); the others are 0 or 1.
type SVIFlags struct {
	Theme1         int `json:"F_THEME1"`
	LimitedEnglish int `json:"F_LIMENG"`
	Crowding       int `json:"F_CROWD"`
	NoVehicle      int `json:"F_NOVEH"`
	GroupQuarters  int `json:"F_GROUPQ"`
}

// County is a resolved US county
type County struct {
	Name  string `json:"county"`
	State string `json:"state"`
}

// Location renders the county as stored in the record's geolocation field
func (c County) Location() string {
	return c.Name + ", " + c.State
}

// SVI risk categories
const (
	SVICategoryLow      = "Low"
	SVICategoryModerate = "Moderate"
	SVICategoryHigh     = "High"
)

// SVIMetric is one displayed vulnerability indicator
type SVIMetric struct {
	Label    string `json:"label"`
	Score    string `json:"score"`
	Category string `json:"category"`
}

// SVI report error codes
const (
	SVIErrorUnavailable        = "svi_unavailable"
	SVIErrorTranscriptNotReady = "transcript_not_ready"
	SVIErrorNoZIP              = "no_zip_found"
	SVIErrorCountyLookupFailed = "county_lookup_failed"
	SVIErrorLocationNotFound   = "location_not_found"
)

// SVIReport is the social vulnerability view of a session. Error is set
// instead of Metrics when the lookup could not complete.
type SVIReport struct {
	ZIP       string             `json:"zip,omitempty"`
	Location  string             `json:"location,omitempty"`
	Metrics   []SVIMetric        `json:"metrics"`
	Questions []FollowUpQuestion `json:"questions"`
	Error     string             `json:"error,omitempty"`
}
