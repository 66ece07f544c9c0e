package entities

// Speaker labels a transcript segment
type Speaker string

const (
	SpeakerNurse   Speaker = "Nurse"
	SpeakerPatient Speaker = "Patient"
)

// TranscriptSegment is one attributed chunk of transcript text. Only
// IsPinned changes after the segment is created.
type TranscriptSegment struct {
	ID        string  `json:"id"`
	Speaker   Speaker `json:"speaker"`
	Timestamp string  `json:"timestamp"`
	Text      string  `json:"text"`
	IsPinned  bool    `json:"isPinned"`
}
