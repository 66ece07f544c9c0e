package entities

// FollowUpStatus tracks whether a follow-up question has been handled
type FollowUpStatus string

const (
	FollowUpStatusNew      FollowUpStatus = "new"
	FollowUpStatusAsked    FollowUpStatus = "asked"
	FollowUpStatusAnswered FollowUpStatus = "answered"
)

// FollowUpQuestion is a suggested clarifying question for the reviewer.
// RelatedFieldIDs names the form fields an answer may fill.
type FollowUpQuestion struct {
	ID              string         `json:"id"`
	Question        string         `json:"question"`
	Rationale       string         `json:"rationale"`
	Status          FollowUpStatus `json:"status"`
	Answer          string         `json:"answer,omitempty"`
	RelatedFieldIDs []FieldName    `json:"relatedFieldIds,omitempty"`
}
