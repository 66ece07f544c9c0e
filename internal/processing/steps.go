package processing

import "github.com/carebridge-hub/backend/internal/domain/entities"

// StepStatus is the display state of one processing stage
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
)

// Step is one stage of backend processing
type Step struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
}

var baseSteps = []Step{
	{ID: "upload", Label: "Upload audio"},
	{ID: "transcribe", Label: "Transcribe"},
	{ID: "analyze", Label: "Analyze"},
	{ID: "verify", Label: "Verify"},
	{ID: "prepare", Label: "Prepare dashboard"},
}

// ProjectSteps derives the stage list from progress and backend status.
// Full progress wins over an error status.
func ProjectSteps(progress int, status entities.SessionStatus) []Step {
	steps := make([]Step, len(baseSteps))
	copy(steps, baseSteps)

	for i := range steps {
		steps[i].Status = stepStatus(i, progress, status)
	}
	return steps
}

func stepStatus(i, progress int, status entities.SessionStatus) StepStatus {
	switch {
	case progress >= 100:
		return StepComplete
	case status == entities.SessionStatusError:
		return byIndex(i, 1, StepFailed)
	case progress >= 75:
		return byIndex(i, 2, StepActive)
	case progress >= 25:
		return byIndex(i, 1, StepActive)
	default:
		return byIndex(i, 0, StepActive)
	}
}

// byIndex marks stages before pivot complete, the pivot as given and the
// rest pending.
func byIndex(i, pivot int, at StepStatus) StepStatus {
	switch {
	case i < pivot:
		return StepComplete
	case i == pivot:
		return at
	default:
		return StepPending
	}
}

// FailedSteps is the stage list of a terminal failure. Unlike ProjectSteps
// it ignores progress, so a failure reported after full progress still
// shows the failed stage.
func FailedSteps() []Step {
	steps := make([]Step, len(baseSteps))
	copy(steps, baseSteps)
	for i := range steps {
		steps[i].Status = byIndex(i, 1, StepFailed)
	}
	return steps
}

func allComplete() []Step {
	return ProjectSteps(100, entities.SessionStatusComplete)
}
