package progress

import "time"

// Stage identifies which pipeline stage is active.
type Stage string

const (
	StageLoad     Stage = "load"
	StagePlan     Stage = "plan"
	StageGenerate Stage = "generate"
	StageSave     Stage = "save"
	StageUpload   Stage = "upload"
	StageComplete Stage = "complete"
)

// Event carries progress information from the pipeline to the renderer.
type Event struct {
	Stage   Stage
	Message string
	Percent float64 // 0.0–1.0
	Elapsed time.Duration
	Error   error

	// Done and Total count finished and planned conversations during
	// StageGenerate.
	Done     int
	Total    int
	Accepted int
	Rejected int

	// OutputFile is set on StageComplete with the dataset path.
	OutputFile string
	// ReportFile is the diversity workbook, if one was written.
	ReportFile string
	// Partial is set when the run was interrupted before every unit finished.
	Partial bool
}

// Callback is the function signature for progress event handlers.
type Callback func(Event)

// NopCallback is a no-op progress callback for tests and silent mode.
func NopCallback(Event) {}

// NewEvent creates an Event with common fields populated.
func NewEvent(stage Stage, msg string, pct float64, start time.Time) Event {
	return Event{
		Stage:   stage,
		Message: msg,
		Percent: pct,
		Elapsed: time.Since(start),
	}
}
