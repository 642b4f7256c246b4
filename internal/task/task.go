package task

import (
	"time"

	"github.com/google/uuid"
)

// Task is one user-requested acquisition job. The ID starts as a temporary
// "Extracting_<uuid8>" value and is rebound to the base name of the resolved
// output path once the probe succeeds; the rebind happens exactly once.
type Task struct {
	ID                 string
	SourceURL          string
	DestDir            string
	OutputPath         string
	Title              string
	CookiesPath        string
	CookiesFromBrowser string
	StartTime          string
	EndTime            string
	FormatExpr         string
	Codec              string
	Preset             string
	Status             Status
	Debug              bool
	Percent            float64
	Speed              string
	ETA                string
	ErrorMessage       string
	CreatedAt          time.Time
}

// Submission carries everything a caller provides when enqueueing a job.
// Empty Codec means the fetched container ships as-is (no transcode phase).
type Submission struct {
	SourceURL          string
	DestDir            string
	CookiesPath        string
	CookiesFromBrowser string
	StartTime          string
	EndTime            string
	FormatExpr         string
	Codec              string
	Preset             string
	Debug              bool
}

// WantsTranscode reports whether a finalize re-encode phase was requested.
func (s Submission) WantsTranscode() bool {
	return s.Codec != ""
}

// TimeRange reports whether trim bounds were supplied.
func (s Submission) TimeRange() bool {
	return s.StartTime != "" || s.EndTime != ""
}

// Clone returns an independent copy, used when handing snapshots across
// goroutine boundaries.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// WantsTranscode reports whether the task carries a finalize re-encode request.
func (t *Task) WantsTranscode() bool {
	return t.Codec != ""
}

// NewTemporaryID mints the probing-phase identity a task carries until the
// probe succeeds and the title-derived final id replaces it.
func NewTemporaryID() string {
	return "Extracting_" + uuid.NewString()[:8]
}
