package task

// Event is the uniform stream element workers emit while a task runs. Events
// are ephemeral; for any single task identity the Finished event is always
// the last one delivered.
type Event interface {
	// TaskID names the task identity the event belongs to. Events emitted
	// before the probe-success rebind carry the temporary id.
	TaskID() string
}

// Progress reports fractional completion of the active phase. Speed and ETA
// are forwarded verbatim from the driven tool and may be empty when the tool
// did not report them. A zero/zero progress (Percent 0, no speed, no eta)
// signals an indeterminate post-download phase such as container merge or
// re-encode startup.
type Progress struct {
	ID      string
	Percent float64
	Speed   string
	ETA     string
}

// TaskID implements Event.
func (p Progress) TaskID() string { return p.ID }

// Indeterminate reports the zero/zero shape used to flag post-download
// processing phases.
func (p Progress) Indeterminate() bool {
	return p.Percent == 0 && p.Speed == "" && p.ETA == ""
}

// LogLine forwards one raw output line from a driven tool.
type LogLine struct {
	ID   string
	Text string
}

// TaskID implements Event.
func (l LogLine) TaskID() string { return l.ID }

// FormatOption describes one compatible video encoding discovered by a probe.
type FormatOption struct {
	ID         string
	Resolution string
	Note       string
}

// ProbeResult carries the probe outcome: either a title plus the
// deduplicated, resolution-sorted format list, or an error message. On
// success the manager annotates FinalID with the identity the task continues
// under, letting consumers follow the task across the rebind.
type ProbeResult struct {
	ID      string
	FinalID string
	Title   string
	Formats []FormatOption
	Err     string
}

// TaskID implements Event.
func (p ProbeResult) TaskID() string { return p.ID }

// Finished is the terminal event for a task identity.
type Finished struct {
	ID      string
	Success bool
	Message string
}

// TaskID implements Event.
func (f Finished) TaskID() string { return f.ID }
