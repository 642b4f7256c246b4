// Package progress parses tool output lines into progress updates.
//
// Parsers are stateless and forgiving: a line that does not match reports
// ok=false and a malformed field degrades to its zero value rather than
// failing the line. Task state never depends on a parse succeeding.
package progress

import (
	"strconv"
	"strings"
	"time"
)

// FetchKind classifies a recognized fetch-tool line.
type FetchKind int

const (
	// FetchProgress is a percent/speed/ETA download update.
	FetchProgress FetchKind = iota + 1
	// FetchDestination announces the file the tool is writing.
	FetchDestination
	// FetchMerging announces the container merge target.
	FetchMerging
	// FetchAlreadyDone reports the output already exists on disk.
	FetchAlreadyDone
)

// FetchEvent is one recognized fetch-tool output line.
type FetchEvent struct {
	Kind    FetchKind
	Percent float64
	Speed   string
	ETA     string
	Path    string
}

// ParseFetchLine recognizes download progress and artifact announcements in
// fetch-tool output. Unrecognized lines report ok=false.
func ParseFetchLine(line string) (FetchEvent, bool) {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, "[download] Destination:"):
		path := strings.TrimSpace(strings.TrimPrefix(trimmed, "[download] Destination:"))
		if path == "" {
			return FetchEvent{}, false
		}
		return FetchEvent{Kind: FetchDestination, Path: path}, true

	case strings.HasPrefix(trimmed, "[Merger] Merging formats into"):
		rest := strings.TrimPrefix(trimmed, "[Merger] Merging formats into")
		path := strings.Trim(strings.TrimSpace(rest), `"`)
		if path == "" {
			return FetchEvent{}, false
		}
		return FetchEvent{Kind: FetchMerging, Path: path}, true

	case strings.HasPrefix(trimmed, "[download]") && strings.HasSuffix(trimmed, "has already been downloaded"):
		rest := strings.TrimPrefix(trimmed, "[download]")
		rest = strings.TrimSuffix(rest, "has already been downloaded")
		return FetchEvent{Kind: FetchAlreadyDone, Path: strings.TrimSpace(rest)}, true

	case strings.HasPrefix(trimmed, "[download]"):
		return parseDownloadProgress(trimmed)
	}

	return FetchEvent{}, false
}

func parseDownloadProgress(line string) (FetchEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return FetchEvent{}, false
	}
	raw := fields[1]
	if !strings.HasSuffix(raw, "%") {
		return FetchEvent{}, false
	}

	event := FetchEvent{Kind: FetchProgress}
	if percent, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64); err == nil {
		event.Percent = clampPercent(percent)
	}
	if len(fields) > 5 && fields[4] == "at" {
		if speed := fields[5]; speed != "Unknown" {
			event.Speed = speed
		}
	}
	if len(fields) > 7 && fields[6] == "ETA" {
		if eta := fields[7]; eta != "Unknown" {
			event.ETA = eta
		}
	}
	return event, true
}

// TranscodeEvent is one recognized transcoder progress line.
type TranscodeEvent struct {
	Percent float64
	Speed   string
}

// ParseTranscodeDuration extracts the input duration from transcoder
// banner output ("Duration: HH:MM:SS.cc, start: ...").
func ParseTranscodeDuration(line string) (time.Duration, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "Duration:") {
		return 0, false
	}
	value := strings.TrimSpace(strings.TrimPrefix(trimmed, "Duration:"))
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	return ParseClock(strings.TrimSpace(value))
}

// ParseTranscodeLine recognizes transcoder status lines carrying a time=
// position and derives a percentage against the total input duration. A
// zero total yields an indeterminate update (percent 0).
func ParseTranscodeLine(line string, total time.Duration) (TranscodeEvent, bool) {
	timeIdx := strings.Index(line, "time=")
	if timeIdx < 0 {
		return TranscodeEvent{}, false
	}

	rest := line[timeIdx+len("time="):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return TranscodeEvent{}, false
	}
	position, ok := ParseClock(fields[0])
	if !ok {
		return TranscodeEvent{}, false
	}

	event := TranscodeEvent{}
	if total > 0 {
		event.Percent = clampPercent(float64(position) / float64(total) * 100)
	}
	if speedIdx := strings.Index(line, "speed="); speedIdx >= 0 {
		speedFields := strings.Fields(line[speedIdx+len("speed="):])
		if len(speedFields) > 0 && speedFields[0] != "N/A" {
			event.Speed = speedFields[0]
		}
	}
	return event, true
}

// ParseClock parses an "HH:MM:SS" timestamp with an optional fractional
// second part, the shape used by transcoder banners and trim bounds.
func ParseClock(value string) (time.Duration, bool) {
	if value == "" || value == "N/A" {
		return 0, false
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
