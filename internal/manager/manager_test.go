package manager_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"capstan/internal/config"
	"capstan/internal/driver"
	"capstan/internal/logging"
	"capstan/internal/manager"
	"capstan/internal/services"
	"capstan/internal/task"
	"capstan/internal/testsupport"
)

const eventTimeout = 5 * time.Second

func newManager(t *testing.T, cfg *config.Config, exec *testsupport.FakeExecutor, opts ...manager.Option) *manager.Manager {
	t.Helper()

	fetcher, transcoder := testsupport.MustClients(t, cfg, exec)
	m := manager.New(cfg, fetcher, transcoder, logging.NewNop(), opts...)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func probeJSON(title string) string {
	return fmt.Sprintf(`{"id":"vid0001","title":%q,"duration":120,"formats":[`+
		`{"format_id":"137","ext":"mp4","height":1080,"vcodec":"avc1.640028","acodec":"none"},`+
		`{"format_id":"136","ext":"mp4","height":720,"vcodec":"avc1.4d401f","acodec":"none"},`+
		`{"format_id":"140","ext":"m4a","vcodec":"none","acodec":"mp4a.40.2"}]}`, title)
}

// writeFetchOutput creates the file the fetch tool would have written by
// resolving the -o output template from the scripted command.
func writeFetchOutput(content string) func(driver.Command) error {
	return func(cmd driver.Command) error {
		for i, arg := range cmd.Args {
			if arg == "-o" && i+1 < len(cmd.Args) {
				path := strings.ReplaceAll(cmd.Args[i+1], "%(ext)s", "mp4")
				return os.WriteFile(path, []byte(content), 0o644)
			}
		}
		return fmt.Errorf("no output template in %v", cmd.Args)
	}
}

// writeLastArg creates the file named by the command's final argument, the
// transcoder's output position.
func writeLastArg(content string) func(driver.Command) error {
	return func(cmd driver.Command) error {
		if len(cmd.Args) == 0 {
			return errors.New("command has no arguments")
		}
		return os.WriteFile(cmd.Args[len(cmd.Args)-1], []byte(content), 0o644)
	}
}

func nextEvent(t *testing.T, events <-chan task.Event) task.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event stream closed early")
		}
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for an event")
	}
	return nil
}

func waitProbeResult(t *testing.T, events <-chan task.Event) task.ProbeResult {
	t.Helper()
	for {
		if result, ok := nextEvent(t, events).(task.ProbeResult); ok {
			return result
		}
	}
}

func waitFinished(t *testing.T, events <-chan task.Event, id string) task.Finished {
	t.Helper()
	for {
		if finished, ok := nextEvent(t, events).(task.Finished); ok {
			if id == "" || finished.ID == id {
				return finished
			}
		}
	}
}

func waitProgress(t *testing.T, events <-chan task.Event, match func(task.Progress) bool) task.Progress {
	t.Helper()
	for {
		if p, ok := nextEvent(t, events).(task.Progress); ok && match(p) {
			return p
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never reached: %s", what)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func argsContain(args []string, want ...string) bool {
	for i := 0; i+len(want) <= len(args); i++ {
		matched := true
		for j := range want {
			if args[i+j] != want[j] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func TestSubmitRunsProbeAndFetchToCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	notifier := &testsupport.RecordingNotifier{}
	content := "fetched-bytes"
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("My Clip")}},
		{
			Hook: writeFetchOutput(content),
			Lines: []string{
				"[download] Destination: My Clip.fetch.mp4",
				"[download]  42.0% of 10.00MiB at 2.50MiB/s ETA 00:08",
				"[download] 100% of 10.00MiB in 00:04",
			},
		},
	}}
	m := newManager(t, cfg, exec, manager.WithNotifier(notifier), manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	snapshot, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=abc123"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(snapshot.ID, "Extracting_") {
		t.Fatalf("expected a temporary id, got %q", snapshot.ID)
	}
	if snapshot.Status != task.StatusExtracting {
		t.Fatalf("expected initial status %s, got %s", task.StatusExtracting, snapshot.Status)
	}
	if snapshot.DestDir != cfg.Paths.DownloadDir {
		t.Fatalf("expected default destination %q, got %q", cfg.Paths.DownloadDir, snapshot.DestDir)
	}
	if snapshot.FormatExpr != cfg.Fetch.Format {
		t.Fatalf("expected default format expression, got %q", snapshot.FormatExpr)
	}

	probed := waitProbeResult(t, events)
	if probed.ID != snapshot.ID {
		t.Fatalf("probe result for %q, want %q", probed.ID, snapshot.ID)
	}
	if probed.Title != "My Clip" {
		t.Fatalf("probed title %q", probed.Title)
	}
	if probed.FinalID != "My Clip.mp4" {
		t.Fatalf("final id %q, want %q", probed.FinalID, "My Clip.mp4")
	}
	if len(probed.Formats) != 2 {
		t.Fatalf("expected the audio-only format filtered out, got %d formats", len(probed.Formats))
	}
	if probed.Formats[0].Resolution != "1080p" || probed.Formats[1].Resolution != "720p" {
		t.Fatalf("formats not sorted by resolution: %+v", probed.Formats)
	}

	update := waitProgress(t, events, func(p task.Progress) bool { return p.Percent == 42.0 })
	if update.Speed != "2.50MiB/s" || update.ETA != "00:08" {
		t.Fatalf("progress speed/eta = %q/%q", update.Speed, update.ETA)
	}

	finished := waitFinished(t, events, "My Clip.mp4")
	if !finished.Success {
		t.Fatalf("expected success, got %+v", finished)
	}

	outputPath := filepath.Join(cfg.Paths.DownloadDir, "My Clip.mp4")
	if !fileExists(outputPath) {
		t.Fatal("final output file missing")
	}
	if fileExists(filepath.Join(cfg.Paths.DownloadDir, "My Clip.fetch.mp4")) {
		t.Fatal("temporary download artifact left behind")
	}

	if _, err := m.Describe(context.Background(), "My Clip.mp4"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found after completion, got %v", err)
	}

	entries, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one archived entry, got %d", len(entries))
	}
	archived := entries[0]
	if archived.TaskID != "My Clip.mp4" || archived.Status != task.StatusCompleted {
		t.Fatalf("archived %q/%s", archived.TaskID, archived.Status)
	}
	if archived.OutputPath != outputPath {
		t.Fatalf("archived output %q, want %q", archived.OutputPath, outputPath)
	}
	if archived.Bytes != int64(len(content)) {
		t.Fatalf("archived bytes %d, want %d", archived.Bytes, len(content))
	}

	eventually(t, "completion notification", func() bool {
		return len(notifier.ByKind("completed")) == 1
	})
	call := notifier.ByKind("completed")[0]
	if call.Title != "My Clip" || call.Detail != outputPath {
		t.Fatalf("notification %+v", call)
	}

	if exec.StartedCount() != 2 {
		t.Fatalf("expected 2 tool runs, got %d", exec.StartedCount())
	}
}

func TestSubmitValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	exec := &testsupport.FakeExecutor{}
	m := newManager(t, cfg, exec)

	cases := []struct {
		name string
		sub  task.Submission
	}{
		{"empty url", task.Submission{}},
		{"unknown codec", task.Submission{SourceURL: "https://example.com/v", Codec: "av1"}},
		{"unknown preset", task.Submission{SourceURL: "https://example.com/v", Codec: "h264", Preset: "fastest"}},
		{"preset without codec", task.Submission{SourceURL: "https://example.com/v", Preset: "min_loss"}},
		{"malformed start", task.Submission{SourceURL: "https://example.com/v", StartTime: "90"}},
		{"malformed end", task.Submission{SourceURL: "https://example.com/v", EndTime: "1:30"}},
		{"end before start", task.Submission{SourceURL: "https://example.com/v", StartTime: "00:01:00", EndTime: "00:00:30"}},
		{"end equals start", task.Submission{SourceURL: "https://example.com/v", StartTime: "00:01:00", EndTime: "00:01:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tc.sub)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if exec.StartedCount() != 0 {
		t.Fatalf("rejected submissions must not start tools, got %d runs", exec.StartedCount())
	}
}

func TestSubmitTranscodesIntoFinalOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("Clip To Encode")}},
		{
			Hook:  writeFetchOutput("raw-container"),
			Lines: []string{"[download] 100% of 20.00MiB in 00:09"},
		},
		{
			Lines: []string{
				"Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'input':",
				"  Duration: 00:02:00.00, start: 0.000000, bitrate: 867 kb/s",
			},
			Err: errors.New("exit status 1"),
		},
		{
			Hook: writeLastArg("encoded"),
			Lines: []string{
				"frame=  100 fps= 25 q=28.0 size=    1024kB time=00:01:00.00 bitrate=1000.0kbits/s speed=1.50x",
			},
		},
	}}
	m := newManager(t, cfg, exec, manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	_, err := m.Submit(context.Background(), task.Submission{
		SourceURL: "https://example.com/watch?v=enc",
		Codec:     "h264",
		Preset:    "min_loss",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The finalize pass flags the merge/encode phase with an indeterminate
	// update before the transcoder reports positions.
	waitProgress(t, events, func(p task.Progress) bool { return p.Indeterminate() })
	halfway := waitProgress(t, events, func(p task.Progress) bool { return p.Speed == "1.50x" })
	if halfway.Percent != 50 {
		t.Fatalf("transcode progress %v%%, want 50", halfway.Percent)
	}

	finished := waitFinished(t, events, "Clip To Encode.mp4")
	if !finished.Success {
		t.Fatalf("expected success, got %+v", finished)
	}

	outputPath := filepath.Join(cfg.Paths.DownloadDir, "Clip To Encode.mp4")
	if !fileExists(outputPath) {
		t.Fatal("encoded output missing")
	}
	if fileExists(filepath.Join(cfg.Paths.DownloadDir, "Clip To Encode_raw.mp4")) {
		t.Fatal("raw input not cleaned up after a successful encode")
	}

	if exec.StartedCount() != 4 {
		t.Fatalf("expected 4 tool runs, got %d", exec.StartedCount())
	}
	encodeCmd := exec.Commands[3]
	if !argsContain(encodeCmd.Args, "-c:v", "libx264", "-preset", "slow", "-crf", "17") {
		t.Fatalf("encoder arguments missing from %v", encodeCmd.Args)
	}
	if !argsContain(encodeCmd.Args, "-c:a", "copy") {
		t.Fatalf("audio copy missing from %v", encodeCmd.Args)
	}
}

func TestTranscodeFailureKeepsRawInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	notifier := &testsupport.RecordingNotifier{}
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("Clip To Encode")}},
		{
			Hook:  writeFetchOutput("raw-container"),
			Lines: []string{"[download] 100% of 20.00MiB in 00:09"},
		},
		{
			Lines: []string{"  Duration: 00:02:00.00, start: 0.000000, bitrate: 867 kb/s"},
			Err:   errors.New("exit status 1"),
		},
		{
			Lines: []string{"x264 [error]: malloc of size 256 failed"},
			Err:   errors.New("exit status 1"),
		},
	}}
	m := newManager(t, cfg, exec, manager.WithNotifier(notifier), manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	if _, err := m.Submit(context.Background(), task.Submission{
		SourceURL: "https://example.com/watch?v=enc",
		Codec:     "h264",
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	finished := waitFinished(t, events, "Clip To Encode.mp4")
	if finished.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(finished.Message, "Encoding failed") {
		t.Fatalf("message %q", finished.Message)
	}

	if !fileExists(filepath.Join(cfg.Paths.DownloadDir, "Clip To Encode_raw.mp4")) {
		t.Fatal("raw input must survive a failed encode")
	}
	if fileExists(filepath.Join(cfg.Paths.DownloadDir, "Clip To Encode.mp4")) {
		t.Fatal("no final output expected after a failed encode")
	}

	entries, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != task.StatusFailed {
		t.Fatalf("archived entries %+v", entries)
	}
	if !strings.Contains(entries[0].ErrorMessage, "Encoding failed") {
		t.Fatalf("archived error %q", entries[0].ErrorMessage)
	}

	eventually(t, "failure notification", func() bool {
		return len(notifier.ByKind("failed")) == 1
	})
}

func TestProbeErrorFailsTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{
			Lines: []string{"ERROR: Video unavailable"},
			Err:   errors.New("exit status 1"),
		},
	}}
	m := newManager(t, cfg, exec, manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	snapshot, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=gone"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	probed := waitProbeResult(t, events)
	if probed.Err == "" || !strings.Contains(probed.Err, "ERROR: Video unavailable") {
		t.Fatalf("probe error %q", probed.Err)
	}
	if probed.FinalID != "" {
		t.Fatalf("failed probe must not resolve a final id, got %q", probed.FinalID)
	}

	finished := waitFinished(t, events, snapshot.ID)
	if finished.Success {
		t.Fatal("expected failure")
	}

	entries, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != task.StatusFailed {
		t.Fatalf("archived entries %+v", entries)
	}
	if entries[0].TaskID != snapshot.ID {
		t.Fatalf("archived under %q, want the temporary id %q", entries[0].TaskID, snapshot.ID)
	}
}

func TestProbeWithoutVideoFormatsFailsTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{`{"id":"aud01","title":"Audio Only","formats":[{"format_id":"140","ext":"m4a","vcodec":"none","acodec":"mp4a.40.2"}]}`}},
	}}
	m := newManager(t, cfg, exec, manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	snapshot, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=aud"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	probed := waitProbeResult(t, events)
	if probed.Err != "No compatible video formats found" {
		t.Fatalf("probe error %q", probed.Err)
	}
	if probed.Title != "Audio Only" {
		t.Fatalf("probe title %q", probed.Title)
	}

	finished := waitFinished(t, events, snapshot.ID)
	if finished.Success {
		t.Fatal("expected failure")
	}

	entries, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != task.StatusFailed {
		t.Fatalf("archived entries %+v", entries)
	}
	if entries[0].Title != "Audio Only" {
		t.Fatalf("archived title %q", entries[0].Title)
	}
	if entries[0].ErrorMessage != "No compatible video formats found" {
		t.Fatalf("archived error %q", entries[0].ErrorMessage)
	}
}

func TestCancelDuringDownloadSweepsArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	notifier := &testsupport.RecordingNotifier{}
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("My Clip")}},
		{
			Hook:  writeFetchOutput("partial"),
			Lines: []string{"[download]  42.0% of 10.00MiB at 2.50MiB/s ETA 00:08"},
			Block: true,
		},
	}}
	m := newManager(t, cfg, exec, manager.WithNotifier(notifier), manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	if _, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=abc"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	probed := waitProbeResult(t, events)
	waitProgress(t, events, func(p task.Progress) bool { return p.Percent == 42.0 })

	if err := m.Cancel(context.Background(), probed.FinalID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	finished := waitFinished(t, events, probed.FinalID)
	if finished.Success || finished.Message != "Download cancelled" {
		t.Fatalf("finished %+v", finished)
	}

	if fileExists(filepath.Join(cfg.Paths.DownloadDir, "My Clip.fetch.mp4")) {
		t.Fatal("temporary download artifact left behind")
	}
	if fileExists(filepath.Join(cfg.Paths.DownloadDir, "My Clip.mp4")) {
		t.Fatal("no final output expected after a cancel")
	}

	entries, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != task.StatusCancelled {
		t.Fatalf("archived entries %+v", entries)
	}

	eventually(t, "cancel notification", func() bool {
		return len(notifier.ByKind("cancelled")) == 1
	})

	// The identity is gone once the cancel resolves.
	if err := m.Cancel(context.Background(), probed.FinalID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found for a finished task, got %v", err)
	}
}

func TestCancelDuringProbe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hist := testsupport.MustOpenHistory(t, cfg)
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Block: true},
	}}
	m := newManager(t, cfg, exec, manager.WithHistory(hist))

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	snapshot, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=slow"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Cancel(context.Background(), snapshot.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	probed := waitProbeResult(t, events)
	if probed.Err != "Extraction cancelled" {
		t.Fatalf("probe error %q", probed.Err)
	}

	finished := waitFinished(t, events, snapshot.ID)
	if finished.Success {
		t.Fatal("expected a cancelled outcome")
	}

	entries, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != task.StatusCancelled {
		t.Fatalf("archived entries %+v", entries)
	}
}

func TestDuplicateTitleGetsSuffixedOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("My Clip")}},
		{
			Hook:  writeFetchOutput("first"),
			Lines: []string{"[download]  10.0% of 10.00MiB at 1.00MiB/s ETA 01:00"},
			Block: true,
		},
		{Lines: []string{probeJSON("My Clip")}},
		{
			Hook:  writeFetchOutput("second"),
			Lines: []string{"[download] 100% of 5.00MiB in 00:02"},
		},
	}}
	m := newManager(t, cfg, exec)

	events, unsubscribe := m.Subscribe(256)
	defer unsubscribe()

	if _, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=one"}); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	first := waitProbeResult(t, events)
	if first.FinalID != "My Clip.mp4" {
		t.Fatalf("first final id %q", first.FinalID)
	}

	if _, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=two"}); err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	second := waitProbeResult(t, events)
	if second.FinalID != "My Clip_1.mp4" {
		t.Fatalf("second final id %q, want a collision suffix", second.FinalID)
	}

	finished := waitFinished(t, events, "My Clip_1.mp4")
	if !finished.Success {
		t.Fatalf("second task %+v", finished)
	}
	if !fileExists(filepath.Join(cfg.Paths.DownloadDir, "My Clip_1.mp4")) {
		t.Fatal("suffixed output missing")
	}

	live, err := m.Tasks(context.Background())
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(live) != 1 || live[0].ID != "My Clip.mp4" {
		t.Fatalf("live tasks %+v", live)
	}

	if err := m.Cancel(context.Background(), "My Clip.mp4"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFinished(t, events, "My Clip.mp4")

	// The first task's artifact sweep must not touch its sibling's output.
	if !fileExists(filepath.Join(cfg.Paths.DownloadDir, "My Clip_1.mp4")) {
		t.Fatal("sibling output removed by an unrelated cancel")
	}
}

func TestTasksAndDescribeReturnSnapshots(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("My Clip")}},
		{
			Hook:  writeFetchOutput("partial"),
			Lines: []string{"[download]  42.0% of 10.00MiB at 2.50MiB/s ETA 00:08"},
			Block: true,
		},
	}}
	m := newManager(t, cfg, exec)

	events, unsubscribe := m.Subscribe(128)
	defer unsubscribe()

	if _, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=abc"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	probed := waitProbeResult(t, events)
	waitProgress(t, events, func(p task.Progress) bool { return p.Percent == 42.0 })

	live, err := m.Tasks(context.Background())
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected one live task, got %d", len(live))
	}
	if live[0].Status != task.StatusDownloading || live[0].Percent != 42.0 {
		t.Fatalf("live snapshot %+v", live[0])
	}

	described, err := m.Describe(context.Background(), probed.FinalID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	described.Title = "mutated"

	again, err := m.Describe(context.Background(), probed.FinalID)
	if err != nil {
		t.Fatalf("Describe again: %v", err)
	}
	if again.Title == "mutated" {
		t.Fatal("snapshots must be independent copies")
	}
}

func TestCancelUnknownTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	m := newManager(t, cfg, &testsupport.FakeExecutor{})

	if err := m.Cancel(context.Background(), "No Such Task.mp4"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if err := m.Cancel(context.Background(), "  "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected a validation error for a blank id, got %v", err)
	}
}

func TestSubscriberOverflowKeepsLifecycleEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &testsupport.RecordingNotifier{}
	exec := &testsupport.FakeExecutor{Runs: []testsupport.ScriptedRun{
		{Lines: []string{probeJSON("My Clip")}},
		{
			Hook: writeFetchOutput("bytes"),
			Lines: []string{
				"[download] Destination: My Clip.fetch.mp4",
				"[download]  10.0% of 10.00MiB at 1.00MiB/s ETA 00:30",
				"[download]  55.0% of 10.00MiB at 1.00MiB/s ETA 00:15",
				"[download] 100% of 10.00MiB in 00:10",
			},
		},
	}}
	m := newManager(t, cfg, exec, manager.WithNotifier(notifier))

	// A one-slot subscriber that never reads while the task runs: progress
	// and log lines overflow and drop, lifecycle events evict the oldest.
	events, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	if _, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=abc"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The completion notification fires after the terminal event publish.
	eventually(t, "completion notification", func() bool {
		return len(notifier.ByKind("completed")) == 1
	})

	select {
	case ev := <-events:
		finished, ok := ev.(task.Finished)
		if !ok {
			t.Fatalf("expected the terminal event to survive, got %T", ev)
		}
		if finished.ID != "My Clip.mp4" || !finished.Success {
			t.Fatalf("finished %+v", finished)
		}
	default:
		t.Fatal("expected one buffered event")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %T", ev)
	default:
	}
}

func TestSubmitAfterStopFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	m := newManager(t, cfg, &testsupport.FakeExecutor{})
	m.Stop()

	if _, err := m.Submit(context.Background(), task.Submission{SourceURL: "https://example.com/watch?v=abc"}); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected a not-running error, got %v", err)
	}
	if _, err := m.Tasks(context.Background()); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected a not-running error, got %v", err)
	}
}
