package fetch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"capstan/internal/driver"
	"capstan/internal/fetch"
	"capstan/internal/fileutil"
	"capstan/internal/services/ffmpeg"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
	"capstan/internal/testsupport"
)

type harness struct {
	dir    string
	output string
	worker *fetch.Worker
	events chan task.Event
	exec   *testsupport.FakeExecutor
}

func newHarness(t *testing.T, exec *testsupport.FakeExecutor, mutate func(*fetch.Request)) *harness {
	t.Helper()
	dir := t.TempDir()
	output := filepath.Join(dir, "My Clip.mp4")
	req := fetch.Request{
		TaskID:              "My Clip.mp4",
		URL:                 "https://example.com/v",
		OutputPath:          output,
		FormatExpr:          "bestvideo+bestaudio/best",
		MergeContainer:      "mp4",
		ConcurrentFragments: 8,
		ForceOverwrites:     true,
	}
	if mutate != nil {
		mutate(&req)
	}

	fetcher, err := ytdlp.New("yt-dlp", ytdlp.WithExecutor(exec))
	if err != nil {
		t.Fatalf("ytdlp.New returned error: %v", err)
	}
	transcoder, err := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))
	if err != nil {
		t.Fatalf("ffmpeg.New returned error: %v", err)
	}

	events := make(chan task.Event, 64)
	return &harness{
		dir:    dir,
		output: output,
		worker: fetch.New(fetcher, transcoder, req, events, nil),
		events: events,
		exec:   exec,
	}
}

func (h *harness) tempPath() string {
	return filepath.Join(h.dir, "My Clip.fetch.mp4")
}

func (h *harness) rawPath() string {
	return filepath.Join(h.dir, "My Clip_raw.mp4")
}

func createFile(t *testing.T, path string) func(driver.Command) error {
	t.Helper()
	return func(driver.Command) error {
		return os.WriteFile(path, []byte("media"), 0o644)
	}
}

func collect(t *testing.T, events chan task.Event) []task.Event {
	t.Helper()
	var got []task.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if _, done := ev.(task.Finished); done {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for Finished, got %v", got)
		}
	}
}

func finished(t *testing.T, got []task.Event) task.Finished {
	t.Helper()
	fin, ok := got[len(got)-1].(task.Finished)
	if !ok {
		t.Fatalf("expected Finished last, got %T", got[len(got)-1])
	}
	return fin
}

func TestRunPlainDownloadRenamesToFinal(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, nil)
	exec.Runs = []testsupport.ScriptedRun{{
		Hook: createFile(t, h.tempPath()),
		Lines: []string{
			"[download] Destination: My Clip.fetch.f137.mp4",
			"[download]  42.5% of  123.45MiB at    2.34MiB/s ETA 00:42",
			`[Merger] Merging formats into "My Clip.fetch.mp4"`,
		},
	}}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	fin := finished(t, got)
	if !fin.Success {
		t.Fatalf("expected success, got %v", fin)
	}
	if fin.Message != h.output {
		t.Fatalf("expected output path message, got %q", fin.Message)
	}
	if !fileutil.Exists(h.output) {
		t.Fatal("final output missing")
	}
	if fileutil.Exists(h.tempPath()) {
		t.Fatal("temporary container left behind")
	}

	var sawPercent, sawIndeterminate bool
	for _, ev := range got {
		if p, ok := ev.(task.Progress); ok {
			if p.Percent == 42.5 && p.Speed == "2.34MiB/s" {
				sawPercent = true
			}
			if p.Indeterminate() {
				sawIndeterminate = true
			}
		}
	}
	if !sawPercent {
		t.Fatal("download progress event missing")
	}
	if !sawIndeterminate {
		t.Fatal("merge should emit indeterminate progress")
	}

	joined := strings.Join(exec.Commands[0].Args, " ")
	if !strings.Contains(joined, "My Clip.fetch.%(ext)s") {
		t.Fatalf("expected temporary template, got %v", exec.Commands[0].Args)
	}
	if strings.Contains(joined, h.output) {
		t.Fatal("fetch tool must never target the final path")
	}
}

func TestRunTranscodeSuccess(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, func(req *fetch.Request) {
		req.VideoArgs = []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23"}
	})
	exec.Runs = []testsupport.ScriptedRun{
		{
			Hook:  createFile(t, h.tempPath()),
			Lines: []string{"[download] 100% of 10.00MiB in 00:05"},
		},
		{
			Lines: []string{"  Duration: 00:02:00.00, start: 0.000000, bitrate: 1000 kb/s"},
			Err:   errors.New("exit status 1"),
		},
		{
			Hook: createFile(t, h.output),
			Lines: []string{
				"frame=  100 fps= 50 q=28.0 size=    1024KiB time=00:01:00.00 bitrate= 139.9kbits/s speed=2.5x",
				"frame=  200 fps= 50 q=28.0 size=    2048KiB time=00:02:00.00 bitrate= 139.9kbits/s speed=2.4x",
			},
		},
	}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	fin := finished(t, got)
	if !fin.Success {
		t.Fatalf("expected success, got %v", fin)
	}
	if !fileutil.Exists(h.output) {
		t.Fatal("final output missing")
	}
	if fileutil.Exists(h.rawPath()) {
		t.Fatal("raw intermediate should be removed on success")
	}

	var sawHalf bool
	for _, ev := range got {
		if p, ok := ev.(task.Progress); ok && p.Percent == 50 && p.Speed == "2.5x" {
			sawHalf = true
		}
	}
	if !sawHalf {
		t.Fatal("expected 50% transcode progress derived from probed duration")
	}

	transcodeArgs := strings.Join(exec.Commands[2].Args, " ")
	if !strings.Contains(transcodeArgs, "-c:v libx264") || !strings.Contains(transcodeArgs, "-c:a copy") {
		t.Fatalf("unexpected transcode args: %v", exec.Commands[2].Args)
	}
	if !strings.Contains(transcodeArgs, h.rawPath()) {
		t.Fatalf("transcode should read the raw sibling: %v", exec.Commands[2].Args)
	}
}

func TestRunTranscodeFailurePreservesRaw(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, func(req *fetch.Request) {
		req.VideoArgs = []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23"}
	})
	exec.Runs = []testsupport.ScriptedRun{
		{
			Hook:  createFile(t, h.tempPath()),
			Lines: []string{"[download] 100% of 10.00MiB in 00:05"},
		},
		{
			Lines: []string{"  Duration: 00:02:00.00, start: 0.000000, bitrate: 1000 kb/s"},
			Err:   errors.New("exit status 1"),
		},
		{
			Hook:  createFile(t, h.output),
			Lines: []string{"x264 [error]: malloc of size 1 failed"},
			Err:   errors.New("exit status 1"),
		},
	}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	fin := finished(t, got)
	if fin.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(fin.Message, "Encoding failed") {
		t.Fatalf("unexpected message: %q", fin.Message)
	}
	if !fileutil.Exists(h.rawPath()) {
		t.Fatal("raw intermediate must be preserved after transcode failure")
	}
	if fileutil.Exists(h.output) {
		t.Fatal("partial final output must be removed")
	}
}

func TestRunStreamCopyAppliesTrims(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, func(req *fetch.Request) {
		req.Start = "00:00:05"
		req.End = "00:01:05"
	})
	exec.Runs = []testsupport.ScriptedRun{
		{
			Hook:  createFile(t, h.tempPath()),
			Lines: []string{"[download] 100% of 10.00MiB in 00:05"},
		},
		{
			Lines: []string{"  Duration: 00:02:00.00, start: 0.000000, bitrate: 1000 kb/s"},
			Err:   errors.New("exit status 1"),
		},
		{
			Hook:  createFile(t, h.output),
			Lines: []string{"frame= 0 time=00:00:30.00 speed=20x"},
		},
	}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	if fin := finished(t, got); !fin.Success {
		t.Fatalf("expected success, got %v", fin)
	}
	if fileutil.Exists(h.rawPath()) {
		t.Fatal("raw intermediate should be removed on success")
	}

	joined := strings.Join(exec.Commands[2].Args, " ")
	if !strings.Contains(joined, "-ss 00:00:05") || !strings.Contains(joined, "-to 00:01:05") {
		t.Fatalf("trim bounds missing: %v", exec.Commands[2].Args)
	}
	if !strings.Contains(joined, "-c copy") {
		t.Fatalf("expected stream copy, got %v", exec.Commands[2].Args)
	}
}

func TestRunFetchFailure(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, nil)
	exec.Runs = []testsupport.ScriptedRun{{
		Lines: []string{"ERROR: [youtube] abc: Video unavailable"},
		Err:   errors.New("exit status 1"),
	}}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	fin := finished(t, got)
	if fin.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(fin.Message, "Video unavailable") {
		t.Fatalf("expected tool error surfaced, got %q", fin.Message)
	}
	if exec.StartedCount() != 1 {
		t.Fatalf("no finalize process should start, got %d runs", exec.StartedCount())
	}
}

func TestCancelMidDownloadSweepsArtifacts(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, nil)
	exec.Runs = []testsupport.ScriptedRun{{
		Hook: func(cmd driver.Command) error {
			for _, name := range []string{"My Clip.fetch.mp4", "My Clip.fetch.mp4.part", "My Clip.fetch.mp4.ytdl"} {
				if err := os.WriteFile(filepath.Join(h.dir, name), []byte("partial"), 0o644); err != nil {
					return err
				}
			}
			return nil
		},
		Lines: []string{"[download]  10.0% of  123.45MiB at    2.34MiB/s ETA 01:42"},
		Block: true,
	}}

	go h.worker.Run(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		var progressed bool
		select {
		case ev := <-h.events:
			if _, ok := ev.(task.Progress); ok {
				progressed = true
			}
		case <-deadline:
			t.Fatal("never saw download progress")
		}
		if progressed {
			break
		}
	}
	h.worker.Cancel()

	got := collect(t, h.events)
	fin := finished(t, got)
	if fin.Success {
		t.Fatal("expected failure finish")
	}
	if fin.Message != "Download cancelled" {
		t.Fatalf("unexpected message: %q", fin.Message)
	}
	for _, name := range []string{"My Clip.fetch.mp4", "My Clip.fetch.mp4.part", "My Clip.fetch.mp4.ytdl"} {
		if fileutil.Exists(filepath.Join(h.dir, name)) {
			t.Fatalf("artifact %s should have been swept", name)
		}
	}
}

func TestCancelBeforeRunSkipsSpawn(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, nil)

	h.worker.Cancel()
	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	fin := finished(t, got)
	if fin.Success || fin.Message != "Download cancelled" {
		t.Fatalf("unexpected finish: %v", fin)
	}
	if exec.StartedCount() != 0 {
		t.Fatalf("expected no process spawned, got %d", exec.StartedCount())
	}
}

func TestRunThumbnailConversion(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, func(req *fetch.Request) {
		req.WriteThumbnail = true
	})
	thumbTemp := filepath.Join(h.dir, "My Clip.fetch.webp")
	thumbFinal := filepath.Join(h.dir, "My Clip.png")
	exec.Runs = []testsupport.ScriptedRun{
		{
			Hook: func(cmd driver.Command) error {
				if err := os.WriteFile(h.tempPath(), []byte("media"), 0o644); err != nil {
					return err
				}
				return os.WriteFile(thumbTemp, []byte("webp"), 0o644)
			},
			Lines: []string{"[download] 100% of 10.00MiB in 00:05"},
		},
		{
			Hook: createFile(t, thumbFinal),
		},
	}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	if fin := finished(t, got); !fin.Success {
		t.Fatalf("expected success, got %v", fin)
	}
	if !fileutil.Exists(thumbFinal) {
		t.Fatal("converted thumbnail missing")
	}
	if fileutil.Exists(thumbTemp) {
		t.Fatal("source thumbnail should be removed after conversion")
	}

	convertArgs := strings.Join(exec.Commands[1].Args, " ")
	if !strings.Contains(convertArgs, thumbTemp) || !strings.Contains(convertArgs, thumbFinal) {
		t.Fatalf("unexpected convert args: %v", exec.Commands[1].Args)
	}
}

func TestRunThumbnailConversionFallsBackToRename(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, func(req *fetch.Request) {
		req.WriteThumbnail = true
	})
	thumbTemp := filepath.Join(h.dir, "My Clip.fetch.webp")
	exec.Runs = []testsupport.ScriptedRun{
		{
			Hook: func(cmd driver.Command) error {
				if err := os.WriteFile(h.tempPath(), []byte("media"), 0o644); err != nil {
					return err
				}
				return os.WriteFile(thumbTemp, []byte("webp"), 0o644)
			},
			Lines: []string{"[download] 100% of 10.00MiB in 00:05"},
		},
		{
			Lines: []string{"clip.webp: Invalid data found when processing input"},
			Err:   errors.New("exit status 1"),
		},
	}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	if fin := finished(t, got); !fin.Success {
		t.Fatalf("thumbnail failure must not fail the task: %v", fin)
	}
	if !fileutil.Exists(filepath.Join(h.dir, "My Clip.webp")) {
		t.Fatal("original thumbnail should survive as a rename")
	}
	if fileutil.Exists(thumbTemp) {
		t.Fatal("temporary thumbnail name should be gone")
	}
}

func TestRunAlreadyDownloadedSkip(t *testing.T) {
	exec := &testsupport.FakeExecutor{}
	h := newHarness(t, exec, nil)
	exec.Runs = []testsupport.ScriptedRun{{
		Hook:  createFile(t, h.tempPath()),
		Lines: []string{"[download] My Clip.fetch.mp4 has already been downloaded"},
	}}

	go h.worker.Run(context.Background())
	got := collect(t, h.events)

	if fin := finished(t, got); !fin.Success {
		t.Fatalf("expected success, got %v", fin)
	}
	if !fileutil.Exists(h.output) {
		t.Fatal("final output missing after skip")
	}

	var sawFull bool
	for _, ev := range got {
		if p, ok := ev.(task.Progress); ok && p.Percent == 100 {
			sawFull = true
		}
	}
	if !sawFull {
		t.Fatal("skip should report full progress")
	}
}
