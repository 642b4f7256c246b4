package main

import (
	"strings"
	"testing"
	"time"

	"capstan/internal/ipc"
)

func TestFormatStatusLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"PENDING_EXTRACT", "Pending Extract"},
		{"DOWNLOADING", "Downloading"},
		{"COMPLETED", "Completed"},
		{"  CANCELLED ", "Cancelled"},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := formatStatusLabel(tc.in); got != tc.want {
				t.Fatalf("formatStatusLabel(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildStatusCountRowsOrdering(t *testing.T) {
	counts := map[string]int{
		"COMPLETED":   3,
		"DOWNLOADING": 1,
		"EXTRACTING":  2,
		"MYSTERY":     9,
	}
	rows := buildStatusCountRows(counts)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	order := []string{"Extracting", "Downloading", "Completed", "Mystery"}
	for i, want := range order {
		if rows[i][0] != want {
			t.Fatalf("row %d = %q, want %q", i, rows[i][0], want)
		}
	}
	if rows[3][1] != "9" {
		t.Fatalf("mystery count = %q, want 9", rows[3][1])
	}
}

func TestBuildTaskRowsSortsByCreation(t *testing.T) {
	now := time.Now()
	rows := buildTaskRows([]ipc.TaskView{
		{ID: "b", Title: "Second", Status: "DOWNLOADING", Percent: 42.5, Speed: "1.00MiB/s", ETA: "00:05", CreatedAt: now.Add(time.Second)},
		{ID: "a", Title: "First", Status: "EXTRACTING", CreatedAt: now},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "a" || rows[1][0] != "b" {
		t.Fatalf("unexpected order: %v / %v", rows[0], rows[1])
	}
	if rows[0][3] != "-" {
		t.Fatalf("zero percent should render as dash, got %q", rows[0][3])
	}
	if rows[1][3] != "42.5%" {
		t.Fatalf("percent = %q, want 42.5%%", rows[1][3])
	}
	if rows[1][4] != "1.00MiB/s" || rows[1][5] != "00:05" {
		t.Fatalf("speed/eta = %q/%q", rows[1][4], rows[1][5])
	}
}

func TestBuildHistoryRows(t *testing.T) {
	finished := time.Now().Add(-time.Minute)
	rows := buildHistoryRows([]ipc.HistoryEntry{
		{
			ID:         7,
			TaskID:     "My Clip.mp4",
			Title:      "My Clip",
			Status:     "COMPLETED",
			OutputPath: "/media/My Clip.mp4",
			Bytes:      2 * 1024 * 1024,
			FinishedAt: finished,
		},
		{
			ID:           8,
			TaskID:       "Broken.mp4",
			Status:       "FAILED",
			ErrorMessage: "Download failed: exit status 1",
			FinishedAt:   finished,
		},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "My Clip" || rows[0][2] != "Completed" {
		t.Fatalf("unexpected completed row: %v", rows[0])
	}
	if rows[0][3] == "-" {
		t.Fatalf("expected a byte size, got %q", rows[0][3])
	}
	if rows[0][5] != "/media/My Clip.mp4" {
		t.Fatalf("detail should fall back to output path, got %q", rows[0][5])
	}
	if rows[1][1] != "Broken.mp4" {
		t.Fatalf("title should fall back to task id, got %q", rows[1][1])
	}
	if !strings.Contains(rows[1][5], "Download failed") {
		t.Fatalf("detail should carry the error, got %q", rows[1][5])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	got := truncate("abcdefghijklmnop", 10)
	if got != "abcdefg..." {
		t.Fatalf("truncate = %q, want abcdefg...", got)
	}
	if len(got) != 10 {
		t.Fatalf("truncated length = %d, want 10", len(got))
	}
}

func TestFormatProbeDuration(t *testing.T) {
	if got := formatProbeDuration(95); got != "1m35s" {
		t.Fatalf("formatProbeDuration(95) = %q, want 1m35s", got)
	}
	if got := formatProbeDuration(0); got != "unknown" {
		t.Fatalf("formatProbeDuration(0) = %q, want unknown", got)
	}
}

func TestTaskTitleFallbacks(t *testing.T) {
	view := ipc.TaskView{Title: "Named"}
	if got := taskTitle(view); got != "Named" {
		t.Fatalf("taskTitle = %q, want Named", got)
	}
	view = ipc.TaskView{OutputPath: "/downloads/From Path.mp4"}
	if got := taskTitle(view); got != "From Path.mp4" {
		t.Fatalf("taskTitle = %q, want From Path.mp4", got)
	}
	view = ipc.TaskView{SourceURL: "https://example.com/v/raw"}
	if got := taskTitle(view); got != "https://example.com/v/raw" {
		t.Fatalf("taskTitle = %q, want source url", got)
	}
}
