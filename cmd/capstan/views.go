package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"capstan/internal/ipc"
	"capstan/internal/task"
)

// buildStatusCountRows orders histogram rows by task lifecycle, with unknown
// statuses appended alphabetically.
func buildStatusCountRows(counts map[string]int) [][]string {
	if len(counts) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(counts))
	ordered := make([]string, 0, len(counts))
	for _, status := range task.AllStatuses() {
		key := string(status)
		if _, ok := counts[key]; ok {
			ordered = append(ordered, key)
			seen[key] = true
		}
	}
	rest := make([]string, 0)
	for key := range counts {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	rows := make([][]string, 0, len(ordered))
	for _, key := range ordered {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", counts[key])})
	}
	return rows
}

func buildTaskRows(tasks []ipc.TaskView) [][]string {
	if len(tasks) == 0 {
		return nil
	}
	sorted := make([]ipc.TaskView, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	rows := make([][]string, 0, len(sorted))
	for _, view := range sorted {
		rows = append(rows, []string{
			view.ID,
			taskTitle(view),
			formatStatusLabel(view.Status),
			formatPercent(view.Percent),
			orDash(view.Speed),
			orDash(view.ETA),
		})
	}
	return rows
}

func buildHistoryRows(entries []ipc.HistoryEntry) [][]string {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		detail := strings.TrimSpace(entry.ErrorMessage)
		if detail == "" {
			detail = entry.OutputPath
		}
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			title = entry.TaskID
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", entry.ID),
			truncate(title, 40),
			formatStatusLabel(entry.Status),
			formatBytes(entry.Bytes),
			formatAge(entry.FinishedAt),
			truncate(detail, 48),
		})
	}
	return rows
}

func buildFormatRows(formats []ipc.FormatView) [][]string {
	if len(formats) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(formats))
	for _, format := range formats {
		rows = append(rows, []string{
			format.ID,
			format.Ext,
			format.Resolution,
			orDash(strings.TrimSpace(format.Note)),
		})
	}
	return rows
}

// formatStatusLabel turns PENDING_EXTRACT into "Pending Extract".
func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func taskTitle(view ipc.TaskView) string {
	if title := strings.TrimSpace(view.Title); title != "" {
		return truncate(title, 40)
	}
	if view.OutputPath != "" {
		return truncate(filepath.Base(view.OutputPath), 40)
	}
	return truncate(view.SourceURL, 40)
}

func formatPercent(value float64) string {
	if value <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", value)
}

func formatBytes(value int64) string {
	if value <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(value))
}

func formatAge(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return humanize.Time(value)
}

func formatDisplayTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format("2006-01-02 15:04")
}

func formatProbeDuration(seconds float64) string {
	if seconds <= 0 {
		return "unknown"
	}
	return (time.Duration(seconds * float64(time.Second))).Round(time.Second).String()
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
