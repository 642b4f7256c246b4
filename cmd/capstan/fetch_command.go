package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"capstan/internal/ipc"
	"capstan/internal/task"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		destDir            string
		formatExpr         string
		codec              string
		preset             string
		startTime          string
		endTime            string
		cookiesFile        string
		cookiesFromBrowser string
		wait               bool
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Queue a media acquisition task",
		Long: `Queue a URL for probing, download, and optional transcode.

The task id is temporary until the probe resolves the output name; both ids
work with cancel, tasks, and history lookups.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if url == "" {
				return errors.New("url is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					URL:                url,
					DestDir:            destDir,
					CookiesFile:        cookiesFile,
					CookiesFromBrowser: cookiesFromBrowser,
					Start:              startTime,
					End:                endTime,
					Format:             formatExpr,
					Codec:              codec,
					Preset:             preset,
				})
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Task queued as %s\n", resp.Task.ID)
				if !wait {
					fmt.Fprintln(stdout, "Follow progress with `capstan tasks` or `capstan logs --follow`")
					return nil
				}
				return awaitTask(cmd, client, resp.Task.ID)
			})
		},
	}

	cmd.Flags().StringVar(&destDir, "dest", "", "Destination directory (defaults to the configured download dir)")
	cmd.Flags().StringVar(&formatExpr, "format", "", "Fetch tool format expression override")
	cmd.Flags().StringVar(&codec, "codec", "", "Transcode the download to this codec (h264, h264_nvenc, hevc, vp9)")
	cmd.Flags().StringVar(&preset, "preset", "", "Encoder preset for the transcode step")
	cmd.Flags().StringVar(&startTime, "start", "", "Trim start timestamp (HH:MM:SS)")
	cmd.Flags().StringVar(&endTime, "end", "", "Trim end timestamp (HH:MM:SS)")
	cmd.Flags().StringVar(&cookiesFile, "cookies", "", "Cookies file forwarded to the fetch tool")
	cmd.Flags().StringVar(&cookiesFromBrowser, "cookies-from-browser", "", "Browser profile to read cookies from")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the task reaches a terminal state")

	return cmd
}

// awaitTask polls the daemon until the task finishes, printing progress on
// status changes and coarse percent steps.
func awaitTask(cmd *cobra.Command, client *ipc.Client, id string) error {
	stdout := cmd.OutOrStdout()
	lastStatus := ""
	lastBucket := -1
	unknownStreak := 0

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		default:
		}

		resp, err := client.Await(ipc.AwaitRequest{ID: id, WaitMillis: 1000})
		if err != nil {
			return fmt.Errorf("await task %s: %w", id, err)
		}
		if resp.Done {
			if resp.Entry == nil {
				return fmt.Errorf("task %s finished without an archive entry", id)
			}
			return printOutcome(stdout, resp.Entry)
		}
		if resp.Task == nil {
			unknownStreak++
			if unknownStreak >= 3 {
				return fmt.Errorf("task %s is no longer tracked by the daemon", id)
			}
			continue
		}
		unknownStreak = 0

		if resp.Task.ID != id {
			fmt.Fprintf(stdout, "Task bound to %s\n", resp.Task.ID)
			id = resp.Task.ID
		}

		bucket := int(resp.Task.Percent) / 10
		if resp.Task.Status != lastStatus || bucket != lastBucket {
			fmt.Fprintln(stdout, progressLine(resp.Task))
			lastStatus = resp.Task.Status
			lastBucket = bucket
		}
	}
}

func progressLine(view *ipc.TaskView) string {
	label := formatStatusLabel(view.Status)
	if view.Percent <= 0 {
		return fmt.Sprintf("  %s", label)
	}
	line := fmt.Sprintf("  %s %.1f%%", label, view.Percent)
	if view.Speed != "" {
		line += fmt.Sprintf(" (%s", view.Speed)
		if view.ETA != "" {
			line += fmt.Sprintf(", ETA %s", view.ETA)
		}
		line += ")"
	}
	return line
}

func printOutcome(out io.Writer, entry *ipc.HistoryEntry) error {
	elapsed := ""
	if !entry.FinishedAt.IsZero() && !entry.CreatedAt.IsZero() {
		elapsed = entry.FinishedAt.Sub(entry.CreatedAt).Round(time.Second).String()
	}

	status, _ := task.ParseStatus(entry.Status)
	switch status {
	case task.StatusCompleted:
		detail := entry.OutputPath
		if entry.Bytes > 0 {
			detail = fmt.Sprintf("%s (%s", entry.OutputPath, formatBytes(entry.Bytes))
			if elapsed != "" {
				detail += " in " + elapsed
			}
			detail += ")"
		}
		fmt.Fprintf(out, "Completed: %s\n", detail)
		return nil
	case task.StatusCancelled:
		fmt.Fprintf(out, "Cancelled: %s\n", entry.TaskID)
		return nil
	default:
		message := strings.TrimSpace(entry.ErrorMessage)
		if message == "" {
			message = "unknown error"
		}
		fmt.Fprintf(out, "Failed: %s\n", message)
		return fmt.Errorf("task %s failed", entry.TaskID)
	}
}
