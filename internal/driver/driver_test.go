package driver_test

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"

	"capstan/internal/driver"
)

func scanAll(t *testing.T, input string) []string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(driver.ScanToolLines)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestScanToolLinesSplitsOnNewlineAndCarriageReturn(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a\nb\n", []string{"a", "b"}},
		{"a\rb\rc\n", []string{"a", "b", "c"}},
		{"a\r\nb\r\n", []string{"a", "b"}},
		{"progress 10%\rprogress 50%\rprogress 100%\ndone", []string{"progress 10%", "progress 50%", "progress 100%", "done"}},
		{"trailing no terminator", []string{"trailing no terminator"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := scanAll(t, tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("scan %q: got %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("scan %q: line %d = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestExecutorMergesStdoutAndStderr(t *testing.T) {
	exec := driver.NewExecutor()
	handle, err := exec.Start(context.Background(), driver.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo one; echo two 1>&2; echo three"},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	var lines []string
	for line := range handle.Lines() {
		lines = append(lines, line)
	}
	if err := handle.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		seen[line] = true
	}
	for _, want := range []string{"one", "two", "three"} {
		if !seen[want] {
			t.Fatalf("expected line %q in output, got %v", want, lines)
		}
	}
}

func TestExecutorReportsExitCode(t *testing.T) {
	exec := driver.NewExecutor()
	handle, err := exec.Start(context.Background(), driver.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	for range handle.Lines() {
	}
	waitErr := handle.Wait()
	if waitErr == nil {
		t.Fatal("expected exit error")
	}
	if code := driver.ExitCode(waitErr); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
}

func TestExecutorStartFailure(t *testing.T) {
	exec := driver.NewExecutor()
	if _, err := exec.Start(context.Background(), driver.Command{Binary: "/nonexistent/tool"}); err == nil {
		t.Fatal("expected start error for missing binary")
	}
	if _, err := exec.Start(context.Background(), driver.Command{Binary: "  "}); err == nil {
		t.Fatal("expected start error for blank binary")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	exec := driver.NewExecutor()
	handle, err := exec.Start(context.Background(), driver.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", `trap "" TERM; echo ready; while :; do sleep 0.1; done`},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range handle.Lines() {
		}
	}()

	handle.Terminate(200 * time.Millisecond)

	start := time.Now()
	waitErr := handle.Wait()
	<-done
	if waitErr == nil {
		t.Fatal("expected error after forced kill")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("kill escalation took too long: %v", elapsed)
	}
}

func TestTerminateStopsCooperativeProcess(t *testing.T) {
	exec := driver.NewExecutor()
	handle, err := exec.Start(context.Background(), driver.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo ready; sleep 30"},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	go func() {
		for range handle.Lines() {
		}
	}()

	handle.Terminate(5 * time.Second)

	start := time.Now()
	if err := handle.Wait(); err == nil {
		t.Fatal("expected error after termination")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("cooperative termination took too long: %v", elapsed)
	}
}
