package process

import (
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestWaitReturnsExitCode(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")
	h, err := New(cmd, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.CloseStdin()
	code, err := h.Wait(2*time.Second, false)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestWaitCheckReportsNonZeroExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	h, err := New(cmd, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.CloseStdin()
	code, err := h.Wait(2*time.Second, true)
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if code != 3 {
		t.Fatalf("expected code 3, got %d", code)
	}
}

func TestWaitTimeoutKillsChild(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	h, err := New(cmd, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.CloseStdin()

	start := time.Now()
	_, err = h.Wait(100*time.Millisecond, false)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
	if h.State() != StateKilledByTimeout {
		t.Fatalf("expected StateKilledByTimeout, got %v", h.State())
	}
}

func TestCommunicateCollectsStdoutAndStderr(t *testing.T) {
	cmd := exec.Command("sh", "-c", "echo out; echo err 1>&2")
	h, err := New(cmd, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stdout, stderr, err := h.Communicate(nil, 2*time.Second)
	if err != nil {
		t.Fatalf("communicate: %v", err)
	}
	if strings.TrimSpace(string(stdout)) != "out" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
	if strings.TrimSpace(string(stderr)) != "err" {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestStreamPreservesPerStreamOrder(t *testing.T) {
	cmd := exec.Command("sh", "-c", "for i in 1 2 3; do echo out$i; done")
	h, err := New(cmd, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.CloseStdin()

	chunkCh, errCh := h.Stream(true, 4096)
	var stdout []byte
	for c := range chunkCh {
		if c.Stream == "stdout" {
			stdout = append(stdout, c.Data...)
		}
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if string(stdout) != "out1\nout2\nout3\n" {
		t.Fatalf("unexpected stdout sequence: %q", stdout)
	}
	h.Wait(2*time.Second, false)
}

func TestPTYCommunicateReturnsCleanlyOnNormalExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "echo hello")
	h, err := NewPTY(cmd, 24, 80, 0)
	if err != nil {
		t.Fatalf("new pty: %v", err)
	}
	stdout, _, err := h.Communicate(nil, 2*time.Second)
	if err != nil {
		t.Fatalf("expected clean communicate on normal pty exit, got %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Fatalf("unexpected pty output: %q", stdout)
	}
	h.ClosePty()
}

func TestPTYClosePtyIsIdempotent(t *testing.T) {
	cmd := exec.Command("true")
	h, err := NewPTY(cmd, 24, 80, 0)
	if err != nil {
		t.Fatalf("new pty: %v", err)
	}
	h.Wait(2*time.Second, false)

	if err := h.ClosePty(); err != nil {
		t.Fatalf("first close_pty: %v", err)
	}
	if h.IsPty() {
		t.Fatalf("expected IsPty false after close_pty")
	}
	if err := h.ClosePty(); err != nil {
		t.Fatalf("second close_pty should be a no-op, got %v", err)
	}
}

func TestStreamLinesSplitsOnNewline(t *testing.T) {
	cmd := exec.Command("sh", "-c", "printf 'a\\nb\\nc'")
	h, err := New(cmd, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.CloseStdin()

	lineCh, _ := h.StreamLines(true)
	var lines []string
	for c := range lineCh {
		lines = append(lines, string(c.Data))
	}
	h.Wait(2*time.Second, false)

	joined := strings.Join(lines, "")
	if joined != "a\nb\nc" {
		t.Fatalf("expected concatenated lines to equal byte stream, got %q", joined)
	}
}
