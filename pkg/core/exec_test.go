//go:build unix

package core

import (
	"context"
	"strings"
	"testing"
	"time"

	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

func TestExecuteScanner_CapturesOutput(t *testing.T) {
	res, err := ExecuteScanner(context.Background(), &ExecConfig{
		Binary:  "sh",
		Args:    []string{"-c", "echo out; echo err >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("ExecuteScanner() error = %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}

	if err := CheckExitCode("sh", res, 0, 1); err == nil {
		t.Error("exit code 3 should be rejected")
	} else if scanerrors.GetKind(err) != scanerrors.KindExecution {
		t.Errorf("kind = %v", scanerrors.GetKind(err))
	}
	if err := CheckExitCode("sh", res, 3); err != nil {
		t.Errorf("exit code 3 should be accepted: %v", err)
	}
}

func TestExecuteScanner_Timeout(t *testing.T) {
	start := time.Now()
	_, err := ExecuteScanner(context.Background(), &ExecConfig{
		Binary:  "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	if !scanerrors.IsTimeoutError(err) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("timeout did not stop the process promptly")
	}
}

func TestExecuteScanner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := ExecuteScanner(ctx, &ExecConfig{Binary: "sh", Args: []string{"-c", "sleep 30"}})
	if err != context.Canceled {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestExecuteScanner_MissingBinary(t *testing.T) {
	_, err := ExecuteScanner(context.Background(), &ExecConfig{Binary: "definitely-not-a-real-tool-xyz"})
	if scanerrors.GetKind(err) != scanerrors.KindExecution {
		t.Fatalf("error = %v, want execution kind", err)
	}

	if _, err := ExecuteScanner(context.Background(), &ExecConfig{}); scanerrors.GetKind(err) != scanerrors.KindInvalidInput {
		t.Errorf("empty binary error = %v", err)
	}
}

func TestCheckBinaryInstalled(t *testing.T) {
	ok, _, err := CheckBinaryInstalled(context.Background(), "definitely-not-a-real-tool-xyz", "--version")
	if ok || err != nil {
		t.Errorf("missing binary: ok=%v err=%v", ok, err)
	}

	ok, version, err := CheckBinaryInstalled(context.Background(), "sh", "-c", "echo v1.2.3")
	if !ok || err != nil {
		t.Fatalf("sh: ok=%v err=%v", ok, err)
	}
	if version != "v1.2.3" {
		t.Errorf("version = %q", version)
	}
}
