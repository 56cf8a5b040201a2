package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// =============================================================================
// Subprocess execution
// =============================================================================

// ExecConfig describes one tool invocation.
type ExecConfig struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	Dir     string
	Env     map[string]string
	Logger  Logger
}

// ExecResult holds the captured output of a finished process.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExecFunc runs a tool. Adapters hold one so tests can substitute the
// subprocess with canned output.
type ExecFunc func(ctx context.Context, cfg *ExecConfig) (*ExecResult, error)

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// after the process itself has been killed.
const waitDelay = 5 * time.Second

// ExecuteScanner runs cfg.Binary and waits for it to exit, the timeout to
// elapse, or ctx to be cancelled. A process that exits with any code is a
// nil error; the caller decides which exit codes are acceptable. On timeout
// or cancellation the whole process group is killed.
func ExecuteScanner(ctx context.Context, cfg *ExecConfig) (*ExecResult, error) {
	if cfg == nil || cfg.Binary == "" {
		return nil, scanerrors.E(scanerrors.KindInvalidInput, "core.ExecuteScanner", "binary is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	execCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, cfg.Binary, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("running: %s %s", cfg.Binary, strings.Join(cfg.Args, " "))

	start := time.Now()
	err := cmd.Run()
	res := &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if ctxErr := execCtx.Err(); ctxErr != nil {
		res.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return res, scanerrors.E(scanerrors.KindTimeout, cfg.Binary,
				fmt.Sprintf("timed out after %s", cfg.Timeout), ctxErr)
		}
		return res, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			logger.Debug("%s exited with code %d in %s", cfg.Binary, res.ExitCode, res.Duration)
			return res, nil
		}
		return res, scanerrors.E(scanerrors.KindExecution, cfg.Binary, "failed to start", err)
	}

	logger.Debug("%s completed in %s", cfg.Binary, res.Duration)
	return res, nil
}

// CheckBinaryInstalled looks up binary on PATH and runs it with versionArg.
func CheckBinaryInstalled(ctx context.Context, binary string, versionArg ...string) (bool, string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return false, "", nil
	}
	res, err := ExecuteScanner(ctx, &ExecConfig{
		Binary:  path,
		Args:    versionArg,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return true, "", err
	}
	out := strings.TrimSpace(string(res.Stdout))
	if out == "" {
		out = strings.TrimSpace(string(res.Stderr))
	}
	return true, firstLine(out), nil
}

// CheckExitCode returns an execution error when code is not in ok.
func CheckExitCode(binary string, res *ExecResult, ok ...int) error {
	for _, c := range ok {
		if res.ExitCode == c {
			return nil
		}
	}
	return scanerrors.E(scanerrors.KindExecution, binary,
		fmt.Sprintf("exited with code %d: %s", res.ExitCode, truncate(strings.TrimSpace(string(res.Stderr)), 500)))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
