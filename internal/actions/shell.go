package actions

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

const (
	defaultShell         = "/bin/sh"
	defaultShellTimeout  = 5 * time.Minute
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// ShellConfig configures the ShellRunner.
type ShellConfig struct {
	Shell         string
	Timeout       time.Duration
	MaxOutputSize int64
	Dir           string
	Env           map[string]string
}

// ShellRunner runs command strings through `sh -c`.
type ShellRunner struct {
	cfg ShellConfig
}

// NewShellRunner creates a ShellRunner, filling unset config with defaults.
func NewShellRunner(cfg ShellConfig) *ShellRunner {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultShellTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	return &ShellRunner{cfg: cfg}
}

// Run executes command. A non-zero exit is reported in the result, not as an
// error; an error means the process could not be started at all.
func (r *ShellRunner) Run(ctx context.Context, command string) (CommandResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.cfg.Shell, "-c", command)
	cmd.WaitDelay = time.Second
	if r.cfg.Dir != "" {
		cmd.Dir = r.cfg.Dir
	}
	if len(r.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: r.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: r.cfg.MaxOutputSize}

	runErr := cmd.Run()
	result := CommandResult{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			result.ExitStatus = -1
			return result, &schema.CommandExecutionError{Command: command, ExitStatus: -1, Cause: runErr}
		}
		result.ExitStatus = exitErr.ExitCode()
	}
	return result, nil
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess from
// blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
