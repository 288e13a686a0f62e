package compiler

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/logging"
)

// Exec runs a compiler binary found on PATH, for hosts without Docker.
type Exec struct {
	opts    Options
	logger  *logging.Logger
	version versionCache
}

// NewExec creates an Exec runner.
func NewExec(opts Options, logger *logging.Logger) *Exec {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Exec{opts: opts.withDefaults(), logger: logger.Named("compiler")}
}

// Analyze implements Compiler.
func (e *Exec) Analyze(ctx context.Context, dir, filename string) (*Result, error) {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.opts.Binary, analyzeArgs(filename)...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil && isDeadline(runCtx.Err()) {
		return nil, timeoutError(e.opts.Timeout)
	}

	exitOK := err == nil
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to run %s", e.opts.Binary).
				WithHint("install the compiler or set compiler.mode to docker")
		}
	}

	e.logger.Event("compile_finished", map[string]interface{}{
		"filename":    filename,
		"success":     exitOK,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return finish(dir, filename, stderr.String(), exitOK, started)
}

// Version implements Compiler.
func (e *Exec) Version(ctx context.Context) (string, error) {
	return e.version.get(ctx, func(ctx context.Context) (string, error) {
		runCtx, cancel := context.WithTimeout(ctx, e.opts.VersionTimeout)
		defer cancel()

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(runCtx, e.opts.Binary, "-v")
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if isDeadline(runCtx.Err()) {
				return "", apperr.Unavailable("compiler version lookup timed out")
			}
			return "", apperr.Wrap(err, apperr.KindUnavailable, "failed to run %s", e.opts.Binary)
		}
		if stdout.Len() == 0 {
			return stderr.String(), nil
		}
		return stdout.String(), nil
	})
}
