// Package compiler runs the external DSP compiler against an entry
// directory.
//
// The compiler is treated as an opaque tool: it reads
// sourcecode/<filename> and writes generated.cpp plus block diagrams into
// the directory it is handed, with a bounded run time. Two runners exist:
// Docker (the published compiler image) and Exec (a compiler binary on
// PATH).
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
)

// Defaults for Options.
const (
	DefaultImage          = "ghcr.io/orlarey/faustdocker:main"
	DefaultBinary         = "faust"
	DefaultTimeout        = 30 * time.Second
	DefaultVersionTimeout = 10 * time.Second

	// maxVersionLength bounds the version string shown in the UI.
	maxVersionLength = 20
)

// Result is the outcome of one analysis.
type Result struct {
	Success     bool
	Diagnostics string
	Duration    time.Duration
}

// Compiler analyses a source file inside an entry directory.
type Compiler interface {
	// Analyze compiles sourcecode/<filename> in dir, writing generated.cpp,
	// svg/*.svg and errors.log there. A compile error is a Result with
	// Success false; an error return means the compiler could not run.
	Analyze(ctx context.Context, dir, filename string) (*Result, error)

	// Version reports the compiler's version string.
	Version(ctx context.Context) (string, error)
}

// Options configure a runner.
type Options struct {
	Image          string
	Binary         string
	Timeout        time.Duration
	VersionTimeout time.Duration
	Instance       string

	// SessionsDir and HostSessionsDir translate bind-mount sources when
	// patchbay itself runs in a container next to the Docker daemon.
	SessionsDir     string
	HostSessionsDir string
}

func (o Options) withDefaults() Options {
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.VersionTimeout <= 0 {
		o.VersionTimeout = DefaultVersionTimeout
	}
	if o.Instance == "" {
		o.Instance = "default"
	}
	return o
}

// analyzeArgs is the compiler command line relative to the entry directory.
func analyzeArgs(filename string) []string {
	return []string{
		filepath.ToSlash(filepath.Join(artifact.SourceDir, filename)),
		"-o", artifact.CompiledFile,
		"-svg",
	}
}

// finish records diagnostics and collects diagrams after a run.
// The compiler writes diagrams to sourcecode/<base>-svg/; on success they
// are moved to svg/ so every entry has the same layout. Warnings on stderr
// do not fail a run that exited cleanly.
func finish(dir, filename, stderr string, exitOK bool, started time.Time) (*Result, error) {
	if err := os.WriteFile(filepath.Join(dir, artifact.DiagnosticsFile), []byte(stderr), 0o644); err != nil {
		return nil, apperr.Internal(err, "failed to write diagnostics")
	}

	if !exitOK {
		return &Result{Success: false, Diagnostics: stderr, Duration: time.Since(started)}, nil
	}

	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	produced := filepath.Join(dir, artifact.SourceDir, base+"-svg")
	if _, err := os.Stat(produced); err == nil {
		target := filepath.Join(dir, artifact.DiagramDir)
		if err := os.RemoveAll(target); err != nil {
			return nil, apperr.Internal(err, "failed to replace diagrams")
		}
		if err := os.Rename(produced, target); err != nil {
			return nil, apperr.Internal(err, "failed to move diagrams")
		}
	}

	return &Result{
		Success:     true,
		Diagnostics: stderr,
		Duration:    time.Since(started),
	}, nil
}

// timeoutError reports a run that exceeded its budget.
func timeoutError(limit time.Duration) error {
	return apperr.Unavailable("compiler timed out after %s", limit).
		WithHint("simplify the program or raise compiler.timeout")
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// versionCache remembers the first successful version lookup.
type versionCache struct {
	mu      sync.Mutex
	version string
}

func (c *versionCache) get(ctx context.Context, lookup func(context.Context) (string, error)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != "" {
		return c.version, nil
	}
	out, err := lookup(ctx)
	if err != nil {
		return "", err
	}
	c.version = firstLine(out)
	if c.version == "" {
		return "", apperr.Unavailable("compiler reported no version")
	}
	return c.version, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	line = strings.TrimSpace(line)
	if len(line) > maxVersionLength {
		line = line[:maxVersionLength]
	}
	return line
}

// hostPath maps a local directory to the path the Docker daemon sees.
func (o Options) hostPath(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if o.HostSessionsDir == "" || o.SessionsDir == "" {
		return abs, nil
	}
	root, err := filepath.Abs(o.SessionsDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", o.SessionsDir, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return abs, nil
	}
	return filepath.Join(o.HostSessionsDir, rel), nil
}
