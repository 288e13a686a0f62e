package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
)

// Fake is an in-process Compiler for tests and dry runs. A source
// containing FailMarker fails with Diagnostics; anything else succeeds and
// produces a stub generated.cpp and one diagram.
type Fake struct {
	FailMarker  string
	Diagnostics string
	VersionText string
	Err         error
	Delay       time.Duration

	mu    sync.Mutex
	calls int
}

// NewFake returns a Fake that fails on sources containing "error".
func NewFake() *Fake {
	return &Fake{
		FailMarker:  "error",
		Diagnostics: "ERROR : undefined symbol\n",
		VersionText: "2.70.3",
	}
}

// Calls reports how many times Analyze ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Analyze implements Compiler.
func (f *Fake) Analyze(ctx context.Context, dir, filename string) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	started := time.Now()
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, timeoutError(f.Delay)
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}

	source, err := os.ReadFile(filepath.Join(dir, artifact.SourceDir, filename))
	if err != nil {
		return nil, err
	}
	if f.FailMarker != "" && strings.Contains(string(source), f.FailMarker) {
		return finish(dir, filename, f.Diagnostics, false, started)
	}

	if err := os.WriteFile(filepath.Join(dir, artifact.CompiledFile), []byte("// generated\n"), 0o644); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	svgDir := filepath.Join(dir, artifact.SourceDir, base+"-svg")
	if err := os.MkdirAll(svgDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(svgDir, "process.svg"), []byte("<svg/>"), 0o644); err != nil {
		return nil, err
	}
	return finish(dir, filename, "", true, started)
}

// Version implements Compiler.
func (f *Fake) Version(ctx context.Context) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return firstLine(f.VersionText), nil
}

// Disabled is the Compiler used when compiler.mode is none. Every run
// fails as unavailable, so submissions are stored without analysis.
type Disabled struct{}

func errDisabled() error {
	return apperr.Unavailable("no compiler configured").
		WithHint("set compiler.mode to docker or exec")
}

// Analyze implements Compiler.
func (Disabled) Analyze(ctx context.Context, dir, filename string) (*Result, error) {
	return nil, errDisabled()
}

// Version implements Compiler.
func (Disabled) Version(ctx context.Context) (string, error) {
	return "", errDisabled()
}
