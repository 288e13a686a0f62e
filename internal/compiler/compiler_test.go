package compiler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/logging"
)

// setupEntryDir lays out sourcecode/<filename> in a temp dir.
func setupEntryDir(t *testing.T, filename, source string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, artifact.SourceDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.SourceDir, filename), []byte(source), 0o644))
	return dir
}

func TestFake_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("success moves diagrams and writes empty diagnostics", func(t *testing.T) {
		dir := setupEntryDir(t, "osc.dsp", "process = os.osc(440);")
		res, err := NewFake().Analyze(ctx, dir, "osc.dsp")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.Diagnostics)

		assert.FileExists(t, filepath.Join(dir, artifact.CompiledFile))
		assert.FileExists(t, filepath.Join(dir, artifact.DiagramDir, "process.svg"))
		assert.NoDirExists(t, filepath.Join(dir, artifact.SourceDir, "osc-svg"))

		log, err := os.ReadFile(filepath.Join(dir, artifact.DiagnosticsFile))
		require.NoError(t, err)
		assert.Empty(t, log)
	})

	t.Run("failure records diagnostics", func(t *testing.T) {
		dir := setupEntryDir(t, "bad.dsp", "process = error;")
		res, err := NewFake().Analyze(ctx, dir, "bad.dsp")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Diagnostics, "undefined symbol")

		log, err := os.ReadFile(filepath.Join(dir, artifact.DiagnosticsFile))
		require.NoError(t, err)
		assert.Contains(t, string(log), "undefined symbol")
		assert.NoDirExists(t, filepath.Join(dir, artifact.DiagramDir))
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		dir := setupEntryDir(t, "slow.dsp", "process = _;")
		f := NewFake()
		f.Delay = time.Second
		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := f.Analyze(tctx, dir, "slow.dsp")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	})
}

func TestDisabled(t *testing.T) {
	var c Compiler = Disabled{}
	_, err := c.Analyze(context.Background(), t.TempDir(), "x.dsp")
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	assert.Equal(t, "set compiler.mode to docker or exec", apperr.HintOf(err))

	_, err = c.Version(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "FAUST Version 2.70.3", firstLine("FAUST Version 2.70.3\nEmbedded backends:\n"))
	assert.Equal(t, "12345678901234567890", firstLine("  12345678901234567890abc  "))
	assert.Equal(t, "", firstLine("\n\n"))
}

func TestVersionCache(t *testing.T) {
	var c versionCache
	calls := 0
	lookup := func(context.Context) (string, error) {
		calls++
		return "2.70.3\nmore", nil
	}

	v, err := c.get(context.Background(), lookup)
	require.NoError(t, err)
	assert.Equal(t, "2.70.3", v)

	v, err = c.get(context.Background(), lookup)
	require.NoError(t, err)
	assert.Equal(t, "2.70.3", v)
	assert.Equal(t, 1, calls)

	var failing versionCache
	_, err = failing.get(context.Background(), func(context.Context) (string, error) {
		return "", errors.New("boom")
	})
	assert.Error(t, err)
	assert.Empty(t, failing.version)
}

func TestOptions_HostPath(t *testing.T) {
	opts := Options{SessionsDir: "/app/sessions", HostSessionsDir: "/srv/patchbay/sessions"}

	p, err := opts.hostPath("/app/sessions/abc")
	require.NoError(t, err)
	assert.Equal(t, "/srv/patchbay/sessions/abc", p)

	p, err = opts.hostPath("/elsewhere/abc")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/abc", p)

	p, err = Options{}.hostPath("/app/sessions/abc")
	require.NoError(t, err)
	assert.Equal(t, "/app/sessions/abc", p)
}

// fakeContainers records calls and replays canned output.
type fakeContainers struct {
	exitCode  int64
	stdout    string
	stderr    string
	createErr error
	hang      bool

	created *container.Config
	host    *container.HostConfig
	removed []string
}

func (f *fakeContainers) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.created = config
	f.host = hostConfig
	return container.CreateResponse{ID: "c-" + name}, nil
}

func (f *fakeContainers) ContainerStart(ctx context.Context, id string, _ types.ContainerStartOptions) error {
	return nil
}

func (f *fakeContainers) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if !f.hang {
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeContainers) ContainerLogs(ctx context.Context, id string, _ types.ContainerLogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeContainers) ContainerRemove(ctx context.Context, id string, _ types.ContainerRemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func TestDocker_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("mounts the entry and records stderr", func(t *testing.T) {
		api := &fakeContainers{exitCode: 1, stderr: "bad.dsp : 1 : ERROR : syntax error\n"}
		d := NewDocker(api, Options{Instance: "test"}, logging.Nop())
		dir := setupEntryDir(t, "bad.dsp", "process = ;")

		res, err := d.Analyze(ctx, dir, "bad.dsp")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Diagnostics, "syntax error")

		assert.Equal(t, DefaultImage, api.created.Image)
		assert.Equal(t, []string{"sourcecode/bad.dsp", "-o", "generated.cpp", "-svg"}, []string(api.created.Cmd))
		assert.Equal(t, containerWorkDir, api.created.WorkingDir)
		require.Len(t, api.host.Mounts, 1)
		assert.Equal(t, dir, api.host.Mounts[0].Source)
		assert.Len(t, api.removed, 1)
	})

	t.Run("clean exit with warnings succeeds", func(t *testing.T) {
		api := &fakeContainers{stderr: "WARNING : unused\n"}
		d := NewDocker(api, Options{}, logging.Nop())
		dir := setupEntryDir(t, "ok.dsp", "process = _;")

		res, err := d.Analyze(ctx, dir, "ok.dsp")
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("create failure is unavailable", func(t *testing.T) {
		api := &fakeContainers{createErr: errors.New("no such image")}
		d := NewDocker(api, Options{}, logging.Nop())
		dir := setupEntryDir(t, "ok.dsp", "process = _;")

		_, err := d.Analyze(ctx, dir, "ok.dsp")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindUnavailable))
		assert.Contains(t, apperr.HintOf(err), "docker pull")
	})

	t.Run("timeout removes the container", func(t *testing.T) {
		api := &fakeContainers{hang: true}
		d := NewDocker(api, Options{Timeout: 20 * time.Millisecond}, logging.Nop())
		dir := setupEntryDir(t, "ok.dsp", "process = _;")

		_, err := d.Analyze(ctx, dir, "ok.dsp")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindUnavailable))
		assert.Len(t, api.removed, 1)
	})
}

func TestDocker_Version(t *testing.T) {
	api := &fakeContainers{stdout: "FAUST Version 2.70.3 (long build string)\n"}
	d := NewDocker(api, Options{}, logging.Nop())

	v, err := d.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FAUST Version 2.70.3", v)
	assert.Equal(t, []string{"-v"}, []string(api.created.Cmd))
	assert.Empty(t, api.host.Mounts)
}
