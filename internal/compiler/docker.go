package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dyluth/patchbay/internal/apperr"
	dockerpkg "github.com/dyluth/patchbay/internal/docker"
	"github.com/dyluth/patchbay/internal/logging"
)

// containerWorkDir is where the entry directory is mounted in the
// compiler container.
const containerWorkDir = "/tmp"

// containerAPI is the subset of the Docker client used by Docker.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// Docker runs the compiler image as a short-lived container per request.
type Docker struct {
	api     containerAPI
	opts    Options
	logger  *logging.Logger
	version versionCache
}

// NewDocker creates a Docker runner. api is usually the client returned by
// internal/docker.NewClient.
func NewDocker(api containerAPI, opts Options, logger *logging.Logger) *Docker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Docker{api: api, opts: opts.withDefaults(), logger: logger.Named("compiler")}
}

// Analyze implements Compiler.
func (d *Docker) Analyze(ctx context.Context, dir, filename string) (*Result, error) {
	source, err := d.opts.hostPath(dir)
	if err != nil {
		return nil, apperr.Internal(err, "failed to resolve entry directory")
	}

	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	exitCode, stderr, err := d.run(runCtx, analyzeArgs(filename), &mount.Mount{
		Type:   mount.TypeBind,
		Source: source,
		Target: containerWorkDir,
	})
	if err != nil {
		if isDeadline(err) || isDeadline(runCtx.Err()) {
			return nil, timeoutError(d.opts.Timeout)
		}
		return nil, err
	}

	d.logger.Event("compile_finished", map[string]interface{}{
		"filename":    filename,
		"exit_code":   exitCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return finish(dir, filename, stderr, exitCode == 0, started)
}

// Version implements Compiler. The first successful answer is cached.
func (d *Docker) Version(ctx context.Context) (string, error) {
	return d.version.get(ctx, func(ctx context.Context) (string, error) {
		runCtx, cancel := context.WithTimeout(ctx, d.opts.VersionTimeout)
		defer cancel()

		stdout, stderr, err := d.output(runCtx, []string{"-v"})
		if err != nil {
			if isDeadline(err) || isDeadline(runCtx.Err()) {
				return "", apperr.Unavailable("compiler version lookup timed out")
			}
			return "", err
		}
		if stdout == "" {
			return stderr, nil
		}
		return stdout, nil
	})
}

func (d *Docker) run(ctx context.Context, args []string, bind *mount.Mount) (int64, string, error) {
	id, err := d.start(ctx, args, bind)
	if err != nil {
		return 0, "", err
	}
	defer d.remove(id)

	exitCode, err := d.wait(ctx, id)
	if err != nil {
		return 0, "", err
	}
	_, stderr, err := d.logs(ctx, id)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr, nil
}

func (d *Docker) output(ctx context.Context, args []string) (string, string, error) {
	id, err := d.start(ctx, args, nil)
	if err != nil {
		return "", "", err
	}
	defer d.remove(id)

	if _, err := d.wait(ctx, id); err != nil {
		return "", "", err
	}
	return d.logs(ctx, id)
}

func (d *Docker) start(ctx context.Context, args []string, bind *mount.Mount) (string, error) {
	containerConfig := &container.Config{
		Image:  d.opts.Image,
		Cmd:    args,
		Labels: dockerpkg.BuildLabels(d.opts.Instance, dockerpkg.ComponentCompiler, ""),
	}
	hostConfig := &container.HostConfig{
		AutoRemove:  false, // removed explicitly once logs are read
		NetworkMode: "none",
	}
	if bind != nil {
		containerConfig.WorkingDir = containerWorkDir
		hostConfig.Mounts = []mount.Mount{*bind}
	}

	name := dockerpkg.CompilerContainerName(d.opts.Instance)
	resp, err := d.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindUnavailable, "failed to create compiler container").
			WithHint(fmt.Sprintf("pull the image with `docker pull %s`", d.opts.Image))
	}

	if err := d.api.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		d.remove(resp.ID)
		return "", apperr.Wrap(err, apperr.KindUnavailable, "failed to start compiler container")
	}
	return resp.ID, nil
}

func (d *Docker) wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err == nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("failed waiting for compiler container: %w", err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, apperr.Unavailable("compiler container failed: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *Docker) logs(ctx context.Context, id string) (string, string, error) {
	reader, err := d.api.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", apperr.Wrap(err, apperr.KindUnavailable, "failed to read compiler output")
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", apperr.Internal(err, "failed to demultiplex compiler output")
	}
	return stdout.String(), stderr.String(), nil
}

// remove uses a fresh context so cleanup still happens after a timeout.
func (d *Docker) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.api.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		d.logger.Warn("failed to remove compiler container", map[string]interface{}{
			"container_id": id,
			"error":        err,
		})
	}
}
