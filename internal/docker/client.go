package docker

import (
	"context"

	"github.com/docker/docker/client"

	"github.com/dyluth/patchbay/internal/apperr"
)

// NewClient creates a Docker client and validates daemon is accessible.
// Returns an unavailable error if the Docker daemon is not running or not accessible.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to create Docker client")
	}

	// Validate daemon is accessible
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "Docker daemon not accessible").
			WithHint("start Docker (Docker Desktop on macOS, `sudo systemctl start docker` on Linux) or set compiler.mode to exec")
	}

	return cli, nil
}
