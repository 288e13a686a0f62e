package commands

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/patchbay/internal/api"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/compiler"
	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/control"
	dockerpkg "github.com/dyluth/patchbay/internal/docker"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the patchbay HTTP server",
	Long: `Run the HTTP API: submissions, the session store, the shared state
document and run control.

Configuration comes from patchbay.yml (see --config) with environment
overrides. A missing config file runs with defaults.

Examples:
  # Serve with defaults on :3000, state in local Redis
  patchbay serve

  # Single process, no Redis, compiler on the PATH
  REDIS_URL=memory:// PATCHBAY_COMPILER_MODE=exec patchbay serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

// stack is everything serve wires together.
type stack struct {
	server *api.Server
	close  func()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	logger := newLogger()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return printer.FromError("failed to start server", err)
	}
	defer st.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.server.ListenAndServe(gctx, cfg.Server.Listen)
	})
	if err := g.Wait(); err != nil {
		return printer.ErrorWithContext(
			"server stopped",
			err.Error(),
			map[string]string{"Listen": cfg.Server.Listen},
			[]string{"Check nothing else is listening on that address"},
		)
	}
	return nil
}

// buildStack opens the state store, the artifact store and the compiler.
func buildStack(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*stack, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	state, health, err := openState(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := state.(*blackboard.Client); ok {
		closers = append(closers, func() { c.Close() })
	}

	sessions, err := artifact.Open(cfg.Server.SessionsDir, cfg.Server.MaxSessions, logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	comp, closeComp := openCompiler(ctx, cfg, logger)
	closers = append(closers, closeComp)

	svc := control.New(sessions, state, comp, cfg.Telemetry, logger)
	server := api.New(svc, health, api.Options{PublicMetrics: *cfg.Server.PublicMetrics}, logger)
	logger.Event("server_configured", map[string]any{
		"sessions_dir":  cfg.Server.SessionsDir,
		"max_sessions":  cfg.Server.MaxSessions,
		"compiler_mode": cfg.Compiler.Mode,
		"instance":      cfg.Redis.Instance,
	})
	return &stack{server: server, close: closeAll}, nil
}

// openState connects to Redis, or returns the in-process store for
// memory://. The pinger is nil for the in-process store.
func openState(ctx context.Context, cfg *config.Config, logger *logging.Logger) (blackboard.Store, api.Pinger, error) {
	if cfg.Redis.URL == config.MemoryURL {
		logger.Warn("using in-process state; engines in other processes cannot connect", nil)
		return blackboard.NewMemoryStore(), nil, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	c, err := blackboard.NewClient(opts, cfg.Redis.Instance)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		// Health reports the outage; the server still starts.
		logger.Warn("redis not reachable", map[string]any{"url": cfg.Redis.URL, "error": err})
	}
	return c, c, nil
}

// openCompiler builds the configured runner. A Docker daemon that cannot
// be reached degrades to the disabled compiler.
func openCompiler(ctx context.Context, cfg *config.Config, logger *logging.Logger) (compiler.Compiler, func()) {
	opts := cfg.CompilerOptions()
	switch cfg.Compiler.Mode {
	case config.CompilerExec:
		return compiler.NewExec(opts, logger), func() {}
	case config.CompilerDocker:
		cli, err := dockerpkg.NewClient(ctx)
		if err != nil {
			logger.Warn("docker unavailable, submissions will not be compiled", map[string]any{
				"error": err,
				"hint":  "start Docker or set compiler.mode to exec",
			})
			return compiler.Disabled{}, func() {}
		}
		return compiler.NewDocker(cli, opts, logger), func() { cli.Close() }
	default:
		return compiler.Disabled{}, func() {}
	}
}
