package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/receiver"
	"github.com/dyluth/patchbay/pkg/client"
)

var (
	enginePoll    time.Duration
	engineWrite   time.Duration
	enginePublish bool
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run a headless receiver with the dry-run audio engine",
	Long: `Run a receiver that follows the shared state and applies its commands
to a dry-run engine. The engine renders nothing but logs every command and
publishes synthetic spectrum frames, so automation and measure commands
can be exercised without a browser or audio device.

Commands issued before the receiver started are never replayed. Held
buttons are released on exit.

Examples:
  patchbay engine
  patchbay engine --server http://studio:3000 --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runEngine,
}

func init() {
	engineCmd.Flags().DurationVar(&enginePoll, "poll", receiver.DefaultPollInterval, "State poll interval")
	engineCmd.Flags().DurationVar(&engineWrite, "write-interval", receiver.DefaultWriteInterval, "Minimum interval between parameter write-backs")
	engineCmd.Flags().BoolVar(&enginePublish, "publish", true, "Publish spectrum frames to the shared state")
	rootCmd.AddCommand(engineCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	c, cfg, err := newClient(client.WithMsgpack())
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if _, err := c.Health(ctx); err != nil {
		return printer.FromError("connect to server", err)
	}

	rcv := receiver.New(c, receiver.NewDryRun(logger), receiver.Options{
		PollInterval:  enginePoll,
		WriteInterval: engineWrite,
		PublishFrames: enginePublish,
		Telemetry:     cfg.Telemetry,
	}, logger)
	printer.Step("Receiver %s following %s\n", rcv.ID(), c.BaseURL())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rcv.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return printer.FromError("receiver stopped", err)
	}
	return nil
}
