package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/capture"
	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/listing"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/client"
)

var (
	measureSettle    time.Duration
	measureWindow    time.Duration
	measureEvery     time.Duration
	measureMaxFrames int
	measureHold      int
	measureStart     bool
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Issue a run command and capture the spectral response",
	Long: `Issue a parameter change or trigger, sample the spectrum summaries the
audio engine publishes over a short window, and print the series with its
aggregate.

A parameter capture opens after --settle; a trigger capture opens before
the trigger is sent so the transient is included.

Examples:
  patchbay measure param /synth/cutoff 1200
  patchbay measure trigger /drum/gate --window 800ms --max-frames 12`,
}

var measureParamCmd = &cobra.Command{
	Use:   "param PATH VALUE",
	Short: "Set a parameter, wait, then capture",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseFloatArg("value", args[1])
		if err != nil {
			return err
		}
		out := measureResult{Path: args[0], Value: &value}
		return runMeasure(cmd, &out, capture.AfterAction, func(ctx context.Context, c *client.Client) error {
			_, err := c.SetParam(ctx, args[0], value)
			return err
		})
	},
}

var measureTriggerCmd = &cobra.Command{
	Use:   "trigger PATH",
	Short: "Press a button and capture while it sounds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := measureResult{Path: args[0], HoldMs: measureHold}
		return runMeasure(cmd, &out, capture.AroundAction, func(ctx context.Context, c *client.Client) error {
			_, err := c.Trigger(ctx, args[0], measureHold)
			return err
		})
	},
}

type measureResult struct {
	Path   string   `json:"path"`
	Value  *float64 `json:"value,omitempty"`
	HoldMs int      `json:"holdMs,omitempty"`
	*capture.Result
}

// captureFunc is capture.AfterAction or capture.AroundAction.
type captureFunc func(ctx context.Context, r capture.Reader, opts capture.Options, action func(context.Context) error) (*capture.Result, error)

func init() {
	d := capture.DefaultOptions()
	measureCmd.PersistentFlags().DurationVar(&measureSettle, "settle", 0, "Delay before a parameter capture opens (default from config, "+d.Settle.String()+")")
	measureCmd.PersistentFlags().DurationVar(&measureWindow, "window", 0, "Capture window (default from config, "+d.Window.String()+")")
	measureCmd.PersistentFlags().DurationVar(&measureEvery, "every", 0, "Sample interval (default from config, "+d.Every.String()+")")
	measureCmd.PersistentFlags().IntVar(&measureMaxFrames, "max-frames", 0, "Maximum samples in the series")
	measureCmd.PersistentFlags().BoolVar(&measureStart, "start", true, "Start the transport before measuring")
	measureTriggerCmd.Flags().IntVar(&measureHold, "hold", blackboard.DefaultTriggerHold, "Hold time in milliseconds")

	measureCmd.AddCommand(measureParamCmd, measureTriggerCmd)
	rootCmd.AddCommand(measureCmd)
}

// measureOptions overlays the flags on the configured capture window.
func measureOptions(cmd *cobra.Command, cfg *config.Config) capture.Options {
	opts := cfg.Capture
	if cmd.Flags().Changed("settle") {
		opts.Settle = measureSettle
	}
	if measureWindow > 0 {
		opts.Window = measureWindow
	}
	if measureEvery > 0 {
		opts.Every = measureEvery
	}
	if measureMaxFrames > 0 {
		opts.MaxFrames = measureMaxFrames
	}
	return opts
}

func runMeasure(cmd *cobra.Command, out *measureResult, run captureFunc, action func(context.Context, *client.Client) error) error {
	c, cfg, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	doc, err := c.Read(ctx)
	if err != nil {
		return printer.FromError("read state", err)
	}
	if !doc.AudioUnlocked {
		return printer.FromError("measure", apperr.Unavailable("audio is locked").WithHint("open the UI and click Enable Audio"))
	}
	if measureStart {
		if _, err := c.Transport(ctx, blackboard.TransportStart); err != nil {
			return printer.FromError("start transport", err)
		}
	}

	res, err := run(ctx, c, measureOptions(cmd, cfg), func(ctx context.Context) error {
		return action(ctx, c)
	})
	if err != nil {
		return printer.FromError("measure", err)
	}
	out.Result = res
	return listing.FormatSingleJSON(printer.Stdout, out)
}
