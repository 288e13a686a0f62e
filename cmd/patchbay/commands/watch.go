package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/watch"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

var (
	watchOutputFormat string
	watchInterval     time.Duration

	waitAudio   bool
	waitSession string
	waitSummary bool
	waitTimeout time.Duration
)

var stateWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream changes to the shared state",
	Long: `Stream changes to the shared state document as they occur.

Reports session switches, view changes, the audio unlock flag, polyphony,
parameter writes, transport/trigger/note commands and new spectrum
summaries.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  patchbay state watch
  patchbay state watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runStateWatch,
}

var stateWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the shared state satisfies a condition",
	Long: `Block until the shared state satisfies every given condition.

Examples:
  # Wait for the operator to click "Enable Audio"
  patchbay state wait --audio --timeout 2m

  # Wait for an engine to publish a spectrum summary
  patchbay state wait --summary`,
	Args: cobra.NoArgs,
	RunE: runStateWait,
}

func init() {
	stateWatchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	stateWatchCmd.Flags().DurationVar(&watchInterval, "interval", watch.DefaultInterval, "Polling interval")

	stateWaitCmd.Flags().BoolVar(&waitAudio, "audio", false, "Wait for audio to be unlocked")
	stateWaitCmd.Flags().StringVar(&waitSession, "session", "", "Wait for this session hash or prefix to become active")
	stateWaitCmd.Flags().BoolVar(&waitSummary, "summary", false, "Wait for a spectrum summary to be present")
	stateWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", time.Minute, "Give up after this long")

	stateCmd.AddCommand(stateWatchCmd, stateWaitCmd)
}

func runStateWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	c, _, err := newClient()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	err = watch.Stream(ctx, c, watchInterval, func(ev watch.Event) error {
		return watch.Write(printer.Stdout, ev, format)
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return printer.FromError("watch state", err)
}

func runStateWait(cmd *cobra.Command, args []string) error {
	if !waitAudio && waitSession == "" && !waitSummary {
		return printer.Error("nothing to wait for", "No condition was given.", []string{"Pass --audio, --session or --summary"})
	}

	c, _, err := newClient()
	if err != nil {
		return err
	}
	var hash string
	if waitSession != "" {
		if hash, err = resolveHash(cmd, c, waitSession); err != nil {
			return err
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	doc, err := watch.Until(ctx, c, waitTimeout, func(d *blackboard.Document) bool {
		if waitAudio && !d.AudioUnlocked {
			return false
		}
		if hash != "" && d.ActiveHash() != hash {
			return false
		}
		return !waitSummary || d.Summary != nil
	})
	if err != nil {
		return printer.FromError("wait for state", err)
	}
	printState(doc)
	return nil
}
