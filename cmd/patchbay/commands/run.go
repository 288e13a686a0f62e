package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/internal/listing"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/client"
)

var (
	runTriggerHold int
	runPulseHold   int
	runVelocity    float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Control the running DSP of the active session",
	Long: `Read the run surface of the active session and issue commands to the
audio engines: parameter changes, button triggers, transport, MIDI notes
and polyphony.

Transport start and toggle, triggers and notes need audio to be unlocked
in the UI.

Examples:
  patchbay run params
  patchbay run param /synth/freq 220
  patchbay run trigger /synth/gate --hold 120
  patchbay run note pulse 60 --velocity 0.9
  patchbay run polyphony 8`,
}

// runLeaf builds a run subcommand whose result is printed as JSON.
func runLeaf(use, short string, args cobra.PositionalArgs, do func(cmd *cobra.Command, c *client.Client, args []string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, a []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			out, err := do(cmd, c, a)
			if err != nil {
				return printer.FromError(cmd.Name(), err)
			}
			return listing.FormatSingleJSON(printer.Stdout, out)
		},
	}
}

func parseFloatArg(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, printer.Error(fmt.Sprintf("invalid %s", name), fmt.Sprintf("%q is not a number", s), nil)
	}
	return v, nil
}

func parseIntArg(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, printer.Error(fmt.Sprintf("invalid %s", name), fmt.Sprintf("%q is not an integer", s), nil)
	}
	return v, nil
}

func init() {
	runCmd.AddCommand(
		runLeaf("ui", "Print the UI descriptor", cobra.NoArgs, func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
			return c.UI(cmd.Context())
		}),
		runLeaf("params", "Print the current parameter values", cobra.NoArgs, func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
			return c.Params(cmd.Context())
		}),
		runLeaf("param PATH VALUE", "Set a parameter", cobra.ExactArgs(2), func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
			v, err := parseFloatArg("value", args[1])
			if err != nil {
				return nil, err
			}
			return c.SetParam(cmd.Context(), args[0], v)
		}),
		runLeaf("transport start|stop|toggle", "Start, stop or toggle audio", cobra.ExactArgs(1), func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
			return c.Transport(cmd.Context(), blackboard.TransportAction(args[0]))
		}),
	)

	triggerCmd := runLeaf("trigger PATH", "Press a button for a hold time", cobra.ExactArgs(1), func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
		return c.Trigger(cmd.Context(), args[0], runTriggerHold)
	})
	triggerCmd.Flags().IntVar(&runTriggerHold, "hold", blackboard.DefaultTriggerHold, "Hold time in milliseconds")

	noteCmd := runLeaf("note on|off|pulse NOTE", "Send a MIDI note", cobra.ExactArgs(2), func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
		note, err := parseIntArg("note", args[1])
		if err != nil {
			return nil, err
		}
		req := control.NoteRequest{Action: blackboard.NoteAction(args[0]), Note: note}
		if req.Action != blackboard.NoteOff {
			req.Velocity = runVelocity
		}
		if req.Action == blackboard.NotePulse {
			req.HoldMs = runPulseHold
		}
		return c.Note(cmd.Context(), req)
	})
	noteCmd.Flags().Float64Var(&runVelocity, "velocity", blackboard.DefaultVelocity, "Velocity in [0, 1]")
	noteCmd.Flags().IntVar(&runPulseHold, "hold", blackboard.DefaultPulseHold, "Pulse hold time in milliseconds")

	polyCmd := runLeaf("polyphony [N]", "Show or set the number of voices (0 = mono)", cobra.MaximumNArgs(1), func(cmd *cobra.Command, c *client.Client, args []string) (any, error) {
		if len(args) == 0 {
			return c.Polyphony(cmd.Context())
		}
		n, err := parseIntArg("voices", args[0])
		if err != nil {
			return nil, err
		}
		return c.SetPolyphony(cmd.Context(), n)
	})

	runCmd.AddCommand(triggerCmd, noteCmd, polyCmd)
	rootCmd.AddCommand(runCmd)
}
