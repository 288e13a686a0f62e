package commands

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/listing"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

var (
	stateOutput string

	stateSetView     string
	stateSetSession  string
	stateSetUnlocked string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the shared state document",
	Long: `Show the shared state document that the UI, audio engines and
automation clients synchronise on.

Examples:
  patchbay state
  patchbay state --output=json | jq .spectrumSummary`,
	Args: cobra.NoArgs,
	RunE: runState,
}

var stateSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Merge a change into the shared state",
	Long: `Merge a change into the shared state document.

Examples:
  patchbay state set --view run
  patchbay state set --session 3f2a9c
  patchbay state set --session none
  patchbay state set --audio-unlocked=true`,
	Args: cobra.NoArgs,
	RunE: runStateSet,
}

func init() {
	stateCmd.Flags().StringVarP(&stateOutput, "output", "o", "default", "Output format: default or json")

	stateSetCmd.Flags().StringVar(&stateSetView, "view", "", "View: dsp, cpp, svg, run, signals or tasks")
	stateSetCmd.Flags().StringVar(&stateSetSession, "session", "", "Session hash or prefix to activate, or 'none' to clear")
	stateSetCmd.Flags().StringVar(&stateSetUnlocked, "audio-unlocked", "", "Set the audio unlock flag (true or false)")

	stateCmd.AddCommand(stateSetCmd)
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	doc, err := c.Read(cmd.Context())
	if err != nil {
		return printer.FromError("read state", err)
	}

	switch stateOutput {
	case "json":
		return listing.FormatSingleJSON(printer.Stdout, doc)
	case "default":
		printState(doc)
		return nil
	default:
		return printer.Error("invalid output format", fmt.Sprintf("Unknown format: %s", stateOutput), []string{"Valid formats: default, json"})
	}
}

func printState(doc *blackboard.Document) {
	if !doc.Initialized() {
		printer.Info("State has not been written yet\n")
		return
	}
	session := "none"
	if doc.Session != nil {
		session = fmt.Sprintf("%s (%s)", short(doc.Session.Hash), doc.Session.Filename)
	}
	printer.Detail("Session", session)
	printer.Detail("View", string(doc.View))
	printer.Detail("Audio", map[bool]string{true: "unlocked", false: "locked"}[doc.AudioUnlocked])
	printer.Detail("Voices", strconv.Itoa(doc.Voices))
	printer.Detail("Updated", time.UnixMilli(doc.UpdatedAt).Format(time.RFC3339))

	paths := make([]string, 0, len(doc.Params))
	for p := range doc.Params {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		printer.Detail("Param", fmt.Sprintf("%s = %g", p, doc.Params[p]))
	}
	if s := doc.Summary; s != nil {
		printer.Detail("Spectrum", fmt.Sprintf("rms %d dB, centroid %d Hz", s.Features.RmsDbQ, s.Features.CentroidHz))
		if s.AudioQuality != nil {
			printer.Detail("Quality", s.AudioQuality.Severity())
		}
	}
}

func runStateSet(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}

	p := &blackboard.Partial{View: blackboard.View(stateSetView)}
	switch stateSetSession {
	case "":
	case "none":
		p.ClearSession = true
	default:
		hash, err := resolveHash(cmd, c, stateSetSession)
		if err != nil {
			return err
		}
		p.Session = &blackboard.SessionRef{Hash: hash}
	}
	if stateSetUnlocked != "" {
		unlocked, err := strconv.ParseBool(stateSetUnlocked)
		if err != nil {
			return printer.Error("invalid --audio-unlocked", err.Error(), []string{"Use true or false"})
		}
		p.AudioUnlocked = &unlocked
	}
	if p.View == "" && p.Session == nil && !p.ClearSession && p.AudioUnlocked == nil {
		return printer.Error("nothing to set", "No change was given.", []string{"Pass --view, --session or --audio-unlocked"})
	}

	doc, err := c.Update(cmd.Context(), p)
	if err != nil {
		return printer.FromError("update state", err)
	}
	printState(doc)
	return nil
}
