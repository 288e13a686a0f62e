package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/internal/mcptools"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

var (
	submitPersistOnSuccess bool
	submitActivate         bool
	submitName             string
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit a DSP source file for compilation",
	Long: `Submit a Faust source file. The source is stored under its content hash,
compiled, and its diagnostics printed. Submitting the same source again
returns the stored result without compiling.

Use "-" as FILE to read the source from stdin.

Examples:
  patchbay submit osc.dsp
  patchbay submit --persist-on-success --activate osc.dsp
  cat osc.dsp | patchbay submit --name osc.dsp -`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitPersistOnSuccess, "persist-on-success", false, "Only keep the session if it compiles")
	submitCmd.Flags().BoolVar(&submitActivate, "activate", false, "Make the session the shared active session")
	submitCmd.Flags().StringVar(&submitName, "name", "", "Filename to record (default: the file's base name)")
	rootCmd.AddCommand(submitCmd)
}

func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	source, err := readSource(args[0])
	if err != nil {
		return printer.Error(
			"cannot read source",
			err.Error(),
			[]string{"Check the path and permissions"},
		)
	}

	name := submitName
	if name == "" && args[0] != "-" {
		name = filepath.Base(args[0])
	}
	if name == "" {
		name = mcptools.AutoFilename(time.Now())
	}
	if !strings.HasSuffix(name, artifact.SourceExt) {
		return printer.Error(
			"invalid filename",
			fmt.Sprintf("Filename %q must end in %s", name, artifact.SourceExt),
			[]string{"Rename the file or pass --name"},
		)
	}

	res, err := c.Submit(ctx, control.SubmitRequest{
		Source:               source,
		Filename:             name,
		PersistOnSuccessOnly: submitPersistOnSuccess,
	})
	if err != nil {
		return printer.FromError("submit", err)
	}

	if res.Diagnostics != "" {
		printer.Warning("Compiler output:\n")
		printer.Info("%s\n", strings.TrimRight(res.Diagnostics, "\n"))
	}
	if !res.Persisted {
		return printer.Error(
			"compilation failed",
			fmt.Sprintf("Source %s was not kept.", short(res.Hash)),
			[]string{"Fix the errors above and submit again"},
		)
	}

	printer.Success("Submitted %s (%s)\n", res.Hash, name)
	if submitActivate {
		if _, err := c.Update(ctx, &blackboard.Partial{Session: &blackboard.SessionRef{Hash: res.Hash}}); err != nil {
			return printer.FromError("activate session", err)
		}
		printer.Success("Active session is now %s\n", short(res.Hash))
	}
	return nil
}
