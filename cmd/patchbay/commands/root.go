package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/internal/mcptools"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/pkg/client"
)

var (
	version string
	commit  string
	date    string
)

var (
	serverURL  string
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "patchbay",
	Short: "Patchbay - DSP workbench server and automation CLI",
	Long: `Patchbay compiles Faust DSP programs into content-addressed sessions,
shares one live state document between the browser UI, audio engines and
automation clients, and reduces spectrum telemetry into compact summaries.

Run 'patchbay serve' to start the server; every other command talks to a
running server over HTTP.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
	mcptools.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Patchbay server URL (default $PATCHBAY_SERVER or "+client.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to patchbay.yml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file, rendering failures for the user.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix or remove %s", configPath)},
		)
	}
	return cfg, nil
}

// newLogger writes structured logs to stderr so stdout stays clean for
// command output and the MCP stdio transport.
func newLogger() *logging.Logger {
	return logging.New(os.Stderr, logLevel)
}

// newClient loads the config and resolves the server URL from --server,
// $PATCHBAY_SERVER and the default, in that order.
func newClient(opts ...client.Option) (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	base := serverURL
	if base == "" {
		base = cfg.ServerURL
	}
	if base == "" {
		base = client.DefaultBaseURL
	}
	return client.New(base, opts...), cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// short abbreviates a content hash for messages.
func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
