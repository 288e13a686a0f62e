package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/listing"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/resolver"
	"github.com/dyluth/patchbay/internal/timespec"
	"github.com/dyluth/patchbay/pkg/client"
)

var (
	sessionsLimit  int
	sessionsOutput string
	sessionsSince  string
	sessionsUntil  string
	sessionsName   string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [HASH]",
	Short: "List or inspect stored sessions",
	Long: `List resident sessions in creation order, or show one session.

List Mode (no HASH):
  Displays sessions matching the filters. The active session is marked *.

Show Mode (with HASH):
  Displays the session's metadata, neighbours and diagrams as JSON.
  Supports hash prefixes of at least 6 characters.

Examples:
  patchbay sessions
  patchbay sessions --since=2h --name='ai-*'
  patchbay sessions --output=jsonl | jq -r .sha1
  patchbay sessions 3f2a9c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete HASH",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		hash, err := resolveHash(cmd, c, args[0])
		if err != nil {
			return err
		}
		if err := c.Delete(cmd.Context(), hash); err != nil {
			return printer.FromError("delete session", err)
		}
		printer.Success("Deleted %s\n", hash)
		return nil
	},
}

var sessionsFileCmd = &cobra.Command{
	Use:   "file HASH NAME",
	Short: "Print one file of a session",
	Long: `Print one stored file of a session to stdout.

NAME is one of user_code.dsp, generated.cpp, errors.log, metadata.json,
or a diagram name such as process.svg.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		hash, err := resolveHash(cmd, c, args[0])
		if err != nil {
			return err
		}
		data, err := c.File(cmd.Context(), hash, args[1])
		if err != nil {
			// Diagrams live in their own namespace.
			if svg, derr := c.Diagram(cmd.Context(), hash, args[1]); derr == nil {
				data, err = svg, nil
			}
		}
		if err != nil {
			return printer.FromError("read session file", err)
		}
		_, err = printer.Stdout.Write(data)
		return err
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "Show at most the N newest sessions (0 = all)")
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "default", "Output format: default or jsonl (ignored in show mode)")
	sessionsCmd.Flags().StringVar(&sessionsSince, "since", "", "Show sessions created after time (duration or RFC3339)")
	sessionsCmd.Flags().StringVar(&sessionsUntil, "until", "", "Show sessions created before time (duration or RFC3339)")
	sessionsCmd.Flags().StringVar(&sessionsName, "name", "", "Filter by filename (glob pattern)")

	sessionsCmd.AddCommand(sessionsDeleteCmd, sessionsFileCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// resolveHash expands a hash prefix, rendering resolver failures.
func resolveHash(cmd *cobra.Command, c *client.Client, prefix string) (string, error) {
	hash, err := resolver.ResolveHash(cmd.Context(), c, prefix)
	if err == nil {
		return hash, nil
	}
	if resolver.IsAmbiguousError(err) {
		return "", printer.Error(
			"ambiguous session hash",
			resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)),
			nil,
		)
	}
	if resolver.IsNotFoundError(err) {
		return "", printer.Error(
			fmt.Sprintf("session '%s' not found", prefix),
			"No resident session has that hash.",
			[]string{"List all sessions:\n  patchbay sessions"},
		)
	}
	return "", printer.FromError("resolve session", err)
}

// sessionDetail is the show-mode output.
type sessionDetail struct {
	Hash      string   `json:"sha1"`
	Filename  string   `json:"filename"`
	CreatedAt int64    `json:"compilation_time"`
	Active    bool     `json:"active"`
	Previous  string   `json:"previous,omitempty"`
	Next      string   `json:"next,omitempty"`
	Diagrams  []string `json:"diagrams"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, _, err := newClient()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		return showSession(cmd, c, args[0])
	}

	format, err := listing.ParseFormat(sessionsOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}
	created, err := timespec.ParseRange(sessionsSince, sessionsUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{"Use a duration like 2h or an RFC3339 timestamp"})
	}
	if sessionsLimit < 0 {
		return printer.Error("invalid limit", "--limit must not be negative", nil)
	}

	list, err := c.Sessions(ctx, sessionsLimit)
	if err != nil {
		return printer.FromError("list sessions", err)
	}
	list = listing.Filter(list, listing.Criteria{Created: created, NameGlob: sessionsName})

	if format == listing.OutputFormatJSONL {
		return listing.FormatJSONL(printer.Stdout, list)
	}

	active := ""
	if doc, err := c.Read(ctx); err == nil {
		active = doc.ActiveHash()
	}
	listing.FormatTable(printer.Stdout, list, active, time.Now())
	return nil
}

func showSession(cmd *cobra.Command, c *client.Client, prefix string) error {
	ctx := cmd.Context()
	hash, err := resolveHash(cmd, c, prefix)
	if err != nil {
		return err
	}

	list, err := c.Sessions(ctx, 0)
	if err != nil {
		return printer.FromError("list sessions", err)
	}
	detail := sessionDetail{Hash: hash}
	found := false
	for _, m := range list {
		if m.Hash == hash {
			detail.Filename, detail.CreatedAt, found = m.Filename, m.CreatedAt, true
			break
		}
	}
	if !found {
		return printer.Error(
			fmt.Sprintf("session '%s' not found", short(hash)),
			"No resident session has that hash.",
			[]string{"List all sessions:\n  patchbay sessions"},
		)
	}

	n, err := c.Neighbors(ctx, hash)
	if err != nil {
		return printer.FromError("read neighbours", err)
	}
	detail.Previous, detail.Next = n.Previous, n.Next
	if detail.Diagrams, err = c.Diagrams(ctx, hash); err != nil {
		return printer.FromError("list diagrams", err)
	}
	if doc, err := c.Read(ctx); err == nil {
		detail.Active = doc.ActiveHash() == hash
	}
	return listing.FormatSingleJSON(printer.Stdout, detail)
}
