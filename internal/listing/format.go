// Package listing renders resident sessions for the sessions command.
package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/timespec"
)

// OutputFormat specifies how to format the session list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with short hashes
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs one metadata object per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSONL:
		return f, nil
	}
	return "", fmt.Errorf("unknown format: %s", s)
}

// Criteria filters a session list. All filters are ANDed together.
type Criteria struct {
	Created  timespec.Range
	NameGlob string // glob on the submitted filename, empty = no filter
}

func (c Criteria) matches(m artifact.Metadata) bool {
	if !c.Created.Contains(m.CreatedAt) {
		return false
	}
	if c.NameGlob != "" {
		matched, err := filepath.Match(c.NameGlob, m.Filename)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// Filter returns the sessions matching c, keeping their order.
func Filter(sessions []artifact.Metadata, c Criteria) []artifact.Metadata {
	out := make([]artifact.Metadata, 0, len(sessions))
	for _, m := range sessions {
		if c.matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// FormatTable writes sessions as a table. active marks the shared active
// session. Returns the number of rows written.
func FormatTable(w io.Writer, sessions []artifact.Metadata, active string, now time.Time) int {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found")
		return 0
	}

	fmt.Fprintf(w, "  %-10s %-32s %s\n", "SHA1", "FILENAME", "AGE")
	fmt.Fprintf(w, "  %-10s %-32s %s\n", "----------", "--------------------------------", "--------")
	for _, m := range sessions {
		marker := " "
		if m.Hash == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-10s %-32s %s\n", marker, formatHash(m.Hash), formatFilename(m.Filename), formatAge(m.CreatedAt, now))
	}

	noun := "session"
	if len(sessions) != 1 {
		noun = "sessions"
	}
	fmt.Fprintf(w, "\n%d %s\n", len(sessions), noun)
	return len(sessions)
}

// FormatJSONL writes each session's metadata as one JSON line.
func FormatJSONL(w io.Writer, sessions []artifact.Metadata) error {
	enc := json.NewEncoder(w)
	for _, m := range sessions {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as indented JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

// formatHash shortens a content hash to its first 8 characters.
func formatHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func formatFilename(name string) string {
	if name == "" {
		return "-"
	}
	if len(name) > 32 {
		return name[:29] + "..."
	}
	return name
}

// formatAge renders a creation time in milliseconds relative to now.
func formatAge(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	diff := now.Sub(time.UnixMilli(ms))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", max(0, int(diff.Seconds())))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
