package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/patchbay/internal/apperr"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Stdout and Stderr are the destinations for normal and error output.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stderr, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Detail prints a dimmed key/value line.
func Detail(key, value string) {
	faint.Fprintf(Stdout, "  %-12s", key+":")
	fmt.Fprintf(Stdout, " %s\n", value)
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the
// explanation and the suggestions.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(Stderr, "\n")
		for _, key := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", key, context[key])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Cobra runs with SilenceErrors, so only the title travels on.
	return &renderedError{fmt.Errorf("%s", title)}
}

var kindTitles = map[apperr.Kind]string{
	apperr.KindNotFound:     "Not found",
	apperr.KindInvalidInput: "Invalid request",
	apperr.KindConflict:     "Conflict",
	apperr.KindUnavailable:  "Unavailable",
	apperr.KindInternal:     "Internal error",
}

// FromError renders err through Error, titled by its kind and suggesting
// its hint. An error that was already rendered is returned unchanged.
func FromError(action string, err error) error {
	if err == nil {
		return nil
	}
	var rendered *renderedError
	if errors.As(err, &rendered) {
		return err
	}
	title := "Error"
	var typed *apperr.Error
	if errors.As(err, &typed) {
		title = kindTitles[typed.Kind]
	}
	if action != "" {
		title = fmt.Sprintf("%s: %s", title, action)
	}
	var suggestions []string
	if hint := apperr.HintOf(err); hint != "" {
		suggestions = []string{hint}
	}
	return Error(title, err.Error(), suggestions)
}

// renderedError marks an error whose details were already printed.
type renderedError struct{ err error }

func (e *renderedError) Error() string { return e.err.Error() }
