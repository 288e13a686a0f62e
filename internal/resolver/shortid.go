package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// MinShortIDLength is the minimum required length for short hash prefixes.
const MinShortIDLength = 6

// Lister returns the resident sessions in creation order.
type Lister interface {
	Sessions(ctx context.Context, limit int) ([]artifact.Metadata, error)
}

// ResolveHash resolves a hash prefix to a full content hash.
// Returns the full hash if exactly one resident session matches.
//
// A full 40-character hash is returned as-is without a lookup; the server
// reports it as not found when it is not resident.
func ResolveHash(ctx context.Context, sessions Lister, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if blackboard.ValidHash(prefix) {
		return prefix, nil
	}

	if len(prefix) < MinShortIDLength {
		return "", apperr.Invalid("short hash must be at least %d characters (got %d)", MinShortIDLength, len(prefix))
	}

	list, err := sessions.Sessions(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	var matches []string
	for _, m := range list {
		if strings.HasPrefix(m.Hash, prefix) {
			matches = append(matches, m.Hash)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: prefix, Matches: matches}
	}
}

// NotFoundError indicates no session matched the prefix.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no sessions found matching '%s'", e.ShortID)
}

// Unwrap lets apperr classify the error as not found.
func (e *NotFoundError) Unwrap() error {
	return apperr.NotFound("session not found").WithHint("list resident sessions with `patchbay sessions`")
}

// AmbiguousError indicates multiple sessions matched the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short hash '%s' matches %d sessions", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly message for ambiguous prefixes.
// Lists all matching hashes (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prefix '%s' matches %d sessions:\n", err.ShortID, len(err.Matches))

	shown := min(len(err.Matches), 10)
	for _, h := range err.Matches[:shown] {
		fmt.Fprintf(&b, "  %s\n", h)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the session.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
