package printer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/apperr"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := Stdout, Stderr
	Stdout, Stderr = &out, &errOut
	t.Cleanup(func() { Stdout, Stderr = prevOut, prevErr })
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, stderr := captureOutput(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "This is a test error")
	})

	t.Run("single suggestion is printed bare", func(t *testing.T) {
		_, stderr := captureOutput(t)
		Error("Test Error", "Explanation", []string{"Try this fix"})
		assert.Contains(t, stderr.String(), "\nTry this fix\n")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, stderr := captureOutput(t)
		Error("Test Error", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, stderr.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := captureOutput(t)
	err := ErrorWithContext("Test Error", "Explanation", map[string]string{
		"Server":   "http://localhost:3000",
		"Instance": "default",
	}, nil)
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, stderr.String(), "  Instance: default\n  Server: http://localhost:3000\n")
}

func TestFromError(t *testing.T) {
	t.Run("typed error uses kind and hint", func(t *testing.T) {
		_, stderr := captureOutput(t)
		err := FromError("submit", apperr.Unavailable("audio is locked").WithHint("open the UI and click Enable Audio"))
		require.Error(t, err)
		assert.Equal(t, "Unavailable: submit", err.Error())
		assert.Contains(t, stderr.String(), "audio is locked")
		assert.Contains(t, stderr.String(), "open the UI and click Enable Audio")
	})

	t.Run("plain error", func(t *testing.T) {
		captureOutput(t)
		err := FromError("", errors.New("boom"))
		assert.Equal(t, "Error", err.Error())
	})

	t.Run("rendered error is not printed twice", func(t *testing.T) {
		_, stderr := captureOutput(t)
		first := FromError("delete", apperr.NotFound("session not found"))
		stderr.Reset()
		second := FromError("outer", fmt.Errorf("wrapped: %w", first))
		assert.Empty(t, stderr.String())
		assert.Contains(t, second.Error(), "Not found: delete")
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, FromError("noop", nil))
	})
}

func TestSuccess(t *testing.T) {
	stdout, _ := captureOutput(t)
	Success("Submitted %s\n", "abc")
	assert.Contains(t, stdout.String(), "✓ Submitted abc")
}
