package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
)

type fakeLister struct {
	sessions []artifact.Metadata
	err      error
}

func (f *fakeLister) Sessions(ctx context.Context, limit int) ([]artifact.Metadata, error) {
	return f.sessions, f.err
}

func hashOf(prefix string) string {
	return prefix + strings.Repeat("0", 40-len(prefix))
}

func TestResolveHash(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{sessions: []artifact.Metadata{
		{Hash: hashOf("abcdef12")},
		{Hash: hashOf("abcdef34")},
		{Hash: hashOf("123456")},
	}}

	t.Run("full hash is returned without lookup", func(t *testing.T) {
		full := hashOf("ffffff")
		got, err := ResolveHash(ctx, &fakeLister{err: errors.New("unused")}, strings.ToUpper(full))
		require.NoError(t, err)
		assert.Equal(t, full, got)
	})

	t.Run("unique prefix", func(t *testing.T) {
		got, err := ResolveHash(ctx, lister, "123456")
		require.NoError(t, err)
		assert.Equal(t, hashOf("123456"), got)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveHash(ctx, lister, "abc")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveHash(ctx, lister, "999999")
		require.Error(t, err)
		assert.True(t, IsNotFoundError(err))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveHash(ctx, lister, "abcdef")
		require.Error(t, err)
		require.True(t, IsAmbiguousError(err))
		msg := FormatAmbiguousError(err.(*AmbiguousError))
		assert.Contains(t, msg, "matches 2 sessions")
		assert.Contains(t, msg, hashOf("abcdef12"))
	})

	t.Run("list failure", func(t *testing.T) {
		_, err := ResolveHash(ctx, &fakeLister{err: apperr.Unavailable("down")}, "abcdef")
		assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	})
}

func TestFormatAmbiguousError_Truncates(t *testing.T) {
	var matches []string
	for i := 0; i < 12; i++ {
		matches = append(matches, hashOf(fmt.Sprintf("abcdef%02d", i)))
	}
	msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abcdef", Matches: matches})
	assert.Contains(t, msg, "...and 2 more")
	assert.NotContains(t, msg, hashOf("abcdef11"))
}
