package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/api"
	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/compiler"
	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// setupTestClient starts a server backed by miniredis and a fake compiler.
func setupTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	state, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "client-test")
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	sessions, err := artifact.Open(t.TempDir(), 10, logging.Nop())
	require.NoError(t, err)

	svc := control.New(sessions, state, compiler.NewFake(), spectrum.DefaultConfig(), logging.Nop())
	srv := httptest.NewServer(api.New(svc, state, api.Options{}, logging.Nop()).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, opts...)
}

func TestClient_SubmitAndFiles(t *testing.T) {
	ctx := context.Background()
	c := setupTestClient(t)

	res, err := c.Submit(ctx, control.SubmitRequest{Source: "process = _;", Filename: "wire.dsp"})
	require.NoError(t, err)
	assert.True(t, res.Persisted)

	src, err := c.File(ctx, res.Hash, artifact.SourceFile)
	require.NoError(t, err)
	assert.Equal(t, "process = _;", string(src))

	diagrams, err := c.Diagrams(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"process.svg"}, diagrams)

	svg, err := c.Diagram(ctx, res.Hash, "process.svg")
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	list, err := c.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "wire.dsp", list[0].Filename)

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.70.3", v)

	require.NoError(t, c.Delete(ctx, res.Hash))
	err = c.Delete(ctx, res.Hash)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestClient_TypedErrors(t *testing.T) {
	ctx := context.Background()
	c := setupTestClient(t)

	_, err := c.Trigger(ctx, "/gate", 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.Equal(t, "submit code or select a session first", apperr.HintOf(err))

	_, err = c.File(ctx, "0123456789abcdef0123456789abcdef01234567", artifact.SourceFile)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := New(base).Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.NotEmpty(t, apperr.HintOf(err))
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Version(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_State(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"json", nil},
		{"msgpack", []Option{WithMsgpack()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			c := setupTestClient(t, tc.opts...)
			res, err := c.Submit(ctx, control.SubmitRequest{Source: "process = 0;", Filename: "zero.dsp"})
			require.NoError(t, err)

			unlocked := true
			doc, err := c.Update(ctx, &blackboard.Partial{
				Session:       &blackboard.SessionRef{Hash: res.Hash},
				View:          blackboard.ViewRun,
				AudioUnlocked: &unlocked,
				Params:        map[string]float64{"/gain": 0.5},
			})
			require.NoError(t, err)
			assert.Equal(t, res.Hash, doc.ActiveHash())
			assert.Equal(t, "zero.dsp", doc.Session.Filename)
			assert.Equal(t, 0.5, doc.Params["/gain"])

			read, err := c.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, doc.UpdatedAt, read.UpdatedAt)
			assert.True(t, read.AudioUnlocked)

			cleared, err := c.ClearSession(ctx)
			require.NoError(t, err)
			assert.Nil(t, cleared.Session)
			assert.Greater(t, cleared.UpdatedAt, doc.UpdatedAt)
		})
	}
}

func TestClient_RunControl(t *testing.T) {
	ctx := context.Background()
	c := setupTestClient(t)
	res, err := c.Submit(ctx, control.SubmitRequest{Source: "process = 0;", Filename: "zero.dsp"})
	require.NoError(t, err)
	unlocked := true
	_, err = c.Update(ctx, &blackboard.Partial{Session: &blackboard.SessionRef{Hash: res.Hash}, AudioUnlocked: &unlocked})
	require.NoError(t, err)

	p, err := c.SetParam(ctx, "/freq", 330)
	require.NoError(t, err)
	assert.Equal(t, 330.0, p.Value)

	params, err := c.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Hash, params.Hash)

	tr, err := c.Transport(ctx, blackboard.TransportStart)
	require.NoError(t, err)
	assert.Equal(t, blackboard.TransportStart, tr.Transport.Action)

	trig, err := c.Trigger(ctx, "/gate", 200)
	require.NoError(t, err)
	assert.Equal(t, 200, trig.Trigger.HoldMs)

	note, err := c.Note(ctx, control.NoteRequest{Action: blackboard.NoteOn, Note: 64, Velocity: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, note.Note.Velocity)

	poly, err := c.SetPolyphony(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, poly.Voices)

	got, err := c.Polyphony(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Voices)
}
