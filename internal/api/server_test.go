package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/compiler"
	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

type testEnv struct {
	server *httptest.Server
	redis  *miniredis.Miniredis
	svc    *control.Service
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	state, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "api-test")
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	sessions, err := artifact.Open(t.TempDir(), 10, logging.Nop())
	require.NoError(t, err)

	svc := control.New(sessions, state, compiler.NewFake(), spectrum.DefaultConfig(), logging.Nop())
	srv := httptest.NewServer(New(svc, state, Options{PublicMetrics: true}, logging.Nop()).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, redis: mr, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) submit(t *testing.T, code string) control.SubmitResult {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/submit", map[string]any{"code": code, "filename": "osc.dsp"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[control.SubmitResult](t, resp)
}

func (e *testEnv) activate(t *testing.T, hash string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/state", map[string]any{"session": hash, "audioUnlocked": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitAndRetrieve(t *testing.T) {
	env := setupTestServer(t)
	res := env.submit(t, "process = os.osc(440);")
	assert.Len(t, res.Hash, 40)
	assert.True(t, res.Persisted)
	assert.Empty(t, res.Diagnostics)

	t.Run("source", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/"+res.Hash+"/user_code.dsp", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "process = os.osc(440);", string(body))
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	})

	t.Run("metadata", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/"+res.Hash+"/metadata.json", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		meta := decode[artifact.Metadata](t, resp)
		assert.Equal(t, res.Hash, meta.Hash)
		assert.Equal(t, "osc.dsp", meta.Filename)
	})

	t.Run("diagrams", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/"+res.Hash+"/svg", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[DiagramList](t, resp)
		assert.Equal(t, []string{"process.svg"}, list.Files)

		resp = env.do(t, http.MethodGet, "/api/"+res.Hash+"/svg/process.svg", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	})

	t.Run("unknown file and unknown hash are not found", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/"+res.Hash+"/passwd", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/api/not-a-hash/user_code.dsp", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decode[ErrorBody](t, resp)
		assert.Equal(t, "not_found", body.Kind)
		assert.NotEmpty(t, body.Hint)
	})

	t.Run("resubmission returns the same hash", func(t *testing.T) {
		again := env.submit(t, "process = os.osc(440);")
		assert.Equal(t, res.Hash, again.Hash)
	})
}

func TestSubmit_Rejections(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/submit", map[string]any{"code": "", "filename": "a.dsp"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/submit", map[string]any{"code": "process = 1;", "filename": "../a.dsp"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/submit", map[string]any{
		"code": "process = error;", "filename": "bad.dsp", "persistOnSuccessOnly": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[control.SubmitResult](t, resp)
	assert.False(t, res.Persisted)
	assert.NotEmpty(t, res.Diagnostics)

	resp = env.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Empty(t, decode[SessionList](t, resp).Sessions)
}

func TestSessionsNavigation(t *testing.T) {
	env := setupTestServer(t)
	a := env.submit(t, "process = 1;").Hash
	b := env.submit(t, "process = 2;").Hash
	c := env.submit(t, "process = 3;").Hash

	resp := env.do(t, http.MethodGet, "/api/sessions?limit=2", nil)
	list := decode[SessionList](t, resp)
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, b, list.Sessions[0].Hash)
	assert.Equal(t, c, list.Sessions[1].Hash)

	resp = env.do(t, http.MethodGet, "/api/"+b+"/neighbors", nil)
	n := decode[Neighbors](t, resp)
	assert.Equal(t, Neighbors{Previous: a, Next: c}, n)

	resp = env.do(t, http.MethodGet, "/api/sessions?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	t.Run("delete clears the active reference", func(t *testing.T) {
		env.activate(t, b)
		resp := env.do(t, http.MethodDelete, "/api/"+b, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/api/state", nil)
		doc := decode[blackboard.Document](t, resp)
		assert.Nil(t, doc.Session)

		resp = env.do(t, http.MethodDelete, "/api/"+b, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestState(t *testing.T) {
	env := setupTestServer(t)
	hash := env.submit(t, "process = 1;").Hash

	t.Run("uninitialized document", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/state", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		doc := decode[blackboard.Document](t, resp)
		assert.Zero(t, doc.UpdatedAt)
		assert.Equal(t, blackboard.DefaultView, doc.View)
	})

	t.Run("merge update returns the full document", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/state", map[string]any{"session": hash, "view": "run"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		first := decode[blackboard.Document](t, resp)
		assert.Equal(t, hash, first.ActiveHash())
		assert.Equal(t, "osc.dsp", first.Session.Filename)
		assert.Equal(t, blackboard.ViewRun, first.View)

		resp = env.do(t, http.MethodPost, "/api/state", map[string]any{"params": map[string]float64{"/gain": 0.3}})
		second := decode[blackboard.Document](t, resp)
		assert.Greater(t, second.UpdatedAt, first.UpdatedAt)
		assert.Equal(t, blackboard.ViewRun, second.View)
	})

	t.Run("explicit none clears the session", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/state", map[string]any{"session": nil})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		doc := decode[blackboard.Document](t, resp)
		assert.Nil(t, doc.Session)
		assert.Empty(t, doc.Params)
		assert.True(t, doc.Initialized())
	})

	t.Run("stale session precondition is a conflict", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/state", map[string]any{
			"ifSession": hash,
			"params":    map[string]float64{"/gate": 1},
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decode[ErrorBody](t, resp)
		assert.Equal(t, "conflict", body.Kind)
		assert.NotEmpty(t, body.Hint)

		resp = env.do(t, http.MethodGet, "/api/state", nil)
		assert.Empty(t, decode[blackboard.Document](t, resp).Params)
	})

	t.Run("unknown session rejects the update", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/state", map[string]any{
			"session": "0123456789abcdef0123456789abcdef01234567",
			"view":    "svg",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/api/state", nil)
		assert.NotEqual(t, blackboard.ViewSVG, decode[blackboard.Document](t, resp).View)
	})

	t.Run("malformed body", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/state", strings.NewReader("{"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestState_Msgpack(t *testing.T) {
	env := setupTestServer(t)
	data := make([]float64, 128)
	for i := range data {
		data[i] = -80
	}
	data[10] = -20

	payload, err := msgpack.Marshal(&blackboard.Partial{
		Spectrum: &spectrum.Frame{CapturedAt: 42, SampleRate: 44100, FFTSize: 256, FloorDb: -110, Data: data},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/state", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", MsgpackType)
	req.Header.Set("Accept", MsgpackType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, MsgpackType, resp.Header.Get("Content-Type"))

	var doc blackboard.Document
	require.NoError(t, msgpack.NewDecoder(resp.Body).Decode(&doc))
	require.NotNil(t, doc.Summary)
	assert.Equal(t, int64(42), doc.Summary.CapturedAt)
	require.NotEmpty(t, doc.Summary.Peaks)
}

func TestRunControl(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/run/trigger", map[string]any{"path": "/gate"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorBody](t, resp)
	assert.Equal(t, "no active session", body.Error)
	assert.NotEmpty(t, body.Hint)

	hash := env.submit(t, "process = 1;").Hash
	env.activate(t, hash)

	t.Run("param", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/run/param", map[string]any{"path": "/freq", "value": 220})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, ParamResponse{Hash: hash, Path: "/freq", Value: 220}, decode[ParamResponse](t, resp))

		resp = env.do(t, http.MethodGet, "/api/run/params", nil)
		assert.Equal(t, 220.0, decode[ParamsResponse](t, resp).Params["/freq"])
	})

	t.Run("trigger", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/run/trigger", map[string]any{"path": "/gate", "holdMs": 0})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode[TriggerResponse](t, resp)
		assert.Equal(t, blackboard.DefaultTriggerHold, out.Trigger.HoldMs)
		assert.Positive(t, out.Trigger.Nonce)
	})

	t.Run("transport", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/run/transport", map[string]any{"action": "toggle"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, blackboard.TransportToggle, decode[TransportResponse](t, resp).Transport.Action)

		resp = env.do(t, http.MethodPost, "/api/run/transport", map[string]any{"action": "rewind"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("midi", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/run/midi", map[string]any{"action": "pulse", "note": 60})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode[NoteResponse](t, resp)
		assert.Equal(t, blackboard.DefaultPulseHold, out.Note.HoldMs)
		assert.Equal(t, 60, out.Note.Note)
	})

	t.Run("polyphony", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/run/polyphony", map[string]any{"voices": 16})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp = env.do(t, http.MethodGet, "/api/run/polyphony", nil)
		assert.Equal(t, PolyphonyBody{Hash: hash, Voices: 16}, decode[PolyphonyBody](t, resp))

		resp = env.do(t, http.MethodPost, "/api/run/polyphony", map[string]any{"voices": 5})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ui not yet published", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/run/ui", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", decode[HealthResponse](t, resp).Redis)

	resp = env.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, "2.70.3", decode[map[string]string](t, resp)["version"])

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "patchbay_")

	env.redis.Close()
	resp = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, resp).Status)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	env := setupTestServer(t)
	srv := New(env.svc, nil, Options{}, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
