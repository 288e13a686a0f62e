package blackboard

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/pkg/spectrum"
)

func TestPartialUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantHash  string
		wantClear bool
	}{
		{name: "absent session", body: `{"view":"run"}`},
		{name: "null clears", body: `{"session":null}`, wantClear: true},
		{name: "bare hash", body: `{"session":"` + hashA + `"}`, wantHash: hashA},
		{name: "object", body: `{"session":{"sha1":"` + hashB + `","filename":"x.dsp"}}`, wantHash: hashB},
		{name: "explicit flag", body: `{"clearSession":true}`, wantClear: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Partial
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			assert.Equal(t, tt.wantClear, p.ClearSession)
			if tt.wantHash == "" {
				assert.Nil(t, p.Session)
			} else {
				require.NotNil(t, p.Session)
				assert.Equal(t, tt.wantHash, p.Session.Hash)
			}
		})
	}

	t.Run("other fields survive custom decoding", func(t *testing.T) {
		var p Partial
		body := `{"session":null,"view":"svg","params":{"/a":1.5},"trigger":{"path":"/gate","holdMs":80,"nonce":7}}`
		require.NoError(t, json.Unmarshal([]byte(body), &p))
		assert.Equal(t, ViewSVG, p.View)
		assert.Equal(t, 1.5, p.Params["/a"])
		require.NotNil(t, p.Trigger)
		assert.Equal(t, int64(7), p.Trigger.Nonce)
	})

	t.Run("malformed session", func(t *testing.T) {
		var p Partial
		assert.Error(t, json.Unmarshal([]byte(`{"session":[1]}`), &p))
	})
}

func TestPartialValidate(t *testing.T) {
	valid := []*Partial{
		{},
		{Session: &SessionRef{Hash: hashA}},
		{ClearSession: true},
		{View: ViewSignals},
		{Voices: intPtr(0)},
		{Voices: intPtr(64)},
		{Params: map[string]float64{"/synth/freq": 220}},
		{Transport: &TransportCommand{Action: TransportToggle, Nonce: 1}},
		{Trigger: &TriggerCommand{Path: "/kick", HoldMs: 5000, Nonce: 1}},
		{Note: &NoteCommand{Action: NoteOn, Note: 127, Velocity: 1, Nonce: 1}},
		{Note: &NoteCommand{Action: NotePulse, Note: 60, Velocity: 0.8, HoldMs: 120, Nonce: 1}},
		{UI: json.RawMessage(`{"ui":[]}`)},
		{IfSession: hashA, Params: map[string]float64{"/synth/freq": 220}},
	}
	for i, p := range valid {
		assert.NoError(t, p.Validate(), "valid[%d]", i)
	}

	invalid := map[string]*Partial{
		"set and clear":    {ClearSession: true, Session: &SessionRef{Hash: hashA}},
		"short hash":       {Session: &SessionRef{Hash: "abc123"}},
		"uppercase hash":   {Session: &SessionRef{Hash: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}},
		"view":             {View: "mixer"},
		"voices":           {Voices: intPtr(3)},
		"relative path":    {Params: map[string]float64{"freq": 1}},
		"nan param":        {Params: map[string]float64{"/freq": math.NaN()}},
		"inf param":        {Params: map[string]float64{"/freq": math.Inf(1)}},
		"transport action": {Transport: &TransportCommand{Action: "pause", Nonce: 1}},
		"transport nonce":  {Transport: &TransportCommand{Action: TransportStart}},
		"trigger hold":     {Trigger: &TriggerCommand{Path: "/kick", HoldMs: 6000, Nonce: 1}},
		"trigger path":     {Trigger: &TriggerCommand{HoldMs: 80, Nonce: 1}},
		"note range":       {Note: &NoteCommand{Action: NoteOn, Note: 128, Velocity: 0.5, Nonce: 1}},
		"velocity":         {Note: &NoteCommand{Action: NoteOn, Note: 60, Velocity: 1.5, Nonce: 1}},
		"pulse hold":       {Note: &NoteCommand{Action: NotePulse, Note: 60, Velocity: 0.5, Nonce: 1}},
		"ui json":          {UI: json.RawMessage(`{nope`)},
		"empty spectrum":   {Spectrum: &spectrum.Frame{}},
		"precondition":     {IfSession: "abc123"},
	}
	for name, p := range invalid {
		assert.Error(t, p.Validate(), name)
	}
}

func TestApply(t *testing.T) {
	base := NewDocument()

	t.Run("empty fields are never applied", func(t *testing.T) {
		doc := base.Apply(&Partial{View: ViewRun, Params: map[string]float64{"/a": 1}}, 10)
		next := doc.Apply(&Partial{Session: &SessionRef{}, Params: map[string]float64{}, UI: json.RawMessage{}}, 20)

		assert.Equal(t, ViewRun, next.View)
		assert.Equal(t, map[string]float64{"/a": 1}, next.Params)
		assert.Equal(t, int64(10), next.ParamsUpdatedAt)
		assert.Equal(t, int64(20), next.UpdatedAt)
	})

	t.Run("does not mutate the receiver", func(t *testing.T) {
		doc := base.Apply(&Partial{Params: map[string]float64{"/a": 1}}, 10)
		_ = doc.Apply(&Partial{Params: map[string]float64{"/a": 2}}, 20)
		assert.Equal(t, 1.0, doc.Params["/a"])
	})

	t.Run("session switch then params in one partial", func(t *testing.T) {
		doc := base.Apply(&Partial{Session: &SessionRef{Hash: hashA}, Params: map[string]float64{"/old": 1}}, 10)
		next := doc.Apply(&Partial{Session: &SessionRef{Hash: hashB}, Params: map[string]float64{"/new": 2}}, 20)
		assert.Equal(t, map[string]float64{"/new": 2}, next.Params)
	})

	t.Run("nonce lookup per class", func(t *testing.T) {
		doc := base.Apply(&Partial{
			Transport: &TransportCommand{Action: TransportStop, Nonce: 5},
			Note:      &NoteCommand{Action: NoteOff, Note: 60, Nonce: 9},
		}, 10)
		assert.Equal(t, int64(5), doc.Nonce(ClassTransport))
		assert.Equal(t, int64(0), doc.Nonce(ClassTrigger))
		assert.Equal(t, int64(9), doc.Nonce(ClassNote))
	})
}

func TestClampHold(t *testing.T) {
	assert.Equal(t, DefaultTriggerHold, ClampHold(0, DefaultTriggerHold))
	assert.Equal(t, DefaultPulseHold, ClampHold(-5, DefaultPulseHold))
	assert.Equal(t, MaxHoldMs, ClampHold(10000, DefaultTriggerHold))
	assert.Equal(t, 250, ClampHold(250, DefaultTriggerHold))
}

func TestSerializationRoundTrip(t *testing.T) {
	doc := NewDocument().Apply(&Partial{
		Session:       &SessionRef{Hash: hashA, Filename: "osc.dsp"},
		View:          ViewRun,
		AudioUnlocked: boolPtr(true),
		Voices:        intPtr(4),
		UI:            json.RawMessage(`[{"type":"button","address":"/gate"}]`),
		Params:        map[string]float64{"/gate": 0, "/freq": 440},
		Transport:     &TransportCommand{Action: TransportStart, Nonce: 11},
		Spectrum:      &spectrum.Frame{SampleRate: 48000, Data: []float64{-20, -30}},
		Summary:       &spectrum.Summary{Type: spectrum.SummaryType, BandsDbQ: []int{-20}, Peaks: []spectrum.Peak{}},
	}, 1234)

	hash, err := DocumentToHash(doc)
	require.NoError(t, err)

	strs := make(map[string]string, len(hash))
	for k, v := range hash {
		switch val := v.(type) {
		case string:
			strs[k] = val
		default:
			b, _ := json.Marshal(val)
			strs[k] = string(b)
		}
	}
	assert.Equal(t, "", strs[fieldTrigger])

	back, err := HashToDocument(strs)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func boolPtr(v bool) *bool { return &v }
