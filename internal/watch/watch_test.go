package watch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

var testHash = strings.Repeat("ab", 20)

func boolPtr(b bool) *bool { return &b }

func eventTypes(events []Event) []EventType {
	var out []EventType
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestDiff(t *testing.T) {
	base := blackboard.NewDocument()

	t.Run("unchanged document yields nothing", func(t *testing.T) {
		doc := base.Apply(&blackboard.Partial{View: blackboard.ViewRun}, 1000)
		assert.Empty(t, Diff(doc, doc.Clone()))
	})

	t.Run("first snapshot reports initialized fields", func(t *testing.T) {
		doc := base.Apply(&blackboard.Partial{
			Session:       &blackboard.SessionRef{Hash: testHash, Filename: "osc.dsp"},
			View:          blackboard.ViewRun,
			AudioUnlocked: boolPtr(true),
		}, 1000)
		events := Diff(nil, doc)
		assert.Equal(t, []EventType{EventSession, EventView, EventAudio}, eventTypes(events))
		assert.Equal(t, "osc.dsp", events[0].Detail["filename"])
		assert.Equal(t, int64(1000), events[0].UpdatedAt)
	})

	t.Run("params report changed and removed paths", func(t *testing.T) {
		prev := base.Apply(&blackboard.Partial{Params: map[string]float64{"/osc/freq": 440, "/osc/gain": 0.5}}, 1000)
		next := prev.Clone()
		next.Params = map[string]float64{"/osc/freq": 220, "/osc/gain": 0.5, "/osc/new": 1}
		next.UpdatedAt = 2000
		delete(prev.Params, "/osc/new")
		prev.Params["/osc/gone"] = 3

		events := Diff(prev, next)
		require.Len(t, events, 1)
		assert.Equal(t, EventParams, events[0].Type)
		assert.Equal(t, map[string]any{"/osc/freq": 220.0, "/osc/new": 1.0, "/osc/gone": nil}, events[0].Detail)
	})

	t.Run("commands are reported once per nonce", func(t *testing.T) {
		prev := base.Apply(&blackboard.Partial{
			Trigger: &blackboard.TriggerCommand{Path: "/drum/hit", HoldMs: 80, Nonce: 5},
		}, 1000)
		same := prev.Apply(&blackboard.Partial{View: blackboard.ViewSignals}, 2000)
		assert.Equal(t, []EventType{EventView}, eventTypes(Diff(prev, same)))

		next := same.Apply(&blackboard.Partial{
			Trigger:   &blackboard.TriggerCommand{Path: "/drum/hit", HoldMs: 30, Nonce: 6},
			Transport: &blackboard.TransportCommand{Action: blackboard.TransportStart, Nonce: 7},
		}, 3000)
		events := Diff(same, next)
		assert.Equal(t, []EventType{EventTransport, EventTrigger}, eventTypes(events))
		assert.Equal(t, 30, events[1].Detail["holdMs"])
	})

	t.Run("spectrum summary", func(t *testing.T) {
		next := base.Apply(&blackboard.Partial{Summary: &spectrum.Summary{
			Type:       spectrum.SummaryType,
			CapturedAt: 1500,
			Features:   spectrum.Features{RmsDbQ: -12, CentroidHz: 880},
		}}, 2000)
		events := Diff(base, next)
		require.Len(t, events, 1)
		assert.Equal(t, EventSpectrum, events[0].Type)
		assert.Equal(t, 880, events[0].Detail["centroidHz"])
	})
}

type failingReader struct{}

func (failingReader) Read(ctx context.Context) (*blackboard.Document, error) {
	return nil, apperr.Unavailable("down")
}

func TestStream(t *testing.T) {
	store := blackboard.NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, store, 10*time.Millisecond, func(ev Event) error {
			got <- ev
			if ev.Type == EventVoices {
				return errors.New("stop")
			}
			return nil
		})
	}()

	_, err := store.Update(ctx, &blackboard.Partial{View: blackboard.ViewRun})
	require.NoError(t, err)
	assert.Equal(t, EventView, (<-got).Type)

	voices := 8
	_, err = store.Update(ctx, &blackboard.Partial{Voices: &voices})
	require.NoError(t, err)
	assert.Equal(t, EventVoices, (<-got).Type)
	assert.EqualError(t, <-done, "stop")

	err = Stream(ctx, failingReader{}, time.Millisecond, func(Event) error { return nil })
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestUntil(t *testing.T) {
	store := blackboard.NewMemoryStore()
	ctx := context.Background()

	t.Run("returns once the condition holds", func(t *testing.T) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			store.Update(ctx, &blackboard.Partial{AudioUnlocked: boolPtr(true)})
		}()
		doc, err := Until(ctx, store, 2*time.Second, func(d *blackboard.Document) bool { return d.AudioUnlocked })
		require.NoError(t, err)
		assert.True(t, doc.AudioUnlocked)
	})

	t.Run("times out", func(t *testing.T) {
		_, err := Until(ctx, store, 50*time.Millisecond, func(d *blackboard.Document) bool { return d.Voices == 64 })
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	})

	t.Run("respects context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Until(cctx, store, time.Second, func(d *blackboard.Document) bool { return false })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWrite(t *testing.T) {
	ev := Event{Type: EventTrigger, UpdatedAt: 1000, Detail: map[string]any{"path": "/drum/hit", "holdMs": 80}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ev, OutputFormatJSON))
	assert.JSONEq(t, `{"type":"trigger","updatedAt":1000,"detail":{"path":"/drum/hit","holdMs":80}}`, buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, ev, OutputFormatDefault))
	assert.Contains(t, buf.String(), "trigger")
	assert.Contains(t, buf.String(), "holdMs=80 path=/drum/hit")
}
