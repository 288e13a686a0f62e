// Package watch follows the shared state document by polling it and
// reporting what changed between successive snapshots.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// DefaultInterval is the polling period used when none is given.
const DefaultInterval = 200 * time.Millisecond

// Reader returns the current state document.
type Reader interface {
	Read(ctx context.Context) (*blackboard.Document, error)
}

// EventType names one kind of state change.
type EventType string

const (
	EventSession   EventType = "session"
	EventView      EventType = "view"
	EventAudio     EventType = "audio"
	EventVoices    EventType = "voices"
	EventParams    EventType = "params"
	EventTransport EventType = "transport"
	EventTrigger   EventType = "trigger"
	EventNote      EventType = "note"
	EventSpectrum  EventType = "spectrum"
)

// Event is one observed change.
type Event struct {
	Type      EventType      `json:"type"`
	UpdatedAt int64          `json:"updatedAt"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// Diff lists the changes from prev to next. A nil prev compares against a
// document that has never been written.
func Diff(prev, next *blackboard.Document) []Event {
	if prev == nil {
		prev = blackboard.NewDocument()
	}
	if next == nil || next.UpdatedAt == prev.UpdatedAt {
		return nil
	}
	at := next.UpdatedAt
	var events []Event

	if prev.ActiveHash() != next.ActiveHash() {
		detail := map[string]any{"sha1": next.ActiveHash()}
		if next.Session != nil && next.Session.Filename != "" {
			detail["filename"] = next.Session.Filename
		}
		events = append(events, Event{Type: EventSession, UpdatedAt: at, Detail: detail})
	}
	if prev.View != next.View {
		events = append(events, Event{Type: EventView, UpdatedAt: at, Detail: map[string]any{"view": string(next.View)}})
	}
	if prev.AudioUnlocked != next.AudioUnlocked {
		events = append(events, Event{Type: EventAudio, UpdatedAt: at, Detail: map[string]any{"unlocked": next.AudioUnlocked}})
	}
	if prev.Voices != next.Voices {
		events = append(events, Event{Type: EventVoices, UpdatedAt: at, Detail: map[string]any{"voices": next.Voices}})
	}
	if changed := changedParams(prev.Params, next.Params); len(changed) > 0 {
		events = append(events, Event{Type: EventParams, UpdatedAt: at, Detail: changed})
	}
	if n := next.Nonce(blackboard.ClassTransport); n != 0 && n != prev.Nonce(blackboard.ClassTransport) {
		events = append(events, Event{Type: EventTransport, UpdatedAt: at, Detail: map[string]any{
			"action": string(next.Transport.Action), "nonce": n,
		}})
	}
	if n := next.Nonce(blackboard.ClassTrigger); n != 0 && n != prev.Nonce(blackboard.ClassTrigger) {
		events = append(events, Event{Type: EventTrigger, UpdatedAt: at, Detail: map[string]any{
			"path": next.Trigger.Path, "holdMs": next.Trigger.HoldMs, "nonce": n,
		}})
	}
	if n := next.Nonce(blackboard.ClassNote); n != 0 && n != prev.Nonce(blackboard.ClassNote) {
		events = append(events, Event{Type: EventNote, UpdatedAt: at, Detail: map[string]any{
			"action": string(next.Note.Action), "note": next.Note.Note, "velocity": next.Note.Velocity, "nonce": n,
		}})
	}
	if next.Summary != nil && (prev.Summary == nil || !sameSummary(prev, next)) {
		detail := map[string]any{
			"rmsDbQ":     next.Summary.Features.RmsDbQ,
			"centroidHz": next.Summary.Features.CentroidHz,
		}
		if next.Summary.AudioQuality != nil {
			detail["severity"] = next.Summary.AudioQuality.Severity()
		}
		events = append(events, Event{Type: EventSpectrum, UpdatedAt: at, Detail: detail})
	}
	return events
}

func changedParams(prev, next map[string]float64) map[string]any {
	out := map[string]any{}
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			out[k] = v
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out[k] = nil
		}
	}
	return out
}

func sameSummary(prev, next *blackboard.Document) bool {
	return prev.Summary.CapturedAt == next.Summary.CapturedAt && prev.Summary.Features == next.Summary.Features
}

// Stream polls r every interval and calls fn for each change until ctx is
// done or fn returns an error. The first snapshot is reported as a diff
// against an unwritten document.
func Stream(ctx context.Context, r Reader, interval time.Duration, fn func(Event) error) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev *blackboard.Document
	for {
		doc, err := r.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read state: %w", err)
		}
		for _, ev := range Diff(prev, doc) {
			if err := fn(ev); err != nil {
				return err
			}
		}
		prev = doc

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Until polls r until cond holds and returns the matching document.
func Until(ctx context.Context, r Reader, timeout time.Duration, cond func(*blackboard.Document) bool) (*blackboard.Document, error) {
	ticker := time.NewTicker(DefaultInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		doc, err := r.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read state: %w", err)
		}
		if cond(doc) {
			return doc, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, apperr.Unavailable("condition not met after %v", timeout)
		case <-ticker.C:
		}
	}
}

// Write renders ev in the given format.
func Write(w io.Writer, ev Event, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	ts := time.UnixMilli(ev.UpdatedAt).Format("15:04:05.000")
	_, err := fmt.Fprintf(w, "[%s] %-9s %s\n", ts, ev.Type, formatDetail(ev.Detail))
	return err
}

func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		v := detail[k]
		if v == nil {
			v = "-"
		}
		out += fmt.Sprintf("%s=%v", k, v)
	}
	return out
}
