package blackboard

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/dyluth/patchbay/pkg/spectrum"
)

// View is the panel the operator is looking at.
type View string

const (
	ViewDSP     View = "dsp"
	ViewCPP     View = "cpp"
	ViewSVG     View = "svg"
	ViewRun     View = "run"
	ViewSignals View = "signals"
	ViewTasks   View = "tasks"
)

// DefaultView is reported by a document that has never been written.
const DefaultView = ViewDSP

// SessionRef points at one entry of the artifact store.
type SessionRef struct {
	Hash     string `json:"sha1" msgpack:"sha1"`
	Filename string `json:"filename,omitempty" msgpack:"filename,omitempty"`
}

// CommandClass names an independent command stream. Each class has its
// own nonce sequence.
type CommandClass string

const (
	ClassTransport CommandClass = "transport"
	ClassTrigger   CommandClass = "trigger"
	ClassNote      CommandClass = "note"
)

// TransportAction controls audio output.
type TransportAction string

const (
	TransportStart  TransportAction = "start"
	TransportStop   TransportAction = "stop"
	TransportToggle TransportAction = "toggle"
)

// TransportCommand starts, stops or toggles audio output.
type TransportCommand struct {
	Action TransportAction `json:"action" msgpack:"action"`
	Nonce  int64           `json:"nonce" msgpack:"nonce"`
}

// TriggerCommand presses an impulse control, holds it and releases it.
type TriggerCommand struct {
	Path   string `json:"path" msgpack:"path"`
	HoldMs int    `json:"holdMs" msgpack:"holdMs"`
	Nonce  int64  `json:"nonce" msgpack:"nonce"`
}

// NoteAction is a MIDI-style note event.
type NoteAction string

const (
	NoteOn    NoteAction = "on"
	NoteOff   NoteAction = "off"
	NotePulse NoteAction = "pulse"
)

// NoteCommand plays a note. HoldMs only applies to pulses.
type NoteCommand struct {
	Action   NoteAction `json:"action" msgpack:"action"`
	Note     int        `json:"note" msgpack:"note"`
	Velocity float64    `json:"velocity" msgpack:"velocity"`
	HoldMs   int        `json:"holdMs,omitempty" msgpack:"holdMs,omitempty"`
	Nonce    int64      `json:"nonce" msgpack:"nonce"`
}

// Trigger and note timing limits, in milliseconds.
const (
	MinHoldMs          = 1
	MaxHoldMs          = 5000
	DefaultTriggerHold = 80
	DefaultPulseHold   = 120
	DefaultVelocity    = 0.8
)

// AllowedVoices lists the polyphony settings an engine accepts. 0 is mono.
var AllowedVoices = []int{0, 1, 2, 4, 8, 16, 32, 64}

// Document is the shared state snapshot.
//
// UpdatedAt is zero until the first accepted write and strictly increases
// with every write after that. Session is nil when no session is active.
type Document struct {
	Session         *SessionRef        `json:"session" msgpack:"session"`
	View            View               `json:"view" msgpack:"view"`
	AudioUnlocked   bool               `json:"audioUnlocked" msgpack:"audioUnlocked"`
	Voices          int                `json:"voices" msgpack:"voices"`
	UI              json.RawMessage    `json:"ui,omitempty" msgpack:"ui,omitempty"`
	Params          map[string]float64 `json:"params" msgpack:"params"`
	ParamsUpdatedAt int64              `json:"paramsUpdatedAt,omitempty" msgpack:"paramsUpdatedAt,omitempty"`
	Transport       *TransportCommand  `json:"transport,omitempty" msgpack:"transport,omitempty"`
	Trigger         *TriggerCommand    `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
	Note            *NoteCommand       `json:"note,omitempty" msgpack:"note,omitempty"`
	Spectrum        *spectrum.Frame    `json:"spectrum,omitempty" msgpack:"spectrum,omitempty"`
	Summary         *spectrum.Summary  `json:"spectrumSummary,omitempty" msgpack:"spectrumSummary,omitempty"`
	UpdatedAt       int64              `json:"updatedAt" msgpack:"updatedAt"`
}

// NewDocument returns the state of a document that has never been written.
func NewDocument() *Document {
	return &Document{View: DefaultView, Params: map[string]float64{}}
}

// Initialized reports whether the document has accepted at least one write.
func (d *Document) Initialized() bool {
	return d.UpdatedAt > 0
}

// ActiveHash returns the active session hash, or "" when none is active.
func (d *Document) ActiveHash() string {
	if d.Session == nil {
		return ""
	}
	return d.Session.Hash
}

// Nonce returns the nonce of the pending command of the given class, or 0.
func (d *Document) Nonce(class CommandClass) int64 {
	switch class {
	case ClassTransport:
		if d.Transport != nil {
			return d.Transport.Nonce
		}
	case ClassTrigger:
		if d.Trigger != nil {
			return d.Trigger.Nonce
		}
	case ClassNote:
		if d.Note != nil {
			return d.Note.Nonce
		}
	}
	return 0
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := *d
	if d.Session != nil {
		s := *d.Session
		out.Session = &s
	}
	out.UI = append(json.RawMessage(nil), d.UI...)
	if len(out.UI) == 0 {
		out.UI = nil
	}
	out.Params = make(map[string]float64, len(d.Params))
	for k, v := range d.Params {
		out.Params[k] = v
	}
	if d.Transport != nil {
		t := *d.Transport
		out.Transport = &t
	}
	if d.Trigger != nil {
		t := *d.Trigger
		out.Trigger = &t
	}
	if d.Note != nil {
		n := *d.Note
		out.Note = &n
	}
	if d.Spectrum != nil {
		f := *d.Spectrum
		f.Data = append([]float64(nil), d.Spectrum.Data...)
		f.Samples = append([]float64(nil), d.Spectrum.Samples...)
		out.Spectrum = &f
	}
	out.Summary = d.Summary.Clone()
	return &out
}

// clearSessionState drops everything derived from the active session.
func (d *Document) clearSessionState() {
	d.UI = nil
	d.Params = map[string]float64{}
	d.ParamsUpdatedAt = 0
	d.Transport = nil
	d.Trigger = nil
	d.Note = nil
	d.Spectrum = nil
	d.Summary = nil
}

// Validate checks if the View is a valid enum value.
func (v View) Validate() error {
	switch v {
	case ViewDSP, ViewCPP, ViewSVG, ViewRun, ViewSignals, ViewTasks:
		return nil
	default:
		return fmt.Errorf("unknown view: %q", v)
	}
}

// Validate checks the transport action and nonce.
func (c *TransportCommand) Validate() error {
	switch c.Action {
	case TransportStart, TransportStop, TransportToggle:
	default:
		return fmt.Errorf("unknown transport action: %q", c.Action)
	}
	if c.Nonce <= 0 {
		return fmt.Errorf("transport nonce must be positive")
	}
	return nil
}

// Validate checks the trigger path, hold and nonce.
func (c *TriggerCommand) Validate() error {
	if err := ValidateParamPath(c.Path); err != nil {
		return err
	}
	if c.HoldMs < MinHoldMs || c.HoldMs > MaxHoldMs {
		return fmt.Errorf("trigger hold must be between %d and %d ms, got %d", MinHoldMs, MaxHoldMs, c.HoldMs)
	}
	if c.Nonce <= 0 {
		return fmt.Errorf("trigger nonce must be positive")
	}
	return nil
}

// Validate checks the note action, range, velocity and nonce.
func (c *NoteCommand) Validate() error {
	switch c.Action {
	case NoteOn, NoteOff, NotePulse:
	default:
		return fmt.Errorf("unknown note action: %q", c.Action)
	}
	if c.Note < 0 || c.Note > 127 {
		return fmt.Errorf("note must be between 0 and 127, got %d", c.Note)
	}
	if c.Velocity < 0 || c.Velocity > 1 || math.IsNaN(c.Velocity) {
		return fmt.Errorf("velocity must be between 0 and 1, got %g", c.Velocity)
	}
	if c.Action == NotePulse && (c.HoldMs < MinHoldMs || c.HoldMs > MaxHoldMs) {
		return fmt.Errorf("pulse hold must be between %d and %d ms, got %d", MinHoldMs, MaxHoldMs, c.HoldMs)
	}
	if c.Nonce <= 0 {
		return fmt.Errorf("note nonce must be positive")
	}
	return nil
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidHash reports whether s is a lowercase hex SHA-1 digest.
func ValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

// ValidateParamPath checks a parameter address such as "/synth/freq".
func ValidateParamPath(path string) error {
	if path == "" {
		return fmt.Errorf("parameter path cannot be empty")
	}
	if path[0] != '/' {
		return fmt.Errorf("parameter path must start with '/': %q", path)
	}
	return nil
}

// ValidateVoices checks a polyphony setting against AllowedVoices.
func ValidateVoices(n int) error {
	for _, v := range AllowedVoices {
		if v == n {
			return nil
		}
	}
	return fmt.Errorf("voices must be one of %v, got %d", AllowedVoices, n)
}

// ClampHold clamps a hold duration, using def when ms is not positive.
func ClampHold(ms, def int) int {
	if ms <= 0 {
		return def
	}
	return min(MaxHoldMs, max(MinHoldMs, ms))
}
