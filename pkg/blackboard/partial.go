package blackboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dyluth/patchbay/pkg/spectrum"
)

// Partial is a merge-update of the document. Only fields that are present
// and non-empty are applied; everything else is left untouched.
//
// ClearSession sets the active session to none. In JSON it may also be
// expressed as "session": null.
//
// IfSession is a precondition, not a change: when set, the store rejects
// the whole partial with ErrSessionChanged unless IfSession is the active
// session at the moment of the write.
type Partial struct {
	IfSession     string             `json:"ifSession,omitempty" msgpack:"ifSession,omitempty"`
	Session       *SessionRef        `json:"session,omitempty" msgpack:"session,omitempty"`
	ClearSession  bool               `json:"clearSession,omitempty" msgpack:"clearSession,omitempty"`
	View          View               `json:"view,omitempty" msgpack:"view,omitempty"`
	AudioUnlocked *bool              `json:"audioUnlocked,omitempty" msgpack:"audioUnlocked,omitempty"`
	Voices        *int               `json:"voices,omitempty" msgpack:"voices,omitempty"`
	UI            json.RawMessage    `json:"ui,omitempty" msgpack:"ui,omitempty"`
	Params        map[string]float64 `json:"params,omitempty" msgpack:"params,omitempty"`
	Transport     *TransportCommand  `json:"transport,omitempty" msgpack:"transport,omitempty"`
	Trigger       *TriggerCommand    `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
	Note          *NoteCommand       `json:"note,omitempty" msgpack:"note,omitempty"`
	Spectrum      *spectrum.Frame    `json:"spectrum,omitempty" msgpack:"spectrum,omitempty"`
	Summary       *spectrum.Summary  `json:"spectrumSummary,omitempty" msgpack:"spectrumSummary,omitempty"`
}

// UnmarshalJSON decodes a partial, mapping "session": null to ClearSession.
func (p *Partial) UnmarshalJSON(data []byte) error {
	type plain Partial
	var raw struct {
		plain
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Partial(raw.plain)

	switch s := bytes.TrimSpace(raw.Session); {
	case len(s) == 0:
	case bytes.Equal(s, []byte("null")):
		p.ClearSession = true
	case s[0] == '"':
		var hash string
		if err := json.Unmarshal(s, &hash); err != nil {
			return err
		}
		p.Session = &SessionRef{Hash: hash}
	default:
		var ref SessionRef
		if err := json.Unmarshal(s, &ref); err != nil {
			return fmt.Errorf("invalid session: %w", err)
		}
		p.Session = &ref
	}
	return nil
}

// Empty reports whether applying p would change nothing but updatedAt.
func (p *Partial) Empty() bool {
	return (p.Session == nil || p.Session.Hash == "") &&
		!p.ClearSession &&
		p.View == "" &&
		p.AudioUnlocked == nil &&
		p.Voices == nil &&
		len(p.UI) == 0 &&
		len(p.Params) == 0 &&
		p.Transport == nil &&
		p.Trigger == nil &&
		p.Note == nil &&
		p.Spectrum == nil &&
		p.Summary == nil
}

// ErrSessionChanged rejects a partial whose IfSession no longer matches.
var ErrSessionChanged = errors.New("active session changed")

// Admit checks p's precondition against d.
func (d *Document) Admit(p *Partial) error {
	if p.IfSession != "" && d.ActiveHash() != p.IfSession {
		return fmt.Errorf("%w: expected %s, active is %q", ErrSessionChanged, p.IfSession, d.ActiveHash())
	}
	return nil
}

// Validate checks every present field. Hash existence is not checked here.
func (p *Partial) Validate() error {
	if p.IfSession != "" && !ValidHash(p.IfSession) {
		return fmt.Errorf("invalid ifSession hash: %q", p.IfSession)
	}
	if p.ClearSession && p.Session != nil && p.Session.Hash != "" {
		return fmt.Errorf("cannot both set and clear the active session")
	}
	if p.Session != nil && p.Session.Hash != "" && !ValidHash(p.Session.Hash) {
		return fmt.Errorf("invalid session hash: %q", p.Session.Hash)
	}
	if p.View != "" {
		if err := p.View.Validate(); err != nil {
			return err
		}
	}
	if p.Voices != nil {
		if err := ValidateVoices(*p.Voices); err != nil {
			return err
		}
	}
	if len(p.UI) > 0 && !json.Valid(p.UI) {
		return fmt.Errorf("ui descriptor is not valid JSON")
	}
	for path, v := range p.Params {
		if err := ValidateParamPath(path); err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %s must be a finite number", path)
		}
	}
	if p.Transport != nil {
		if err := p.Transport.Validate(); err != nil {
			return err
		}
	}
	if p.Trigger != nil {
		if err := p.Trigger.Validate(); err != nil {
			return err
		}
	}
	if p.Note != nil {
		if err := p.Note.Validate(); err != nil {
			return err
		}
	}
	if p.Spectrum != nil && len(p.Spectrum.Data) == 0 {
		return fmt.Errorf("spectrum frame has no data")
	}
	return nil
}

// Apply merges p into a copy of d and stamps it. updatedAt becomes now, or
// one past the previous value if the clock has not advanced.
//
// Changing the active session, or clearing it, drops every field derived
// from the previous session before the rest of p is applied.
func (d *Document) Apply(p *Partial, now int64) *Document {
	next := d.Clone()

	switch {
	case p.ClearSession:
		next.clearSessionState()
		next.Session = nil
	case p.Session != nil && p.Session.Hash != "":
		if next.ActiveHash() != p.Session.Hash {
			next.clearSessionState()
		}
		ref := *p.Session
		next.Session = &ref
	}

	if p.View != "" {
		next.View = p.View
	}
	if p.AudioUnlocked != nil {
		next.AudioUnlocked = *p.AudioUnlocked
	}
	if p.Voices != nil {
		next.Voices = *p.Voices
	}
	if len(p.UI) > 0 {
		next.UI = append(json.RawMessage(nil), p.UI...)
	}
	if len(p.Params) > 0 {
		for path, v := range p.Params {
			next.Params[path] = v
		}
		next.ParamsUpdatedAt = now
	}
	if p.Transport != nil {
		c := *p.Transport
		next.Transport = &c
	}
	if p.Trigger != nil {
		c := *p.Trigger
		next.Trigger = &c
	}
	if p.Note != nil {
		c := *p.Note
		next.Note = &c
	}
	if p.Spectrum != nil {
		f := *p.Spectrum
		next.Spectrum = &f
	}
	if p.Summary != nil {
		next.Summary = p.Summary.Clone()
	}

	next.UpdatedAt = max(now, d.UpdatedAt+1)
	return next
}
