package control

import (
	"context"
	"encoding/json"
	"math"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// Run-control operations act on the active session through the shared
// state. Commands carry a fresh nonce and are executed by receivers.

// NoteRequest describes a note event. Zero Velocity and HoldMs take their
// defaults.
type NoteRequest struct {
	Action   blackboard.NoteAction `json:"action"`
	Note     int                   `json:"note"`
	Velocity float64               `json:"velocity,omitempty"`
	HoldMs   int                   `json:"holdMs,omitempty"`
}

func (s *Service) requireActive(ctx context.Context) (*blackboard.Document, error) {
	doc, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	if doc.ActiveHash() == "" {
		return nil, apperr.Invalid("no active session").
			WithHint("submit code or select a session first")
	}
	return doc, nil
}

func requireAudio(doc *blackboard.Document) error {
	if !doc.AudioUnlocked {
		return apperr.Unavailable("audio is locked").
			WithHint("open the UI and click Enable Audio")
	}
	return nil
}

// UI returns the active session hash and its published UI descriptor.
func (s *Service) UI(ctx context.Context) (string, json.RawMessage, error) {
	doc, err := s.requireActive(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(doc.UI) == 0 {
		return "", nil, apperr.NotFound("run UI not available").
			WithHint("open the Run view so the engine publishes its UI")
	}
	return doc.ActiveHash(), doc.UI, nil
}

// Params returns the active session hash and its parameter overrides.
func (s *Service) Params(ctx context.Context) (string, map[string]float64, error) {
	doc, err := s.requireActive(ctx)
	if err != nil {
		return "", nil, err
	}
	return doc.ActiveHash(), doc.Params, nil
}

// SetParam writes one parameter value. Nothing is written when the value
// is already current.
func (s *Service) SetParam(ctx context.Context, path string, value float64) (*blackboard.Document, error) {
	if err := blackboard.ValidateParamPath(path); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid parameter")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, apperr.Invalid("parameter %s must be a finite number", path)
	}
	doc, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	if current, ok := doc.Params[path]; ok && current == value {
		return doc, nil
	}
	return s.UpdateState(ctx, &blackboard.Partial{Params: map[string]float64{path: value}})
}

// Transport issues a start, stop or toggle command and returns the
// resulting document. Starting audio needs the operator to have unlocked
// it in the UI.
func (s *Service) Transport(ctx context.Context, action blackboard.TransportAction) (*blackboard.Document, error) {
	cmd := &blackboard.TransportCommand{Action: action, Nonce: s.nonces.Next()}
	if err := cmd.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid transport command")
	}
	doc, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	if action != blackboard.TransportStop {
		if err := requireAudio(doc); err != nil {
			return nil, err
		}
	}
	return s.UpdateState(ctx, &blackboard.Partial{Transport: cmd})
}

// Trigger presses an impulse control for holdMs and releases it. holdMs
// is clamped; zero selects the default.
func (s *Service) Trigger(ctx context.Context, path string, holdMs int) (*blackboard.Document, error) {
	cmd := &blackboard.TriggerCommand{
		Path:   path,
		HoldMs: blackboard.ClampHold(holdMs, blackboard.DefaultTriggerHold),
		Nonce:  s.nonces.Next(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid trigger command")
	}
	doc, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAudio(doc); err != nil {
		return nil, err
	}
	return s.UpdateState(ctx, &blackboard.Partial{Trigger: cmd})
}

// Note issues a note on, off or pulse.
func (s *Service) Note(ctx context.Context, req NoteRequest) (*blackboard.Document, error) {
	cmd := &blackboard.NoteCommand{
		Action:   req.Action,
		Note:     req.Note,
		Velocity: req.Velocity,
		Nonce:    s.nonces.Next(),
	}
	if cmd.Velocity == 0 && req.Action != blackboard.NoteOff {
		cmd.Velocity = blackboard.DefaultVelocity
	}
	if req.Action == blackboard.NotePulse {
		cmd.HoldMs = blackboard.ClampHold(req.HoldMs, blackboard.DefaultPulseHold)
	}
	if err := cmd.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid note command")
	}
	doc, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAudio(doc); err != nil {
		return nil, err
	}
	return s.UpdateState(ctx, &blackboard.Partial{Note: cmd})
}

// Polyphony returns the active session hash and the engine voice count.
// 0 is mono.
func (s *Service) Polyphony(ctx context.Context) (string, int, error) {
	doc, err := s.requireActive(ctx)
	if err != nil {
		return "", 0, err
	}
	return doc.ActiveHash(), doc.Voices, nil
}

// SetPolyphony sets the engine voice count.
func (s *Service) SetPolyphony(ctx context.Context, voices int) (*blackboard.Document, error) {
	if err := blackboard.ValidateVoices(voices); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid polyphony")
	}
	doc, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Voices == voices {
		return doc, nil
	}
	return s.UpdateState(ctx, &blackboard.Partial{Voices: &voices})
}
