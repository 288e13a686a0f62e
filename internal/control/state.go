package control

import (
	"context"
	"errors"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/metrics"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// State returns the current shared state document.
func (s *Service) State(ctx context.Context) (*blackboard.Document, error) {
	doc, err := s.state.Read(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to read state")
	}
	return doc, nil
}

// UpdateState merges a partial into the shared state. The update is
// rejected as a whole if it is invalid or references an unknown session.
// A raw spectrum frame without a summary is reduced here, using the
// current summary as the previous one for the delta. A partial whose
// session precondition no longer holds is rejected as a conflict.
func (s *Service) UpdateState(ctx context.Context, p *blackboard.Partial) (*blackboard.Document, error) {
	if p == nil {
		p = &blackboard.Partial{}
	}
	if err := p.Validate(); err != nil {
		metrics.StateUpdate("invalid")
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid state update")
	}

	if p.Session != nil && p.Session.Hash != "" {
		s.residency.Lock()
		defer s.residency.Unlock()
		entry, err := s.sessions.Get(p.Session.Hash)
		if err != nil {
			metrics.StateUpdate("invalid")
			return nil, err
		}
		p.Session.Filename = entry.Filename
	}

	if p.Spectrum != nil && p.Summary == nil {
		current, err := s.state.Read(ctx)
		if err != nil {
			metrics.StateUpdate("error")
			return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to read state")
		}
		summary, err := spectrum.Summarize(p.Spectrum, current.Summary, s.telemetry)
		if err != nil {
			metrics.StateUpdate("invalid")
			return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid spectrum frame")
		}
		p.Summary = summary
		metrics.FrameSummarized()
	}

	doc, err := s.state.Update(ctx, p)
	if errors.Is(err, blackboard.ErrSessionChanged) {
		metrics.StateUpdate("conflict")
		return nil, apperr.Wrap(err, apperr.KindConflict, "state update rejected").
			WithHint("the active session changed; read the state and retry")
	}
	if err != nil {
		metrics.StateUpdate("error")
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to update state")
	}
	metrics.StateUpdate("ok")
	countCommands(p)

	if p.Session != nil || p.ClearSession {
		s.logger.Event("active_session_changed", map[string]interface{}{
			"sha1":       doc.ActiveHash(),
			"updated_at": doc.UpdatedAt,
		})
	}
	return doc, nil
}

func countCommands(p *blackboard.Partial) {
	if p.Transport != nil {
		metrics.CommandIssued(string(blackboard.ClassTransport))
	}
	if p.Trigger != nil {
		metrics.CommandIssued(string(blackboard.ClassTrigger))
	}
	if p.Note != nil {
		metrics.CommandIssued(string(blackboard.ClassNote))
	}
}
