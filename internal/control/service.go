// Package control is the workbench service layer. It combines the artifact
// store, the compiler and the shared state document into the operations
// exposed over HTTP, the CLI and MCP.
package control

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/compiler"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/internal/metrics"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// UnknownVersion is reported when the compiler cannot be asked.
const UnknownVersion = "Faust version unknown"

// Service implements the workbench operations. It is safe for concurrent use.
type Service struct {
	sessions  *artifact.Store
	state     blackboard.Store
	compiler  compiler.Compiler
	telemetry spectrum.Config
	nonces    *blackboard.NonceSource
	logger    *logging.Logger

	// submits collapses concurrent submissions of the same source.
	submits singleflight.Group

	// residency is held across activating a session and across removing
	// entries from the store, so the document never names an entry that
	// is no longer resident.
	residency sync.Mutex
}

// New creates a Service. telemetry configures frame reduction for raw
// spectrum frames written to the state.
func New(sessions *artifact.Store, state blackboard.Store, comp compiler.Compiler, telemetry spectrum.Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	metrics.SetResident(sessions.Len())
	return &Service{
		sessions:  sessions,
		state:     state,
		compiler:  comp,
		telemetry: telemetry.WithDefaults(),
		nonces:    blackboard.NewNonceSource(),
		logger:    logger.Named("control"),
	}
}

// Sessions exposes the artifact store for read-only callers.
func (s *Service) Sessions() *artifact.Store {
	return s.sessions
}

// Version reports the compiler version, or UnknownVersion when the
// compiler cannot be reached.
func (s *Service) Version(ctx context.Context) string {
	v, err := s.compiler.Version(ctx)
	if err != nil {
		s.logger.Warn("compiler version unavailable", map[string]interface{}{"error": err})
		return UnknownVersion
	}
	return v
}

// clearDangling drops the active session reference if it points at one of
// the removed hashes. Failures are logged only. Callers hold residency.
func (s *Service) clearDangling(ctx context.Context, removed []string) {
	if len(removed) == 0 {
		return
	}
	doc, err := s.state.Read(ctx)
	if err != nil {
		s.logger.Warn("failed to read state after session removal", map[string]interface{}{"error": err})
		return
	}
	active := doc.ActiveHash()
	for _, hash := range removed {
		if hash != active {
			continue
		}
		_, err := s.state.Update(ctx, &blackboard.Partial{IfSession: active, ClearSession: true})
		if errors.Is(err, blackboard.ErrSessionChanged) {
			return
		}
		if err != nil {
			s.logger.Warn("failed to clear dangling session reference", map[string]interface{}{
				"sha1":  hash,
				"error": err,
			})
			return
		}
		s.logger.Event("active_session_cleared", map[string]interface{}{"sha1": hash})
		return
	}
}
