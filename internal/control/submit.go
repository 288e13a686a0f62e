package control

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/compiler"
	"github.com/dyluth/patchbay/internal/metrics"
)

// SubmitRequest is one source submission.
type SubmitRequest struct {
	Source   string `json:"code"`
	Filename string `json:"filename"`

	// PersistOnSuccessOnly compiles in a staging directory and keeps the
	// entry only when compilation succeeds.
	PersistOnSuccessOnly bool `json:"persistOnSuccessOnly,omitempty"`
}

// SubmitResult is the outcome of a submission. Diagnostics is the compiler
// log, empty on a clean compile.
type SubmitResult struct {
	Hash        string `json:"sha1"`
	Diagnostics string `json:"errors"`
	Persisted   bool   `json:"persisted"`
	Created     bool   `json:"-"`
}

// Submit stores and analyses a source. Resubmitting a source that was
// already analysed returns the stored diagnostics without compiling again.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, apperr.Invalid("missing or invalid code")
	}
	if err := artifact.ValidateFilename(req.Filename); err != nil {
		return nil, err
	}

	hash := artifact.HashSource(req.Source)
	key := hash + ":" + strconv.FormatBool(req.PersistOnSuccessOnly)
	v, err, _ := s.submits.Do(key, func() (interface{}, error) {
		return s.submit(ctx, hash, req)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*SubmitResult)
	return &res, nil
}

func (s *Service) submit(ctx context.Context, hash string, req SubmitRequest) (*SubmitResult, error) {
	if entry, err := s.sessions.Get(hash); err == nil {
		if entry.Analysed() {
			return &SubmitResult{Hash: hash, Diagnostics: entry.Diagnostics(), Persisted: true}, nil
		}
		res, err := s.analyze(ctx, entry.Dir(), entry.Filename)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Hash: hash, Diagnostics: res.Diagnostics, Persisted: true}, nil
	}

	staged, err := s.sessions.Stage(req.Source, req.Filename)
	if err != nil {
		return nil, err
	}

	res, analyzeErr := s.analyze(ctx, staged.Dir(), req.Filename)
	if analyzeErr != nil {
		if req.PersistOnSuccessOnly {
			staged.Discard()
			return nil, analyzeErr
		}
		// Keep the source; a later resubmission analyses it again.
		if _, err := s.commit(ctx, staged); err != nil {
			return nil, err
		}
		return nil, apperr.Wrap(analyzeErr, apperr.KindOf(analyzeErr), "session %s stored but not analysed", hash).
			WithHint("resubmit the same code once the compiler is available")
	}

	if !res.Success && req.PersistOnSuccessOnly {
		staged.Discard()
		return &SubmitResult{Hash: hash, Diagnostics: res.Diagnostics, Persisted: false}, nil
	}

	created, err := s.commit(ctx, staged)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Hash: hash, Diagnostics: res.Diagnostics, Persisted: true, Created: created}, nil
}

func (s *Service) analyze(ctx context.Context, dir, filename string) (*compiler.Result, error) {
	started := time.Now()
	res, err := s.compiler.Analyze(ctx, dir, filename)
	switch {
	case err != nil:
		metrics.CompileObserved("unavailable", time.Since(started))
		return nil, err
	case res.Success:
		metrics.CompileObserved("success", time.Since(started))
	default:
		metrics.CompileObserved("failure", time.Since(started))
	}
	return res, nil
}

func (s *Service) commit(ctx context.Context, staged *artifact.Staged) (bool, error) {
	s.residency.Lock()
	defer s.residency.Unlock()
	put, err := s.sessions.Commit(staged)
	if err != nil {
		return false, err
	}
	if put.Created {
		metrics.SessionCreated(s.sessions.Len(), len(put.Evicted))
		s.clearDangling(ctx, put.Evicted)
	}
	return put.Created, nil
}

// Delete removes a session. It reports false if the session did not exist.
func (s *Service) Delete(ctx context.Context, hash string) (bool, error) {
	s.residency.Lock()
	defer s.residency.Unlock()
	ok, err := s.sessions.Delete(hash)
	if err != nil || !ok {
		return ok, err
	}
	metrics.SessionDeleted(s.sessions.Len())
	s.clearDangling(ctx, []string{hash})
	return true, nil
}
