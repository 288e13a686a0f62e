// Package capture samples the spectrum summaries published in the shared
// state over a short window and folds them into one aggregate.
//
// A capture is always relative to an action: a parameter change is issued
// first and the window opens after a settle delay, while a trigger is
// issued with the window already open so the transient is not missed.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// Window limits accepted from callers.
const (
	MaxSettle    = 5 * time.Second
	MinWindow    = 50 * time.Millisecond
	MaxWindow    = 10 * time.Second
	MinEvery     = 40 * time.Millisecond
	MaxEvery     = 500 * time.Millisecond
	MaxFrameCap  = 20
	AggregateTag = "max_hold"
)

// Reader is the read half of the shared state.
type Reader interface {
	Read(ctx context.Context) (*blackboard.Document, error)
}

// Options configures one capture window.
type Options struct {
	Settle    time.Duration   `yaml:"settle"`
	Window    time.Duration   `yaml:"window"`
	Every     time.Duration   `yaml:"every"`
	MaxFrames int             `yaml:"max_frames"`
	Policy    spectrum.Policy `yaml:"-"`
}

// DefaultOptions returns the window used when a caller does not choose one.
func DefaultOptions() Options {
	return Options{
		Settle:    120 * time.Millisecond,
		Window:    300 * time.Millisecond,
		Every:     80 * time.Millisecond,
		MaxFrames: 10,
		Policy:    spectrum.DefaultPolicy(),
	}
}

// WithDefaults fills zero fields from DefaultOptions. A zero Settle is a
// valid choice and is kept.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Window == 0 {
		o.Window = d.Window
	}
	if o.Every == 0 {
		o.Every = d.Every
	}
	if o.MaxFrames == 0 {
		o.MaxFrames = d.MaxFrames
	}
	o.Policy = o.Policy.WithDefaults()
	return o
}

// Validate checks the window against the accepted limits.
func (o Options) Validate() error {
	if o.Settle < 0 || o.Settle > MaxSettle {
		return fmt.Errorf("settle must be between 0 and %s, got %s", MaxSettle, o.Settle)
	}
	if o.Window < MinWindow || o.Window > MaxWindow {
		return fmt.Errorf("capture window must be between %s and %s, got %s", MinWindow, MaxWindow, o.Window)
	}
	if o.Every < MinEvery || o.Every > MaxEvery {
		return fmt.Errorf("sample interval must be between %s and %s, got %s", MinEvery, MaxEvery, o.Every)
	}
	if o.MaxFrames < 1 || o.MaxFrames > MaxFrameCap {
		return fmt.Errorf("max frames must be between 1 and %d, got %d", MaxFrameCap, o.MaxFrames)
	}
	return o.Policy.Validate()
}

// Sample is one summary observed during the window. TMs is the capture
// time relative to the window start.
type Sample struct {
	TMs     int64             `json:"tMs"`
	Summary *spectrum.Summary `json:"summary"`
}

// Aggregate is the folded result of a window.
type Aggregate struct {
	Mode    string            `json:"mode"`
	Summary *spectrum.Summary `json:"summary"`
}

// Result is a completed capture.
type Result struct {
	SettleMs      int64     `json:"settleMs"`
	CaptureMs     int64     `json:"captureMs"`
	SampleEveryMs int64     `json:"sampleEveryMs"`
	Series        []Sample  `json:"series"`
	Aggregate     Aggregate `json:"aggregate"`
}

// errNoData reports a window that closed without a single fresh summary.
func errNoData() error {
	return apperr.Unavailable("no spectrum summary captured").
		WithHint("ensure the Run view is active and audio is running")
}

// Collect polls r until the window elapses or MaxFrames fresh summaries
// have been seen. Only summaries captured after the window opened count,
// and each capture time is counted once.
//
// The window is a hard deadline: a read still in flight when it closes is
// abandoned and the samples gathered so far are returned.
func Collect(ctx context.Context, r Reader, opts Options) ([]Sample, error) {
	opts = opts.WithDefaults()
	wctx, cancel := context.WithTimeout(ctx, opts.Window)
	defer cancel()

	startMs := time.Now().UnixMilli()
	last := startMs - 1

	var series []Sample
	ticker := time.NewTicker(opts.Every)
	defer ticker.Stop()

	for len(series) < opts.MaxFrames {
		doc, err := r.Read(wctx)
		if windowClosed(ctx, wctx) {
			return series, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to read state during capture")
		}
		if s := doc.Summary; s != nil && s.Type == spectrum.SummaryType {
			at := s.CapturedAt
			if at == 0 {
				at = doc.UpdatedAt
			}
			if at > last {
				last = at
				series = append(series, Sample{TMs: max(0, at-startMs), Summary: s})
			}
		}

		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return series, nil
		case <-ticker.C:
		}
	}
	return series, nil
}

// windowClosed reports whether the window deadline, not the caller, ended wctx.
func windowClosed(parent, wctx context.Context) bool {
	return parent.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded)
}

// Fold aggregates a series. An empty series is unavailable, never zeros.
func Fold(series []Sample, policy spectrum.Policy) (*spectrum.Summary, error) {
	if len(series) == 0 {
		return nil, errNoData()
	}
	summaries := make([]*spectrum.Summary, len(series))
	for i, s := range series {
		summaries[i] = s.Summary
	}
	return spectrum.Aggregate(summaries, policy.WithDefaults()), nil
}

// AfterAction runs action, waits for the settle delay and then captures.
// Used for sustained changes such as a parameter value.
func AfterAction(ctx context.Context, r Reader, opts Options, action func(context.Context) error) (*Result, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid capture options")
	}
	if err := action(ctx); err != nil {
		return nil, err
	}
	if opts.Settle > 0 {
		t := time.NewTimer(opts.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	series, err := Collect(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	return finish(series, opts)
}

// AroundAction opens the window and runs action while it is open. Used
// for transients such as a trigger. Settle is ignored.
func AroundAction(ctx context.Context, r Reader, opts Options, action func(context.Context) error) (*Result, error) {
	opts = opts.WithDefaults()
	opts.Settle = 0
	if err := opts.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidInput, "invalid capture options")
	}

	g, gctx := errgroup.WithContext(ctx)
	var series []Sample
	g.Go(func() error {
		var err error
		series, err = Collect(gctx, r, opts)
		return err
	})
	g.Go(func() error {
		return action(gctx)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return finish(series, opts)
}

func finish(series []Sample, opts Options) (*Result, error) {
	agg, err := Fold(series, opts.Policy)
	if err != nil {
		return nil, err
	}
	return &Result{
		SettleMs:      opts.Settle.Milliseconds(),
		CaptureMs:     opts.Window.Milliseconds(),
		SampleEveryMs: opts.Every.Milliseconds(),
		Series:        series,
		Aggregate:     Aggregate{Mode: AggregateTag, Summary: agg},
	}, nil
}
