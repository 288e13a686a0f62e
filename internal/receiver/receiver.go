// Package receiver executes shared state commands against an audio engine.
//
// A Receiver polls the state document, applies parameter overrides and
// runs each transport, trigger and note command exactly once. Commands are
// de-duplicated by nonce per class, and commands issued before the
// receiver started are never replayed. Impulse controls pressed by a
// trigger are always released, including on shutdown and lost
// connections, and are never restored in a pressed state.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// Defaults for Options.
const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultWriteInterval = 150 * time.Millisecond
)

var commandClasses = []blackboard.CommandClass{
	blackboard.ClassTransport,
	blackboard.ClassTrigger,
	blackboard.ClassNote,
}

// Options configure a Receiver.
type Options struct {
	PollInterval  time.Duration
	WriteInterval time.Duration

	// PublishFrames writes engine telemetry to the state as raw frames
	// with their summaries.
	PublishFrames bool
	Telemetry     spectrum.Config
}

// Receiver applies shared state to one engine. Tick and ReleaseAll are
// safe to call concurrently.
type Receiver struct {
	store  blackboard.Store
	engine Engine
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	id          string
	activatedAt int64
	writes      *rate.Limiter

	mu          sync.Mutex
	loaded      bool
	session     string
	lastNonce   map[blackboard.CommandClass]int64
	buttons     map[string]bool
	held        map[string]time.Time
	pulses      map[int]time.Time
	params      map[string]float64
	remote      map[string]float64
	voices      int
	forceWrite  bool
	lastFrameAt int64
	lastSummary *spectrum.Summary
}

// New creates a Receiver. Commands already in the document are treated
// as history and skipped.
func New(store blackboard.Store, engine Engine, opts Options, logger *logging.Logger) *Receiver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WriteInterval <= 0 {
		opts.WriteInterval = DefaultWriteInterval
	}
	opts.Telemetry = opts.Telemetry.WithDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	id := uuid.New().String()
	r := &Receiver{
		store:  store,
		engine: engine,
		opts:   opts,
		now:    time.Now,
		id:     id,
		writes: rate.NewLimiter(rate.Every(opts.WriteInterval), 1),
		logger: logger.Named("receiver").With(map[string]interface{}{"receiver_id": id}),
	}
	r.activatedAt = r.now().UnixMilli()
	r.resetSession("")
	return r
}

// ID returns the receiver's activation ID.
func (r *Receiver) ID() string {
	return r.id
}

// Run polls until ctx is cancelled, then releases every held impulse.
func (r *Receiver) Run(ctx context.Context) error {
	r.logger.Event("receiver_started", map[string]interface{}{"activated_at": r.activatedAt})
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			r.ReleaseAll(releaseCtx)
			r.logger.Event("receiver_stopped", nil)
			return ctx.Err()
		case <-timer.C:
		}

		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("state poll failed", map[string]interface{}{"error": err})
		}
		timer.Reset(r.nextWait())
	}
}

// nextWait is the poll interval, shortened so releases happen on time.
func (r *Receiver) nextWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	wait := r.opts.PollInterval
	now := r.now()
	for _, due := range r.held {
		wait = min(wait, max(0, due.Sub(now)))
	}
	for _, due := range r.pulses {
		wait = min(wait, max(0, due.Sub(now)))
	}
	return wait
}

// Tick performs one poll: due releases, session changes, parameters,
// polyphony, commands, telemetry and parameter write-back.
func (r *Receiver) Tick(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.releaseDue(now)

	doc, err := r.store.Read(ctx)
	if err != nil {
		r.releaseAllLocked("connection_lost")
		return err
	}

	if !r.loaded || doc.ActiveHash() != r.session {
		if err := r.switchSession(ctx, doc); err != nil {
			return err
		}
	}
	if r.session == "" {
		return nil
	}

	r.remote = doc.Params
	r.applyVoices(doc)
	r.applyParams(doc)
	r.applyCommands(doc, now)
	r.publishFrame(ctx)
	return r.flush(ctx, false)
}

// ReleaseAll releases every held impulse and pending note pulse and
// writes the released values back. Call it when the operator loses focus.
func (r *Receiver) ReleaseAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseAllLocked("release_all")
	if err := r.flush(ctx, true); err != nil {
		r.logger.Warn("failed to write released parameters", map[string]interface{}{"error": err})
	}
}

func (r *Receiver) resetSession(hash string) {
	r.session = hash
	r.lastNonce = map[blackboard.CommandClass]int64{}
	r.buttons = map[string]bool{}
	r.held = map[string]time.Time{}
	r.pulses = map[int]time.Time{}
	r.params = map[string]float64{}
	r.remote = map[string]float64{}
	r.forceWrite = false
	r.lastSummary = nil
}

func (r *Receiver) switchSession(ctx context.Context, doc *blackboard.Document) error {
	r.releaseAllLocked("session_changed")
	r.resetSession(doc.ActiveHash())
	r.loaded = true

	ui, err := r.engine.Load(ctx, doc.Session)
	if err != nil {
		r.logger.Error("engine failed to load session", map[string]interface{}{
			"sha1":  r.session,
			"error": err,
		})
		r.loaded = false
		return err
	}
	r.logger.Event("session_loaded", map[string]interface{}{"sha1": r.session})
	if r.session == "" {
		return nil
	}

	if len(ui) > 0 {
		r.buttons = ButtonPaths(ui)
	} else {
		r.buttons = ButtonPaths(doc.UI)
	}

	restored, changed := sanitize(doc.Params, r.buttons)
	for path, v := range restored {
		r.engine.SetParam(path, v)
		r.params[path] = v
	}
	r.remote = doc.Params

	p := &blackboard.Partial{IfSession: r.session}
	if len(ui) > 0 && !bytes.Equal(doc.UI, ui) {
		p.UI = ui
	}
	if changed {
		p.Params = restored
		r.logger.Event("impulse_state_sanitized", map[string]interface{}{"sha1": r.session})
	}
	if p.Empty() {
		return nil
	}
	next, err := r.store.Update(ctx, p)
	if sessionMoved(err) {
		r.dropStale("restore")
		return nil
	}
	if err != nil {
		return err
	}
	r.remote = next.Params
	return nil
}

// sessionMoved reports a write refused because another writer changed the
// active session after this tick read the document.
func sessionMoved(err error) bool {
	return errors.Is(err, blackboard.ErrSessionChanged) || apperr.Is(err, apperr.KindConflict)
}

// dropStale abandons a write made for the previous session and forces the
// next tick to load whatever is active now.
func (r *Receiver) dropStale(write string) {
	r.logger.Event("stale_write_dropped", map[string]interface{}{
		"sha1":  r.session,
		"write": write,
	})
	r.loaded = false
}

func (r *Receiver) applyVoices(doc *blackboard.Document) {
	if doc.Voices == r.voices {
		return
	}
	r.voices = doc.Voices
	r.engine.SetVoices(doc.Voices)
}

// applyParams copies remote values into the engine. Impulse paths are
// driven by triggers only.
func (r *Receiver) applyParams(doc *blackboard.Document) {
	for path, v := range doc.Params {
		if r.buttons[path] {
			continue
		}
		if cur, ok := r.params[path]; ok && cur == v {
			continue
		}
		r.engine.SetParam(path, v)
		r.params[path] = v
	}
}

func (r *Receiver) applyCommands(doc *blackboard.Document, now time.Time) {
	for _, class := range commandClasses {
		nonce := doc.Nonce(class)
		if nonce <= r.lastNonce[class] {
			continue
		}
		r.lastNonce[class] = nonce
		if nonce < r.activatedAt {
			continue
		}

		switch class {
		case blackboard.ClassTransport:
			r.transport(doc.Transport.Action)
		case blackboard.ClassTrigger:
			r.press(doc.Trigger, now)
		case blackboard.ClassNote:
			r.note(doc.Note, now)
		}
		r.logger.Event("command_applied", map[string]interface{}{
			"class": string(class),
			"nonce": nonce,
		})
	}
}

func (r *Receiver) transport(action blackboard.TransportAction) {
	switch action {
	case blackboard.TransportStart:
		if !r.engine.Running() {
			r.startEngine()
		}
	case blackboard.TransportStop:
		if r.engine.Running() {
			r.engine.Stop()
		}
	case blackboard.TransportToggle:
		if r.engine.Running() {
			r.engine.Stop()
		} else {
			r.startEngine()
		}
	}
}

func (r *Receiver) startEngine() {
	if err := r.engine.Start(); err != nil {
		r.logger.Warn("engine failed to start", map[string]interface{}{"error": err})
	}
}

func (r *Receiver) press(cmd *blackboard.TriggerCommand, now time.Time) {
	hold := blackboard.ClampHold(cmd.HoldMs, blackboard.DefaultTriggerHold)
	if !r.engine.Running() {
		r.startEngine()
	}
	r.engine.SetParam(cmd.Path, 1)
	r.params[cmd.Path] = 1
	r.held[cmd.Path] = now.Add(time.Duration(hold) * time.Millisecond)
}

func (r *Receiver) note(cmd *blackboard.NoteCommand, now time.Time) {
	switch cmd.Action {
	case blackboard.NoteOn:
		r.engine.NoteOn(cmd.Note, cmd.Velocity)
	case blackboard.NoteOff:
		r.engine.NoteOff(cmd.Note)
		delete(r.pulses, cmd.Note)
	case blackboard.NotePulse:
		hold := blackboard.ClampHold(cmd.HoldMs, blackboard.DefaultPulseHold)
		r.engine.NoteOn(cmd.Note, cmd.Velocity)
		r.pulses[cmd.Note] = now.Add(time.Duration(hold) * time.Millisecond)
	}
}

func (r *Receiver) releaseDue(now time.Time) {
	for path, due := range r.held {
		if now.Before(due) {
			continue
		}
		r.engine.SetParam(path, 0)
		r.params[path] = 0
		delete(r.held, path)
		r.forceWrite = true
	}
	for note, due := range r.pulses {
		if now.Before(due) {
			continue
		}
		r.engine.NoteOff(note)
		delete(r.pulses, note)
	}
}

func (r *Receiver) releaseAllLocked(reason string) {
	for path := range r.held {
		r.engine.SetParam(path, 0)
		r.params[path] = 0
		r.forceWrite = true
		r.logger.Event("impulse_force_released", map[string]interface{}{
			"path":   path,
			"reason": reason,
		})
	}
	r.held = map[string]time.Time{}
	for note := range r.pulses {
		r.engine.NoteOff(note)
	}
	r.pulses = map[int]time.Time{}
}

func (r *Receiver) publishFrame(ctx context.Context) {
	if !r.opts.PublishFrames {
		return
	}
	frame := r.engine.Frame()
	if frame == nil || frame.CapturedAt <= r.lastFrameAt {
		return
	}
	summary, err := spectrum.Summarize(frame, r.lastSummary, r.opts.Telemetry)
	if err != nil {
		r.logger.Warn("failed to summarize frame", map[string]interface{}{"error": err})
		return
	}
	_, err = r.store.Update(ctx, &blackboard.Partial{IfSession: r.session, Spectrum: frame, Summary: summary})
	if sessionMoved(err) {
		r.dropStale("frame")
		return
	}
	if err != nil {
		r.logger.Warn("failed to publish frame", map[string]interface{}{"error": err})
		return
	}
	r.lastFrameAt = frame.CapturedAt
	r.lastSummary = summary
}

// flush writes engine-side parameter changes back to the state. Writes
// are throttled unless forced, and skipped when nothing differs. Every
// write is conditional on the session it was computed for.
func (r *Receiver) flush(ctx context.Context, force bool) error {
	if r.session == "" {
		return nil
	}
	diff := map[string]float64{}
	for path, v := range r.params {
		if remote, ok := r.remote[path]; !ok || remote != v {
			diff[path] = v
		}
	}
	if len(diff) == 0 {
		r.forceWrite = false
		return nil
	}
	if !force && !r.forceWrite && !r.writes.Allow() {
		return nil
	}

	next, err := r.store.Update(ctx, &blackboard.Partial{IfSession: r.session, Params: diff})
	if sessionMoved(err) {
		r.dropStale("params")
		return nil
	}
	if err != nil {
		return err
	}
	r.remote = next.Params
	r.forceWrite = false
	return nil
}
