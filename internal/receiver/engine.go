package receiver

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/pkg/blackboard"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// Engine is the audio engine a Receiver drives.
type Engine interface {
	// Load prepares the engine for a session and returns its UI descriptor.
	// A nil session unloads the engine.
	Load(ctx context.Context, session *blackboard.SessionRef) (json.RawMessage, error)
	SetParam(path string, value float64)
	Start() error
	Stop()
	Running() bool
	NoteOn(note int, velocity float64)
	NoteOff(note int)
	SetVoices(voices int)

	// Frame returns the latest telemetry frame, or nil when no audio is
	// running.
	Frame() *spectrum.Frame
}

// DryRun is an Engine that renders nothing. It logs every call and
// synthesises spectrum frames for the tone it would be playing, so
// automation can be exercised without an audio device.
type DryRun struct {
	logger *logging.Logger
	now    func() time.Time

	mu         sync.Mutex
	session    *blackboard.SessionRef
	running    bool
	voices     int
	params     map[string]float64
	notes      map[int]float64
	lastFrame  int64
	sampleRate float64
}

const (
	dryRunBins  = 256
	dryRunFloor = -110.0
	dryRunTone  = 440.0
)

// NewDryRun creates a DryRun engine.
func NewDryRun(logger *logging.Logger) *DryRun {
	if logger == nil {
		logger = logging.Nop()
	}
	return &DryRun{
		logger:     logger.Named("engine"),
		now:        time.Now,
		params:     map[string]float64{},
		notes:      map[int]float64{},
		sampleRate: spectrum.DefaultSampleRate,
	}
}

// Load implements Engine.
func (e *DryRun) Load(ctx context.Context, session *blackboard.SessionRef) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = session
	e.params = map[string]float64{}
	e.notes = map[int]float64{}
	hash := ""
	if session != nil {
		hash = session.Hash
	}
	e.logger.Event("engine_loaded", map[string]interface{}{"sha1": hash})
	return nil, nil
}

// SetParam implements Engine.
func (e *DryRun) SetParam(path string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params[path] = value
	e.logger.Debug("set param", map[string]interface{}{"path": path, "value": value})
}

// Start implements Engine.
func (e *DryRun) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.logger.Event("audio_started", nil)
	return nil
}

// Stop implements Engine.
func (e *DryRun) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.logger.Event("audio_stopped", nil)
}

// Running implements Engine.
func (e *DryRun) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// NoteOn implements Engine.
func (e *DryRun) NoteOn(note int, velocity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notes[note] = velocity
}

// NoteOff implements Engine.
func (e *DryRun) NoteOff(note int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.notes, note)
}

// SetVoices implements Engine.
func (e *DryRun) SetVoices(voices int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voices = voices
}

// Frame implements Engine. The frame holds a fixed tone plus one partial
// per sounding note.
func (e *DryRun) Frame() *spectrum.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.session == nil {
		return nil
	}

	at := max(e.now().UnixMilli(), e.lastFrame+1)
	e.lastFrame = at

	nyquist := e.sampleRate / 2
	data := make([]float64, dryRunBins)
	for i := range data {
		data[i] = dryRunFloor
	}
	place := func(hz, level float64) {
		i := int(math.Round(hz / nyquist * float64(dryRunBins-1)))
		if i > 0 && i < dryRunBins {
			data[i] = math.Max(data[i], level)
		}
	}
	place(dryRunTone, -12)
	for note, velocity := range e.notes {
		hz := dryRunTone * math.Pow(2, float64(note-69)/12)
		place(hz, -6+20*math.Log10(math.Max(velocity, 1e-3)))
	}

	samples := make([]float64, 512)
	for i := range samples {
		samples[i] = 0.25 * math.Sin(2*math.Pi*dryRunTone*float64(i)/e.sampleRate)
	}

	return &spectrum.Frame{
		CapturedAt: at,
		Scale:      spectrum.ScaleLog,
		FFTSize:    dryRunBins * 2,
		SampleRate: e.sampleRate,
		FMax:       nyquist,
		FloorDb:    dryRunFloor,
		Data:       data,
		Samples:    samples,
	}
}
