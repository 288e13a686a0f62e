package spectrum

// SummaryType tags every summary produced by this package.
const SummaryType = "spectrum_summary_v1"

// Scale describes how a raw frame's bins are laid out for display.
type Scale string

const (
	ScaleLog    Scale = "log"
	ScaleLinear Scale = "linear"
)

// Frame is one raw analyser snapshot as reported by an audio engine.
//
// Data holds magnitudes in dB for bins spread linearly from 0 Hz to
// min(FMax, SampleRate/2). Samples is the optional time-domain buffer the
// frame was computed from; audio quality is only derived when it is present.
type Frame struct {
	CapturedAt int64     `json:"capturedAt,omitempty" msgpack:"capturedAt,omitempty"`
	Scale      Scale     `json:"scale,omitempty" msgpack:"scale,omitempty"`
	FFTSize    int       `json:"fftSize" msgpack:"fftSize"`
	SampleRate float64   `json:"sampleRate" msgpack:"sampleRate"`
	FMin       float64   `json:"fmin" msgpack:"fmin"`
	FMax       float64   `json:"fmax" msgpack:"fmax"`
	FloorDb    float64   `json:"floorDb" msgpack:"floorDb"`
	Data       []float64 `json:"data" msgpack:"data"`
	Samples    []float64 `json:"samples,omitempty" msgpack:"samples,omitempty"`
}

// FrameMeta records the analyser settings a summary was computed with.
type FrameMeta struct {
	SampleRate float64 `json:"sampleRate" msgpack:"sampleRate"`
	FFTSize    int     `json:"fftSize" msgpack:"fftSize"`
	FMin       float64 `json:"fmin" msgpack:"fmin"`
	FMax       float64 `json:"fmax" msgpack:"fmax"`
	FloorDb    float64 `json:"floorDb" msgpack:"floorDb"`
	BandsCount int     `json:"bandsCount" msgpack:"bandsCount"`
}

// Peak is a spectral local maximum. Hz and DbQ are rounded, Q is the
// centre frequency divided by the -3 dB bandwidth, to two decimals.
type Peak struct {
	Hz  int     `json:"hz" msgpack:"hz"`
	DbQ int     `json:"dbQ" msgpack:"dbQ"`
	Q   float64 `json:"q" msgpack:"q"`
}

// Features are the fixed scalar descriptors of a frame.
// FlatnessQ is in percent (0..100).
type Features struct {
	RmsDbQ      int `json:"rmsDbQ" msgpack:"rmsDbQ"`
	CentroidHz  int `json:"centroidHz" msgpack:"centroidHz"`
	Rolloff95Hz int `json:"rolloff95Hz" msgpack:"rolloff95Hz"`
	FlatnessQ   int `json:"flatnessQ" msgpack:"flatnessQ"`
	CrestDbQ    int `json:"crestDbQ" msgpack:"crestDbQ"`
}

// Sub returns f - other, field by field.
func (f Features) Sub(other Features) Features {
	return Features{
		RmsDbQ:      f.RmsDbQ - other.RmsDbQ,
		CentroidHz:  f.CentroidHz - other.CentroidHz,
		Rolloff95Hz: f.Rolloff95Hz - other.Rolloff95Hz,
		FlatnessQ:   f.FlatnessQ - other.FlatnessQ,
		CrestDbQ:    f.CrestDbQ - other.CrestDbQ,
	}
}

// AudioQuality flags clipping, DC and click artefacts in the time domain.
//
// ClipRatioQ is the clipped-sample ratio in per-mille. DcOffsetQ is the
// absolute mean sample value times 1000. ClickScoreQ is bounded to 0..100.
type AudioQuality struct {
	PeakDbFSQ       int `json:"peakDbFSQ" msgpack:"peakDbFSQ"`
	ClipSampleCount int `json:"clipSampleCount" msgpack:"clipSampleCount"`
	ClipRatioQ      int `json:"clipRatioQ" msgpack:"clipRatioQ"`
	DcOffsetQ       int `json:"dcOffsetQ" msgpack:"dcOffsetQ"`
	ClickCount      int `json:"clickCount" msgpack:"clickCount"`
	ClickScoreQ     int `json:"clickScoreQ" msgpack:"clickScoreQ"`
}

// Summary is an immutable, bounded description of one frame or of a
// series of frames folded together.
type Summary struct {
	Type         string        `json:"type" msgpack:"type"`
	CapturedAt   int64         `json:"capturedAt" msgpack:"capturedAt"`
	Frame        FrameMeta     `json:"frame" msgpack:"frame"`
	BandsDbQ     []int         `json:"bandsDbQ" msgpack:"bandsDbQ"`
	Peaks        []Peak        `json:"peaks" msgpack:"peaks"`
	Features     Features      `json:"features" msgpack:"features"`
	AudioQuality *AudioQuality `json:"audioQuality,omitempty" msgpack:"audioQuality,omitempty"`
	Delta        *Features     `json:"delta,omitempty" msgpack:"delta,omitempty"`
}

// Clone returns a deep copy of s.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.BandsDbQ = append([]int(nil), s.BandsDbQ...)
	out.Peaks = append([]Peak(nil), s.Peaks...)
	if s.AudioQuality != nil {
		q := *s.AudioQuality
		out.AudioQuality = &q
	}
	if s.Delta != nil {
		d := *s.Delta
		out.Delta = &d
	}
	return &out
}

// Quality thresholds surfaced to automation clients.
const (
	ClipRatioWarnQ    = 1
	ClipRatioSevereQ  = 5
	ClickScoreWarnQ   = 20
	ClickScoreSevereQ = 40
)

// Severity grades an AudioQuality block against the published thresholds.
func (q *AudioQuality) Severity() string {
	if q == nil {
		return "unknown"
	}
	switch {
	case q.ClipRatioQ > ClipRatioSevereQ || q.ClickScoreQ > ClickScoreSevereQ:
		return "severe"
	case q.ClipRatioQ > ClipRatioWarnQ || q.ClickScoreQ > ClickScoreWarnQ:
		return "warn"
	default:
		return "ok"
	}
}
