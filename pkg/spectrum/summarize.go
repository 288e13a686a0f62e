package spectrum

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyFrame is returned when a frame carries no spectral bins.
var ErrEmptyFrame = errors.New("frame has no spectral data")

const eps = 1e-12

// Summarize reduces a raw frame to a bounded summary. When prev is non-nil
// the summary carries a feature delta against it.
func Summarize(frame *Frame, prev *Summary, cfg Config) (*Summary, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, ErrEmptyFrame
	}
	cfg = cfg.WithDefaults()

	meta := resolveMeta(frame, cfg)
	top := math.Min(meta.FMax, meta.SampleRate/2)

	data := make([]float64, len(frame.Data))
	for i, v := range frame.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = meta.FloorDb
		}
		data[i] = v
	}

	s := &Summary{
		Type:       SummaryType,
		CapturedAt: frame.CapturedAt,
		Frame:      meta,
		BandsDbQ:   logBands(data, meta.FMin, top, cfg.Bands, meta.FloorDb),
		Peaks:      topPeaks(data, top, meta.FloorDb+cfg.PeakThresholdDb, cfg.Peaks),
		Features:   features(data, top, meta.FloorDb),
	}
	if len(frame.Samples) > 0 {
		s.AudioQuality = Quality(frame.Samples, cfg)
	}
	if prev != nil {
		d := s.Features.Sub(prev.Features)
		s.Delta = &d
	}
	return s, nil
}

func resolveMeta(frame *Frame, cfg Config) FrameMeta {
	meta := FrameMeta{
		SampleRate: frame.SampleRate,
		FFTSize:    frame.FFTSize,
		FMin:       frame.FMin,
		FMax:       frame.FMax,
		FloorDb:    frame.FloorDb,
		BandsCount: cfg.Bands,
	}
	if meta.SampleRate <= 0 {
		meta.SampleRate = DefaultSampleRate
	}
	if meta.FFTSize <= 0 {
		meta.FFTSize = DefaultFFTSize
	}
	if meta.FMin <= 0 {
		meta.FMin = DefaultFMin
	}
	if meta.FMax <= 0 || meta.FMax > meta.SampleRate/2 {
		meta.FMax = meta.SampleRate / 2
	}
	if meta.FloorDb == 0 {
		meta.FloorDb = DefaultFloorDb
	}
	return meta
}

// binHz maps bin i of n onto [0, top].
func binHz(i, n int, top float64) float64 {
	if n < 2 {
		return 0
	}
	return float64(i) / float64(n-1) * top
}

// logBands partitions [fmin, top] into count log-spaced bands and keeps
// the loudest bin of each.
func logBands(data []float64, fmin, top float64, count int, floorDb float64) []int {
	n := len(data)
	bands := make([]int, count)
	low := math.Max(1, fmin)
	high := top
	if high <= low {
		high = low + 1
	}
	logMin, logMax := math.Log(low), math.Log(high)

	for b := 0; b < count; b++ {
		f0 := math.Exp(logMin + (logMax-logMin)*float64(b)/float64(count))
		f1 := math.Exp(logMin + (logMax-logMin)*float64(b+1)/float64(count))
		i0 := max(1, int(math.Floor(f0/high*float64(n-1))))
		i1 := max(i0+1, int(math.Ceil(f1/high*float64(n-1))))

		maxDb := floorDb
		for i := i0; i <= min(n-1, i1); i++ {
			if data[i] > maxDb {
				maxDb = data[i]
			}
		}
		bands[b] = round(maxDb)
	}
	return bands
}

// topPeaks returns local maxima at or above threshold, loudest first.
func topPeaks(data []float64, top, threshold float64, limit int) []Peak {
	n := len(data)
	peaks := []Peak{}
	for i := 2; i < n-2; i++ {
		v := data[i]
		if v < threshold || v < data[i-1] || v < data[i+1] {
			continue
		}
		peaks = append(peaks, Peak{
			Hz:  round(binHz(i, n, top)),
			DbQ: round(v),
			Q:   peakQ(data, i, top),
		})
	}
	sort.SliceStable(peaks, func(a, b int) bool { return peaks[a].DbQ > peaks[b].DbQ })
	if len(peaks) > limit {
		peaks = peaks[:limit]
	}
	return peaks
}

// peakQ walks outwards until the magnitude falls 3 dB below the peak.
func peakQ(data []float64, idx int, top float64) float64 {
	n := len(data)
	target := data[idx] - 3
	left, right := idx, idx
	for left > 1 && data[left] > target {
		left--
	}
	for right < n-2 && data[right] > target {
		right++
	}
	bandwidth := math.Max(1, binHz(right, n, top)-binHz(left, n, top))
	return math.Round(binHz(idx, n, top)/bandwidth*100) / 100
}

func features(data []float64, top, floorDb float64) Features {
	n := len(data)
	powers := make([]float64, n)
	var powerSum, weighted float64
	maxDb := floorDb
	for i, db := range data {
		p := math.Max(eps, math.Pow(10, db/10))
		powers[i] = p
		powerSum += p
		weighted += p * binHz(i, n, top)
		if db > maxDb {
			maxDb = db
		}
	}

	rmsDb := 10 * math.Log10(math.Max(eps, powerSum/float64(n)))
	centroid := 0.0
	if powerSum > 0 {
		centroid = weighted / powerSum
	}

	return Features{
		RmsDbQ:      round(rmsDb),
		CentroidHz:  round(centroid),
		Rolloff95Hz: round(rolloff(powers, powerSum, top)),
		FlatnessQ:   round(clamp01(flatness(powers)) * 100),
		CrestDbQ:    round(maxDb - rmsDb),
	}
}

func rolloff(powers []float64, total, top float64) float64 {
	if total <= 0 {
		return 0
	}
	threshold := total * 0.95
	var cumulative float64
	for i, p := range powers {
		cumulative += p
		if cumulative >= threshold {
			return binHz(i, len(powers), top)
		}
	}
	return top
}

// flatness is the geometric over the arithmetic mean of the power spectrum.
func flatness(powers []float64) float64 {
	var sumLog, sum float64
	for _, p := range powers {
		sumLog += math.Log(p)
		sum += p
	}
	n := float64(len(powers))
	am := sum / n
	if am <= 0 {
		return 0
	}
	return math.Exp(sumLog/n) / am
}

// round rounds half up, matching the analyser front-end.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
