package spectrum

import (
	"fmt"
	"sort"
)

// Mode selects how a scalar is folded across a series.
type Mode string

const (
	ModeMax  Mode = "max"
	ModeMean Mode = "mean"
)

// Policy chooses the fold for each feature. Bands and peaks are always
// max-held; audio-quality scalars use Quality.
type Policy struct {
	Rms      Mode `yaml:"rms"`
	Centroid Mode `yaml:"centroid"`
	Rolloff  Mode `yaml:"rolloff"`
	Flatness Mode `yaml:"flatness"`
	Crest    Mode `yaml:"crest"`
	Quality  Mode `yaml:"quality"`
}

// DefaultPolicy keeps worst-case energy and quality, and averages the
// frequency-position features.
func DefaultPolicy() Policy {
	return Policy{
		Rms:      ModeMax,
		Centroid: ModeMean,
		Rolloff:  ModeMean,
		Flatness: ModeMax,
		Crest:    ModeMax,
		Quality:  ModeMax,
	}
}

// WithDefaults fills empty modes from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	fill := func(m *Mode, def Mode) {
		if *m == "" {
			*m = def
		}
	}
	fill(&p.Rms, d.Rms)
	fill(&p.Centroid, d.Centroid)
	fill(&p.Rolloff, d.Rolloff)
	fill(&p.Flatness, d.Flatness)
	fill(&p.Crest, d.Crest)
	fill(&p.Quality, d.Quality)
	return p
}

// Validate rejects unknown modes.
func (p Policy) Validate() error {
	for name, m := range map[string]Mode{
		"rms": p.Rms, "centroid": p.Centroid, "rolloff": p.Rolloff,
		"flatness": p.Flatness, "crest": p.Crest, "quality": p.Quality,
	} {
		if m != ModeMax && m != ModeMean {
			return fmt.Errorf("aggregate mode for %s must be max or mean, got %q", name, m)
		}
	}
	return nil
}

// Aggregate folds a series of summaries captured in one window into one.
//
// The result takes its frame metadata from the first summary and its
// capture time from the last; the delta is measured against the first.
// A single-element series is returned unchanged. An empty series yields nil.
func Aggregate(series []*Summary, policy Policy) *Summary {
	series = compact(series)
	switch len(series) {
	case 0:
		return nil
	case 1:
		return series[0].Clone()
	}
	policy = policy.WithDefaults()

	first, last := series[0], series[len(series)-1]
	bands := make([]int, len(first.BandsDbQ))
	copy(bands, first.BandsDbQ)

	peakByHz := map[int]Peak{}
	rms := newFold(policy.Rms)
	centroid := newFold(policy.Centroid)
	rolloff := newFold(policy.Rolloff)
	flat := newFold(policy.Flatness)
	crest := newFold(policy.Crest)

	var quality *qualityFold
	for _, s := range series {
		for i := 0; i < min(len(bands), len(s.BandsDbQ)); i++ {
			if s.BandsDbQ[i] > bands[i] {
				bands[i] = s.BandsDbQ[i]
			}
		}
		for _, p := range s.Peaks {
			if cur, ok := peakByHz[p.Hz]; !ok || p.DbQ > cur.DbQ {
				peakByHz[p.Hz] = p
			}
		}
		rms.add(s.Features.RmsDbQ)
		centroid.add(s.Features.CentroidHz)
		rolloff.add(s.Features.Rolloff95Hz)
		flat.add(s.Features.FlatnessQ)
		crest.add(s.Features.CrestDbQ)
		if s.AudioQuality != nil {
			if quality == nil {
				quality = newQualityFold(policy.Quality)
			}
			quality.add(s.AudioQuality)
		}
	}

	peakLimit := len(first.Peaks)
	for _, s := range series {
		peakLimit = max(peakLimit, len(s.Peaks))
	}
	peaks := make([]Peak, 0, len(peakByHz))
	for _, p := range peakByHz {
		peaks = append(peaks, p)
	}
	sort.Slice(peaks, func(a, b int) bool {
		if peaks[a].DbQ != peaks[b].DbQ {
			return peaks[a].DbQ > peaks[b].DbQ
		}
		return peaks[a].Hz < peaks[b].Hz
	})
	if len(peaks) > peakLimit {
		peaks = peaks[:peakLimit]
	}

	out := &Summary{
		Type:       SummaryType,
		CapturedAt: last.CapturedAt,
		Frame:      first.Frame,
		BandsDbQ:   bands,
		Peaks:      peaks,
		Features: Features{
			RmsDbQ:      rms.result(),
			CentroidHz:  centroid.result(),
			Rolloff95Hz: rolloff.result(),
			FlatnessQ:   flat.result(),
			CrestDbQ:    crest.result(),
		},
	}
	if quality != nil {
		out.AudioQuality = quality.result()
	}
	d := out.Features.Sub(first.Features)
	out.Delta = &d
	return out
}

func compact(series []*Summary) []*Summary {
	out := make([]*Summary, 0, len(series))
	for _, s := range series {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type fold struct {
	mode  Mode
	max   int
	sum   int
	count int
}

func newFold(mode Mode) *fold {
	return &fold{mode: mode}
}

func (f *fold) add(v int) {
	if f.count == 0 || v > f.max {
		f.max = v
	}
	f.sum += v
	f.count++
}

func (f *fold) result() int {
	if f.count == 0 {
		return 0
	}
	if f.mode == ModeMean {
		return round(float64(f.sum) / float64(f.count))
	}
	return f.max
}

type qualityFold struct {
	peak, clipCount, clipRatio, dc, clicks, score *fold
}

func newQualityFold(mode Mode) *qualityFold {
	return &qualityFold{
		peak: newFold(mode), clipCount: newFold(mode), clipRatio: newFold(mode),
		dc: newFold(mode), clicks: newFold(mode), score: newFold(mode),
	}
}

func (q *qualityFold) add(a *AudioQuality) {
	q.peak.add(a.PeakDbFSQ)
	q.clipCount.add(a.ClipSampleCount)
	q.clipRatio.add(a.ClipRatioQ)
	q.dc.add(a.DcOffsetQ)
	q.clicks.add(a.ClickCount)
	q.score.add(a.ClickScoreQ)
}

func (q *qualityFold) result() *AudioQuality {
	return &AudioQuality{
		PeakDbFSQ:       q.peak.result(),
		ClipSampleCount: q.clipCount.result(),
		ClipRatioQ:      q.clipRatio.result(),
		DcOffsetQ:       q.dc.result(),
		ClickCount:      q.clicks.result(),
		ClickScoreQ:     q.score.result(),
	}
}
