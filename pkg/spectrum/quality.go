package spectrum

import "math"

// clickRefractory is the number of samples after a click during which
// further jumps are counted as part of the same click.
const clickRefractory = 8

// silenceDbFS is reported as the peak level of an all-zero buffer.
const silenceDbFS = -120

// Quality derives the audio-quality block from a time-domain buffer in
// [-1, 1]. It returns nil for an empty buffer.
//
// The click score is 50% click density (10 or more clicks per 1000
// samples saturates), 30% largest jump beyond the click threshold and 20%
// clip ratio (5% clipped saturates).
func Quality(samples []float64, cfg Config) *AudioQuality {
	n := len(samples)
	if n == 0 {
		return nil
	}
	cfg = cfg.WithDefaults()
	clipLevel := math.Pow(10, cfg.ClipThresholdDb/20)

	var maxAbs, sum, maxJump float64
	clipped, clicks := 0, 0
	lastClick := -clickRefractory - 1
	for i, x := range samples {
		a := math.Abs(x)
		if a > maxAbs {
			maxAbs = a
		}
		if a >= clipLevel {
			clipped++
		}
		sum += x
		if i == 0 {
			continue
		}
		jump := math.Abs(x - samples[i-1])
		if jump > maxJump {
			maxJump = jump
		}
		if jump > cfg.ClickJump && i-lastClick > clickRefractory {
			clicks++
			lastClick = i
		}
	}

	peakDb := float64(silenceDbFS)
	if maxAbs > 0 {
		peakDb = math.Max(silenceDbFS, 20*math.Log10(maxAbs))
	}
	clipRatio := float64(clipped) / float64(n)

	density := clamp01(float64(clicks) * 1000 / float64(n) / 10)
	jumpTerm := 0.0
	if clicks > 0 {
		jumpTerm = clamp01((maxJump - cfg.ClickJump) / (2 - cfg.ClickJump))
	}
	clipTerm := clamp01(clipRatio * 20)
	score := 100 * (0.5*density + 0.3*jumpTerm + 0.2*clipTerm)

	return &AudioQuality{
		PeakDbFSQ:       round(peakDb),
		ClipSampleCount: clipped,
		ClipRatioQ:      round(clipRatio * 1000),
		DcOffsetQ:       round(math.Abs(sum/float64(n)) * 1000),
		ClickCount:      clicks,
		ClickScoreQ:     min(100, max(0, round(score))),
	}
}
