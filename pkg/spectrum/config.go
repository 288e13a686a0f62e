package spectrum

import "fmt"

// Config tunes the reducer. Zero values are replaced by defaults.
type Config struct {
	Bands           int     `yaml:"bands"`
	Peaks           int     `yaml:"peaks"`
	PeakThresholdDb float64 `yaml:"peak_threshold_db"`
	ClipThresholdDb float64 `yaml:"clip_threshold_db"`
	ClickJump       float64 `yaml:"click_jump"`
}

// Defaults applied when a frame omits its analyser settings.
const (
	DefaultSampleRate = 44100
	DefaultFFTSize    = 2048
	DefaultFMin       = 20
	DefaultFloorDb    = -110
)

// DefaultConfig returns the reducer settings used by the workbench UI.
func DefaultConfig() Config {
	return Config{
		Bands:           32,
		Peaks:           8,
		PeakThresholdDb: 10,
		ClipThresholdDb: -1,
		ClickJump:       0.25,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Bands == 0 {
		c.Bands = d.Bands
	}
	if c.Peaks == 0 {
		c.Peaks = d.Peaks
	}
	if c.PeakThresholdDb == 0 {
		c.PeakThresholdDb = d.PeakThresholdDb
	}
	if c.ClipThresholdDb == 0 {
		c.ClipThresholdDb = d.ClipThresholdDb
	}
	if c.ClickJump == 0 {
		c.ClickJump = d.ClickJump
	}
	return c
}

// Validate checks ranges after defaults have been applied.
func (c Config) Validate() error {
	if c.Bands < 1 || c.Bands > 256 {
		return fmt.Errorf("bands must be between 1 and 256, got %d", c.Bands)
	}
	if c.Peaks < 1 || c.Peaks > 64 {
		return fmt.Errorf("peaks must be between 1 and 64, got %d", c.Peaks)
	}
	if c.PeakThresholdDb < 0 {
		return fmt.Errorf("peak_threshold_db must not be negative, got %g", c.PeakThresholdDb)
	}
	if c.ClipThresholdDb > 0 {
		return fmt.Errorf("clip_threshold_db must be at most 0 dBFS, got %g", c.ClipThresholdDb)
	}
	if c.ClickJump <= 0 || c.ClickJump > 2 {
		return fmt.Errorf("click_jump must be in (0, 2], got %g", c.ClickJump)
	}
	return nil
}
