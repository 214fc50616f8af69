package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the runtime tuning parameters for the beat
// detector, the sample broadcaster, and the sonar sweeper. The schema
// matches the /api/config endpoint so the same JSON can be used for both
// startup configuration and runtime updates. All fields are pointers so
// partial configs leave unset values at their defaults.
type TuningConfig struct {
	// Beat detector params
	BeatThreshold    *float64 `json:"beat_threshold,omitempty"`     // ADC counts, 0..1023
	Refractory       *string  `json:"refractory,omitempty"`         // duration string like "200ms"
	MinBPM           *float64 `json:"min_bpm,omitempty"`            // readings below are discarded as noise
	MaxBPM           *float64 `json:"max_bpm,omitempty"`            // readings above are discarded as noise
	IntervalWindow   *int     `json:"interval_window,omitempty"`    // beats averaged for reported BPM
	SampleBroadcast  *string  `json:"sample_broadcast,omitempty"`   // raw sample fan-out period
	SampleBatchSize  *int     `json:"sample_batch_size,omitempty"`  // samples per DB insert batch
	EnvInterval      *string  `json:"env_interval,omitempty"`       // environment sampler period
	SweepMinAngleDeg *float64 `json:"sweep_min_angle,omitempty"`    // sonar arc start
	SweepMaxAngleDeg *float64 `json:"sweep_max_angle,omitempty"`    // sonar arc end
	SweepStepDeg     *float64 `json:"sweep_step,omitempty"`         // servo increment per reading
	SweepDwell       *string  `json:"sweep_dwell,omitempty"`        // settle time per step
	MaxRangeCM       *float64 `json:"max_range_cm,omitempty"`       // readings beyond report as 0
	MinRangeCM       *float64 `json:"min_range_cm,omitempty"`       // readings under report as 0
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// The Get* accessors supply defaults for nil fields.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and be under the max file size. Fields omitted from the
// JSON retain their default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Merge applies the non-nil fields of other on top of c. Used by the runtime
// config update endpoint so a partial POST only touches the fields it names.
func (c *TuningConfig) Merge(other *TuningConfig) {
	if other == nil {
		return
	}
	if other.BeatThreshold != nil {
		c.BeatThreshold = other.BeatThreshold
	}
	if other.Refractory != nil {
		c.Refractory = other.Refractory
	}
	if other.MinBPM != nil {
		c.MinBPM = other.MinBPM
	}
	if other.MaxBPM != nil {
		c.MaxBPM = other.MaxBPM
	}
	if other.IntervalWindow != nil {
		c.IntervalWindow = other.IntervalWindow
	}
	if other.SampleBroadcast != nil {
		c.SampleBroadcast = other.SampleBroadcast
	}
	if other.SampleBatchSize != nil {
		c.SampleBatchSize = other.SampleBatchSize
	}
	if other.EnvInterval != nil {
		c.EnvInterval = other.EnvInterval
	}
	if other.SweepMinAngleDeg != nil {
		c.SweepMinAngleDeg = other.SweepMinAngleDeg
	}
	if other.SweepMaxAngleDeg != nil {
		c.SweepMaxAngleDeg = other.SweepMaxAngleDeg
	}
	if other.SweepStepDeg != nil {
		c.SweepStepDeg = other.SweepStepDeg
	}
	if other.SweepDwell != nil {
		c.SweepDwell = other.SweepDwell
	}
	if other.MaxRangeCM != nil {
		c.MaxRangeCM = other.MaxRangeCM
	}
	if other.MinRangeCM != nil {
		c.MinRangeCM = other.MinRangeCM
	}
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.BeatThreshold != nil {
		if *c.BeatThreshold < 0 || *c.BeatThreshold > 1023 {
			return fmt.Errorf("beat_threshold must be between 0 and 1023, got %f", *c.BeatThreshold)
		}
	}

	if c.Refractory != nil && *c.Refractory != "" {
		if _, err := time.ParseDuration(*c.Refractory); err != nil {
			return fmt.Errorf("invalid refractory '%s': %w", *c.Refractory, err)
		}
	}

	if c.SampleBroadcast != nil && *c.SampleBroadcast != "" {
		if _, err := time.ParseDuration(*c.SampleBroadcast); err != nil {
			return fmt.Errorf("invalid sample_broadcast '%s': %w", *c.SampleBroadcast, err)
		}
	}

	if c.EnvInterval != nil && *c.EnvInterval != "" {
		if _, err := time.ParseDuration(*c.EnvInterval); err != nil {
			return fmt.Errorf("invalid env_interval '%s': %w", *c.EnvInterval, err)
		}
	}

	if c.SweepDwell != nil && *c.SweepDwell != "" {
		if _, err := time.ParseDuration(*c.SweepDwell); err != nil {
			return fmt.Errorf("invalid sweep_dwell '%s': %w", *c.SweepDwell, err)
		}
	}

	if c.MinBPM != nil && c.MaxBPM != nil && *c.MinBPM >= *c.MaxBPM {
		return fmt.Errorf("min_bpm %f must be below max_bpm %f", *c.MinBPM, *c.MaxBPM)
	}

	if c.IntervalWindow != nil && *c.IntervalWindow < 1 {
		return fmt.Errorf("interval_window must be at least 1, got %d", *c.IntervalWindow)
	}

	if c.SweepStepDeg != nil && *c.SweepStepDeg <= 0 {
		return fmt.Errorf("sweep_step must be positive, got %f", *c.SweepStepDeg)
	}

	if c.SweepMinAngleDeg != nil && c.SweepMaxAngleDeg != nil &&
		*c.SweepMinAngleDeg >= *c.SweepMaxAngleDeg {
		return fmt.Errorf("sweep_min_angle %f must be below sweep_max_angle %f",
			*c.SweepMinAngleDeg, *c.SweepMaxAngleDeg)
	}

	return nil
}

// GetBeatThreshold returns the beat_threshold value or the default.
func (c *TuningConfig) GetBeatThreshold() float64 {
	if c.BeatThreshold == nil {
		return 550 // midpoint-plus on the 10-bit ADC scale
	}
	return *c.BeatThreshold
}

// GetRefractory parses and returns the refractory window as a time.Duration.
func (c *TuningConfig) GetRefractory() time.Duration {
	if c.Refractory == nil || *c.Refractory == "" {
		return 200 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.Refractory)
	if err != nil {
		return 200 * time.Millisecond // default on parse error
	}
	return d
}

// GetMinBPM returns the min_bpm value or the default.
func (c *TuningConfig) GetMinBPM() float64 {
	if c.MinBPM == nil {
		return 10
	}
	return *c.MinBPM
}

// GetMaxBPM returns the max_bpm value or the default.
func (c *TuningConfig) GetMaxBPM() float64 {
	if c.MaxBPM == nil {
		return 250
	}
	return *c.MaxBPM
}

// GetIntervalWindow returns the interval_window value or the default.
func (c *TuningConfig) GetIntervalWindow() int {
	if c.IntervalWindow == nil {
		return 5
	}
	return *c.IntervalWindow
}

// GetSampleBroadcast parses and returns the sample broadcast period.
func (c *TuningConfig) GetSampleBroadcast() time.Duration {
	if c.SampleBroadcast == nil || *c.SampleBroadcast == "" {
		return 50 * time.Millisecond // ~20 graph points per second
	}
	d, err := time.ParseDuration(*c.SampleBroadcast)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// GetSampleBatchSize returns the sample_batch_size value or the default.
func (c *TuningConfig) GetSampleBatchSize() int {
	if c.SampleBatchSize == nil || *c.SampleBatchSize < 1 {
		return 50
	}
	return *c.SampleBatchSize
}

// GetEnvInterval parses and returns the environment sampler period.
func (c *TuningConfig) GetEnvInterval() time.Duration {
	if c.EnvInterval == nil || *c.EnvInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.EnvInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetSweepMinAngle returns the sweep_min_angle value or the default.
func (c *TuningConfig) GetSweepMinAngle() float64 {
	if c.SweepMinAngleDeg == nil {
		return 15
	}
	return *c.SweepMinAngleDeg
}

// GetSweepMaxAngle returns the sweep_max_angle value or the default.
func (c *TuningConfig) GetSweepMaxAngle() float64 {
	if c.SweepMaxAngleDeg == nil {
		return 165
	}
	return *c.SweepMaxAngleDeg
}

// GetSweepStep returns the sweep_step value or the default.
func (c *TuningConfig) GetSweepStep() float64 {
	if c.SweepStepDeg == nil || *c.SweepStepDeg <= 0 {
		return 1
	}
	return *c.SweepStepDeg
}

// GetSweepDwell parses and returns the per-step settle time.
func (c *TuningConfig) GetSweepDwell() time.Duration {
	if c.SweepDwell == nil || *c.SweepDwell == "" {
		return 30 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SweepDwell)
	if err != nil {
		return 30 * time.Millisecond
	}
	return d
}

// GetMaxRangeCM returns the max_range_cm value or the default.
func (c *TuningConfig) GetMaxRangeCM() float64 {
	if c.MaxRangeCM == nil {
		return 400 // HC-SR04 usable ceiling
	}
	return *c.MaxRangeCM
}

// GetMinRangeCM returns the min_range_cm value or the default.
func (c *TuningConfig) GetMinRangeCM() float64 {
	if c.MinRangeCM == nil {
		return 2
	}
	return *c.MinRangeCM
}
