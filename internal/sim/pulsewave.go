// Package sim provides dev-mode signal sources that stand in for the sensor
// boards: a synthetic pulse waveform and a synthetic environment sensor.
// Both emit the board wire format into an io.Writer (usually the write end
// of a mock serial mux) so the rest of the pipeline is exercised unchanged.
package sim

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

// PulseWave generates a synthetic photoplethysmogram-like waveform on the
// board's 10-bit ADC scale: baseline + gaussian systolic peak + smaller
// dicrotic bump + deterministic noise. Not physiological, but it crosses a
// threshold once per cycle the way the real sensor does.
type PulseWave struct {
	SampleRate float64 // samples per second
	HeartRate  float64 // beats per minute
	Noise      float64 // noise amplitude in ADC counts

	phase float64
}

// NewPulseWave returns a generator at the given sample rate and heart rate.
func NewPulseWave(sampleRate, heartRate float64) *PulseWave {
	return &PulseWave{
		SampleRate: sampleRate,
		HeartRate:  heartRate,
		Noise:      8,
	}
}

// Next returns the next ADC sample and advances the waveform phase.
func (p *PulseWave) Next() float64 {
	cycleHz := p.HeartRate / 60.0
	p.phase += cycleHz / p.SampleRate
	if p.phase >= 1.0 {
		p.phase -= 1.0
	}

	t := p.phase

	baseline := 480.0
	systolic := 320.0 * gauss(t, 0.15, 0.035)
	dicrotic := 90.0 * gauss(t, 0.38, 0.05)
	noise := p.Noise * (2*fract(math.Sin(12345.678*t)*9876.543) - 1)

	v := baseline + systolic + dicrotic + noise
	if v < 0 {
		v = 0
	}
	if v > 1023 {
		v = 1023
	}
	return v
}

// Run writes "millis,value" lines to w at the configured sample rate until
// the context is cancelled.
func (p *PulseWave) Run(ctx context.Context, w io.Writer) {
	period := time.Duration(float64(time.Second) / p.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			millis := time.Since(start).Milliseconds()
			line := fmt.Sprintf("%d,%d\n", millis, int(p.Next()))
			if _, err := w.Write([]byte(line)); err != nil {
				monitoring.Logf("pulse simulator write failed: %v", err)
				return
			}
		}
	}
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }
