package sim

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

// Environment generates synthetic BMP280-class readings: a slow random walk
// around room temperature and sea-level pressure.
type Environment struct {
	Interval time.Duration

	temperature float64 // °C
	pressure    float64 // hPa
	step        int
}

// NewEnvironment returns a generator emitting one reading per interval.
func NewEnvironment(interval time.Duration) *Environment {
	return &Environment{
		Interval:    interval,
		temperature: 21.5,
		pressure:    1012.8,
	}
}

// Next returns the next temperature (°C) and pressure (hPa) reading.
func (e *Environment) Next() (float64, float64) {
	e.step++
	// deterministic drift; bounded so values stay plausible
	e.temperature += 0.08 * math.Sin(float64(e.step)*0.7)
	e.pressure += 0.15 * math.Sin(float64(e.step)*0.3)
	return e.temperature, e.pressure
}

// Run writes environment JSON lines to w at the configured interval until
// the context is cancelled.
func (e *Environment) Run(ctx context.Context, w io.Writer) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			temp, pres := e.Next()
			line := fmt.Sprintf("{\"temperature_c\":%.2f,\"pressure_hpa\":%.2f}\n", temp, pres)
			if _, err := w.Write([]byte(line)); err != nil {
				monitoring.Logf("environment simulator write failed: %v", err)
				return
			}
		}
	}
}
