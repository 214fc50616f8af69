// Package pulse implements the beat detection pipeline for the analog pulse
// sensor: wire-format parsing, threshold-crossing detection, and BPM
// computation from inter-beat intervals.
package pulse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sample is one analog reading from the pulse sensor. Value is on the
// board's 10-bit ADC scale (0..1023).
type Sample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Beat is one detected heartbeat. IBI is the interval since the previous
// beat; BPM is derived from a short moving average of recent intervals.
type Beat struct {
	At  time.Time     `json:"at"`
	BPM float64       `json:"bpm"`
	IBI time.Duration `json:"-"`
}

// IBIMillis returns the inter-beat interval in milliseconds for the wire.
func (b Beat) IBIMillis() int64 {
	return b.IBI.Milliseconds()
}

// ParseSampleLine parses a board wire-format sample line "millis,value".
// The board's millisecond uptime is kept for debugging but the host
// timestamp is authoritative, matching how observations are recorded.
func ParseSampleLine(line string, at time.Time) (Sample, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) != 2 {
		return Sample{}, fmt.Errorf("invalid sample line %q: expected 2 segments", line)
	}

	if _, err := strconv.ParseInt(segments[0], 10, 64); err != nil {
		return Sample{}, fmt.Errorf("failed to parse uptime: %w", err)
	}

	value, err := strconv.ParseFloat(segments[1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to parse value: %w", err)
	}
	if value < 0 || value > 1023 {
		return Sample{}, fmt.Errorf("sample value %v outside ADC range", value)
	}

	return Sample{At: at, Value: value}, nil
}
