package pulse

import (
	"time"
)

// DetectorParams configures a Detector. Zero values are replaced with the
// listed defaults by NewDetector.
type DetectorParams struct {
	// Threshold is the ADC value a sample must exceed to count as the
	// rising edge of a beat. Default 550.
	Threshold float64
	// Refractory suppresses a second trigger within this window of the
	// previous beat, regardless of the latch. Default 200ms.
	Refractory time.Duration
	// MinBPM and MaxBPM bound plausible readings; intervals outside the
	// range are discarded as noise. Defaults 10 and 250.
	MinBPM float64
	MaxBPM float64
	// IntervalWindow is how many recent inter-beat intervals are averaged
	// for the reported BPM. Default 5.
	IntervalWindow int
}

func (p DetectorParams) withDefaults() DetectorParams {
	if p.Threshold == 0 {
		p.Threshold = 550
	}
	if p.Refractory == 0 {
		p.Refractory = 200 * time.Millisecond
	}
	if p.MinBPM == 0 {
		p.MinBPM = 10
	}
	if p.MaxBPM == 0 {
		p.MaxBPM = 250
	}
	if p.IntervalWindow == 0 {
		p.IntervalWindow = 5
	}
	return p
}

// Detector finds heartbeats in a stream of analog samples using a
// threshold crossing with a boolean latch: a beat fires on the rising edge
// through the threshold, and the latch must see the signal fall back below
// the threshold before another beat can fire.
type Detector struct {
	params DetectorParams

	armed     bool // latch: true once the signal has been below threshold
	lastBeat  time.Time
	intervals []time.Duration
}

// NewDetector creates a Detector with the given parameters.
func NewDetector(params DetectorParams) *Detector {
	return &Detector{
		params: params.withDefaults(),
		armed:  true,
	}
}

// Params returns the detector's effective parameters.
func (d *Detector) Params() DetectorParams { return d.params }

// Process feeds one sample through the detector. It returns a Beat and true
// when a beat fires with a plausible interval. The first crossing after a
// reset arms the interval computation without emitting a beat.
func (d *Detector) Process(s Sample) (Beat, bool) {
	if s.Value <= d.params.Threshold {
		// signal fell below threshold: reopen the latch
		d.armed = true
		return Beat{}, false
	}

	if !d.armed {
		return Beat{}, false
	}
	d.armed = false

	if !d.lastBeat.IsZero() && s.At.Sub(d.lastBeat) < d.params.Refractory {
		// double-trigger inside the refractory window; keep the previous
		// beat time so the genuine interval is preserved
		return Beat{}, false
	}

	if d.lastBeat.IsZero() {
		d.lastBeat = s.At
		return Beat{}, false
	}

	interval := s.At.Sub(d.lastBeat)
	d.lastBeat = s.At

	instBPM := 60000.0 / float64(interval.Milliseconds())
	if instBPM < d.params.MinBPM || instBPM > d.params.MaxBPM {
		// implausible interval: sensor contact glitch. Drop the history so
		// the average restarts clean.
		d.intervals = d.intervals[:0]
		return Beat{}, false
	}

	d.intervals = append(d.intervals, interval)
	if len(d.intervals) > d.params.IntervalWindow {
		d.intervals = d.intervals[1:]
	}

	return Beat{
		At:  s.At,
		BPM: 60000.0 / meanMillis(d.intervals),
		IBI: interval,
	}, true
}

// Reset clears the detector state, including the beat history.
func (d *Detector) Reset() {
	d.armed = true
	d.lastBeat = time.Time{}
	d.intervals = d.intervals[:0]
}

func meanMillis(intervals []time.Duration) float64 {
	var total float64
	for _, iv := range intervals {
		total += float64(iv.Milliseconds())
	}
	return total / float64(len(intervals))
}
