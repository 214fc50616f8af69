// Package station runs the pulse monitoring pipeline: it consumes lines from
// the board's serial mux, detects beats, persists observations, and fans
// events out to the dashboard WebSocket hub and (optionally) NATS.
package station

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/hub"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/stream"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// SampleEvent is the dashboard wire format for a raw sensor reading.
type SampleEvent struct {
	Type   string  `json:"type"` // "sample"
	UnixMS int64   `json:"t"`
	Value  float64 `json:"value"`
	BPM    float64 `json:"bpm,omitempty"` // latest known BPM, for the gauge
}

// BeatEvent is the dashboard wire format for a detected heartbeat.
type BeatEvent struct {
	Type   string  `json:"type"` // "beat"
	UnixMS int64   `json:"t"`
	BPM    float64 `json:"bpm"`
	IBIMs  int64   `json:"ibi_ms"`
}

// EnvEvent is the dashboard wire format for an environment reading.
type EnvEvent struct {
	Type         string  `json:"type"` // "env"
	UnixMS       int64   `json:"t"`
	TemperatureC float64 `json:"temperature_c"`
	PressureHPA  float64 `json:"pressure_hpa"`
}

// envReading is the board's JSON payload for the optional BMP280 sensor.
type envReading struct {
	TemperatureC float64 `json:"temperature_c"`
	PressureHPA  float64 `json:"pressure_hpa"`
}

// Station wires the serial mux to the detector, the database, the WebSocket
// hub, and the optional NATS publisher.
type Station struct {
	mux   serialmux.SerialMuxInterface
	store *db.DB
	hub   *hub.Hub
	pub   *stream.Publisher // nil when NATS is not configured
	clock timeutil.Clock

	mu       sync.Mutex
	cfg      *config.TuningConfig
	detector *pulse.Detector

	latestBPM     float64
	lastBroadcast time.Time
	pending       []pulse.Sample
}

// New creates a Station. store and pub may be nil; the hub and mux must not
// be.
func New(mux serialmux.SerialMuxInterface, store *db.DB, h *hub.Hub, pub *stream.Publisher, cfg *config.TuningConfig) *Station {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Station{
		mux:      mux,
		store:    store,
		hub:      h,
		pub:      pub,
		clock:    timeutil.RealClock{},
		cfg:      cfg,
		detector: pulse.NewDetector(detectorParams(cfg)),
	}
}

func detectorParams(cfg *config.TuningConfig) pulse.DetectorParams {
	return pulse.DetectorParams{
		Threshold:      cfg.GetBeatThreshold(),
		Refractory:     cfg.GetRefractory(),
		MinBPM:         cfg.GetMinBPM(),
		MaxBPM:         cfg.GetMaxBPM(),
		IntervalWindow: cfg.GetIntervalWindow(),
	}
}

// Config returns a copy of the current tuning configuration.
func (s *Station) Config() config.TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// UpdateConfig merges the non-nil fields of update into the current tuning
// configuration and rebuilds the detector. The detector restarts clean, so a
// beat or two is lost around a config change.
func (s *Station) UpdateConfig(update *config.TuningConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := *s.cfg
	merged.Merge(update)
	if err := merged.Validate(); err != nil {
		return err
	}

	s.cfg = &merged
	s.detector = pulse.NewDetector(detectorParams(s.cfg))
	monitoring.Logf("tuning config updated: threshold=%.0f refractory=%s window=%d",
		s.cfg.GetBeatThreshold(), s.cfg.GetRefractory(), s.cfg.GetIntervalWindow())
	return nil
}

// LatestBPM returns the most recently computed BPM, or 0 before the first
// beat.
func (s *Station) LatestBPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestBPM
}

// SendCommand forwards a raw command to the board.
func (s *Station) SendCommand(command string) error {
	return s.mux.SendCommand(command)
}

// Run consumes board lines until the context is cancelled. Pending samples
// are flushed to the database on the way out.
func (s *Station) Run(ctx context.Context) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)
	defer s.flushSamples()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			s.handleLine(line)
		}
	}
}

func (s *Station) handleLine(line string) {
	switch serialmux.ClassifyPayload(line) {
	case serialmux.EventTypeSample:
		s.handleSample(line)
	case serialmux.EventTypeEnv:
		s.handleEnv(line)
	case serialmux.EventTypeConfig:
		monitoring.Logf("board config response: %s", line)
	case serialmux.EventTypeSweep:
		// sonar traffic on the pulse port; a miswired station
		monitoring.Logf("ignoring sweep line on pulse board: %s", line)
	default:
		monitoring.Logf("ignoring unrecognized board line: %q", line)
	}
}

func (s *Station) handleSample(line string) {
	now := s.clock.Now()
	sample, err := pulse.ParseSampleLine(line, now)
	if err != nil {
		monitoring.Logf("discarding malformed sample: %v", err)
		return
	}

	s.mu.Lock()
	beat, fired := s.detector.Process(sample)
	if fired {
		s.latestBPM = beat.BPM
	}
	latestBPM := s.latestBPM

	s.pending = append(s.pending, sample)
	flush := len(s.pending) >= s.cfg.GetSampleBatchSize()

	broadcast := now.Sub(s.lastBroadcast) >= s.cfg.GetSampleBroadcast()
	if broadcast {
		s.lastBroadcast = now
	}
	s.mu.Unlock()

	if flush {
		s.flushSamples()
	}

	if broadcast {
		s.publish("sample", SampleEvent{
			Type:   "sample",
			UnixMS: sample.At.UnixMilli(),
			Value:  sample.Value,
			BPM:    latestBPM,
		})
	}

	if fired {
		if s.store != nil {
			if err := s.store.RecordBeat(beat); err != nil {
				monitoring.Logf("failed to record beat: %v", err)
			}
		}
		s.publish("beat", BeatEvent{
			Type:   "beat",
			UnixMS: beat.At.UnixMilli(),
			BPM:    beat.BPM,
			IBIMs:  beat.IBIMillis(),
		})
	}
}

func (s *Station) handleEnv(line string) {
	var reading envReading
	if err := json.Unmarshal([]byte(line), &reading); err != nil {
		monitoring.Logf("discarding malformed environment reading: %v", err)
		return
	}

	now := s.clock.Now()
	if s.store != nil {
		if err := s.store.RecordEnvReading(reading.TemperatureC, reading.PressureHPA, now); err != nil {
			monitoring.Logf("failed to record environment reading: %v", err)
		}
	}
	s.publish("env", EnvEvent{
		Type:         "env",
		UnixMS:       now.UnixMilli(),
		TemperatureC: reading.TemperatureC,
		PressureHPA:  reading.PressureHPA,
	})
}

// flushSamples writes the pending sample batch to the database.
func (s *Station) flushSamples() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.store == nil || len(batch) == 0 {
		return
	}
	if err := s.store.RecordSamples(batch); err != nil {
		monitoring.Logf("failed to record %d samples: %v", len(batch), err)
	}
}

// publish broadcasts an event to the WebSocket hub and, when configured, to
// NATS. Failures are logged, never fatal: the sampling loop must not stall.
func (s *Station) publish(kind string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		monitoring.Logf("failed to marshal %s event: %v", kind, err)
		return
	}
	s.hub.Broadcast(payload)

	if s.pub != nil {
		if err := s.pub.Publish(kind, event); err != nil {
			monitoring.Logf("%v", fmt.Errorf("stream publish: %w", err))
		}
	}
}
