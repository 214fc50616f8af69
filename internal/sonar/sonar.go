// Package sonar implements the ultrasonic sweep: stepping a servo across an
// arc, reading echo times from the board, and converting them to distances.
package sonar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// speed of sound at ~20°C is ~343 m/s, i.e. 0.034 cm/µs; the echo covers
// the distance twice.
const cmPerMicrosecond = 0.034

// Point is one sweep reading.
type Point struct {
	Angle      float64 `json:"angle"`
	DistanceCM float64 `json:"distance_cm"`
}

// String renders the point in the board's CSV output format "angle,distance."
// The trailing dot is the frame terminator the stock dashboard expects.
func (p Point) String() string {
	return fmt.Sprintf("%d,%d.", int(p.Angle), int(p.DistanceCM))
}

// EchoToDistanceCM converts a round-trip echo duration in microseconds to a
// one-way distance in centimeters.
func EchoToDistanceCM(echoMicros float64) float64 {
	return echoMicros * cmPerMicrosecond / 2
}

// Params configures a Sweeper.
type Params struct {
	MinAngle float64 // arc start in degrees
	MaxAngle float64 // arc end in degrees
	Step     float64 // degrees per reading
	Dwell    time.Duration
	// Readings outside [MinRangeCM, MaxRangeCM] are reported as 0,
	// matching the sensor's usable window.
	MinRangeCM float64
	MaxRangeCM float64
}

func (p Params) withDefaults() Params {
	if p.MaxAngle == 0 {
		p.MinAngle, p.MaxAngle = 15, 165
	}
	if p.Step <= 0 {
		p.Step = 1
	}
	if p.Dwell == 0 {
		p.Dwell = 30 * time.Millisecond
	}
	if p.MaxRangeCM == 0 {
		p.MinRangeCM, p.MaxRangeCM = 2, 400
	}
	return p
}

// Sweeper drives the sonar board through repeated arcs. At each step it
// commands the servo angle and waits for the echo reading.
type Sweeper struct {
	mux    serialmux.SerialMuxInterface
	params Params
	clock  timeutil.Clock

	// OnPoint is invoked for every reading. It must not block.
	OnPoint func(Point)
}

// NewSweeper creates a Sweeper over the given serial mux.
func NewSweeper(mux serialmux.SerialMuxInterface, params Params) *Sweeper {
	return &Sweeper{
		mux:    mux,
		params: params.withDefaults(),
		clock:  timeutil.RealClock{},
	}
}

// Params returns the sweeper's effective parameters.
func (s *Sweeper) Params() Params { return s.params }

// ParseSweepLine parses a board response "A<angle>,<echo_us>".
func ParseSweepLine(line string) (angle, echoMicros float64, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "A") {
		return 0, 0, fmt.Errorf("invalid sweep line %q: missing A prefix", line)
	}
	segments := strings.Split(line[1:], ",")
	if len(segments) != 2 {
		return 0, 0, fmt.Errorf("invalid sweep line %q: expected 2 segments", line)
	}
	if angle, err = strconv.ParseFloat(segments[0], 64); err != nil {
		return 0, 0, fmt.Errorf("failed to parse angle: %w", err)
	}
	if echoMicros, err = strconv.ParseFloat(segments[1], 64); err != nil {
		return 0, 0, fmt.Errorf("failed to parse echo time: %w", err)
	}
	return angle, echoMicros, nil
}

// clampRange zeroes readings outside the sensor's usable window.
func (s *Sweeper) clampRange(distanceCM float64) float64 {
	if distanceCM < s.params.MinRangeCM || distanceCM > s.params.MaxRangeCM {
		return 0
	}
	return distanceCM
}

// Run sweeps back and forth until the context is cancelled. Each arc steps
// MinAngle→MaxAngle, then reverses.
func (s *Sweeper) Run(ctx context.Context) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	angle := s.params.MinAngle
	direction := 1.0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		point, err := s.readAt(ctx, angle, lines)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("sweep reading at %.0f° failed: %v", angle, err)
		} else if s.OnPoint != nil {
			s.OnPoint(point)
		}

		angle += direction * s.params.Step
		if angle >= s.params.MaxAngle {
			angle = s.params.MaxAngle
			direction = -1
		} else if angle <= s.params.MinAngle {
			angle = s.params.MinAngle
			direction = 1
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.params.Dwell):
		}
	}
}

// readAt commands the servo to the given angle and waits for the echo
// response line for that angle.
func (s *Sweeper) readAt(ctx context.Context, angle float64, lines chan string) (Point, error) {
	if err := s.mux.SendCommand(fmt.Sprintf("P%d", int(angle))); err != nil {
		return Point{}, fmt.Errorf("failed to command angle: %w", err)
	}

	timeout := s.clock.After(time.Second)
	for {
		select {
		case <-ctx.Done():
			return Point{}, ctx.Err()
		case <-timeout:
			return Point{}, fmt.Errorf("timed out waiting for echo at %.0f°", angle)
		case line, ok := <-lines:
			if !ok {
				return Point{}, fmt.Errorf("serial mux closed")
			}
			if serialmux.ClassifyPayload(line) != serialmux.EventTypeSweep {
				continue
			}
			gotAngle, echoMicros, err := ParseSweepLine(line)
			if err != nil {
				monitoring.Logf("discarding malformed sweep line: %v", err)
				continue
			}
			if int(gotAngle) != int(angle) {
				// stale response from a previous step
				continue
			}
			return Point{
				Angle:      gotAngle,
				DistanceCM: s.clampRange(EchoToDistanceCM(echoMicros)),
			}, nil
		}
	}
}
