package sonar

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeMux answers every P<angle> command with an echo line, simulating the
// sonar board.
type fakeMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	commands    []string

	// echoMicrosFor returns the echo time to report for an angle.
	echoMicrosFor func(angle int) float64
}

func newFakeMux(echo func(angle int) float64) *fakeMux {
	return &fakeMux{
		subscribers:   make(map[string]chan string),
		echoMicrosFor: echo,
	}
}

func (f *fakeMux) Subscribe() (string, chan string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("sub-%d", len(f.subscribers))
	ch := make(chan string, 16)
	f.subscribers[id] = ch
	return id, ch
}

func (f *fakeMux) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *fakeMux) SendCommand(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	if !strings.HasPrefix(command, "P") {
		return nil
	}
	angle, err := strconv.Atoi(strings.TrimPrefix(command, "P"))
	if err != nil {
		return err
	}
	line := fmt.Sprintf("A%d,%.0f", angle, f.echoMicrosFor(angle))
	for _, ch := range f.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	return nil
}

func (f *fakeMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeMux) Close() error                      { return nil }
func (f *fakeMux) Initialize() error                 { return nil }
func (f *fakeMux) AttachAdminRoutes(*http.ServeMux)  {}

func TestEchoToDistanceCM(t *testing.T) {
	tests := []struct {
		echoMicros float64
		want       float64
	}{
		{0, 0},
		{1000, 17},
		{11765, 200},
	}
	for _, tt := range tests {
		got := EchoToDistanceCM(tt.echoMicros)
		if math.Abs(got-tt.want) > 0.01 {
			t.Errorf("EchoToDistanceCM(%v) = %v, want %v", tt.echoMicros, got, tt.want)
		}
	}
}

func TestParseSweepLine(t *testing.T) {
	tests := []struct {
		line      string
		wantAngle float64
		wantEcho  float64
		wantErr   bool
	}{
		{"A90,1000", 90, 1000, false},
		{"A15,5882\r", 15, 5882, false},
		{"90,1000", 0, 0, true},
		{"A90", 0, 0, true},
		{"A90,1000,5", 0, 0, true},
		{"Afoo,1000", 0, 0, true},
		{"A90,bar", 0, 0, true},
	}
	for _, tt := range tests {
		angle, echo, err := ParseSweepLine(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSweepLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if err == nil && (angle != tt.wantAngle || echo != tt.wantEcho) {
			t.Errorf("ParseSweepLine(%q) = (%v, %v), want (%v, %v)",
				tt.line, angle, echo, tt.wantAngle, tt.wantEcho)
		}
	}
}

func TestSweeperStepsAndReverses(t *testing.T) {
	mux := newFakeMux(func(angle int) float64 { return 5882 }) // ~100cm
	s := NewSweeper(mux, Params{MinAngle: 10, MaxAngle: 12, Step: 1, Dwell: time.Millisecond})

	var mu sync.Mutex
	var points []Point
	done := make(chan struct{})
	s.OnPoint = func(p Point) {
		mu.Lock()
		defer mu.Unlock()
		points = append(points, p)
		if len(points) == 6 {
			close(done)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep points")
	}
	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// the arc endpoints are read twice, once per direction
	wantAngles := []float64{10, 11, 12, 12, 11, 10}
	for i, want := range wantAngles {
		if points[i].Angle != want {
			t.Errorf("point %d angle = %v, want %v (all: %+v)", i, points[i].Angle, want, points)
			break
		}
	}
	for _, p := range points {
		if math.Abs(p.DistanceCM-100) > 0.1 {
			t.Errorf("distance = %v, want ~100", p.DistanceCM)
			break
		}
	}
}

func TestSweeperClampsOutOfRange(t *testing.T) {
	// 30000µs echo is ~510cm, beyond the sensor's window.
	mux := newFakeMux(func(angle int) float64 { return 30000 })
	s := NewSweeper(mux, Params{MinAngle: 90, MaxAngle: 91, Step: 1, Dwell: time.Millisecond})

	got := make(chan Point, 1)
	s.OnPoint = func(p Point) {
		select {
		case got <- p:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case p := <-got:
		if p.DistanceCM != 0 {
			t.Errorf("out-of-range distance = %v, want 0", p.DistanceCM)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep point")
	}
}

func TestSweeperIgnoresStaleResponses(t *testing.T) {
	mux := newFakeMux(func(angle int) float64 { return 2941 }) // ~50cm
	s := NewSweeper(mux, Params{MinAngle: 45, MaxAngle: 46, Step: 1, Dwell: time.Millisecond})

	// Preload a stale line from a previous arc position.
	id, _ := mux.Subscribe()
	mux.Unsubscribe(id)

	got := make(chan Point, 1)
	s.OnPoint = func(p Point) {
		select {
		case got <- p:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Inject noise that should be skipped before the matching response.
	go func() {
		mux.mu.Lock()
		for _, ch := range mux.subscribers {
			// a stale angle, an unclassifiable line, and a pulse sample
			ch <- "A120,9999"
			ch <- "garbage"
			ch <- "512,123"
		}
		mux.mu.Unlock()
	}()
	go s.Run(ctx)

	select {
	case p := <-got:
		if p.Angle != 45 {
			t.Errorf("first point angle = %v, want 45", p.Angle)
		}
		if math.Abs(p.DistanceCM-50) > 0.1 {
			t.Errorf("distance = %v, want ~50", p.DistanceCM)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep point")
	}
}

func TestPointString(t *testing.T) {
	p := Point{Angle: 90, DistanceCM: 34.7}
	if got := p.String(); got != "90,34." {
		t.Errorf("String() = %q, want %q", got, "90,34.")
	}
}

func TestParamsDefaults(t *testing.T) {
	p := Params{}.withDefaults()
	if p.MinAngle != 15 || p.MaxAngle != 165 {
		t.Errorf("default arc = [%v, %v], want [15, 165]", p.MinAngle, p.MaxAngle)
	}
	if p.MinRangeCM != 2 || p.MaxRangeCM != 400 {
		t.Errorf("default range = [%v, %v], want [2, 400]", p.MinRangeCM, p.MaxRangeCM)
	}
}
