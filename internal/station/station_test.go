package station

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/hub"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// fakeMux hands subscribers a buffered channel the test writes lines into.
type fakeMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	commands    []string
}

func newFakeMux() *fakeMux {
	return &fakeMux{subscribers: make(map[string]chan string)}
}

func (f *fakeMux) Subscribe() (string, chan string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("sub-%d", len(f.subscribers))
	ch := make(chan string, 64)
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
	return nil
}

func (f *fakeMux) push(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		ch <- line
	}
}

func (f *fakeMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeMux) Close() error                      { return nil }
func (f *fakeMux) Initialize() error                 { return nil }
func (f *fakeMux) AttachAdminRoutes(*http.ServeMux)  {}

func newTestStation(t *testing.T, cfg *config.TuningConfig) (*Station, *fakeMux, *db.DB, *timeutil.MockClock) {
	t.Helper()

	store, err := db.NewDB(filepath.Join(t.TempDir(), "station.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mux := newFakeMux()
	s := New(mux, store, hub.New(), nil, cfg)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s.clock = clock
	return s, mux, store, clock
}

// dialHub connects a test WebSocket client to the station's hub.
func dialHub(t *testing.T, s *Station) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.hub)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// wait for the hub to register the client
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

// readEvent reads the next JSON event of the wanted type, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed reading %s event: %v", wantType, err)
		}
		var event map[string]interface{}
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("malformed event %q: %v", payload, err)
		}
		if event["type"] == wantType {
			return event
		}
	}
}

// beatCycle pushes one below/above threshold pair through handleSample,
// advancing the mock clock so crossings land ibi apart.
func beatCycle(s *Station, clock *timeutil.MockClock, ibi time.Duration) {
	clock.Advance(ibi / 2)
	s.handleSample("1000,400")
	clock.Advance(ibi - ibi/2)
	s.handleSample("1001,700")
}

func TestBeatDetectionEndToEnd(t *testing.T) {
	s, _, store, clock := newTestStation(t, nil)
	conn := dialHub(t, s)

	// first crossing arms the detector, the next ones emit beats
	for i := 0; i < 3; i++ {
		beatCycle(s, clock, 600*time.Millisecond)
	}

	event := readEvent(t, conn, "beat")
	if bpm := event["bpm"].(float64); bpm < 99 || bpm > 101 {
		t.Errorf("bpm = %v, want ~100", bpm)
	}
	if ibi := event["ibi_ms"].(float64); ibi != 600 {
		t.Errorf("ibi_ms = %v, want 600", ibi)
	}

	if got := s.LatestBPM(); got < 99 || got > 101 {
		t.Errorf("LatestBPM = %v, want ~100", got)
	}

	beats, err := store.RecentBeats(10)
	if err != nil {
		t.Fatalf("RecentBeats failed: %v", err)
	}
	if len(beats) != 2 {
		t.Errorf("persisted %d beats, want 2", len(beats))
	}
}

func TestSampleBroadcastThrottle(t *testing.T) {
	broadcast := "50ms"
	s, _, _, clock := newTestStation(t, &config.TuningConfig{SampleBroadcast: &broadcast})
	conn := dialHub(t, s)

	// 20 samples 10ms apart span 200ms: at most ~5 broadcasts
	for i := 0; i < 20; i++ {
		clock.Advance(10 * time.Millisecond)
		s.handleSample(fmt.Sprintf("%d,400", i))
	}
	// a closing marker so the reader knows when the stream is done
	s.publish("env", EnvEvent{Type: "env"})

	var samples int
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var event map[string]interface{}
		json.Unmarshal(payload, &event)
		if event["type"] == "env" {
			break
		}
		if event["type"] == "sample" {
			samples++
		}
	}
	if samples == 0 || samples > 6 {
		t.Errorf("got %d sample events for 20 samples at a 50ms cadence, want 1..6", samples)
	}
}

func TestEnvReadingPersistedAndBroadcast(t *testing.T) {
	s, _, store, _ := newTestStation(t, nil)
	conn := dialHub(t, s)

	s.handleLine(`{"temperature_c": 22.5, "pressure_hpa": 1013.2}`)

	event := readEvent(t, conn, "env")
	if event["temperature_c"].(float64) != 22.5 {
		t.Errorf("temperature_c = %v, want 22.5", event["temperature_c"])
	}
	if event["pressure_hpa"].(float64) != 1013.2 {
		t.Errorf("pressure_hpa = %v, want 1013.2", event["pressure_hpa"])
	}

	readings, err := store.RecentEnvReadings(10)
	if err != nil {
		t.Fatalf("RecentEnvReadings failed: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("persisted %d env readings, want 1", len(readings))
	}
}

func TestSampleBatchFlush(t *testing.T) {
	batch := 3
	s, _, store, clock := newTestStation(t, &config.TuningConfig{SampleBatchSize: &batch})

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Millisecond)
		s.handleSample(fmt.Sprintf("%d,400", i))
	}

	samples, err := store.RecentSamples(10)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("persisted %d samples after batch flush, want 3", len(samples))
	}
}

func TestMalformedLinesIgnored(t *testing.T) {
	s, _, store, _ := newTestStation(t, nil)

	s.handleLine("not,a,sample")
	s.handleLine("1000,9999") // outside ADC range
	s.handleLine(`{"temperature_c": "broken"`)
	s.handleLine("")

	samples, err := store.RecentSamples(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 0 {
		t.Errorf("malformed lines produced %d samples, want 0", len(samples))
	}
}

func TestUpdateConfig(t *testing.T) {
	s, _, _, _ := newTestStation(t, nil)

	threshold := 600.0
	if err := s.UpdateConfig(&config.TuningConfig{BeatThreshold: &threshold}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	cfg := s.Config()
	if got := cfg.GetBeatThreshold(); got != 600 {
		t.Errorf("threshold after update = %v, want 600", got)
	}

	bad := 5000.0
	if err := s.UpdateConfig(&config.TuningConfig{BeatThreshold: &bad}); err == nil {
		t.Error("UpdateConfig accepted an out-of-range threshold")
	}
	// the failed update must not have touched the live config
	cfg = s.Config()
	if got := cfg.GetBeatThreshold(); got != 600 {
		t.Errorf("threshold after rejected update = %v, want 600", got)
	}
}

func TestRunStopsOnCancelAndFlushes(t *testing.T) {
	batch := 100 // large enough that nothing flushes mid-run
	s, mux, store, _ := newTestStation(t, &config.TuningConfig{SampleBatchSize: &batch})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	// wait for the run loop to subscribe
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mux.mu.Lock()
		n := len(mux.subscribers)
		mux.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mux.push("1000,400")
	mux.push("1010,410")

	// wait for the loop to consume both lines
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.pending)
		s.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	samples, err := store.RecentSamples(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Errorf("flushed %d samples on shutdown, want 2", len(samples))
	}
}
