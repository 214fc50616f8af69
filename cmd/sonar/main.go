// Command sonar drives the ultrasonic sweep board: it steps the servo across
// the arc, reads echo times, and prints "angle,distance." lines in the format
// the stock radar display expects. With -record each sweep arc is also
// persisted so /api/sweeps can serve it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/sim"
	"github.com/banshee-data/pulse.report/internal/sonar"
)

var (
	devMode    = flag.Bool("dev", false, "Sweep a simulated scene instead of a real board")
	record     = flag.Bool("record", false, "Record sweep points to the station database")
	configPath = flag.String("config", "station.yaml", "Station config file")
	tuningPath = flag.String("tuning", "", "Tuning config file (JSON)")
	quiet      = flag.Bool("quiet", false, "Suppress the angle,distance output")
)

// sceneMux answers servo commands with echoes from a simulated scene. It
// stands in for the board in dev mode.
type sceneMux struct {
	scene *sim.Scene

	mu          sync.Mutex
	subscribers map[string]chan string
}

func newSceneMux(scene *sim.Scene) *sceneMux {
	return &sceneMux{scene: scene, subscribers: make(map[string]chan string)}
}

func (m *sceneMux) Subscribe() (string, chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan string, 16)
	m.subscribers[id] = ch
	return id, ch
}

func (m *sceneMux) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *sceneMux) SendCommand(command string) error {
	if !strings.HasPrefix(command, "P") {
		return nil
	}
	angle, err := strconv.ParseFloat(strings.TrimPrefix(command, "P"), 64)
	if err != nil {
		return fmt.Errorf("bad angle command %q: %w", command, err)
	}
	line := fmt.Sprintf("A%d,%.0f", int(angle), m.scene.EchoMicros(angle))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	return nil
}

func (m *sceneMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (m *sceneMux) Initialize() error                 { return nil }
func (m *sceneMux) AttachAdminRoutes(*http.ServeMux)  {}

func (m *sceneMux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}

func main() {
	flag.Parse()

	stationCfg, err := config.LoadStation(*configPath)
	if err != nil {
		log.Fatalf("failed to load station config: %v", err)
	}

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var mux serialmux.SerialMuxInterface
	if *devMode {
		log.Print("dev mode: sweeping a simulated scene")
		mux = newSceneMux(sim.NewScene())
	} else {
		mux, err = serialmux.NewRealSerialMux(stationCfg.Sonar.Port, serialmux.PortOptions{
			BaudRate: stationCfg.Sonar.BaudRate,
		})
		if err != nil {
			log.Fatalf("failed to open sonar board at %s: %v", stationCfg.Sonar.Port, err)
		}
	}
	defer mux.Close()

	var store *db.DB
	if *record {
		store, err = db.NewDB(stationCfg.DBPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()
	}

	sweeper := sonar.NewSweeper(mux, sonar.Params{
		MinAngle:   tuning.GetSweepMinAngle(),
		MaxAngle:   tuning.GetSweepMaxAngle(),
		Step:       tuning.GetSweepStep(),
		Dwell:      tuning.GetSweepDwell(),
		MinRangeCM: tuning.GetMinRangeCM(),
		MaxRangeCM: tuning.GetMaxRangeCM(),
	})

	// one sweep id per arc so recorded points group into frames
	var sweepID string
	var lastAngle float64
	newArc := func() { sweepID = uuid.NewString() }
	newArc()

	params := sweeper.Params()
	lastAngle = params.MinAngle

	sweeper.OnPoint = func(p sonar.Point) {
		// direction change marks the start of a new arc
		if (p.Angle == params.MinAngle || p.Angle == params.MaxAngle) && p.Angle != lastAngle {
			newArc()
		}
		lastAngle = p.Angle

		if !*quiet {
			fmt.Println(p.String())
		}
		if store != nil {
			if err := store.RecordSweepPoint(sweepID, p.Angle, p.DistanceCM); err != nil {
				log.Printf("failed to record sweep point: %v", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
	}()

	if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("sweep failed: %v", err)
	}

	stop()
	wg.Wait()
	log.Print("sweep stopped")
}
