// Command pulsed runs the pulse monitoring station: it reads the pulse
// sensor board over serial, detects beats, persists observations to SQLite,
// and serves the live dashboard over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pulse.report/internal/api"
	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/hub"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/sim"
	"github.com/banshee-data/pulse.report/internal/station"
	"github.com/banshee-data/pulse.report/internal/stream"
	"github.com/banshee-data/pulse.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode against a simulated pulse board")
	devBPM     = flag.Float64("dev-bpm", 72, "Simulated heart rate in dev mode")
	envEnabled = flag.Bool("env", false, "Simulate the environment sensor in dev mode")
	noBoard    = flag.Bool("no-board", false, "Run the HTTP surface without any board attached")
	natsMode   = flag.Bool("nats", false, "Publish events to NATS")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "station.yaml", "Station config file")
	tuningPath = flag.String("tuning", "", "Tuning config file (JSON)")
	tempUnits  = flag.String("units", "celsius", "Temperature units for /api/env (celsius|fahrenheit)")
)

func main() {
	// `pulsed migrate ...` manages the database schema offline, without
	// starting the station.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		migrateFlags := flag.NewFlagSet("migrate", flag.ExitOnError)
		migrateDB := migrateFlags.String("db", "station.db", "Station database file")
		migrateFlags.Parse(os.Args[2:])
		db.RunMigrateCommand(migrateFlags.Args(), *migrateDB)
		return
	}

	flag.Parse()

	log.Printf("pulsed %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	stationCfg, err := config.LoadStation(*configPath)
	if err != nil {
		log.Fatalf("failed to load station config: %v", err)
	}
	if *listen != "" {
		stationCfg.Listen = *listen
	}

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	// boardSim is non-nil in dev mode: the simulator writes wire-format
	// lines into it as if a board were attached.
	var boardMux serialmux.SerialMuxInterface
	var boardSim io.WriteCloser
	switch {
	case *noBoard:
		boardMux = serialmux.NewDisabledSerialMux()
	case *devMode:
		boardMux, boardSim = serialmux.NewMockSerialMux()
		log.Printf("dev mode: simulating pulse board at %.0f BPM", *devBPM)
	default:
		boardMux, err = serialmux.NewRealSerialMux(stationCfg.Pulse.Port, serialmux.PortOptions{
			BaudRate: stationCfg.Pulse.BaudRate,
		})
		if err != nil {
			log.Fatalf("failed to open pulse board at %s: %v", stationCfg.Pulse.Port, err)
		}
	}
	defer boardMux.Close()

	if err := boardMux.Initialize(); err != nil {
		log.Fatalf("failed to initialize board: %v", err)
	}

	database, err := db.NewDB(stationCfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	var pub *stream.Publisher
	if *natsMode {
		nc, err := stream.Connect(stationCfg.NATS.URL)
		if err != nil {
			// the station is useful without the broker; reconnects are the
			// broker's problem once we are connected
			log.Printf("NATS unavailable at %s, continuing without publishing: %v", stationCfg.NATS.URL, err)
		} else {
			pub = stream.NewPublisher(nc, stationCfg.NATS.SubjectPrefix)
			defer pub.Drain()
			log.Printf("publishing events to NATS at %s", stationCfg.NATS.URL)
		}
	}

	feed := hub.New()
	defer feed.Close()
	st := station.New(boardMux, database, feed, pub, tuning)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := boardMux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// the station pipeline consumes board lines until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := st.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("station pipeline failed: %v", err)
		}
		log.Print("station routine terminated")
	}()

	if boardSim != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer boardSim.Close()
			wave := sim.NewPulseWave(100, *devBPM)
			wave.Run(ctx, boardSim)
		}()
		if *envEnabled {
			wg.Add(1)
			go func() {
				defer wg.Done()
				env := sim.NewEnvironment(tuning.GetEnvInterval())
				env.Run(ctx, boardSim)
			}()
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(st, database, feed, *tempUnits).ServeMux()
		boardMux.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    stationCfg.Listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", stationCfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
