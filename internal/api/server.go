// Package api implements the station's HTTP surface: the REST endpoints the
// dashboard polls, the WebSocket feed, the runtime tuning endpoint, and the
// rendered BPM charts.
package api

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/httputil"
	"github.com/banshee-data/pulse.report/internal/hub"
	"github.com/banshee-data/pulse.report/internal/station"
	"github.com/banshee-data/pulse.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

//go:embed static
var staticFiles embed.FS

type Server struct {
	station *station.Station
	db      *db.DB
	hub     *hub.Hub
	units   string // default temperature units for /api/env
}

func NewServer(st *station.Station, database *db.DB, h *hub.Hub, tempUnits string) *Server {
	if !units.IsValidTemperature(tempUnits) {
		tempUnits = units.Celsius
	}
	return &Server{
		station: st,
		db:      database,
		hub:     h,
		units:   tempUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration. The
// WebSocket route is passed through untouched so the hub can hijack the
// connection.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/beats", s.listBeats)
	mux.HandleFunc("/api/samples", s.listSamples)
	mux.HandleFunc("/api/env", s.listEnvReadings)
	mux.HandleFunc("/api/sweeps", s.listSweepPoints)
	mux.HandleFunc("/api/stats/bpm", s.showBPMStats)
	mux.HandleFunc("/api/config", s.configHandler)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/charts/bpm", s.bpmChartHandler)
	mux.Handle("/api/ws", s.hub)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err) // the embedded subtree is fixed at build time
	}
	mux.Handle("/", http.FileServer(http.FS(static)))
	return mux
}

// parseCount reads an optional positive integer query parameter, returning
// fallback when absent and an error when malformed.
func parseCount(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return v, nil
}

func (s *Server) listBeats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := parseCount(r, "limit", 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	beats, err := s.db.RecentBeats(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve beats: %v", err))
		return
	}
	if beats == nil {
		beats = []db.BeatRow{}
	}
	httputil.WriteJSONOK(w, beats)
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := parseCount(r, "limit", 500)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	samples, err := s.db.RecentSamples(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}
	if samples == nil {
		samples = []db.SampleRow{}
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) listEnvReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := parseCount(r, "limit", 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	tempUnits := s.units
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValidTemperature(u) {
			httputil.BadRequest(w, "invalid 'units' parameter")
			return
		}
		tempUnits = u
	}

	readings, err := s.db.RecentEnvReadings(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve env readings: %v", err))
		return
	}

	for i := range readings {
		readings[i].TemperatureC = units.ConvertTemperature(readings[i].TemperatureC, tempUnits)
	}
	if readings == nil {
		readings = []db.EnvRow{}
	}
	httputil.WriteJSONOK(w, readings)
}

func (s *Server) listSweepPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	sweepID := r.URL.Query().Get("sweep_id")
	if sweepID == "" {
		httputil.BadRequest(w, "missing 'sweep_id' parameter")
		return
	}

	distUnits := units.Centimeters
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValidDistance(u) {
			httputil.BadRequest(w, "invalid 'units' parameter")
			return
		}
		distUnits = u
	}

	points, err := s.db.SweepPoints(sweepID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sweep points: %v", err))
		return
	}

	for i := range points {
		points[i].DistanceCM = units.ConvertDistance(points[i].DistanceCM, distUnits)
	}
	if points == nil {
		points = []db.SweepPointRow{}
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) showBPMStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	hours, err := parseCount(r, "hours", 24)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	stats, err := s.db.BPMRollupByHour(hours)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve BPM stats: %v", err))
		return
	}
	if stats == nil {
		stats = []db.BPMRollup{}
	}
	httputil.WriteJSONOK(w, stats)
}

// configHandler serves the current tuning config on GET and applies a
// partial update on POST. A POST body only needs the fields it changes.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.station.Config()
		httputil.WriteJSONOK(w, &cfg)

	case http.MethodPost:
		decoder := json.NewDecoder(io.LimitReader(r.Body, 64*1024))
		decoder.DisallowUnknownFields()

		update := new(config.TuningConfig)
		if err := decoder.Decode(update); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("malformed config update: %v", err))
			return
		}
		if err := s.station.UpdateConfig(update); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid configuration: %v", err))
			return
		}
		cfg := s.station.Config()
		httputil.WriteJSONOK(w, &cfg)

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		httputil.BadRequest(w, "missing 'command' parameter")
		return
	}

	if err := s.station.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "Failed to send command")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "sent", "command": command})
}
