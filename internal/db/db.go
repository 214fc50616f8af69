// Package db provides SQLite persistence for the station: detected beats,
// raw samples, environment readings, and sonar sweep points.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/pulse"
)

type DB struct {
	*sql.DB
}

// OpenDB opens (or creates) the station database at path without touching
// the schema. The migrate CLI uses this so migrations fully own DDL.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers (API queries) from blocking the sampler's writes.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{db}, nil
}

// NewDB opens the station database at path and applies any pending
// migrations from the embedded sources, so a fresh database comes up at the
// latest schema version. Databases created before schema versioning are
// safe: the migrations are written to tolerate their tables.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		return nil, err
	}

	return db, nil
}

// RecordBeat stores one detected beat.
func (db *DB) RecordBeat(b pulse.Beat) error {
	_, err := db.Exec(
		"INSERT INTO beats (bpm, ibi_ms, timestamp) VALUES (?, ?, ?)",
		b.BPM, b.IBIMillis(), b.At.UTC(),
	)
	return err
}

// RecordSamples stores a batch of raw samples in a single transaction.
func (db *DB) RecordSamples(batch []pulse.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO samples (value, timestamp) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.Exec(s.Value, s.At.UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecordEnvReading stores one environment reading.
func (db *DB) RecordEnvReading(temperatureC, pressureHPA float64, at time.Time) error {
	_, err := db.Exec(
		"INSERT INTO env_readings (temperature_c, pressure_hpa, timestamp) VALUES (?, ?, ?)",
		temperatureC, pressureHPA, at.UTC(),
	)
	return err
}

// RecordSweepPoint stores one sonar sweep reading.
func (db *DB) RecordSweepPoint(sweepID string, angle, distanceCM float64) error {
	_, err := db.Exec(
		"INSERT INTO sweep_points (sweep_id, angle, distance_cm) VALUES (?, ?, ?)",
		sweepID, angle, distanceCM,
	)
	return err
}

// BeatRow is one persisted beat as returned by queries.
type BeatRow struct {
	BPM       float64   `json:"bpm"`
	IBIMs     int64     `json:"ibi_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentBeats returns up to limit beats, newest first.
func (db *DB) RecentBeats(limit int) ([]BeatRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		"SELECT bpm, ibi_ms, timestamp FROM beats ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beats []BeatRow
	for rows.Next() {
		var b BeatRow
		if err := rows.Scan(&b.BPM, &b.IBIMs, &b.Timestamp); err != nil {
			return nil, err
		}
		beats = append(beats, b)
	}
	return beats, rows.Err()
}

// SampleRow is one persisted raw sample.
type SampleRow struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentSamples returns up to limit raw samples, newest first.
func (db *DB) RecentSamples(limit int) ([]SampleRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		"SELECT value, timestamp FROM samples ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []SampleRow
	for rows.Next() {
		var s SampleRow
		if err := rows.Scan(&s.Value, &s.Timestamp); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// EnvRow is one persisted environment reading.
type EnvRow struct {
	TemperatureC float64   `json:"temperature_c"`
	PressureHPA  float64   `json:"pressure_hpa"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecentEnvReadings returns up to limit environment readings, newest first.
func (db *DB) RecentEnvReadings(limit int) ([]EnvRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		"SELECT temperature_c, pressure_hpa, timestamp FROM env_readings ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []EnvRow
	for rows.Next() {
		var r EnvRow
		if err := rows.Scan(&r.TemperatureC, &r.PressureHPA, &r.Timestamp); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// SweepPointRow is one persisted sonar reading.
type SweepPointRow struct {
	SweepID    string    `json:"sweep_id"`
	Angle      float64   `json:"angle"`
	DistanceCM float64   `json:"distance_cm"`
	Timestamp  time.Time `json:"timestamp"`
}

// SweepPoints returns all points for a sweep in insertion order.
func (db *DB) SweepPoints(sweepID string) ([]SweepPointRow, error) {
	rows, err := db.Query(
		"SELECT sweep_id, angle, distance_cm, timestamp FROM sweep_points WHERE sweep_id = ? ORDER BY rowid", sweepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []SweepPointRow
	for rows.Next() {
		var p SweepPointRow
		if err := rows.Scan(&p.SweepID, &p.Angle, &p.DistanceCM, &p.Timestamp); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://station.db", db.DB, &tailsql.DBOptions{
		Label: "Station DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			monitoring.Logf("failed to stream backup: %v", err)
		}
	}))
}
