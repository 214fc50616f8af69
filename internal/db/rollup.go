package db

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// BPMRollup summarises detected beats for one hour bucket.
type BPMRollup struct {
	Hour   string  `json:"hour"` // "2025-06-01T12:00:00Z"
	Count  int     `json:"count"`
	MinBPM float64 `json:"min_bpm"`
	MaxBPM float64 `json:"max_bpm"`
	Mean   float64 `json:"mean_bpm"`
	P50    float64 `json:"p50_bpm"`
	P85    float64 `json:"p85_bpm"`
	P98    float64 `json:"p98_bpm"`
}

// BPMRollupByHour returns hourly BPM statistics for the trailing window.
// Percentiles are computed over the raw per-beat BPM values in each bucket.
func (db *DB) BPMRollupByHour(hours int) ([]BPMRollup, error) {
	if hours <= 0 {
		hours = 24
	}

	rows, err := db.Query(`
		SELECT strftime('%Y-%m-%dT%H:00:00Z', timestamp) AS hour, bpm
		FROM beats
		WHERE timestamp >= ?
		ORDER BY hour`,
		time.Now().UTC().Add(-time.Duration(hours)*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query beats for rollup: %w", err)
	}
	defer rows.Close()

	buckets := make(map[string][]float64)
	var order []string
	for rows.Next() {
		var hour string
		var bpm float64
		if err := rows.Scan(&hour, &bpm); err != nil {
			return nil, err
		}
		if _, seen := buckets[hour]; !seen {
			order = append(order, hour)
		}
		buckets[hour] = append(buckets[hour], bpm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rollups := make([]BPMRollup, 0, len(order))
	for _, hour := range order {
		values := buckets[hour]
		sort.Float64s(values)

		rollups = append(rollups, BPMRollup{
			Hour:   hour,
			Count:  len(values),
			MinBPM: values[0],
			MaxBPM: values[len(values)-1],
			Mean:   stat.Mean(values, nil),
			P50:    stat.Quantile(0.50, stat.Empirical, values, nil),
			P85:    stat.Quantile(0.85, stat.Empirical, values, nil),
			P98:    stat.Quantile(0.98, stat.Empirical, values, nil),
		})
	}
	return rollups, nil
}
