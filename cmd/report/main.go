// Command report generates an offline heart-rate report from a station
// database: a summary on stdout, an interactive HTML chart of the hourly
// rollup, and a PNG of the raw beat series.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/security"
)

var (
	dbPath = flag.String("db", "station.db", "Station database file")
	hours  = flag.Int("hours", 24, "Trailing window to report on")
	outDir = flag.String("out", "report", "Output directory")
	limit  = flag.Int("limit", 10000, "Maximum beats to include in the PNG plot")
)

func main() {
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("cannot read database %s: %v", *dbPath, err)
	}
	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if err := security.ValidateExportPath(*outDir); err != nil {
		log.Fatalf("refusing output directory: %v", err)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	rollups, err := database.BPMRollupByHour(*hours)
	if err != nil {
		log.Fatalf("failed to compute rollup: %v", err)
	}
	if len(rollups) == 0 {
		log.Fatalf("no beats recorded in the trailing %dh", *hours)
	}

	beats, err := database.RecentBeats(*limit)
	if err != nil {
		log.Fatalf("failed to load beats: %v", err)
	}

	printSummary(beats, rollups)

	htmlPath := filepath.Join(*outDir, "report.html")
	if err := writeRollupChart(rollups, htmlPath); err != nil {
		log.Fatalf("failed to write HTML chart: %v", err)
	}
	log.Printf("wrote %s", htmlPath)

	pngPath := filepath.Join(*outDir, "intervals.png")
	if err := writeIntervalPlot(beats, pngPath); err != nil {
		log.Fatalf("failed to write interval plot: %v", err)
	}
	log.Printf("wrote %s", pngPath)
}

func printSummary(beats []db.BeatRow, rollups []db.BPMRollup) {
	values := make([]float64, len(beats))
	for i, b := range beats {
		values[i] = b.BPM
	}

	fmt.Printf("beats: %d across %d hour buckets\n", len(beats), len(rollups))
	if len(values) > 0 {
		mean, std := stat.MeanStdDev(values, nil)
		fmt.Printf("mean BPM: %.1f (stddev %.1f)\n", mean, std)
	}
	for _, r := range rollups {
		fmt.Printf("%s  n=%-5d min=%.0f p50=%.0f p85=%.0f p98=%.0f max=%.0f\n",
			r.Hour, r.Count, r.MinBPM, r.P50, r.P85, r.P98, r.MaxBPM)
	}
}

func writeRollupChart(rollups []db.BPMRollup, path string) error {
	x := make([]string, 0, len(rollups))
	mean := make([]opts.LineData, 0, len(rollups))
	p50 := make([]opts.LineData, 0, len(rollups))
	p98 := make([]opts.LineData, 0, len(rollups))
	for _, r := range rollups {
		x = append(x, r.Hour)
		mean = append(mean, opts.LineData{Value: r.Mean})
		p50 = append(p50, opts.LineData{Value: r.P50})
		p98 = append(p98, opts.LineData{Value: r.P98})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Heart Rate Report", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heart Rate", Subtitle: fmt.Sprintf("%d hourly buckets", len(rollups))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "BPM"}),
	)
	line.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("p50", p50).
		AddSeries("p98", p98)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}

func writeIntervalPlot(beats []db.BeatRow, path string) error {
	if len(beats) == 0 {
		return fmt.Errorf("no beats to plot")
	}

	pts := make(plotter.XYs, 0, len(beats))
	// RecentBeats is newest first; plot oldest to newest
	for i := len(beats) - 1; i >= 0; i-- {
		pts = append(pts, plotter.XY{
			X: float64(beats[i].Timestamp.Unix()),
			Y: float64(beats[i].IBIMs),
		})
	}

	p := plot.New()
	p.Title.Text = "Inter-beat intervals"
	p.X.Label.Text = "time"
	p.Y.Label.Text = "IBI (ms)"
	p.X.Tick.Marker = plot.TimeTicks{Format: time.Kitchen}

	intervals, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	intervals.Radius = vg.Points(1.5)
	p.Add(intervals, plotter.NewGrid())

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
