package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pulse.report/internal/httputil"
)

// bpmChartHandler renders an HTML line chart of the hourly BPM rollup using
// go-echarts. This is a quick visual check on the stats endpoint, not part of
// the dashboard proper.
// Query params:
//   - hours (optional; default 24) trailing window size
func (s *Server) bpmChartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	hours, err := parseCount(r, "hours", 24)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rollups, err := s.db.BPMRollupByHour(hours)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve BPM stats: %v", err))
		return
	}
	if len(rollups) == 0 {
		httputil.NotFound(w, "no beats recorded in the requested window")
		return
	}

	x := make([]string, 0, len(rollups))
	mean := make([]opts.LineData, 0, len(rollups))
	p50 := make([]opts.LineData, 0, len(rollups))
	p85 := make([]opts.LineData, 0, len(rollups))
	p98 := make([]opts.LineData, 0, len(rollups))
	for _, roll := range rollups {
		x = append(x, roll.Hour)
		mean = append(mean, opts.LineData{Value: roll.Mean})
		p50 = append(p50, opts.LineData{Value: roll.P50})
		p85 = append(p85, opts.LineData{Value: roll.P85})
		p98 = append(p98, opts.LineData{Value: roll.P98})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "BPM by hour", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heart Rate", Subtitle: fmt.Sprintf("hourly rollup, trailing %dh", hours)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "BPM"}),
	)
	line.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("p50", p50).
		AddSeries("p85", p85).
		AddSeries("p98", p98)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
