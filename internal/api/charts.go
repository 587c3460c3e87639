package api

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/httputil"
	"github.com/banshee-data/trackday/internal/telemetry"
)

// sessionChart renders one of the HTML chart pages for a stored
// session: trace (speed and RPM over time), track (GPS path), or
// power (estimated curve).
func (s *Server) sessionChart(w http.ResponseWriter, r *http.Request, sess *db.Session, name string) {
	switch name {
	case "trace":
		s.chartTrace(w, r, sess)
	case "track":
		s.chartTrack(w, r, sess)
	case "power":
		s.chartPower(w, r, sess)
	default:
		httputil.NotFound(w, "unknown chart: "+name)
	}
}

// chartMaxPoints bounds the payload of sample-backed charts. A full
// session at 50 Hz is far more than a browser needs for a trace.
const chartMaxPoints = 4000

func maxPointsParam(r *http.Request) int {
	maxPoints := chartMaxPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}
	return maxPoints
}

func strideFor(n, maxPoints int) int {
	if n <= maxPoints {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(maxPoints)))
}

// traceSeries extracts one channel at the given stride, leaving gaps
// where the reading was invalid.
func traceSeries(samples []telemetry.Sample, name string, stride int) []opts.LineData {
	data := make([]opts.LineData, 0, len(samples)/stride+1)
	for i := 0; i < len(samples); i += stride {
		if v, ok := samples[i].Value(name); ok {
			data = append(data, opts.LineData{Value: v})
		} else {
			data = append(data, opts.LineData{Value: nil})
		}
	}
	return data
}

func (s *Server) chartTrace(w http.ResponseWriter, r *http.Request, sess *db.Session) {
	samples, err := s.db.Samples(r.Context(), sess.ID)
	if err != nil {
		log.Printf("chart trace %s: %v", sess.ID, err)
		httputil.InternalServerError(w, "failed to load samples")
		return
	}
	if len(samples) == 0 {
		httputil.NotFound(w, "session has no samples")
		return
	}

	stride := strideFor(len(samples), maxPointsParam(r))
	xs := make([]string, 0, len(samples)/stride+1)
	for i := 0; i < len(samples); i += stride {
		xs = append(xs, fmt.Sprintf("%.1f", samples[i].Elapsed))
	}

	speed := charts.NewLine()
	speed.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session Trace", Width: "1400px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed",
			Subtitle: fmt.Sprintf("session=%s points=%d stride=%d", sess.ID, len(xs), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mph"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
	)
	speed.SetXAxis(xs).
		AddSeries("obd", traceSeries(samples, telemetry.ChanSpeedMPH, stride)).
		AddSeries("gps", traceSeries(samples, telemetry.ChanGPSSpeedMPH, stride))

	rpm := charts.NewLine()
	rpm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1400px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Engine RPM"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rpm"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
	)
	rpm.SetXAxis(xs).
		AddSeries("rpm", traceSeries(samples, telemetry.ChanRPM, stride))

	page := components.NewPage()
	page.AddCharts(speed, rpm)

	renderChart(w, page)
}

func (s *Server) chartTrack(w http.ResponseWriter, r *http.Request, sess *db.Session) {
	samples, err := s.db.Samples(r.Context(), sess.ID)
	if err != nil {
		log.Printf("chart track %s: %v", sess.ID, err)
		httputil.InternalServerError(w, "failed to load samples")
		return
	}

	stride := strideFor(len(samples), maxPointsParam(r))
	data := make([]opts.ScatterData, 0, len(samples)/stride+1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(samples); i += stride {
		sample := samples[i]
		lat, latOK := sample.Value(telemetry.ChanGPSLat)
		lon, lonOK := sample.Value(telemetry.ChanGPSLon)
		if !latOK || !lonOK {
			continue
		}
		if fix, ok := sample.Bool(telemetry.ChanGPSValid); ok && !fix {
			continue
		}
		minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
		minLat, maxLat = math.Min(minLat, lat), math.Max(maxLat, lat)
		data = append(data, opts.ScatterData{Value: []interface{}{lon, lat}})
	}
	if len(data) == 0 {
		httputil.NotFound(w, "session has no gps track")
		return
	}

	// Pad the bounds so edge points stay visible.
	padLon := (maxLon - minLon) * 0.05
	padLat := (maxLat - minLat) * 0.05
	if padLon == 0 {
		padLon = 1e-4
	}
	if padLat == 0 {
		padLat = 1e-4
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "GPS Track", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "GPS Track",
			Subtitle: fmt.Sprintf("session=%s points=%d stride=%d", sess.ID, len(data), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon - padLon, Max: maxLon + padLon, Name: "longitude"}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat - padLat, Max: maxLat + padLat, Name: "latitude"}),
	)
	scatter.AddSeries("track", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	renderChart(w, scatter)
}

func (s *Server) chartPower(w http.ResponseWriter, r *http.Request, sess *db.Session) {
	points, err := s.db.PowerCurve(r.Context(), sess.ID)
	if err != nil {
		log.Printf("chart power %s: %v", sess.ID, err)
		httputil.InternalServerError(w, "failed to load power curve")
		return
	}
	if len(points) == 0 {
		httputil.NotFound(w, "session has no power curve; run analyze first")
		return
	}

	xs := make([]string, 0, len(points))
	hp := make([]opts.LineData, 0, len(points))
	torque := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		xs = append(xs, strconv.Itoa(p.RPM))
		hp = append(hp, opts.LineData{Value: p.PowerHP})
		torque = append(torque, opts.LineData{Value: p.TorqueLbFt})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Power Curve", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Estimated Power Curve",
			Subtitle: fmt.Sprintf("session=%s bins=%d", sess.ID, len(points)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "rpm"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "hp / lb-ft"}),
	)
	line.SetXAxis(xs).
		AddSeries("power (hp)", hp).
		AddSeries("torque (lb-ft)", torque)

	renderChart(w, line)
}

type chartRenderer interface {
	Render(w io.Writer) error
}

func renderChart(w http.ResponseWriter, c chartRenderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
