// Package report renders a closed session's analysis results: the
// performance summary (text and JSON), raw data exports (CSV, JSON,
// KML), and PNG plots.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/laps"
	"github.com/banshee-data/trackday/internal/performance"
	"github.com/banshee-data/trackday/internal/telemetry"
)

// SessionInfo summarizes the recording itself.
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	DurationS float64   `json:"duration_seconds"`
	Samples   int       `json:"total_samples"`
	RateHz    float64   `json:"sample_rate_hz"`
	Lost      uint64    `json:"samples_lost"`
	Degraded  bool      `json:"degraded"`
	Vehicle   string    `json:"vehicle,omitempty"`
}

// MaxValues are the session-wide channel extremes. BrakingG is the
// magnitude of the strongest deceleration, LateralG the strongest
// cornering load in either direction.
type MaxValues struct {
	SpeedMPH    float64 `json:"max_speed_mph"`
	GPSSpeedMPH float64 `json:"max_gps_speed_mph"`
	RPM         float64 `json:"max_rpm"`
	AccelG      float64 `json:"max_accel_g"`
	BrakingG    float64 `json:"max_braking_g"`
	LateralG    float64 `json:"max_lateral_g"`
	TotalG      float64 `json:"max_total_g"`
	CoolantF    float64 `json:"max_coolant_temp_f"`
	OilF        float64 `json:"max_oil_temp_f"`
}

// LapSummary is the lap list with the best lap called out.
type LapSummary struct {
	Count      int        `json:"num_laps"`
	BestNumber int        `json:"best_lap_number"`
	BestS      float64    `json:"best_lap_seconds"`
	Laps       []laps.Lap `json:"laps"`
}

// Report is the assembled session analysis.
type Report struct {
	Session SessionInfo            `json:"session_info"`
	Max     MaxValues              `json:"max_values"`
	Laps    *LapSummary            `json:"laps,omitempty"`
	Events  []performance.Event    `json:"events"`
	Power   []performance.PowerBin `json:"power_curve,omitempty"`
}

// Build assembles a report from the stored session row, its sample
// series, and the analysis results. Any of the analysis slices may be
// empty; the renderers skip absent sections.
func Build(sess *db.Session, samples []telemetry.Sample, lapList []laps.Lap, events []performance.Event, power []performance.PowerBin) *Report {
	r := &Report{
		Max:    maxValues(samples),
		Events: events,
		Power:  power,
	}

	if sess != nil {
		r.Session = SessionInfo{
			ID:        sess.ID,
			Name:      sess.Name,
			StartedAt: sess.StartedAt,
			EndedAt:   sess.EndedAt,
			DurationS: sess.Duration().Seconds(),
			Lost:      sess.Lost,
			Degraded:  sess.Degraded,
			Vehicle:   sess.Vehicle.Name,
		}
	}
	r.Session.Samples = len(samples)
	if r.Session.DurationS == 0 && len(samples) > 1 {
		r.Session.DurationS = samples[len(samples)-1].At.Sub(samples[0].At).Seconds()
	}
	if r.Session.DurationS > 0 {
		r.Session.RateHz = float64(len(samples)) / r.Session.DurationS
	}

	if len(lapList) > 0 {
		best := 0
		for i, lap := range lapList {
			if lap.Duration < lapList[best].Duration {
				best = i
			}
		}
		r.Laps = &LapSummary{
			Count:      len(lapList),
			BestNumber: lapList[best].Number,
			BestS:      lapList[best].Duration.Seconds(),
			Laps:       lapList,
		}
	}
	return r
}

// maxValues scans the series for the channel extremes, ignoring
// invalid readings.
func maxValues(samples []telemetry.Sample) MaxValues {
	var m MaxValues
	minLongG := 0.0
	for _, s := range samples {
		maxChan(&m.SpeedMPH, s, telemetry.ChanSpeedMPH)
		maxChan(&m.GPSSpeedMPH, s, telemetry.ChanGPSSpeedMPH)
		maxChan(&m.RPM, s, telemetry.ChanRPM)
		maxChan(&m.AccelG, s, telemetry.ChanAccelLongG)
		maxChan(&m.TotalG, s, telemetry.ChanAccelTotalG)
		maxChan(&m.CoolantF, s, telemetry.ChanCoolantTempF)
		maxChan(&m.OilF, s, telemetry.ChanTempOilF)
		if v, ok := s.Value(telemetry.ChanAccelLongG); ok && v < minLongG {
			minLongG = v
		}
		if v, ok := s.Value(telemetry.ChanAccelLatG); ok && math.Abs(v) > m.LateralG {
			m.LateralG = math.Abs(v)
		}
	}
	m.BrakingG = -minLongG
	return m
}

func maxChan(dst *float64, s telemetry.Sample, name string) {
	if v, ok := s.Value(name); ok && v > *dst {
		*dst = v
	}
}

// best returns the fastest event of one kind, nil when none were
// detected.
func (r *Report) best(kind performance.Kind) *performance.Event {
	var found *performance.Event
	for i := range r.Events {
		e := &r.Events[i]
		if e.Kind != kind {
			continue
		}
		if found == nil || e.Duration < found.Duration {
			found = e
		}
	}
	return found
}

func (r *Report) count(kind performance.Kind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// WriteText renders the human-readable session report.
func (r *Report) WriteText(w io.Writer) error {
	title := r.Session.Name
	if title == "" {
		title = r.Session.ID
	}

	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "SESSION REPORT: %s\n", title)
	fmt.Fprintln(w, "================================================================================")

	fmt.Fprintln(w, "\nSession Info:")
	if !r.Session.StartedAt.IsZero() {
		fmt.Fprintf(w, "  Started:  %s\n", r.Session.StartedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "  Duration: %.1f seconds (%.1f minutes)\n", r.Session.DurationS, r.Session.DurationS/60)
	fmt.Fprintf(w, "  Samples:  %d (%.1f Hz)\n", r.Session.Samples, r.Session.RateHz)
	if r.Session.Lost > 0 {
		fmt.Fprintf(w, "  Lost:     %d samples\n", r.Session.Lost)
	}
	if r.Session.Degraded {
		fmt.Fprintln(w, "  WARNING: session marked degraded; the tail of the data may be incomplete")
	}
	if r.Session.Vehicle != "" {
		fmt.Fprintf(w, "  Vehicle:  %s\n", r.Session.Vehicle)
	}

	if e := r.best(performance.KindAccelRun); e != nil {
		fmt.Fprintf(w, "\n%.0f-%.0f mph:\n", e.StartMPH, e.EndMPH)
		fmt.Fprintf(w, "  Time: %.2f seconds\n", e.Duration.Seconds())
		fmt.Fprintf(w, "  Avg G-force: %.2fg\n", e.AvgG)
		fmt.Fprintf(w, "  Runs found: %d\n", r.count(performance.KindAccelRun))
	}

	if e := r.best(performance.KindBraking); e != nil {
		fmt.Fprintf(w, "\n%.0f-%.0f mph Braking:\n", e.StartMPH, e.EndMPH)
		fmt.Fprintf(w, "  Time: %.2f seconds\n", e.Duration.Seconds())
		fmt.Fprintf(w, "  Distance: %.1f feet\n", e.DistanceFt)
		fmt.Fprintf(w, "  Max G-force: %.2fg\n", e.PeakG)
	}

	if e := r.best(performance.KindQuarterMile); e != nil {
		fmt.Fprintln(w, "\nQuarter Mile:")
		fmt.Fprintf(w, "  Time: %.2f seconds\n", e.Duration.Seconds())
		fmt.Fprintf(w, "  Trap speed: %.1f mph\n", e.EndMPH)
	}

	fmt.Fprintln(w, "\nMaximum Values:")
	fmt.Fprintf(w, "  Speed: %.1f mph\n", r.Max.SpeedMPH)
	fmt.Fprintf(w, "  RPM: %.0f\n", r.Max.RPM)
	fmt.Fprintf(w, "  Acceleration: %.2fg\n", r.Max.AccelG)
	fmt.Fprintf(w, "  Braking: %.2fg\n", r.Max.BrakingG)
	fmt.Fprintf(w, "  Lateral: %.2fg\n", r.Max.LateralG)
	if r.Max.CoolantF > 0 {
		fmt.Fprintf(w, "  Coolant: %.0f F\n", r.Max.CoolantF)
	}
	if r.Max.OilF > 0 {
		fmt.Fprintf(w, "  Oil: %.0f F\n", r.Max.OilF)
	}

	if r.Laps != nil {
		fmt.Fprintln(w, "\nLap Times:")
		fmt.Fprintf(w, "  Laps detected: %d\n", r.Laps.Count)
		fmt.Fprintf(w, "  Best lap: %.2f seconds (lap %d)\n", r.Laps.BestS, r.Laps.BestNumber)
		for i, lap := range r.Laps.Laps {
			if i >= 5 {
				fmt.Fprintf(w, "    ... %d more\n", len(r.Laps.Laps)-5)
				break
			}
			fmt.Fprintf(w, "    Lap %d: %.2fs (max: %.1f mph)\n",
				lap.Number, lap.Duration.Seconds(), lap.MaxSpeedMPH)
		}
	}

	if len(r.Power) > 0 {
		peak := r.Power[0]
		for _, b := range r.Power {
			if b.PowerHP > peak.PowerHP {
				peak = b
			}
		}
		fmt.Fprintln(w, "\nEstimated Power:")
		fmt.Fprintf(w, "  Peak: %.0f hp @ %d rpm\n", peak.PowerHP, peak.RPM)
		fmt.Fprintf(w, "  Bins: %d\n", len(r.Power))
	}

	fmt.Fprintln(w)
	return nil
}

// WriteJSON renders the report as indented JSON, the on-disk
// performance_report.json format.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
