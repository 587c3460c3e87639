// Package performance detects discrete kinematic events in a closed,
// ordered sample series: acceleration runs, braking runs, quarter-mile
// passes, and an estimated power curve. Detectors are window state
// machines over the speed channel; threshold crossings are linearly
// interpolated between samples so results do not quantize to the tick
// rate. An invalid reading breaks any window under construction, and a
// series with no qualifying window yields no events, which is a normal
// outcome rather than an error.
package performance

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/units"
)

// Kind labels the detector that produced an Event.
type Kind string

const (
	KindAccelRun    Kind = "accel_run"
	KindBraking     Kind = "braking"
	KindQuarterMile Kind = "quarter_mile"
)

// Event is one detected kinematic event. Start and End are interpolated
// crossing instants, not sample timestamps. Which metric fields carry
// meaning depends on Kind: DistanceFt is zero for acceleration runs,
// EndMPH is the trap speed for quarter-mile passes, and AvgG is the
// kinematic mean deceleration for braking runs (for the other kinds it
// is the mean of the longitudinal-acceleration channel).
type Event struct {
	Kind       Kind          `json:"kind"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"duration_ns"`
	StartMPH   float64       `json:"start_mph"`
	EndMPH     float64       `json:"end_mph"`
	AvgG       float64       `json:"avg_g"`
	PeakG      float64       `json:"peak_g"`
	DistanceFt float64       `json:"distance_ft"`
}

// Config tunes the detectors. Zero fields fall back to the stock
// thresholds via NewAnalyzer.
type Config struct {
	// AccelStartMPH is the speed at or below which an acceleration run
	// may anchor. Zero anchors runs at the last at-rest sample.
	AccelStartMPH float64
	// AccelTargetMPH closes an acceleration run.
	AccelTargetMPH float64
	// AccelToleranceMPH is the largest speed reversal that does not
	// break a window. Acceleration runs tolerate dips below the running
	// peak, braking runs rises above the running minimum.
	AccelToleranceMPH float64

	// BrakeArmMPH and BrakeExitMPH bound a braking run; the window is
	// the fall from the arm crossing to the exit crossing.
	BrakeArmMPH  float64
	BrakeExitMPH float64
	// BrakeMinDecelG is the minimum mean deceleration for a closed
	// window to count as a braking run. Filters out coast-downs.
	BrakeMinDecelG float64

	// QuarterMileMax discards quarter-mile passes slower than this.
	QuarterMileMax time.Duration

	// Power curve sample filter and bin layout. PowerRPMMax is an
	// exclusive upper bound.
	PowerRPMMin    float64
	PowerRPMMax    float64
	PowerRPMBin    float64
	PowerMinAccelG float64

	// Vehicle supplies the mass for F=ma and the optional loss
	// coefficients for the power estimate.
	Vehicle config.VehicleSnapshot
}

// Analyzer runs the four detectors over a closed session. It holds no
// state between calls; Analyze on the same series always returns the
// same results.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer returns an analyzer for the given tuning. Zero fields get
// the stock thresholds: 0 to 60 mph runs with a 1.5 mph tolerance,
// braking from 60 down to 5 mph at 0.25 g minimum, a 30 s quarter-mile
// cutoff, and 500 RPM power bins from 1000 to 8500.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.AccelTargetMPH == 0 {
		cfg.AccelTargetMPH = 60
	}
	if cfg.AccelToleranceMPH == 0 {
		cfg.AccelToleranceMPH = 1.5
	}
	if cfg.BrakeArmMPH == 0 {
		cfg.BrakeArmMPH = 60
	}
	if cfg.BrakeExitMPH == 0 {
		cfg.BrakeExitMPH = 5
	}
	if cfg.BrakeMinDecelG == 0 {
		cfg.BrakeMinDecelG = 0.25
	}
	if cfg.QuarterMileMax == 0 {
		cfg.QuarterMileMax = 30 * time.Second
	}
	if cfg.PowerRPMMin == 0 {
		cfg.PowerRPMMin = 1000
	}
	if cfg.PowerRPMMax == 0 {
		cfg.PowerRPMMax = 8500
	}
	if cfg.PowerRPMBin == 0 {
		cfg.PowerRPMBin = 500
	}
	if cfg.PowerMinAccelG == 0 {
		cfg.PowerMinAccelG = 0.1
	}
	if cfg.Vehicle.MassKg == 0 {
		cfg.Vehicle.MassKg = 1549
	}
	return &Analyzer{cfg: cfg}
}

// Analyze runs all detectors over the ordered sample series and returns
// the detected events sorted by start instant, plus the raw per-sample
// power points. Binning the points into a curve is left to the caller
// via BinPower.
func (a *Analyzer) Analyze(samples []telemetry.Sample) ([]Event, []PowerPoint) {
	accels := a.accelRuns(samples)

	events := make([]Event, 0, len(accels))
	events = append(events, accels...)
	events = append(events, a.brakingRuns(samples)...)
	events = append(events, a.quarterMiles(samples, accels)...)
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].End.Before(events[j].End)
	})
	return events, a.powerPoints(samples)
}

// crossTime interpolates the instant the speed trace crosses threshold
// between two readings. Callers guarantee the threshold lies between v0
// and v1.
func crossTime(t0 time.Time, v0 float64, t1 time.Time, v1, threshold float64) time.Time {
	f := (threshold - v0) / (v1 - v0)
	return t0.Add(time.Duration(f * float64(t1.Sub(t0))))
}

// trapezoidM integrates one speed segment to meters.
func trapezoidM(v0MPH, v1MPH float64, dt time.Duration) float64 {
	return (v0MPH + v1MPH) / 2 * units.MPHToMPS * dt.Seconds()
}

// gStats aggregates the longitudinal-acceleration channel over a time
// window. Invalid readings are gaps. Returns the mean and the largest
// magnitude; both are zero when the window holds no valid reading.
func gStats(samples []telemetry.Sample, start, end time.Time) (avg, peak float64) {
	var gs []float64
	for _, s := range samples {
		if s.At.Before(start) || s.At.After(end) {
			continue
		}
		g, ok := s.Value(telemetry.ChanAccelLongG)
		if !ok {
			continue
		}
		gs = append(gs, g)
		if m := math.Abs(g); m > peak {
			peak = m
		}
	}
	if len(gs) == 0 {
		return 0, 0
	}
	return stat.Mean(gs, nil), peak
}

func (a *Analyzer) windowEvent(kind Kind, samples []telemetry.Sample, start, end time.Time, startMPH, endMPH float64) Event {
	avg, peak := gStats(samples, start, end)
	return Event{
		Kind:     kind,
		Start:    start,
		End:      end,
		Duration: end.Sub(start),
		StartMPH: startMPH,
		EndMPH:   endMPH,
		AvgG:     avg,
		PeakG:    peak,
	}
}
