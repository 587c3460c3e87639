// Package laps segments a recorded session into laps by detecting
// start/finish gate crossings in the GPS track.
package laps

import (
	"errors"
	"time"

	"github.com/banshee-data/trackday/internal/geo"
	"github.com/banshee-data/trackday/internal/telemetry"
)

// ErrGateUndetermined is returned when no start/finish gate has been
// configured. The segmenter never guesses a gate location.
var ErrGateUndetermined = errors.New("laps: start/finish gate not configured")

// ErrNoFix is returned by GateFromFirstFix when the session contains
// no usable GPS fix.
var ErrNoFix = errors.New("laps: no usable gps fix in session")

// DefaultDebounce is the minimum time between gate crossings. Anything
// quicker is GPS jitter near the line, not a lap.
const DefaultDebounce = 10 * time.Second

// Lap is one completed lap between two successive gate crossings.
// Start and End are interpolated crossing instants, so adjacent laps
// share a boundary exactly.
type Lap struct {
	Number      int           `json:"number"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Duration    time.Duration `json:"duration_ns"`
	MaxSpeedMPH float64       `json:"max_speed_mph"`
	AvgSpeedMPH float64       `json:"avg_speed_mph"`
	MaxTotalG   float64       `json:"max_total_g"`
}

// Config holds the segmenter tunables.
type Config struct {
	// Gate is the start/finish gate. nil means not configured.
	Gate *geo.Gate

	// Debounce is the minimum time between registered crossings.
	// Zero means DefaultDebounce.
	Debounce time.Duration
}

// Segmenter detects laps in an ordered sample sequence. It holds no
// state across calls, so running Detect twice over the same session
// yields identical results.
type Segmenter struct {
	gate     *geo.Gate
	debounce time.Duration
}

func NewSegmenter(cfg Config) *Segmenter {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Segmenter{gate: cfg.Gate, debounce: debounce}
}

// Detect returns the completed laps in the sample sequence, in order.
// A crossing is an outside-to-inside edge of the gate circle between
// two consecutive usable GPS fixes; lingering inside the radius does
// not retrigger. The first crossing opens lap 1, each later crossing
// closes one lap and opens the next, and a lap still open when the
// samples end is discarded. A session that never crosses the gate, or
// has no usable fix at all, yields zero laps.
func (sg *Segmenter) Detect(samples []telemetry.Sample) ([]Lap, error) {
	if sg.gate == nil {
		return nil, ErrGateUndetermined
	}

	crossings := sg.crossings(samples)
	if len(crossings) < 2 {
		return nil, nil
	}

	laps := make([]Lap, 0, len(crossings)-1)
	for i := 0; i < len(crossings)-1; i++ {
		lap := Lap{
			Number:   i + 1,
			Start:    crossings[i],
			End:      crossings[i+1],
			Duration: crossings[i+1].Sub(crossings[i]),
		}
		fillStats(&lap, samples)
		laps = append(laps, lap)
	}
	return laps, nil
}

// GateFromFirstFix centers a gate of the given radius on the session's
// first usable GPS fix. It suits sessions recorded from a standstill on
// the start/finish line; Detect itself never assumes that and requires
// callers to opt in through this helper.
func GateFromFirstFix(samples []telemetry.Sample, radiusMeters float64) (geo.Gate, error) {
	for _, s := range samples {
		if p, ok := fix(s); ok {
			return geo.Gate{Center: p, RadiusMeters: radiusMeters}, nil
		}
	}
	return geo.Gate{}, ErrNoFix
}

// crossings scans the usable GPS fixes for outside-to-inside edges and
// returns the interpolated crossing instants, debounced.
func (sg *Segmenter) crossings(samples []telemetry.Sample) []time.Time {
	gate := *sg.gate

	var (
		out       []time.Time
		prevAt    time.Time
		prevDist  float64
		havePrev  bool
		lastCross time.Time
	)
	for _, s := range samples {
		p, ok := fix(s)
		if !ok {
			// Invalid fixes are gaps. The edge test resumes
			// against the last usable fix, never against a
			// filled-in position.
			continue
		}
		d := gate.Distance(p)

		if havePrev && prevDist > gate.RadiusMeters && d <= gate.RadiusMeters {
			f := geo.CrossingFraction(prevDist, d, gate.RadiusMeters)
			at := prevAt.Add(time.Duration(f * float64(s.At.Sub(prevAt))))
			if lastCross.IsZero() || at.Sub(lastCross) >= sg.debounce {
				out = append(out, at)
				lastCross = at
			}
		}

		prevAt, prevDist, havePrev = s.At, d, true
	}
	return out
}

// fix extracts a usable GPS position from a sample. Latitude and
// longitude must both be valid, and a valid gps_valid flag must not
// veto the fix.
func fix(s telemetry.Sample) (geo.Point, bool) {
	lat, ok := s.Value(telemetry.ChanGPSLat)
	if !ok {
		return geo.Point{}, false
	}
	lon, ok := s.Value(telemetry.ChanGPSLon)
	if !ok {
		return geo.Point{}, false
	}
	if v, ok := s.Bool(telemetry.ChanGPSValid); ok && !v {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lon: lon}, true
}

// fillStats computes the lap's speed and g statistics from the samples
// inside its window. Invalid channel readings are skipped, not zeroed.
func fillStats(lap *Lap, samples []telemetry.Sample) {
	var (
		speedSum float64
		speedN   int
	)
	for _, s := range samples {
		if s.At.Before(lap.Start) || !s.At.Before(lap.End) {
			continue
		}
		if v, ok := s.Value(telemetry.ChanSpeedMPH); ok {
			speedSum += v
			speedN++
			if v > lap.MaxSpeedMPH {
				lap.MaxSpeedMPH = v
			}
		}
		if g, ok := s.Value(telemetry.ChanAccelTotalG); ok && g > lap.MaxTotalG {
			lap.MaxTotalG = g
		}
	}
	if speedN > 0 {
		lap.AvgSpeedMPH = speedSum / float64(speedN)
	}
}
