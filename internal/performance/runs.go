package performance

import (
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/units"
)

// accelRuns finds windows where speed rises from at or below the start
// threshold to at or above the target without reversing by more than
// the tolerance. A run anchors at the last upward crossing of the start
// threshold, so staging time at rest is never counted.
func (a *Analyzer) accelRuns(samples []telemetry.Sample) []Event {
	start, target, tol := a.cfg.AccelStartMPH, a.cfg.AccelTargetMPH, a.cfg.AccelToleranceMPH

	var (
		events   []Event
		havePrev bool
		prevAt   time.Time
		prevV    float64
		open     bool
		runStart time.Time
		peak     float64
	)
	for _, s := range samples {
		v, ok := s.Value(telemetry.ChanSpeedMPH)
		if !ok {
			open, havePrev = false, false
			continue
		}
		if !open && havePrev && prevV <= start && v > start {
			open = true
			runStart = crossTime(prevAt, prevV, s.At, v, start)
			peak = v
		}
		if open {
			switch {
			case v >= target:
				end := crossTime(prevAt, prevV, s.At, v, target)
				events = append(events, a.windowEvent(KindAccelRun, samples, runStart, end, start, target))
				open = false
			case v <= start:
				// Back at rest. The window re-anchors at the next rise.
				open = false
			case v > peak:
				peak = v
			case peak-v > tol:
				open = false
			}
		}
		prevAt, prevV, havePrev = s.At, v, true
	}
	return events
}

// brakingRuns finds falls from the arm speed to the exit speed. The
// braking distance is the trapezoidal integral of speed over the
// window, including the partial segments at the interpolated crossings.
func (a *Analyzer) brakingRuns(samples []telemetry.Sample) []Event {
	arm, exit, tol := a.cfg.BrakeArmMPH, a.cfg.BrakeExitMPH, a.cfg.AccelToleranceMPH

	var (
		events   []Event
		havePrev bool
		prevAt   time.Time
		prevV    float64
		open     bool
		runStart time.Time
		lastAt   time.Time
		lastV    float64
		minV     float64
		distM    float64
	)
	for _, s := range samples {
		v, ok := s.Value(telemetry.ChanSpeedMPH)
		if !ok {
			open, havePrev = false, false
			continue
		}
		if !open && havePrev && prevV >= arm && v < arm {
			open = true
			runStart = crossTime(prevAt, prevV, s.At, v, arm)
			lastAt, lastV = runStart, arm
			minV = arm
			distM = 0
		}
		if open {
			switch {
			case v <= exit:
				end := crossTime(lastAt, lastV, s.At, v, exit)
				distM += trapezoidM(lastV, exit, end.Sub(lastAt))
				if ev, qualified := a.brakingEvent(samples, runStart, end, distM); qualified {
					events = append(events, ev)
				}
				open = false
			case v > minV+tol:
				// Throttle reapplied before the exit speed.
				open = false
			default:
				distM += trapezoidM(lastV, v, s.At.Sub(lastAt))
				if v < minV {
					minV = v
				}
				lastAt, lastV = s.At, v
			}
		}
		prevAt, prevV, havePrev = s.At, v, true
	}
	return events
}

// brakingEvent qualifies a closed window on its mean deceleration,
// computed kinematically from the speed delta so a dead accelerometer
// cannot suppress braking runs. PeakG still reads the accelerometer.
func (a *Analyzer) brakingEvent(samples []telemetry.Sample, start, end time.Time, distM float64) (Event, bool) {
	dur := end.Sub(start)
	if dur <= 0 {
		return Event{}, false
	}
	arm, exit := a.cfg.BrakeArmMPH, a.cfg.BrakeExitMPH
	decelG := (arm - exit) * units.MPHToMPS / dur.Seconds() / units.Gravity
	if decelG < a.cfg.BrakeMinDecelG {
		return Event{}, false
	}
	_, peak := gStats(samples, start, end)
	return Event{
		Kind:       KindBraking,
		Start:      start,
		End:        end,
		Duration:   dur,
		StartMPH:   arm,
		EndMPH:     exit,
		AvgG:       decelG,
		PeakG:      peak,
		DistanceFt: distM * units.FeetPerMeter,
	}, true
}

// quarterMiles attempts a standing-quarter pass from the start instant
// of every completed acceleration run.
func (a *Analyzer) quarterMiles(samples []telemetry.Sample, runs []Event) []Event {
	var events []Event
	for _, run := range runs {
		if ev, ok := a.quarterFrom(samples, run.Start); ok {
			events = append(events, ev)
		}
	}
	return events
}

// quarterFrom integrates speed from the launch instant until the
// cumulative distance reaches a quarter mile, then interpolates the
// elapsed time and trap speed at the crossing. An invalid speed sample
// or a pass slower than the cutoff abandons the attempt.
func (a *Analyzer) quarterFrom(samples []telemetry.Sample, start time.Time) (Event, bool) {
	const targetM = units.QuarterMileMeters
	lastAt, lastV := start, a.cfg.AccelStartMPH
	var distM float64
	for _, s := range samples {
		if !s.At.After(lastAt) {
			continue
		}
		v, ok := s.Value(telemetry.ChanSpeedMPH)
		if !ok {
			return Event{}, false
		}
		seg := trapezoidM(lastV, v, s.At.Sub(lastAt))
		if distM+seg >= targetM {
			f := (targetM - distM) / seg
			end := lastAt.Add(time.Duration(f * float64(s.At.Sub(lastAt))))
			if end.Sub(start) > a.cfg.QuarterMileMax {
				return Event{}, false
			}
			trap := lastV + f*(v-lastV)
			ev := a.windowEvent(KindQuarterMile, samples, start, end, a.cfg.AccelStartMPH, trap)
			ev.DistanceFt = targetM * units.FeetPerMeter
			return ev, true
		}
		if s.At.Sub(start) > a.cfg.QuarterMileMax {
			return Event{}, false
		}
		distM += seg
		lastAt, lastV = s.At, v
	}
	return Event{}, false
}
