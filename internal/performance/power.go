package performance

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/units"
)

// PowerPoint is one raw per-sample power estimate taken while the car
// is accelerating. No smoothing is applied here; see BinPower.
type PowerPoint struct {
	At         time.Time `json:"at"`
	RPM        float64   `json:"rpm"`
	SpeedMPH   float64   `json:"speed_mph"`
	PowerHP    float64   `json:"power_hp"`
	TorqueLbFt float64   `json:"torque_lbft"`
}

// PowerBin is the mean of the power points falling in one RPM bucket.
// RPM is the bucket's lower edge.
type PowerBin struct {
	RPM        int     `json:"rpm"`
	PowerHP    float64 `json:"power_hp"`
	TorqueLbFt float64 `json:"torque_lbft"`
	Samples    int     `json:"samples"`
}

// powerPoints estimates tractive power at every sample where the car is
// accelerating hard enough to make F=ma meaningful. The force estimate
// charges the engine with inertia plus the configured aerodynamic and
// rolling losses; speed, RPM, and longitudinal g must all be valid.
func (a *Analyzer) powerPoints(samples []telemetry.Sample) []PowerPoint {
	veh := a.cfg.Vehicle
	var pts []PowerPoint
	for _, s := range samples {
		g, ok := s.Value(telemetry.ChanAccelLongG)
		if !ok || g < a.cfg.PowerMinAccelG {
			continue
		}
		rpm, ok := s.Value(telemetry.ChanRPM)
		if !ok || rpm < a.cfg.PowerRPMMin || rpm >= a.cfg.PowerRPMMax {
			continue
		}
		mph, ok := s.Value(telemetry.ChanSpeedMPH)
		if !ok {
			continue
		}

		vMPS := mph * units.MPHToMPS
		force := veh.MassKg * g * units.Gravity
		if veh.DragCoefficient != nil && veh.FrontalAreaM2 != nil {
			force += 0.5 * units.AirDensityKgM3 * *veh.DragCoefficient * *veh.FrontalAreaM2 * vMPS * vMPS
		}
		if veh.RollingResistance != nil {
			force += *veh.RollingResistance * veh.MassKg * units.Gravity
		}
		hp := units.Horsepower(force, vMPS)
		pts = append(pts, PowerPoint{
			At:         s.At,
			RPM:        rpm,
			SpeedMPH:   mph,
			PowerHP:    hp,
			TorqueLbFt: units.TorqueLbFt(hp, rpm),
		})
	}
	return pts
}

// BinPower aggregates raw power points into the configured RPM buckets
// for plotting and storage. Empty buckets are omitted; the result is
// ordered by RPM.
func (a *Analyzer) BinPower(points []PowerPoint) []PowerBin {
	min, max, width := a.cfg.PowerRPMMin, a.cfg.PowerRPMMax, a.cfg.PowerRPMBin
	n := int((max - min) / width)
	if n <= 0 {
		return nil
	}
	hp := make([][]float64, n)
	tq := make([][]float64, n)
	for _, p := range points {
		if p.RPM < min || p.RPM >= max {
			continue
		}
		i := int((p.RPM - min) / width)
		if i >= n {
			i = n - 1
		}
		hp[i] = append(hp[i], p.PowerHP)
		tq[i] = append(tq[i], p.TorqueLbFt)
	}
	var bins []PowerBin
	for i := 0; i < n; i++ {
		if len(hp[i]) == 0 {
			continue
		}
		bins = append(bins, PowerBin{
			RPM:        int(min + float64(i)*width),
			PowerHP:    stat.Mean(hp[i], nil),
			TorqueLbFt: stat.Mean(tq[i], nil),
			Samples:    len(hp[i]),
		})
	}
	return bins
}
