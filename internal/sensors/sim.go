package sensors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/trackday/internal/geo"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
	"github.com/banshee-data/trackday/internal/units"
)

// Simulated drive defaults: a circular track in degrees of arc around
// the center point. 0.002 degrees is roughly a 220m radius.
var simCenter = geo.Point{Lat: 37.7749, Lon: -122.4194}

const (
	simRadiusDeg    = 0.002
	simCycleSeconds = 120
	simStepPeriod   = 20 * time.Millisecond
	metersPerDegree = 111320
)

// simSpeedMPH returns the drive-cycle speed at phase p seconds into
// the repeating cycle: a standing launch, a long straight, a hard
// brake zone, a rolling middle sector, and a stop back at the start.
// The segments are continuous so the derived acceleration stays
// realistic.
func simSpeedMPH(p float64) float64 {
	switch {
	case p < 12:
		return 6 * p
	case p < 45:
		return 72
	case p < 51:
		return 72 - 7.5*(p-45)
	case p < 115:
		return 27 + 18*(1-math.Cos((p-51)/64*math.Pi))
	default:
		return 63 * (simCycleSeconds - p) / 5
	}
}

// SimVehicleState is one instant of the simulated drive, with every
// quantity the sim adapters publish.
type SimVehicleState struct {
	SpeedMPH    float64
	AccelLongG  float64
	AccelLatG   float64
	YawRateDPS  float64
	HeadingDeg  float64
	Lat         float64
	Lon         float64
	RPM         float64
	ThrottlePos float64
	EngineLoad  float64
	MAFGPerS    float64
	CoolantF    float64
	IntakeF     float64
	OilF        float64
	TransF      float64
	BrakeF      float64
	AmbientF    float64
}

// SimDrive integrates a repeating drive cycle around a circular track.
// It stands in for the vehicle when no hardware is attached: the sim
// adapters sample it the way real adapters sample their buses.
type SimDrive struct {
	clock timeutil.Clock

	mu        sync.Mutex
	elapsed   float64
	theta     float64
	speedMPH  float64
	accelG    float64
	brakeHeat float64
}

// NewSimDrive creates a drive at rest on the start line.
func NewSimDrive(clock timeutil.Clock) *SimDrive {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimDrive{clock: clock}
}

// Run advances the drive until ctx is cancelled.
func (s *SimDrive) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(simStepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.Advance(simStepPeriod)
		}
	}
}

// Advance steps the integration by dt without waiting on the clock.
// Offline generators use this to roll a drive forward faster than
// real time.
func (s *SimDrive) Advance(dt time.Duration) {
	s.mu.Lock()
	s.step(dt.Seconds())
	s.mu.Unlock()
}

// step advances the integration by dt seconds. Callers hold s.mu.
func (s *SimDrive) step(dt float64) {
	s.elapsed += dt
	p := math.Mod(s.elapsed, simCycleSeconds)
	prev := s.speedMPH
	s.speedMPH = simSpeedMPH(p)
	if dt > 0 {
		s.accelG = (s.speedMPH - prev) * units.MPHToMPS / dt / units.Gravity
	}

	radiusM := simRadiusDeg * metersPerDegree
	s.theta += s.speedMPH * units.MPHToMPS * dt / radiusM

	// Brake temperature proxy: a slow low-pass of braking effort.
	braking := 0.0
	if s.accelG < 0 {
		braking = -s.accelG
	}
	s.brakeHeat += (braking - s.brakeHeat) * math.Min(1, dt/20)
}

// State returns the current instant of the drive.
func (s *SimDrive) State() SimVehicleState {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.speedMPH * units.MPHToMPS
	radiusM := simRadiusDeg * metersPerDegree
	omega := v / radiusM
	heading := math.Mod(s.theta*180/math.Pi+90, 360)

	throttle := 15.0
	switch {
	case s.accelG > 0.02:
		throttle = math.Min(100, 20+s.accelG*250)
	case s.accelG < -0.02:
		throttle = 0
	}

	rpm := 800 + s.speedMPH*55 + s.accelG*300
	if rpm < 800 {
		rpm = 800
	}

	warm := 1 - math.Exp(-s.elapsed/300)
	return SimVehicleState{
		SpeedMPH:    s.speedMPH,
		AccelLongG:  s.accelG,
		AccelLatG:   v * v / radiusM / units.Gravity,
		YawRateDPS:  omega * 180 / math.Pi,
		HeadingDeg:  heading,
		Lat:         simCenter.Lat + simRadiusDeg*math.Sin(s.theta),
		Lon:         simCenter.Lon + simRadiusDeg*math.Cos(s.theta),
		RPM:         rpm,
		ThrottlePos: throttle,
		EngineLoad:  math.Min(100, throttle*0.8+10),
		MAFGPerS:    2 + rpm*(throttle+10)*0.00009,
		CoolantF:    150 + 45*warm,
		IntakeF:     70 + 15*warm,
		OilF:        140 + 70*warm,
		TransF:      130 + 60*warm,
		BrakeF:      120 + 800*s.brakeHeat,
		AmbientF:    68,
	}
}

// SimAdapter publishes one sensor family's view of a SimDrive on a
// fixed cadence, standing in for the corresponding hardware adapter.
type SimAdapter struct {
	*Cache
	drive  *SimDrive
	clock  timeutil.Clock
	period time.Duration
	fields func(SimVehicleState) map[string]float64
}

// Run publishes until ctx is cancelled.
func (a *SimAdapter) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			a.Poll(now)
		}
	}
}

// Poll publishes the drive's current state, timestamped now. Offline
// generators call this directly instead of running the adapter.
func (a *SimAdapter) Poll(now time.Time) {
	a.Publish(a.fields(a.drive.State()), now)
}

func newSimAdapter(name string, drive *SimDrive, clock timeutil.Clock, period time.Duration, fields func(SimVehicleState) map[string]float64) *SimAdapter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimAdapter{
		Cache:  NewCache(name, telemetry.BySource(name)),
		drive:  drive,
		clock:  clock,
		period: period,
		fields: fields,
	}
}

// NewSimOBD simulates the engine-data family at a realistic ELM327
// poll rate.
func NewSimOBD(drive *SimDrive, clock timeutil.Clock) *SimAdapter {
	return newSimAdapter(telemetry.SourceOBD, drive, clock, 50*time.Millisecond, func(v SimVehicleState) map[string]float64 {
		return map[string]float64{
			telemetry.ChanRPM:           v.RPM,
			telemetry.ChanSpeedMPH:      v.SpeedMPH,
			telemetry.ChanThrottlePos:   v.ThrottlePos,
			telemetry.ChanCoolantTempF:  v.CoolantF,
			telemetry.ChanIntakeTempF:   v.IntakeF,
			telemetry.ChanMAFGPerS:      v.MAFGPerS,
			telemetry.ChanEngineLoad:    v.EngineLoad,
			telemetry.ChanTimingAdvance: 12 + v.AccelLongG*8,
			telemetry.ChanFuelTrimShort: 2.5 * math.Sin(v.RPM/400),
			telemetry.ChanFuelTrimLong:  1.5,
		}
	})
}

// NewSimGPS simulates the position family at a 1 Hz receiver rate.
func NewSimGPS(drive *SimDrive, clock timeutil.Clock) *SimAdapter {
	return newSimAdapter(telemetry.SourceGPS, drive, clock, time.Second, func(v SimVehicleState) map[string]float64 {
		return map[string]float64{
			telemetry.ChanGPSLat:        v.Lat,
			telemetry.ChanGPSLon:        v.Lon,
			telemetry.ChanGPSAltM:       30,
			telemetry.ChanGPSSpeedMPH:   v.SpeedMPH,
			telemetry.ChanGPSHeading:    v.HeadingDeg,
			telemetry.ChanGPSSatellites: 9,
			telemetry.ChanGPSValid:      1,
		}
	})
}

// NewSimAccel simulates the IMU family at its 100 Hz poll rate.
func NewSimAccel(drive *SimDrive, clock timeutil.Clock) *SimAdapter {
	return newSimAdapter(telemetry.SourceAccel, drive, clock, DefaultAccelPeriod, func(v SimVehicleState) map[string]float64 {
		return map[string]float64{
			telemetry.ChanAccelLongG:  v.AccelLongG,
			telemetry.ChanAccelLatG:   v.AccelLatG,
			telemetry.ChanAccelVertG:  1,
			telemetry.ChanAccelTotalG: math.Sqrt(v.AccelLongG*v.AccelLongG + v.AccelLatG*v.AccelLatG + 1),
			telemetry.ChanPitchDeg:    v.AccelLongG * 3,
			telemetry.ChanRollDeg:     -v.AccelLatG * 4,
			telemetry.ChanYawRateDPS:  v.YawRateDPS,
		}
	})
}

// NewSimTemp simulates the probe family at the 1-Wire scan rate.
func NewSimTemp(drive *SimDrive, clock timeutil.Clock) *SimAdapter {
	return newSimAdapter(telemetry.SourceTemp, drive, clock, time.Second, func(v SimVehicleState) map[string]float64 {
		return map[string]float64{
			telemetry.ChanTempOilF:     v.OilF,
			telemetry.ChanTempIntakeF:  v.IntakeF,
			telemetry.ChanTempBrakeF:   v.BrakeF,
			telemetry.ChanTempTransF:   v.TransF,
			telemetry.ChanTempAmbientF: v.AmbientF,
		}
	})
}

// NewSimRig creates the simulated drive plus one sim adapter per
// family. The caller runs the drive alongside the adapters.
func NewSimRig(clock timeutil.Clock) (*SimDrive, []Adapter) {
	drive := NewSimDrive(clock)
	return drive, []Adapter{
		NewSimOBD(drive, clock),
		NewSimGPS(drive, clock),
		NewSimAccel(drive, clock),
		NewSimTemp(drive, clock),
	}
}
