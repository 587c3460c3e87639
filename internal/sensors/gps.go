package sensors

import (
	"context"
	"time"

	"github.com/banshee-data/trackday/internal/geo"
	"github.com/banshee-data/trackday/internal/monitoring"
	"github.com/banshee-data/trackday/internal/serialmux"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
	"github.com/banshee-data/trackday/internal/units"
)

// GPS consumes NMEA sentences from a serial mux and publishes the
// position channels. RMC sentences drive publication; GGA sentences
// update the satellite count and altitude folded into the next RMC
// publish. When the receiver has no position the lat/lon fields are
// omitted entirely rather than published as zeroes.
type GPS struct {
	*Cache
	mux     serialmux.SerialMuxInterface
	clock   timeutil.Clock
	minSats int

	// GGA state folded into RMC publishes. Only the Run goroutine
	// touches these.
	sats      float64
	alt       float64
	hasAlt    bool
	fixLogged bool
}

// NewGPS creates a GPS adapter reading from mux. minSats is the
// satellite count below which a fix is reported invalid.
func NewGPS(mux serialmux.SerialMuxInterface, clock timeutil.Clock, minSats int) *GPS {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &GPS{
		Cache:   NewCache(telemetry.SourceGPS, telemetry.BySource(telemetry.SourceGPS)),
		mux:     mux,
		clock:   clock,
		minSats: minSats,
	}
}

// Run consumes sentences until ctx is cancelled or the mux closes. The
// mux monitor must be running for sentences to arrive.
func (g *GPS) Run(ctx context.Context) error {
	id, lines := g.mux.Subscribe()
	defer g.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			g.handleSentence(line)
		}
	}
}

func (g *GPS) handleSentence(line string) {
	switch SentenceType(line) {
	case "RMC":
		rmc, err := ParseRMC(line)
		if err != nil {
			g.CountError()
			return
		}
		g.publishRMC(rmc)
	case "GGA":
		gga, err := ParseGGA(line)
		if err != nil {
			g.CountError()
			return
		}
		g.sats = float64(gga.Satellites)
		g.alt, g.hasAlt = gga.AltitudeM, gga.HasAltitude
	}
	// Other sentence types (VTG, GSA, GSV) carry nothing the schema
	// records.
}

func (g *GPS) publishRMC(rmc RMC) {
	valid := rmc.Valid && rmc.HasFix && int(g.sats) >= g.minSats
	fields := map[string]float64{
		telemetry.ChanGPSSatellites: g.sats,
		telemetry.ChanGPSValid:      boolToFloat(valid),
	}
	if rmc.HasFix {
		fields[telemetry.ChanGPSLat] = rmc.Lat
		fields[telemetry.ChanGPSLon] = rmc.Lon
		fields[telemetry.ChanGPSSpeedMPH] = rmc.SpeedKnots * units.KnotsToMPH
		fields[telemetry.ChanGPSHeading] = rmc.CourseDeg
	}
	if g.hasAlt {
		fields[telemetry.ChanGPSAltM] = g.alt
	}
	g.Publish(fields, g.clock.Now())

	if valid && !g.fixLogged {
		g.fixLogged = true
		p := geo.Point{Lat: rmc.Lat, Lon: rmc.Lon}
		monitoring.Logf("gps: first valid fix at %s (utc %s, %d satellites)", p, rmc.At.Format(time.RFC3339), int(g.sats))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
