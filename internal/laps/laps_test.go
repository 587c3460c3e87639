package laps

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackday/internal/geo"
	"github.com/banshee-data/trackday/internal/telemetry"
)

var gateCenter = geo.Point{Lat: 36.5841, Lon: -121.7542}

// One degree of latitude in meters on the haversine sphere, so test
// positions can be placed at exact distances due north of the gate.
const metersPerDegLat = geo.EarthRadiusMeters * math.Pi / 180

func testGate() *geo.Gate {
	return &geo.Gate{Center: gateCenter, RadiusMeters: 50}
}

// trackSample places the car distM meters due north of the gate center.
func trackSample(at time.Time, distM float64) telemetry.Sample {
	return telemetry.Sample{
		At: at,
		Chans: map[string]telemetry.Channel{
			telemetry.ChanGPSLat:   {Value: gateCenter.Lat + distM/metersPerDegLat, Valid: true},
			telemetry.ChanGPSLon:   {Value: gateCenter.Lon, Valid: true},
			telemetry.ChanGPSValid: {Value: 1, Valid: true},
		},
	}
}

// distanceSeries builds one sample per second at the given gate
// distances.
func distanceSeries(t0 time.Time, dists []float64) []telemetry.Sample {
	samples := make([]telemetry.Sample, len(dists))
	for i, d := range dists {
		samples[i] = trackSample(t0.Add(time.Duration(i)*time.Second), d)
	}
	return samples
}

func TestDetectRequiresGate(t *testing.T) {
	t.Parallel()
	sg := NewSegmenter(Config{})
	_, err := sg.Detect(nil)
	require.ErrorIs(t, err, ErrGateUndetermined)
}

func TestDetectNoCrossings(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sg := NewSegmenter(Config{Gate: testGate()})

	t.Run("empty series", func(t *testing.T) {
		laps, err := sg.Detect(nil)
		require.NoError(t, err)
		assert.Empty(t, laps)
	})

	t.Run("never near the gate", func(t *testing.T) {
		dists := make([]float64, 60)
		for i := range dists {
			dists[i] = 200
		}
		laps, err := sg.Detect(distanceSeries(t0, dists))
		require.NoError(t, err)
		assert.Empty(t, laps)
	})

	t.Run("single crossing opens a lap that never closes", func(t *testing.T) {
		laps, err := sg.Detect(distanceSeries(t0, []float64{100, 60, 40, 40, 60, 100}))
		require.NoError(t, err)
		assert.Empty(t, laps)
	})
}

func TestDetectInterpolatesAndDebounces(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Entry at 1.5 s, a jitter re-entry at ~3.67 s, then a second
	// clean entry at 119.5 s.
	dists := make([]float64, 121)
	for i := range dists {
		dists[i] = 100
	}
	dists[1] = 60
	dists[2] = 40 // edge between 60 and 40, halfway
	dists[3] = 60
	dists[4] = 45 // jitter re-entry inside the debounce window
	dists[5] = 70
	dists[119] = 60
	dists[120] = 40
	samples := distanceSeries(t0, dists)

	t.Run("debounce suppresses the jitter crossing", func(t *testing.T) {
		sg := NewSegmenter(Config{Gate: testGate()})
		laps, err := sg.Detect(samples)
		require.NoError(t, err)
		require.Len(t, laps, 1)

		lap := laps[0]
		assert.Equal(t, 1, lap.Number)
		require.WithinDuration(t, t0.Add(1500*time.Millisecond), lap.Start, time.Millisecond)
		require.WithinDuration(t, t0.Add(119500*time.Millisecond), lap.End, time.Millisecond)
		assert.InDelta(t, 118.0, lap.Duration.Seconds(), 0.01)
	})

	t.Run("short debounce lets the jitter crossing through", func(t *testing.T) {
		sg := NewSegmenter(Config{Gate: testGate(), Debounce: time.Second})
		laps, err := sg.Detect(samples)
		require.NoError(t, err)
		require.Len(t, laps, 2)
		assert.Equal(t, laps[0].End, laps[1].Start)
	})
}

// TestDetectLapsOnCircularTrack drives a closed loop through the gate
// once per period and checks lap durations come out at the period.
func TestDetectLapsOnCircularTrack(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	const (
		periodS   = 120.0
		radiusDeg = 0.002
	)
	center := geo.Point{Lat: 36.0, Lon: -121.0}
	gate := &geo.Gate{Center: geo.Point{Lat: center.Lat + radiusDeg, Lon: center.Lon}, RadiusMeters: 50}

	var samples []telemetry.Sample
	for i := 0; i <= 365; i++ {
		theta := 2 * math.Pi * float64(i) / periodS
		s := telemetry.Sample{
			At: t0.Add(time.Duration(i) * time.Second),
			Chans: map[string]telemetry.Channel{
				telemetry.ChanGPSLat:   {Value: center.Lat + radiusDeg*math.Cos(theta), Valid: true},
				telemetry.ChanGPSLon:   {Value: center.Lon + radiusDeg*math.Sin(theta), Valid: true},
				telemetry.ChanGPSValid: {Value: 1, Valid: true},
			},
		}
		samples = append(samples, s)
	}

	sg := NewSegmenter(Config{Gate: gate})
	laps, err := sg.Detect(samples)
	require.NoError(t, err)

	// The run starts inside the gate, so the first crossing is the
	// first re-entry; three re-entries close two laps.
	require.Len(t, laps, 2)
	for i, lap := range laps {
		assert.Equal(t, i+1, lap.Number)
		assert.True(t, lap.End.After(lap.Start), "lap %d end not after start", lap.Number)
		assert.InDelta(t, periodS, lap.Duration.Seconds(), 0.1, "lap %d duration", lap.Number)
	}
	assert.Equal(t, laps[0].End, laps[1].Start, "adjacent laps share the crossing instant")
}

func TestDetectSkipsInvalidFixes(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sg := NewSegmenter(Config{Gate: testGate()})

	t.Run("position invalid for the whole session", func(t *testing.T) {
		var samples []telemetry.Sample
		for i := 0; i < 100; i++ {
			s := trackSample(t0.Add(time.Duration(i)*time.Second), 40)
			s.Chans[telemetry.ChanGPSLat] = telemetry.Channel{Value: gateCenter.Lat, Valid: false}
			samples = append(samples, s)
		}
		laps, err := sg.Detect(samples)
		require.NoError(t, err)
		assert.Empty(t, laps)
	})

	t.Run("edge interpolates across an invalid gap", func(t *testing.T) {
		dists := make([]float64, 62)
		for i := range dists {
			dists[i] = 100
		}
		dists[1] = 60
		dists[60] = 60
		dists[61] = 40
		samples := distanceSeries(t0, dists)

		// Two unusable fixes sitting inside the gate. The first has a
		// stale position, the second a valid position vetoed by
		// gps_valid. Neither may register the edge.
		samples[2].Chans[telemetry.ChanGPSLat] = telemetry.Channel{Value: gateCenter.Lat, Valid: false}
		samples[3] = trackSample(t0.Add(3*time.Second), 10)
		samples[3].Chans[telemetry.ChanGPSValid] = telemetry.Channel{Value: 0, Valid: true}
		// The next usable fix is inside, closing the edge against the
		// fix at one second.
		samples[4] = trackSample(t0.Add(4*time.Second), 40)

		laps, err := sg.Detect(samples)
		require.NoError(t, err)
		require.Len(t, laps, 1)

		// Halfway between the 60 m fix at 1 s and the 40 m fix at 4 s.
		require.WithinDuration(t, t0.Add(2500*time.Millisecond), laps[0].Start, time.Millisecond)
	})

	t.Run("missing gps_valid channel does not veto", func(t *testing.T) {
		samples := distanceSeries(t0, []float64{100, 60, 40})
		for i := range samples {
			delete(samples[i].Chans, telemetry.ChanGPSValid)
		}
		crossings := sg.crossings(samples)
		require.Len(t, crossings, 1)
	})
}

func TestDetectStartInsideGate(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Starting on the grid inside the gate circle must not count as a
	// crossing; only the two later re-entries do.
	dists := make([]float64, 42)
	for i := range dists {
		dists[i] = 100
	}
	dists[0] = 40
	dists[1] = 45
	dists[2] = 60
	dists[19] = 60
	dists[20] = 40
	dists[40] = 60
	dists[41] = 40

	sg := NewSegmenter(Config{Gate: testGate()})
	laps, err := sg.Detect(distanceSeries(t0, dists))
	require.NoError(t, err)
	require.Len(t, laps, 1)
	assert.InDelta(t, 21.0, laps[0].Duration.Seconds(), 0.01)
}

func TestDetectIsIdempotent(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	dists := make([]float64, 121)
	for i := range dists {
		dists[i] = 100
	}
	dists[1] = 60
	dists[2] = 40
	dists[119] = 60
	dists[120] = 40
	samples := distanceSeries(t0, dists)

	sg := NewSegmenter(Config{Gate: testGate()})
	first, err := sg.Detect(samples)
	require.NoError(t, err)
	second, err := sg.Detect(samples)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestGateFromFirstFix(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("skips unusable fixes", func(t *testing.T) {
		samples := distanceSeries(t0, []float64{10, 20, 30})
		samples[0].Chans[telemetry.ChanGPSLat] = telemetry.Channel{Value: 99, Valid: false}
		samples[1].Chans[telemetry.ChanGPSValid] = telemetry.Channel{Value: 0, Valid: true}

		gate, err := GateFromFirstFix(samples, 50)
		require.NoError(t, err)
		assert.Equal(t, 50.0, gate.RadiusMeters)
		assert.InDelta(t, gateCenter.Lat+30/metersPerDegLat, gate.Center.Lat, 1e-9)
		assert.Equal(t, gateCenter.Lon, gate.Center.Lon)
	})

	t.Run("no usable fix", func(t *testing.T) {
		var samples []telemetry.Sample
		for i := 0; i < 10; i++ {
			s := trackSample(t0.Add(time.Duration(i)*time.Second), 10)
			s.Chans[telemetry.ChanGPSLon] = telemetry.Channel{Valid: false}
			samples = append(samples, s)
		}
		_, err := GateFromFirstFix(samples, 50)
		require.ErrorIs(t, err, ErrNoFix)
	})

	t.Run("gate detects laps on the same series", func(t *testing.T) {
		// Recording starts on the line, drives away, and re-enters
		// twice. The first-fix gate must yield one closed lap.
		dists := make([]float64, 42)
		for i := range dists {
			dists[i] = 200
		}
		dists[0] = 0
		dists[19] = 60
		dists[20] = 40
		dists[40] = 60
		dists[41] = 40
		samples := distanceSeries(t0, dists)

		gate, err := GateFromFirstFix(samples, 50)
		require.NoError(t, err)
		sg := NewSegmenter(Config{Gate: &gate})
		laps, err := sg.Detect(samples)
		require.NoError(t, err)
		require.Len(t, laps, 1)
	})
}

func TestLapStats(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	dists := make([]float64, 21)
	for i := range dists {
		dists[i] = 100
	}
	dists[1] = 60
	dists[2] = 40
	dists[19] = 60
	dists[20] = 40
	samples := distanceSeries(t0, dists)

	// Speed before the lap opens is ignored; the invalid reading and
	// the invalid g reading are gaps, not zeros.
	samples[1].Chans[telemetry.ChanSpeedMPH] = telemetry.Channel{Value: 500, Valid: true}
	samples[2].Chans[telemetry.ChanSpeedMPH] = telemetry.Channel{Value: 50, Valid: true}
	samples[3].Chans[telemetry.ChanSpeedMPH] = telemetry.Channel{Value: 70, Valid: true}
	samples[3].Chans[telemetry.ChanAccelTotalG] = telemetry.Channel{Value: 1.2, Valid: true}
	samples[4].Chans[telemetry.ChanSpeedMPH] = telemetry.Channel{Value: 60, Valid: true}
	samples[4].Chans[telemetry.ChanAccelTotalG] = telemetry.Channel{Value: 2.0, Valid: false}
	samples[5].Chans[telemetry.ChanSpeedMPH] = telemetry.Channel{Value: 999, Valid: false}

	sg := NewSegmenter(Config{Gate: testGate()})
	laps, err := sg.Detect(samples)
	require.NoError(t, err)
	require.Len(t, laps, 1)

	lap := laps[0]
	assert.Equal(t, 70.0, lap.MaxSpeedMPH)
	assert.InDelta(t, 60.0, lap.AvgSpeedMPH, 1e-9)
	assert.Equal(t, 1.2, lap.MaxTotalG)
}
