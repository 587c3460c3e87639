package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackday/internal/performance"
	"github.com/banshee-data/trackday/internal/telemetry"
)

var (
	plotRed    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	plotBlue   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	plotGreen  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	plotOrange = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	plotPurple = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	plotGray   = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

// SavePlots renders the standard plot set into dir and returns the
// files written. Plots whose channels carry no valid data are skipped
// rather than saved empty.
func SavePlots(dir string, samples []telemetry.Sample, power []performance.PowerBin) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	type job struct {
		file   string
		build  func() (*plot.Plot, bool, error)
		width  vg.Length
		height vg.Length
	}
	jobs := []job{
		{"rpm.png", func() (*plot.Plot, bool, error) { return plotRPM(samples) }, 14 * vg.Inch, 6 * vg.Inch},
		{"speed.png", func() (*plot.Plot, bool, error) { return plotSpeed(samples) }, 14 * vg.Inch, 6 * vg.Inch},
		{"acceleration.png", func() (*plot.Plot, bool, error) { return plotAcceleration(samples) }, 14 * vg.Inch, 6 * vg.Inch},
		{"gg_diagram.png", func() (*plot.Plot, bool, error) { return plotGG(samples) }, 8 * vg.Inch, 8 * vg.Inch},
		{"gps_track.png", func() (*plot.Plot, bool, error) { return plotTrack(samples) }, 8 * vg.Inch, 8 * vg.Inch},
		{"temperatures.png", func() (*plot.Plot, bool, error) { return plotTemperatures(samples) }, 14 * vg.Inch, 6 * vg.Inch},
		{"power_curve.png", func() (*plot.Plot, bool, error) { return plotPowerCurve(power) }, 10 * vg.Inch, 6 * vg.Inch},
	}

	var written []string
	for _, j := range jobs {
		p, ok, err := j.build()
		if err != nil {
			return written, fmt.Errorf("build %s: %w", j.file, err)
		}
		if !ok {
			continue
		}
		file := filepath.Join(dir, j.file)
		if err := p.Save(j.width, j.height, file); err != nil {
			return written, fmt.Errorf("save %s: %w", j.file, err)
		}
		written = append(written, file)
	}
	return written, nil
}

// channelXYs extracts one channel as elapsed-time series points,
// skipping invalid readings.
func channelXYs(samples []telemetry.Sample, name string) plotter.XYs {
	pts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		if v, ok := s.Value(name); ok {
			pts = append(pts, plotter.XY{X: s.Elapsed, Y: v})
		}
	}
	return pts
}

func addLine(p *plot.Plot, pts plotter.XYs, label string, c color.Color) (bool, error) {
	if len(pts) == 0 {
		return false, nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return false, err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	if label != "" {
		p.Legend.Add(label, line)
	}
	return true, nil
}

func plotRPM(samples []telemetry.Sample) (*plot.Plot, bool, error) {
	p := plot.New()
	p.Title.Text = "Engine RPM vs Time"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "RPM"
	p.Legend.Top = true

	ok, err := addLine(p, channelXYs(samples, telemetry.ChanRPM), "rpm", plotBlue)
	return p, ok, err
}

func plotSpeed(samples []telemetry.Sample) (*plot.Plot, bool, error) {
	p := plot.New()
	p.Title.Text = "Vehicle Speed vs Time"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Speed (mph)"
	p.Legend.Top = true

	obdOK, err := addLine(p, channelXYs(samples, telemetry.ChanSpeedMPH), "obd", plotGreen)
	if err != nil {
		return nil, false, err
	}
	gpsOK, err := addLine(p, channelXYs(samples, telemetry.ChanGPSSpeedMPH), "gps", plotBlue)
	return p, obdOK || gpsOK, err
}

func plotAcceleration(samples []telemetry.Sample) (*plot.Plot, bool, error) {
	p := plot.New()
	p.Title.Text = "Acceleration vs Time"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Acceleration (g)"
	p.Legend.Top = true

	any := false
	series := []struct {
		chanName string
		label    string
		color    color.Color
	}{
		{telemetry.ChanAccelLongG, "longitudinal", plotRed},
		{telemetry.ChanAccelLatG, "lateral", plotBlue},
		{telemetry.ChanAccelVertG, "vertical", plotGreen},
	}
	for _, sr := range series {
		ok, err := addLine(p, channelXYs(samples, sr.chanName), sr.label, sr.color)
		if err != nil {
			return nil, false, err
		}
		any = any || ok
	}
	return p, any, nil
}

// plotGG draws the friction circle: lateral g on X against
// longitudinal g on Y, with a 1 g reference ring.
func plotGG(samples []telemetry.Sample) (*plot.Plot, bool, error) {
	pts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		lat, latOK := s.Value(telemetry.ChanAccelLatG)
		long, longOK := s.Value(telemetry.ChanAccelLongG)
		if latOK && longOK {
			pts = append(pts, plotter.XY{X: lat, Y: long})
		}
	}
	if len(pts) == 0 {
		return nil, false, nil
	}

	p := plot.New()
	p.Title.Text = "G-G Diagram"
	p.X.Label.Text = "Lateral (g)"
	p.Y.Label.Text = "Longitudinal (g)"

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, false, err
	}
	sc.GlyphStyle.Radius = vg.Points(1)
	sc.GlyphStyle.Color = plotBlue
	p.Add(sc)

	circle := make(plotter.XYs, 0, 129)
	for i := 0; i <= 128; i++ {
		theta := 2 * math.Pi * float64(i) / 128
		circle = append(circle, plotter.XY{X: math.Cos(theta), Y: math.Sin(theta)})
	}
	ring, err := plotter.NewLine(circle)
	if err != nil {
		return nil, false, err
	}
	ring.Color = plotGray
	ring.Width = vg.Points(1)
	ring.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(ring)
	p.Legend.Add("1g", ring)

	return p, true, nil
}

func plotTrack(samples []telemetry.Sample) (*plot.Plot, bool, error) {
	pts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		lat, latOK := s.Value(telemetry.ChanGPSLat)
		lon, lonOK := s.Value(telemetry.ChanGPSLon)
		if !latOK || !lonOK {
			continue
		}
		if fix, ok := s.Bool(telemetry.ChanGPSValid); ok && !fix {
			continue
		}
		pts = append(pts, plotter.XY{X: lon, Y: lat})
	}
	if len(pts) == 0 {
		return nil, false, nil
	}

	p := plot.New()
	p.Title.Text = "GPS Track"
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, false, err
	}
	line.Color = plotBlue
	line.Width = vg.Points(1.5)
	p.Add(line)

	ends := plotter.XYs{pts[0], pts[len(pts)-1]}
	marks, err := plotter.NewScatter(ends)
	if err != nil {
		return nil, false, err
	}
	marks.GlyphStyle.Radius = vg.Points(4)
	marks.GlyphStyle.Color = plotRed
	p.Add(marks)
	p.Legend.Add("start/end", marks)

	return p, true, nil
}

func plotTemperatures(samples []telemetry.Sample) (*plot.Plot, bool, error) {
	p := plot.New()
	p.Title.Text = "Temperatures vs Time"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Temperature (F)"
	p.Legend.Top = true

	any := false
	series := []struct {
		chanName string
		label    string
		color    color.Color
	}{
		{telemetry.ChanCoolantTempF, "coolant", plotBlue},
		{telemetry.ChanTempOilF, "oil", plotRed},
		{telemetry.ChanTempIntakeF, "intake", plotGreen},
		{telemetry.ChanTempBrakeF, "brake", plotOrange},
		{telemetry.ChanTempTransF, "trans", plotPurple},
		{telemetry.ChanTempAmbientF, "ambient", plotGray},
	}
	for _, sr := range series {
		ok, err := addLine(p, channelXYs(samples, sr.chanName), sr.label, sr.color)
		if err != nil {
			return nil, false, err
		}
		any = any || ok
	}
	return p, any, nil
}

func plotPowerCurve(power []performance.PowerBin) (*plot.Plot, bool, error) {
	if len(power) == 0 {
		return nil, false, nil
	}

	p := plot.New()
	p.Title.Text = "Estimated Power Curve"
	p.X.Label.Text = "RPM"
	p.Y.Label.Text = "Power (hp) / Torque (lb-ft)"
	p.Legend.Top = true

	hp := make(plotter.XYs, 0, len(power))
	tq := make(plotter.XYs, 0, len(power))
	for _, b := range power {
		hp = append(hp, plotter.XY{X: float64(b.RPM), Y: b.PowerHP})
		tq = append(tq, plotter.XY{X: float64(b.RPM), Y: b.TorqueLbFt})
	}
	if _, err := addLine(p, hp, "power (hp)", plotRed); err != nil {
		return nil, false, err
	}
	if _, err := addLine(p, tq, "torque (lb-ft)", plotBlue); err != nil {
		return nil, false, err
	}
	return p, true, nil
}
