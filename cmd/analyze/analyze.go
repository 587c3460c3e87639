// Command analyze runs the post-session pipeline over a recorded
// session: lap segmentation, performance event detection, and the
// power-curve estimate. Results are written back to the database so
// the API can serve them, and a report is printed to stdout.
//
// With -out, plots and data exports are also written to a directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/geo"
	"github.com/banshee-data/trackday/internal/laps"
	"github.com/banshee-data/trackday/internal/performance"
	"github.com/banshee-data/trackday/internal/report"
	"github.com/banshee-data/trackday/internal/telemetry"
)

// Config holds the analysis options.
type Config struct {
	DBFile        string
	SessionID     string
	ConfigFile    string
	GateLat       float64
	GateLon       float64
	GateRadius    float64
	GateFirstFix  bool
	OutDir        string
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBFile, "db", "trackday.db", "Path to the sqlite database")
	flag.StringVar(&cfg.SessionID, "session", "", "Session ID to analyze (default: most recent)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to a JSON config file (default "+config.DefaultConfigPath+")")
	flag.Float64Var(&cfg.GateLat, "gate-lat", 0, "Start/finish gate latitude (overrides config)")
	flag.Float64Var(&cfg.GateLon, "gate-lon", 0, "Start/finish gate longitude (overrides config)")
	flag.Float64Var(&cfg.GateRadius, "gate-radius", 0, "Start/finish gate radius in meters (overrides config)")
	flag.BoolVar(&cfg.GateFirstFix, "gate-first-fix", false, "Center the gate on the session's first GPS fix when none is configured")
	flag.StringVar(&cfg.OutDir, "out", "", "Directory for plots and data exports (default: report only)")

	flag.Parse()

	return cfg
}

func loadConfig(path string) *config.Config {
	if path != "" {
		conf, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", path, err)
		}
		return conf
	}
	conf, err := config.Load(config.DefaultConfigPath)
	if err != nil {
		return config.EmptyConfig()
	}
	return conf
}

// gate resolves the start/finish gate: flag overrides beat the config
// file; neither means lap detection is skipped.
func gate(cfg Config, conf *config.Config) *geo.Gate {
	if cfg.GateLat != 0 || cfg.GateLon != 0 {
		radius := cfg.GateRadius
		if radius <= 0 {
			radius = conf.GetGateRadius()
		}
		return &geo.Gate{
			Center:       geo.Point{Lat: cfg.GateLat, Lon: cfg.GateLon},
			RadiusMeters: radius,
		}
	}
	g, ok := conf.GetGate()
	if !ok {
		return nil
	}
	if cfg.GateRadius > 0 {
		g.RadiusMeters = cfg.GateRadius
	}
	return &g
}

func main() {
	cfg := parseFlags()
	conf := loadConfig(cfg.ConfigFile)
	ctx := context.Background()

	database, err := db.Open(cfg.DBFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var sess *db.Session
	if cfg.SessionID != "" {
		sess, err = database.Session(ctx, cfg.SessionID)
	} else {
		sess, err = database.LatestSession(ctx)
	}
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}

	samples, err := database.Samples(ctx, sess.ID)
	if err != nil {
		log.Fatalf("Failed to load samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("Session %s has no samples", sess.ID)
	}
	log.Printf("analyzing session %s: %d samples", sess.ID, len(samples))

	// The vehicle snapshot stored with the session describes the car
	// that actually recorded the data; the config file is the fallback
	// for sessions recorded before it was persisted.
	vehicle := sess.Vehicle
	if vehicle.MassKg <= 0 {
		vehicle = conf.Vehicle()
	}

	// Lap segmentation. No gate is not an error: street sessions have
	// no start/finish line.
	g := gate(cfg, conf)
	if g == nil && cfg.GateFirstFix {
		radius := cfg.GateRadius
		if radius <= 0 {
			radius = conf.GetGateRadius()
		}
		ff, err := laps.GateFromFirstFix(samples, radius)
		if err != nil {
			log.Fatalf("Failed to place gate on first fix: %v", err)
		}
		log.Printf("gate from first fix: %.6f, %.6f (r=%.0fm)", ff.Center.Lat, ff.Center.Lon, ff.RadiusMeters)
		g = &ff
	}
	var lapList []laps.Lap
	seg := laps.NewSegmenter(laps.Config{Gate: g, Debounce: conf.GetLapDebounce()})
	lapList, err = seg.Detect(samples)
	if err != nil {
		log.Printf("lap detection skipped: %v", err)
		lapList = nil
	}

	analyzer := performance.NewAnalyzer(performance.Config{
		AccelStartMPH:     conf.GetAccelStartMPH(),
		AccelTargetMPH:    conf.GetAccelTargetMPH(),
		AccelToleranceMPH: conf.GetAccelToleranceMPH(),
		BrakeArmMPH:       conf.GetBrakeArmMPH(),
		BrakeExitMPH:      conf.GetBrakeExitMPH(),
		BrakeMinDecelG:    conf.GetBrakeMinDecelG(),
		QuarterMileMax:    conf.GetQuarterMileMax(),
		PowerRPMMin:       conf.GetPowerRPMMin(),
		PowerRPMMax:       conf.GetPowerRPMMax(),
		PowerRPMBin:       conf.GetPowerRPMBin(),
		PowerMinAccelG:    conf.GetPowerMinAccelG(),
		Vehicle:           vehicle,
	})
	events, points := analyzer.Analyze(samples)
	bins := analyzer.BinPower(points)

	if err := persist(ctx, database, sess.ID, lapList, events, bins); err != nil {
		log.Fatalf("Failed to store analysis results: %v", err)
	}

	rep := report.Build(sess, samples, lapList, events, bins)
	if err := rep.WriteText(os.Stdout); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	if cfg.OutDir != "" {
		if err := writeOutputs(cfg.OutDir, sess.ID, rep, samples, bins); err != nil {
			log.Fatalf("Failed to write outputs: %v", err)
		}
	}
}

// persist replaces the session's stored analysis results so re-running
// the tool is idempotent.
func persist(ctx context.Context, database *db.DB, sessionID string, lapList []laps.Lap, events []performance.Event, bins []performance.PowerBin) error {
	dbLaps := make([]db.Lap, 0, len(lapList))
	for _, lap := range lapList {
		dbLaps = append(dbLaps, db.Lap{
			SessionID:   sessionID,
			Number:      lap.Number,
			Start:       lap.Start,
			End:         lap.End,
			DurationS:   lap.Duration.Seconds(),
			MaxSpeedMPH: lap.MaxSpeedMPH,
			AvgSpeedMPH: lap.AvgSpeedMPH,
			MaxTotalG:   lap.MaxTotalG,
		})
	}
	if err := database.ReplaceLaps(ctx, sessionID, dbLaps); err != nil {
		return err
	}

	dbEvents := make([]db.Event, 0, len(events))
	for _, e := range events {
		dbEvents = append(dbEvents, db.Event{
			SessionID:  sessionID,
			Kind:       string(e.Kind),
			Start:      e.Start,
			End:        e.End,
			DurationS:  e.Duration.Seconds(),
			StartMPH:   e.StartMPH,
			EndMPH:     e.EndMPH,
			AvgG:       e.AvgG,
			PeakG:      e.PeakG,
			DistanceFt: e.DistanceFt,
		})
	}
	if err := database.ReplaceEvents(ctx, sessionID, dbEvents); err != nil {
		return err
	}

	dbPoints := make([]db.PowerPoint, 0, len(bins))
	for _, b := range bins {
		dbPoints = append(dbPoints, db.PowerPoint{
			SessionID:  sessionID,
			RPM:        b.RPM,
			PowerHP:    b.PowerHP,
			TorqueLbFt: b.TorqueLbFt,
			Samples:    b.Samples,
		})
	}
	return database.ReplacePowerCurve(ctx, sessionID, dbPoints)
}

// writeOutputs saves the plot set and the data exports under dir.
func writeOutputs(dir, sessionID string, rep *report.Report, samples []telemetry.Sample, bins []performance.PowerBin) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	plots, err := report.SavePlots(dir, samples, bins)
	if err != nil {
		return err
	}

	write := func(name string, render func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := render(f); err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		return f.Close()
	}

	files := plots
	if err := write("data.csv", func(w io.Writer) error {
		return report.WriteCSV(w, samples)
	}); err != nil {
		return err
	}
	files = append(files, "data.csv")

	if err := write("data.json", func(w io.Writer) error {
		return report.WriteJSON(w, samples)
	}); err != nil {
		return err
	}
	files = append(files, "data.json")

	err = write("track.kml", func(w io.Writer) error {
		return report.WriteKML(w, sessionID, samples)
	})
	switch {
	case err == nil:
		files = append(files, "track.kml")
	case errors.Is(err, report.ErrNoTrack):
		log.Printf("no GPS track, skipping KML export")
	default:
		return err
	}

	if err := write("performance_report.json", rep.WriteJSON); err != nil {
		return err
	}
	files = append(files, "performance_report.json")

	fmt.Println("Generated files:")
	for _, f := range files {
		fmt.Printf("  %s\n", filepath.Join(dir, filepath.Base(f)))
	}
	return nil
}
