// Command gen-session writes a simulated session into a database for
// testing the analysis and chart tooling without hardware.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/recorder"
	"github.com/banshee-data/trackday/internal/sensors"
	"github.com/banshee-data/trackday/internal/telemetry"
)

func main() {
	dbFile := flag.String("db", "trackday.db", "output database")
	seconds := flag.Int("seconds", 240, "session length in seconds")
	name := flag.String("name", "Simulated session", "session name")
	flag.Parse()

	conf, err := config.Load(config.DefaultConfigPath)
	if err != nil {
		conf = config.EmptyConfig()
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	const period = 20 * time.Millisecond
	n := *seconds * int(time.Second/period)
	started := time.Now().UTC().Add(-time.Duration(*seconds) * time.Second).Truncate(time.Millisecond)

	meta := recorder.SessionMeta{
		ID:        uuid.New().String(),
		Name:      *name,
		StartedAt: started,
		Vehicle:   conf.Vehicle(),
	}
	if err := database.CreateSession(ctx, meta); err != nil {
		log.Fatalf("failed to create session: %v", err)
	}

	drive := sensors.NewSimDrive(nil)
	rig := []*sensors.SimAdapter{
		sensors.NewSimOBD(drive, nil),
		sensors.NewSimGPS(drive, nil),
		sensors.NewSimAccel(drive, nil),
		sensors.NewSimTemp(drive, nil),
	}

	batch := make([]telemetry.Sample, 0, 250)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := database.AppendSamples(ctx, meta.ID, batch); err != nil {
			log.Fatalf("failed to append samples: %v", err)
		}
		batch = batch[:0]
	}

	for i := 1; i <= n; i++ {
		drive.Advance(period)
		now := started.Add(time.Duration(i) * period)

		s := telemetry.Sample{
			At:      now,
			Elapsed: now.Sub(started).Seconds(),
			Chans:   make(map[string]telemetry.Channel, len(telemetry.Schema)),
			Status:  make(map[string]bool, len(rig)),
		}
		for _, a := range rig {
			a.Poll(now)
			r := a.Latest()
			s.Status[a.Name()] = r.Connected
			for _, ch := range a.Channels() {
				v, ok := r.Fields[ch]
				s.Chans[ch] = telemetry.Channel{Value: v, Valid: ok}
			}
		}

		batch = append(batch, s)
		if len(batch) == cap(batch) {
			flush()
		}
		if i%(10*int(time.Second/period)) == 0 {
			log.Printf("%d/%d samples", i, n)
		}
	}
	flush()

	ended := started.Add(time.Duration(n) * period)
	summary := recorder.Summary{
		SessionID: meta.ID,
		Name:      meta.Name,
		StartedAt: started,
		EndedAt:   ended,
		Duration:  ended.Sub(started),
		Samples:   uint64(n),
		Flushed:   uint64(n),
		Vehicle:   meta.Vehicle,
	}
	if err := database.CloseSession(ctx, summary); err != nil {
		log.Fatalf("failed to close session: %v", err)
	}
	log.Printf("✓ Created: session %s (%d samples) in %s", meta.ID, n, *dbFile)
}
