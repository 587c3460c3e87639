// Command daq is the in-car recording daemon. It polls the sensor
// adapters on a fixed cadence, records the merged sample stream to
// sqlite, and serves the live telemetry API.
//
// Run with -dev to attach a simulated drive instead of real hardware.
// Database schema management is exposed as a subcommand:
//
//	daq migrate up
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/trackday/internal/api"
	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/recorder"
	"github.com/banshee-data/trackday/internal/sensors"
	"github.com/banshee-data/trackday/internal/serialmux"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run with a simulated drive instead of real hardware")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "trackday.db", "Path to the sqlite database")
	configFile  = flag.String("config", "", "Path to a JSON config file (default "+config.DefaultConfigPath+")")
	sessionName = flag.String("name", "", "Optional label stored with the session")
)

// loadConfig resolves the runtime configuration. An explicit -config
// that fails to load is fatal; a missing defaults file just means the
// built-in defaults apply.
func loadConfig() *config.Config {
	if *configFile != "" {
		conf, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configFile, err)
		}
		return conf
	}
	conf, err := config.Load(config.DefaultConfigPath)
	if err != nil {
		log.Printf("no config file loaded (%v), using built-in defaults", err)
		return config.EmptyConfig()
	}
	return conf
}

func main() {
	flag.Parse()

	// Schema management runs as a subcommand and exits.
	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("trackday daq %s", version.String())

	conf := loadConfig()

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Create a wait group for the sensor, scheduler, recorder, and
	// HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build the sensor adapters: a simulated rig in dev mode, the real
	// buses otherwise. A bus that fails to open is logged and skipped;
	// its channels stay invalid and recording continues without it.
	var adapters []sensors.Adapter
	var gpsMux, obdMux *serialmux.SerialMux[serial.Port]

	if *devMode {
		drive, rig := sensors.NewSimRig(nil)
		adapters = rig

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := drive.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("simulated drive stopped: %v", err)
			}
		}()
		log.Print("dev mode: simulated drive attached")
	} else {
		gpsMux, err = serialmux.NewRealSerialMux(conf.GetGPSDevice(), serialmux.PortOptions{BaudRate: conf.GetGPSBaud()})
		if err != nil {
			log.Printf("gps port %s unavailable: %v", conf.GetGPSDevice(), err)
		} else {
			defer gpsMux.Close()
			adapters = append(adapters, sensors.NewGPS(gpsMux, nil, conf.GetMinSatellites()))
		}

		obdMux, err = serialmux.NewRealSerialMux(conf.GetOBDDevice(), serialmux.PortOptions{BaudRate: conf.GetOBDBaud()})
		if err != nil {
			log.Printf("obd port %s unavailable: %v", conf.GetOBDDevice(), err)
		} else {
			defer obdMux.Close()
			obdMux.SetSplit(serialmux.ScanELMTokens)
			adapters = append(adapters, sensors.NewOBD(obdMux, nil, 0))
		}

		imu, err := sensors.NewMPU6050(sensors.MPU6050Config{
			Device:   conf.GetI2CDevice(),
			Addr:     conf.GetMPU6050Addr(),
			RangeG:   conf.GetAccelRangeG(),
			RangeDPS: conf.GetGyroRangeDPS(),
			Offsets:  conf.GetAccelOffsets(),
		})
		if err != nil {
			log.Fatalf("Failed to configure accelerometer: %v", err)
		}
		adapters = append(adapters, imu)

		adapters = append(adapters, sensors.NewDS18B20(sensors.DS18B20Config{
			Dir:      conf.GetW1Dir(),
			Roles:    conf.GetTempRoles(),
			WarnF:    conf.GetTempWarnF(),
			CritF:    conf.GetTempCritF(),
			Interval: conf.GetTempInterval(),
		}))
	}

	// run the monitor routines to manage IO on the serial ports
	runMonitor := func(name string, mux *serialmux.SerialMux[serial.Port]) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor %s serial port: %v", name, err)
			}
			log.Printf("%s monitor routine terminated", name)
		}()
	}
	if gpsMux != nil {
		runMonitor("gps", gpsMux)
	}
	if obdMux != nil {
		runMonitor("obd", obdMux)
	}

	// run the adapter poll loops
	for _, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("%s adapter stopped: %v", a.Name(), err)
			}
		}()
	}

	// Open the recording session and wire the sample path: adapters
	// feed latest-value caches, the scheduler merges them into samples,
	// and the recorder and live hub consume the stream.
	rec, err := recorder.Open(ctx, recorder.Config{
		Store:         database,
		Name:          *sessionName,
		Vehicle:       conf.Vehicle(),
		Capacity:      conf.GetBufferCapacity(),
		HighWater:     conf.GetBufferHighWater(),
		PushWait:      conf.GetPushTimeout(),
		FlushInterval: conf.GetFlushInterval(),
		Retries:       conf.GetFlushRetries(),
	})
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	log.Printf("recording session %s to %s", rec.SessionID(), *dbFile)

	hub := telemetry.NewHub()

	sources := make([]telemetry.Source, 0, len(adapters))
	for _, a := range adapters {
		sources = append(sources, a)
	}
	sched := telemetry.NewScheduler(conf.GetSamplePeriod(), conf.GetStaleness(), nil, sources, rec, hub)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("scheduler stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rec.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("recorder stopped: %v", err)
		}
	}()

	// periodic status report
	wg.Add(1)
	go func() {
		defer wg.Done()
		started := time.Now()
		ticker := time.NewTicker(conf.GetStatusInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(started).Seconds()
				counts := rec.Counts()
				rate := 0.0
				if elapsed > 0 {
					rate = float64(counts.Pushed) / elapsed
				}
				log.Printf("Session: %.1fs | Samples: %d | Rate: %.1f Hz", elapsed, counts.Pushed, rate)

				errs := make(map[string]uint64, len(adapters))
				for _, a := range adapters {
					_, n := a.Counts()
					errs[a.Name()] = n
				}
				log.Printf("Errors - OBD: %d | Accel: %d | GPS: %d | Temp: %d",
					errs[telemetry.SourceOBD], errs[telemetry.SourceAccel],
					errs[telemetry.SourceGPS], errs[telemetry.SourceTemp])
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiSensors := make([]api.Sensor, 0, len(adapters))
		for _, a := range adapters {
			apiSensors = append(apiSensors, a)
		}

		// create a new API server instance over the live hub and database
		// and mount the API handlers
		mux := api.NewServer(hub, database, apiSensors, rec, conf).ServeMux()

		database.AttachAdminRoutes(mux)
		if gpsMux != nil {
			gpsMux.AttachNamedAdminRoutes(mux, "gps")
		}
		if obdMux != nil {
			obdMux.AttachNamedAdminRoutes(mux, "obd")
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("serving telemetry API on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish, then flush whatever is still
	// buffered and finalize the session row.
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rec.Close(closeCtx); err != nil {
		log.Printf("failed to finalize session: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
