package sensors

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/trackday/internal/fsutil"
	"github.com/banshee-data/trackday/internal/monitoring"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
	"github.com/banshee-data/trackday/internal/units"
)

// DefaultW1Dir is where the kernel's w1 bus master exposes slave
// devices.
const DefaultW1Dir = "/sys/bus/w1/devices"

// DefaultTempInterval is the probe scan interval. Each DS18B20 read
// blocks around 750ms inside the kernel for the conversion, so a scan
// of several probes can overrun the interval; overlapping ticks are
// coalesced by the ticker and the staleness threshold absorbs the
// rest.
const DefaultTempInterval = time.Second

// roleChannels maps configured probe roles to telemetry channels.
var roleChannels = map[string]string{
	"engine_oil":   telemetry.ChanTempOilF,
	"intake_air":   telemetry.ChanTempIntakeF,
	"brake_fluid":  telemetry.ChanTempBrakeF,
	"transmission": telemetry.ChanTempTransF,
	"ambient":      telemetry.ChanTempAmbientF,
}

// DS18B20 reads 1-Wire temperature probes through the w1 sysfs
// interface. Probes are identified by their bus serial and assigned a
// role in configuration; probes with no role are logged once and
// skipped.
type DS18B20 struct {
	*Cache
	fs       fsutil.FileSystem
	dir      string
	roles    map[string]string
	warnF    map[string]float64
	critF    map[string]float64
	clock    timeutil.Clock
	interval time.Duration

	// Scan state. Only the Run goroutine touches these.
	skipLogged map[string]bool
	level      map[string]int
	discovered bool
}

// DS18B20Config configures the probe scanner. FS defaults to the real
// filesystem; tests inject fsutil.MemoryFileSystem.
type DS18B20Config struct {
	FS       fsutil.FileSystem
	Dir      string
	Roles    map[string]string  // probe serial -> role
	WarnF    map[string]float64 // role -> warning threshold, Fahrenheit
	CritF    map[string]float64 // role -> critical threshold, Fahrenheit
	Clock    timeutil.Clock
	Interval time.Duration
}

// NewDS18B20 creates the probe scanner.
func NewDS18B20(cfg DS18B20Config) *DS18B20 {
	fs := cfg.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultW1Dir
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultTempInterval
	}
	return &DS18B20{
		Cache:      NewCache(telemetry.SourceTemp, telemetry.BySource(telemetry.SourceTemp)),
		fs:         fs,
		dir:        dir,
		roles:      cfg.Roles,
		warnF:      cfg.WarnF,
		critF:      cfg.CritF,
		clock:      clock,
		interval:   interval,
		skipLogged: make(map[string]bool),
		level:      make(map[string]int),
	}
}

// Run scans the probes until ctx is cancelled. A scan publishes
// whatever subset of probes read successfully; probes that fail only
// count errors and age out of the sample through staleness.
func (d *DS18B20) Run(ctx context.Context) error {
	d.scanAndPublish()

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			d.scanAndPublish()
		}
	}
}

func (d *DS18B20) scanAndPublish() {
	fields := d.scan()
	if len(fields) > 0 {
		d.Publish(fields, d.clock.Now())
	}
}

func (d *DS18B20) scan() map[string]float64 {
	matches, err := d.fs.Glob(filepath.Join(d.dir, "28-*"))
	if err != nil {
		d.CountError()
		return nil
	}
	if !d.discovered {
		d.discovered = true
		assigned := 0
		for _, m := range matches {
			if _, ok := d.roles[filepath.Base(m)]; ok {
				assigned++
			}
		}
		monitoring.Logf("temp: found %d probes under %s, %d with roles", len(matches), d.dir, assigned)
	}

	fields := make(map[string]float64)
	for _, probeDir := range matches {
		id := filepath.Base(probeDir)
		role, ok := d.roles[id]
		if !ok {
			d.logSkip(id, "no role assigned")
			continue
		}
		channel, ok := roleChannels[role]
		if !ok {
			d.logSkip(id, fmt.Sprintf("unknown role %q", role))
			continue
		}

		data, err := d.fs.ReadFile(filepath.Join(probeDir, "w1_slave"))
		if err != nil {
			d.CountError()
			continue
		}
		c, err := parseW1Slave(string(data))
		if err != nil {
			d.CountError()
			continue
		}
		f := units.CToF(c)
		fields[channel] = f
		d.checkLevel(role, f)
	}
	return fields
}

func (d *DS18B20) logSkip(id, reason string) {
	if d.skipLogged[id] {
		return
	}
	d.skipLogged[id] = true
	monitoring.Logf("temp: probe %s: %s, skipping", id, reason)
}

// checkLevel logs when a role's temperature rises past its warning or
// critical threshold, once per upward crossing.
func (d *DS18B20) checkLevel(role string, f float64) {
	level := 0
	if crit, ok := d.critF[role]; ok && f >= crit {
		level = 2
	} else if warn, ok := d.warnF[role]; ok && f >= warn {
		level = 1
	}
	if level > d.level[role] {
		switch level {
		case 2:
			monitoring.Logf("temp: %s at %.1fF, above critical threshold %.1fF", role, f, d.critF[role])
		case 1:
			monitoring.Logf("temp: %s at %.1fF, above warning threshold %.1fF", role, f, d.warnF[role])
		}
	}
	d.level[role] = level
}

// parseW1Slave extracts degrees Celsius from a w1_slave payload:
//
//	71 01 4b 46 7f ff 0f 10 57 : crc=57 YES
//	71 01 4b 46 7f ff 0f 10 57 t=23062
func parseW1Slave(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("short w1_slave payload")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("crc check failed")
	}
	idx := strings.LastIndex(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("no temperature in payload")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][idx+2:]))
	if err != nil {
		return 0, fmt.Errorf("bad temperature value: %w", err)
	}
	return float64(milli) / 1000, nil
}
