// Package config loads the acquisition daemon configuration. Fields are
// pointer-typed so a partial JSON file only overrides what it names; the
// Get accessors apply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/trackday/internal/geo"
	"github.com/banshee-data/trackday/internal/telemetry"
)

// DefaultConfigPath is the path to the canonical defaults file. This is
// the single source of truth for all default acquisition values.
const DefaultConfigPath = "config/daq.defaults.json"

// Config represents the root configuration for the acquisition daemon
// and the analysis tools. The schema matches the /api/config endpoint so
// the same JSON can be used for startup configuration and inspection.
type Config struct {
	// Sampling params
	SamplePeriod   *string `json:"sample_period,omitempty"` // duration string like "20ms"
	StatusInterval *string `json:"status_interval,omitempty"`

	// Per-family staleness thresholds
	OBDStaleness   *string `json:"obd_staleness,omitempty"`
	AccelStaleness *string `json:"accel_staleness,omitempty"`
	GPSStaleness   *string `json:"gps_staleness,omitempty"`
	TempStaleness  *string `json:"temp_staleness,omitempty"`

	// Recorder params
	BufferCapacity  *int    `json:"buffer_capacity,omitempty"`
	BufferHighWater *int    `json:"buffer_high_water,omitempty"`
	FlushInterval   *string `json:"flush_interval,omitempty"`
	PushTimeout     *string `json:"push_timeout,omitempty"`
	FlushRetries    *int    `json:"flush_retries,omitempty"`

	// Lap params
	GateLat     *float64 `json:"gate_lat,omitempty"`
	GateLon     *float64 `json:"gate_lon,omitempty"`
	GateRadiusM *float64 `json:"gate_radius_m,omitempty"`
	LapDebounce *string  `json:"lap_debounce,omitempty"`

	// Performance params
	AccelStartMPH     *float64 `json:"accel_start_mph,omitempty"`
	AccelTargetMPH    *float64 `json:"accel_target_mph,omitempty"`
	AccelToleranceMPH *float64 `json:"accel_tolerance_mph,omitempty"`
	BrakeArmMPH       *float64 `json:"brake_arm_mph,omitempty"`
	BrakeExitMPH      *float64 `json:"brake_exit_mph,omitempty"`
	BrakeMinDecelG    *float64 `json:"brake_min_decel_g,omitempty"`
	QuarterMileMax    *string  `json:"quarter_mile_max,omitempty"`
	PowerRPMMin       *float64 `json:"power_rpm_min,omitempty"`
	PowerRPMMax       *float64 `json:"power_rpm_max,omitempty"`
	PowerRPMBin       *float64 `json:"power_rpm_bin,omitempty"`
	PowerMinAccelG    *float64 `json:"power_min_accel_g,omitempty"`

	// Vehicle params
	VehicleName       *string  `json:"vehicle_name,omitempty"`
	VehicleMassKg     *float64 `json:"vehicle_mass_kg,omitempty"`
	DragCoefficient   *float64 `json:"drag_coefficient,omitempty"`
	FrontalAreaM2     *float64 `json:"frontal_area_m2,omitempty"`
	RollingResistance *float64 `json:"rolling_resistance,omitempty"`

	// GPS params
	GPSDevice     *string `json:"gps_device,omitempty"`
	GPSBaud       *int    `json:"gps_baud,omitempty"`
	MinSatellites *int    `json:"min_satellites,omitempty"`

	// OBD params
	OBDDevice *string `json:"obd_device,omitempty"`
	OBDBaud   *int    `json:"obd_baud,omitempty"`

	// Accelerometer params
	I2CDevice    *string            `json:"i2c_device,omitempty"`
	MPU6050Addr  *int               `json:"mpu6050_addr,omitempty"`
	AccelRangeG  *int               `json:"accel_range_g,omitempty"`
	GyroRangeDPS *int               `json:"gyro_range_dps,omitempty"`
	AccelOffsets map[string]float64 `json:"accel_offsets,omitempty"` // axis x/y/z -> g offset

	// Temperature params
	W1Dir        *string            `json:"w1_dir,omitempty"`
	TempRoles    map[string]string  `json:"temp_roles,omitempty"` // sensor id -> role
	TempWarnF    map[string]float64 `json:"temp_warn_f,omitempty"`
	TempCritF    map[string]float64 `json:"temp_crit_f,omitempty"`
	TempInterval *string            `json:"temp_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields set to nil.
// Use Load to load actual values from a file.
func EmptyConfig() *Config {
	return &Config{}
}

// Load loads a Config from a JSON file. The file is validated to ensure
// it has a .json extension and is under the max file size. Fields
// omitted from the JSON file retain their default values, so partial
// configs are safe.
func Load(path string) (*Config, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from
// DefaultConfigPath. It searches for the file in the current directory
// and common parent directories. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *Config {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"sample_period":    c.SamplePeriod,
		"status_interval":  c.StatusInterval,
		"obd_staleness":    c.OBDStaleness,
		"accel_staleness":  c.AccelStaleness,
		"gps_staleness":    c.GPSStaleness,
		"temp_staleness":   c.TempStaleness,
		"flush_interval":   c.FlushInterval,
		"push_timeout":     c.PushTimeout,
		"lap_debounce":     c.LapDebounce,
		"quarter_mile_max": c.QuarterMileMax,
		"temp_interval":    c.TempInterval,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.BufferCapacity != nil && *c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", *c.BufferCapacity)
	}
	if c.BufferHighWater != nil && *c.BufferHighWater <= 0 {
		return fmt.Errorf("buffer_high_water must be positive, got %d", *c.BufferHighWater)
	}
	if c.VehicleMassKg != nil && *c.VehicleMassKg <= 0 {
		return fmt.Errorf("vehicle_mass_kg must be positive, got %f", *c.VehicleMassKg)
	}
	if c.GateRadiusM != nil && *c.GateRadiusM <= 0 {
		return fmt.Errorf("gate_radius_m must be positive, got %f", *c.GateRadiusM)
	}
	if (c.GateLat == nil) != (c.GateLon == nil) {
		return fmt.Errorf("gate_lat and gate_lon must be set together")
	}

	if c.AccelRangeG != nil {
		switch *c.AccelRangeG {
		case 2, 4, 8, 16:
		default:
			return fmt.Errorf("accel_range_g must be one of 2, 4, 8, 16, got %d", *c.AccelRangeG)
		}
	}
	if c.GyroRangeDPS != nil {
		switch *c.GyroRangeDPS {
		case 250, 500, 1000, 2000:
		default:
			return fmt.Errorf("gyro_range_dps must be one of 250, 500, 1000, 2000, got %d", *c.GyroRangeDPS)
		}
	}

	if c.PowerRPMBin != nil && *c.PowerRPMBin <= 0 {
		return fmt.Errorf("power_rpm_bin must be positive, got %f", *c.PowerRPMBin)
	}

	return nil
}

func (c *Config) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSamplePeriod returns the scheduler tick period.
func (c *Config) GetSamplePeriod() time.Duration {
	return c.duration(c.SamplePeriod, 20*time.Millisecond)
}

// GetStatusInterval returns the period of the daemon's status log line.
func (c *Config) GetStatusInterval() time.Duration {
	return c.duration(c.StatusInterval, 10*time.Second)
}

// GetStaleness returns the per-family staleness thresholds keyed by
// adapter family name.
func (c *Config) GetStaleness() map[string]time.Duration {
	return map[string]time.Duration{
		telemetry.SourceOBD:   c.duration(c.OBDStaleness, 500*time.Millisecond),
		telemetry.SourceAccel: c.duration(c.AccelStaleness, 200*time.Millisecond),
		telemetry.SourceGPS:   c.duration(c.GPSStaleness, 2*time.Second),
		telemetry.SourceTemp:  c.duration(c.TempStaleness, 5*time.Second),
	}
}

// GetBufferCapacity returns the recorder buffer capacity in samples.
func (c *Config) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 100 // ~2s at 50 Hz
	}
	return *c.BufferCapacity
}

// GetBufferHighWater returns the occupancy that triggers an early flush.
// Defaults to three quarters of the buffer capacity.
func (c *Config) GetBufferHighWater() int {
	if c.BufferHighWater == nil {
		return c.GetBufferCapacity() * 3 / 4
	}
	return *c.BufferHighWater
}

// GetFlushInterval returns the recorder's time-based flush period.
func (c *Config) GetFlushInterval() time.Duration {
	return c.duration(c.FlushInterval, time.Second)
}

// GetPushTimeout returns how long a push may block when the buffer is
// full before the oldest sample is dropped.
func (c *Config) GetPushTimeout() time.Duration {
	return c.duration(c.PushTimeout, 50*time.Millisecond)
}

// GetFlushRetries returns the retry budget for a failed batch write.
func (c *Config) GetFlushRetries() int {
	if c.FlushRetries == nil {
		return 3
	}
	return *c.FlushRetries
}

// GetGate returns the configured start/finish gate. ok is false when no
// gate location is configured; lap detection must then report
// undetermined rather than guessing.
func (c *Config) GetGate() (geo.Gate, bool) {
	if c.GateLat == nil || c.GateLon == nil {
		return geo.Gate{}, false
	}
	return geo.Gate{
		Center:       geo.Point{Lat: *c.GateLat, Lon: *c.GateLon},
		RadiusMeters: c.GetGateRadius(),
	}, true
}

// GetGateRadius returns the gate capture radius in meters.
func (c *Config) GetGateRadius() float64 {
	if c.GateRadiusM == nil {
		return 50
	}
	return *c.GateRadiusM
}

// GetLapDebounce returns the minimum time between gate crossings.
func (c *Config) GetLapDebounce() time.Duration {
	return c.duration(c.LapDebounce, 10*time.Second)
}

// GetAccelStartMPH returns the speed at or below which an acceleration
// run may begin. Zero anchors runs at the last at-rest sample; raise it
// if the speed source reads noise at standstill.
func (c *Config) GetAccelStartMPH() float64 {
	if c.AccelStartMPH == nil {
		return 0
	}
	return *c.AccelStartMPH
}

// GetAccelTargetMPH returns the acceleration run target speed.
func (c *Config) GetAccelTargetMPH() float64 {
	if c.AccelTargetMPH == nil {
		return 60
	}
	return *c.AccelTargetMPH
}

// GetAccelToleranceMPH returns the largest in-window speed dip that does
// not break an acceleration run.
func (c *Config) GetAccelToleranceMPH() float64 {
	if c.AccelToleranceMPH == nil {
		return 1.5
	}
	return *c.AccelToleranceMPH
}

// GetBrakeArmMPH returns the speed at or above which the braking
// detector arms.
func (c *Config) GetBrakeArmMPH() float64 {
	if c.BrakeArmMPH == nil {
		return 60
	}
	return *c.BrakeArmMPH
}

// GetBrakeExitMPH returns the speed at or below which a braking run ends.
func (c *Config) GetBrakeExitMPH() float64 {
	if c.BrakeExitMPH == nil {
		return 5
	}
	return *c.BrakeExitMPH
}

// GetBrakeMinDecelG returns the minimum mean deceleration for a window
// to count as a braking run.
func (c *Config) GetBrakeMinDecelG() float64 {
	if c.BrakeMinDecelG == nil {
		return 0.25
	}
	return *c.BrakeMinDecelG
}

// GetQuarterMileMax returns the sanity cutoff for a quarter-mile run.
func (c *Config) GetQuarterMileMax() time.Duration {
	return c.duration(c.QuarterMileMax, 30*time.Second)
}

// GetPowerRPMMin returns the lowest RPM bucketed by the power curve.
func (c *Config) GetPowerRPMMin() float64 {
	if c.PowerRPMMin == nil {
		return 1000
	}
	return *c.PowerRPMMin
}

// GetPowerRPMMax returns the exclusive upper RPM bound of the power curve.
func (c *Config) GetPowerRPMMax() float64 {
	if c.PowerRPMMax == nil {
		return 8500
	}
	return *c.PowerRPMMax
}

// GetPowerRPMBin returns the power curve bucket width in RPM.
func (c *Config) GetPowerRPMBin() float64 {
	if c.PowerRPMBin == nil {
		return 500
	}
	return *c.PowerRPMBin
}

// GetPowerMinAccelG returns the minimum longitudinal acceleration for a
// sample to contribute a power point.
func (c *Config) GetPowerMinAccelG() float64 {
	if c.PowerMinAccelG == nil {
		return 0.1
	}
	return *c.PowerMinAccelG
}

// GetVehicleName returns the configured vehicle label.
func (c *Config) GetVehicleName() string {
	if c.VehicleName == nil {
		return ""
	}
	return *c.VehicleName
}

// GetVehicleMassKg returns the vehicle mass used by F=ma power math.
func (c *Config) GetVehicleMassKg() float64 {
	if c.VehicleMassKg == nil {
		return 1549
	}
	return *c.VehicleMassKg
}

// GetGPSDevice returns the GPS serial device path.
func (c *Config) GetGPSDevice() string {
	if c.GPSDevice == nil {
		return "/dev/serial0"
	}
	return *c.GPSDevice
}

// GetGPSBaud returns the GPS serial baud rate.
func (c *Config) GetGPSBaud() int {
	if c.GPSBaud == nil {
		return 9600
	}
	return *c.GPSBaud
}

// GetMinSatellites returns the satellite count below which a GPS fix is
// treated as invalid.
func (c *Config) GetMinSatellites() int {
	if c.MinSatellites == nil {
		return 4
	}
	return *c.MinSatellites
}

// GetOBDDevice returns the OBD serial device path.
func (c *Config) GetOBDDevice() string {
	if c.OBDDevice == nil {
		return "/dev/rfcomm0"
	}
	return *c.OBDDevice
}

// GetOBDBaud returns the OBD serial baud rate.
func (c *Config) GetOBDBaud() int {
	if c.OBDBaud == nil {
		return 38400
	}
	return *c.OBDBaud
}

// GetI2CDevice returns the I2C bus device path.
func (c *Config) GetI2CDevice() string {
	if c.I2CDevice == nil {
		return "/dev/i2c-1"
	}
	return *c.I2CDevice
}

// GetMPU6050Addr returns the accelerometer's I2C address.
func (c *Config) GetMPU6050Addr() int {
	if c.MPU6050Addr == nil {
		return 0x68
	}
	return *c.MPU6050Addr
}

// GetAccelRangeG returns the configured accelerometer full-scale range.
func (c *Config) GetAccelRangeG() int {
	if c.AccelRangeG == nil {
		return 4
	}
	return *c.AccelRangeG
}

// GetGyroRangeDPS returns the configured gyro full-scale range.
func (c *Config) GetGyroRangeDPS() int {
	if c.GyroRangeDPS == nil {
		return 500
	}
	return *c.GyroRangeDPS
}

// GetAccelOffsets returns the stored zero-point calibration offsets.
func (c *Config) GetAccelOffsets() map[string]float64 {
	if c.AccelOffsets == nil {
		return map[string]float64{}
	}
	return c.AccelOffsets
}

// GetW1Dir returns the 1-Wire sysfs directory scanned for DS18B20 probes.
func (c *Config) GetW1Dir() string {
	if c.W1Dir == nil {
		return "/sys/bus/w1/devices"
	}
	return *c.W1Dir
}

// GetTempRoles returns the probe serial to role assignments
// ("28-0316a4b2c3d4" -> "engine_oil"). Probes with no assigned role are
// read but not recorded.
func (c *Config) GetTempRoles() map[string]string {
	if c.TempRoles == nil {
		return map[string]string{}
	}
	return c.TempRoles
}

// GetTempWarnF returns the per-role warning thresholds in Fahrenheit.
func (c *Config) GetTempWarnF() map[string]float64 {
	if c.TempWarnF == nil {
		return map[string]float64{}
	}
	return c.TempWarnF
}

// GetTempCritF returns the per-role critical thresholds in Fahrenheit.
func (c *Config) GetTempCritF() map[string]float64 {
	if c.TempCritF == nil {
		return map[string]float64{}
	}
	return c.TempCritF
}

// GetTempInterval returns how often the temperature probes are read.
func (c *Config) GetTempInterval() time.Duration {
	return c.duration(c.TempInterval, time.Second)
}

// VehicleSnapshot is the vehicle configuration recorded with a session
// so analysis of old sessions uses the mass that was configured at
// record time.
type VehicleSnapshot struct {
	Name              string   `json:"name,omitempty"`
	MassKg            float64  `json:"mass_kg"`
	DragCoefficient   *float64 `json:"drag_coefficient,omitempty"`
	FrontalAreaM2     *float64 `json:"frontal_area_m2,omitempty"`
	RollingResistance *float64 `json:"rolling_resistance,omitempty"`
}

// Vehicle returns the snapshot of the configured vehicle parameters.
func (c *Config) Vehicle() VehicleSnapshot {
	return VehicleSnapshot{
		Name:              c.GetVehicleName(),
		MassKg:            c.GetVehicleMassKg(),
		DragCoefficient:   c.DragCoefficient,
		FrontalAreaM2:     c.FrontalAreaM2,
		RollingResistance: c.RollingResistance,
	}
}
