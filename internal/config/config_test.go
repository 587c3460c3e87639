package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daq.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyConfig()

	if got := cfg.GetSamplePeriod(); got != 20*time.Millisecond {
		t.Errorf("GetSamplePeriod() = %v, want 20ms", got)
	}
	if got := cfg.GetBufferCapacity(); got != 100 {
		t.Errorf("GetBufferCapacity() = %d, want 100", got)
	}
	if got := cfg.GetBufferHighWater(); got != 75 {
		t.Errorf("GetBufferHighWater() = %d, want 75", got)
	}
	if got := cfg.GetFlushInterval(); got != time.Second {
		t.Errorf("GetFlushInterval() = %v, want 1s", got)
	}
	if got := cfg.GetPushTimeout(); got != 50*time.Millisecond {
		t.Errorf("GetPushTimeout() = %v, want 50ms", got)
	}
	if got := cfg.GetFlushRetries(); got != 3 {
		t.Errorf("GetFlushRetries() = %d, want 3", got)
	}
	if got := cfg.GetLapDebounce(); got != 10*time.Second {
		t.Errorf("GetLapDebounce() = %v, want 10s", got)
	}
	if got := cfg.GetVehicleMassKg(); got != 1549 {
		t.Errorf("GetVehicleMassKg() = %v, want 1549", got)
	}
	if got := cfg.GetAccelTargetMPH(); got != 60 {
		t.Errorf("GetAccelTargetMPH() = %v, want 60", got)
	}
	if got := cfg.GetMPU6050Addr(); got != 0x68 {
		t.Errorf("GetMPU6050Addr() = %#x, want 0x68", got)
	}

	stale := cfg.GetStaleness()
	if stale[telemetry.SourceOBD] != 500*time.Millisecond {
		t.Errorf("obd staleness = %v, want 500ms", stale[telemetry.SourceOBD])
	}
	if stale[telemetry.SourceTemp] != 5*time.Second {
		t.Errorf("temp staleness = %v, want 5s", stale[telemetry.SourceTemp])
	}
}

func TestGateUnconfigured(t *testing.T) {
	cfg := EmptyConfig()
	if _, ok := cfg.GetGate(); ok {
		t.Error("gate should be unconfigured on an empty config")
	}
}

func TestGateConfigured(t *testing.T) {
	cfg := EmptyConfig()
	cfg.GateLat = ptrFloat64(37.7749)
	cfg.GateLon = ptrFloat64(-122.4194)

	gate, ok := cfg.GetGate()
	if !ok {
		t.Fatal("gate should be configured")
	}
	if gate.Center.Lat != 37.7749 || gate.Center.Lon != -122.4194 {
		t.Errorf("gate center = %v, want 37.7749,-122.4194", gate.Center)
	}
	if gate.RadiusMeters != 50 {
		t.Errorf("gate radius = %v, want default 50", gate.RadiusMeters)
	}
}

func TestHighWaterTracksCapacity(t *testing.T) {
	cfg := EmptyConfig()
	cfg.BufferCapacity = ptrInt(200)
	if got := cfg.GetBufferHighWater(); got != 150 {
		t.Errorf("GetBufferHighWater() = %d, want 150 (3/4 of 200)", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"sample_period": "10ms", "vehicle_mass_kg": 1600}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.GetSamplePeriod(); got != 10*time.Millisecond {
		t.Errorf("GetSamplePeriod() = %v, want 10ms", got)
	}
	if got := cfg.GetVehicleMassKg(); got != 1600 {
		t.Errorf("GetVehicleMassKg() = %v, want 1600", got)
	}
	// Unset fields fall back to defaults.
	if got := cfg.GetFlushInterval(); got != time.Second {
		t.Errorf("GetFlushInterval() = %v, want default 1s", got)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		contents string
	}{
		{"wrong extension", "daq.yaml", `{}`},
		{"invalid json", "daq.json", `{not json`},
		{"bad duration", "daq.json", `{"sample_period": "fast"}`},
		{"negative capacity", "daq.json", `{"buffer_capacity": -1}`},
		{"half a gate", "daq.json", `{"gate_lat": 37.0}`},
		{"bad accel range", "daq.json", `{"accel_range_g": 3}`},
		{"zero mass", "daq.json", `{"vehicle_mass_kg": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.path)
			if err := os.WriteFile(path, []byte(tt.contents), 0o644); err != nil {
				t.Fatalf("writing config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load(%s) should have failed", tt.name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Load should fail on a missing file")
	}
}

func TestDefaultsFileMatchesAccessors(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The canonical defaults file must agree with the accessor defaults.
	if got, want := cfg.GetSamplePeriod(), EmptyConfig().GetSamplePeriod(); got != want {
		t.Errorf("defaults file sample_period = %v, accessor default %v", got, want)
	}
	if got, want := cfg.GetBufferCapacity(), EmptyConfig().GetBufferCapacity(); got != want {
		t.Errorf("defaults file buffer_capacity = %d, accessor default %d", got, want)
	}
	if got, want := cfg.GetLapDebounce(), EmptyConfig().GetLapDebounce(); got != want {
		t.Errorf("defaults file lap_debounce = %v, accessor default %v", got, want)
	}
	if got, want := cfg.GetBrakeMinDecelG(), EmptyConfig().GetBrakeMinDecelG(); got != want {
		t.Errorf("defaults file brake_min_decel_g = %v, accessor default %v", got, want)
	}
}

func TestVehicleSnapshot(t *testing.T) {
	cfg := EmptyConfig()
	cfg.VehicleName = ptrString("test car")
	cfg.VehicleMassKg = ptrFloat64(1234)
	cfg.DragCoefficient = ptrFloat64(0.31)

	v := cfg.Vehicle()
	if v.Name != "test car" {
		t.Errorf("snapshot name = %q, want %q", v.Name, "test car")
	}
	if v.MassKg != 1234 {
		t.Errorf("snapshot mass = %v, want 1234", v.MassKg)
	}
	if v.DragCoefficient == nil || *v.DragCoefficient != 0.31 {
		t.Error("snapshot should carry the configured drag coefficient")
	}
	if v.RollingResistance != nil {
		t.Error("unset rolling resistance should stay nil in the snapshot")
	}
}
