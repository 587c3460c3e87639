package sensors

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
)

type fakeI2C struct {
	mu     sync.Mutex
	writes [][]byte
	reads  [][]byte
	closed bool
}

func (f *fakeI2C) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeI2C) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return 0, io.EOF
	}
	buf := f.reads[0]
	f.reads = f.reads[1:]
	return copy(p, buf), nil
}

func (f *fakeI2C) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeI2C) queue(buf []byte, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < times; i++ {
		f.reads = append(f.reads, buf)
	}
}

func (f *fakeI2C) writeLog() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// sensorBlock builds the 14-byte burst read for the given raw counts.
func sensorBlock(ax, ay, az, gx, gy, gz int16) []byte {
	vals := []int16{ax, ay, az, 0, gx, gy, gz} // slot 3 is die temp
	buf := make([]byte, 0, 14)
	for _, v := range vals {
		buf = append(buf, byte(uint16(v)>>8), byte(uint16(v)))
	}
	return buf
}

func newTestMPU(t *testing.T, fake *fakeI2C, clock timeutil.Clock, offsets map[string]float64) *MPU6050 {
	t.Helper()
	m, err := NewMPU6050(MPU6050Config{
		RangeG:   4,
		RangeDPS: 500,
		Offsets:  offsets,
		Clock:    clock,
		Open:     func() (I2CBus, error) { return fake, nil },
	})
	if err != nil {
		t.Fatalf("NewMPU6050() error = %v", err)
	}
	return m
}

func TestMPU6050PublishesSample(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	fake := &fakeI2C{}
	// 0.5g long, 0 lat, 1g vert at ±4g (8192 LSB/g); 10 deg/s yaw at
	// ±500 deg/s (65.5 LSB/deg/s).
	fake.queue(sensorBlock(4096, 0, 8192, 0, 0, 655), 50)

	m := newTestMPU(t, fake, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "sample published", func() bool {
		clock.Advance(DefaultAccelPeriod)
		readings, _ := m.Counts()
		return readings >= 1
	})

	r := m.Latest()
	if !r.Connected {
		t.Error("accel not connected after publish")
	}
	checks := []struct {
		channel string
		want    float64
	}{
		{telemetry.ChanAccelLongG, 0.5},
		{telemetry.ChanAccelLatG, 0},
		{telemetry.ChanAccelVertG, 1},
		{telemetry.ChanAccelTotalG, math.Sqrt(1.25)},
		{telemetry.ChanPitchDeg, 26.565051177},
		{telemetry.ChanRollDeg, 0},
		{telemetry.ChanYawRateDPS, 10},
	}
	for _, c := range checks {
		if got := r.Fields[c.channel]; math.Abs(got-c.want) > 1e-6 {
			t.Errorf("%s = %v, want %v", c.channel, got, c.want)
		}
	}

	// Wake, accel range, gyro range, then the first burst-read address.
	writes := fake.writeLog()
	if len(writes) < 4 {
		t.Fatalf("device saw %d writes, want at least 4", len(writes))
	}
	wantInit := [][]byte{{0x6B, 0x00}, {0x1C, 0x08}, {0x1B, 0x08}, {0x3B}}
	for i, want := range wantInit {
		if len(writes[i]) != len(want) {
			t.Fatalf("write %d = %v, want %v", i, writes[i], want)
		}
		for j := range want {
			if writes[i][j] != want[j] {
				t.Errorf("write %d = %v, want %v", i, writes[i], want)
				break
			}
		}
	}

	cancel()
	<-done
}

func TestMPU6050AppliesOffsets(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	fake := &fakeI2C{}
	fake.queue(sensorBlock(-8192, 819, 8192, 0, 0, 0), 50)

	m := newTestMPU(t, fake, clock, map[string]float64{"x": 0.1, "y": 0.0999755859375})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, "offset sample published", func() bool {
		clock.Advance(DefaultAccelPeriod)
		readings, _ := m.Counts()
		return readings >= 1
	})

	r := m.Latest()
	if got := r.Fields[telemetry.ChanAccelLongG]; math.Abs(got-(-1.1)) > 1e-6 {
		t.Errorf("accel_long_g = %v, want -1.1", got)
	}
	// 819 raw is 0.0999755859375g, cancelled exactly by the offset.
	if got := r.Fields[telemetry.ChanAccelLatG]; math.Abs(got) > 1e-9 {
		t.Errorf("accel_lat_g = %v, want 0", got)
	}
}

func TestMPU6050CountsReadFailures(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	fake := &fakeI2C{} // nothing queued: every read fails

	m := newTestMPU(t, fake, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, "read failures counted", func() bool {
		clock.Advance(DefaultAccelPeriod)
		_, errCount := m.Counts()
		return errCount >= 3
	})

	if readings, _ := m.Counts(); readings != 0 {
		t.Errorf("readings = %d with failing bus, want 0", readings)
	}

	// A successful read publishes and reconnects.
	fake.queue(sensorBlock(0, 0, 8192, 0, 0, 0), 50)
	waitFor(t, "recovery publish", func() bool {
		clock.Advance(DefaultAccelPeriod)
		readings, _ := m.Counts()
		return readings >= 1
	})
	if !m.Latest().Connected {
		t.Error("accel not connected after recovery")
	}
}

func TestMPU6050RejectsBadRanges(t *testing.T) {
	if _, err := NewMPU6050(MPU6050Config{RangeG: 3, RangeDPS: 500}); err == nil {
		t.Error("accepted ±3g accelerometer range")
	}
	if _, err := NewMPU6050(MPU6050Config{RangeG: 4, RangeDPS: 123}); err == nil {
		t.Error("accepted ±123 deg/s gyro range")
	}
}

func TestBE16(t *testing.T) {
	tests := []struct {
		hi, lo byte
		want   int16
	}{
		{0x00, 0x00, 0},
		{0x10, 0x00, 4096},
		{0x7F, 0xFF, 32767},
		{0x80, 0x00, -32768},
		{0xE0, 0x00, -8192},
		{0xFF, 0xFF, -1},
	}
	for _, tt := range tests {
		if got := be16(tt.hi, tt.lo); got != tt.want {
			t.Errorf("be16(%#02x, %#02x) = %d, want %d", tt.hi, tt.lo, got, tt.want)
		}
	}
}
