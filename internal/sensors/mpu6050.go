package sensors

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/trackday/internal/monitoring"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
)

// MPU-6050 register map, the subset the driver touches.
const (
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXOutH  = 0x3B
	regPwrMgmt1    = 0x6B
)

// DefaultAccelPeriod is the IMU poll interval. 100 Hz keeps the cache
// at most one reading behind the 50 Hz sample tick.
const DefaultAccelPeriod = 10 * time.Millisecond

// accelDisconnectThreshold is the consecutive read-failure count after
// which the IMU is reported disconnected.
const accelDisconnectThreshold = 10

// Full-scale range settings: the config register bits and the
// corresponding sensitivity from the datasheet.
var accelRanges = map[int]struct {
	bits    byte
	lsbPerG float64
}{
	2:  {0x00, 16384},
	4:  {0x08, 8192},
	8:  {0x10, 4096},
	16: {0x18, 2048},
}

var gyroRanges = map[int]struct {
	bits      byte
	lsbPerDPS float64
}{
	250:  {0x00, 131},
	500:  {0x08, 65.5},
	1000: {0x10, 32.8},
	2000: {0x18, 16.4},
}

// I2CBus is the byte-level access the driver needs. An *os.File on
// /dev/i2c-N satisfies it once the slave address is bound; see OpenI2C.
type I2CBus interface {
	Write(p []byte) (n int, err error)
	Read(p []byte) (n int, err error)
	Close() error
}

// OpenI2C opens an I2C character device and binds it to the given
// slave address.
func OpenI2C(device string, addr int) (I2CBus, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.IoctlSetInt(int(f.Fd()), unix.I2C_SLAVE, addr); err != nil {
		f.Close()
		return nil, fmt.Errorf("bind i2c address %#x: %w", addr, err)
	}
	return f, nil
}

// MPU6050 polls the IMU over I2C and publishes acceleration, attitude,
// and yaw-rate channels. Axes follow the mounting convention: X
// longitudinal (forward positive), Y lateral, Z vertical.
type MPU6050 struct {
	*Cache
	open       func() (I2CBus, error)
	clock      timeutil.Clock
	period     time.Duration
	rangeG     int
	rangeDPS   int
	accelBits  byte
	gyroBits   byte
	accelScale float64
	gyroScale  float64
	offsets    map[string]float64
}

// MPU6050Config configures the IMU adapter. Open defaults to OpenI2C
// on Device/Addr; tests inject a fake bus instead.
type MPU6050Config struct {
	Device   string
	Addr     int
	RangeG   int
	RangeDPS int
	Offsets  map[string]float64 // axis "x"/"y"/"z" -> zero-point offset in g
	Clock    timeutil.Clock
	Period   time.Duration
	Open     func() (I2CBus, error)
}

// NewMPU6050 creates the IMU adapter. The configured full-scale ranges
// must be values the device supports.
func NewMPU6050(cfg MPU6050Config) (*MPU6050, error) {
	ar, ok := accelRanges[cfg.RangeG]
	if !ok {
		return nil, fmt.Errorf("unsupported accelerometer range ±%dg", cfg.RangeG)
	}
	gr, ok := gyroRanges[cfg.RangeDPS]
	if !ok {
		return nil, fmt.Errorf("unsupported gyro range ±%d deg/s", cfg.RangeDPS)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	period := cfg.Period
	if period <= 0 {
		period = DefaultAccelPeriod
	}
	open := cfg.Open
	if open == nil {
		device, addr := cfg.Device, cfg.Addr
		open = func() (I2CBus, error) { return OpenI2C(device, addr) }
	}
	return &MPU6050{
		Cache:      NewCache(telemetry.SourceAccel, telemetry.BySource(telemetry.SourceAccel)),
		open:       open,
		clock:      clock,
		period:     period,
		rangeG:     cfg.RangeG,
		rangeDPS:   cfg.RangeDPS,
		accelBits:  ar.bits,
		gyroBits:   gr.bits,
		accelScale: ar.lsbPerG,
		gyroScale:  gr.lsbPerDPS,
		offsets:    cfg.Offsets,
	}, nil
}

// Run initializes the device and polls it until ctx is cancelled. An
// IMU that is not present fails here and leaves its channels invalid
// for the whole session.
func (m *MPU6050) Run(ctx context.Context) error {
	bus, err := m.open()
	if err != nil {
		return fmt.Errorf("open i2c: %w", err)
	}
	defer bus.Close()

	if err := m.initDevice(bus); err != nil {
		return fmt.Errorf("mpu6050 init: %w", err)
	}
	monitoring.Logf("accel: mpu6050 up (±%dg, ±%d deg/s, %v period)", m.rangeG, m.rangeDPS, m.period)

	ticker := m.clock.NewTicker(m.period)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			fields, err := m.readSample(bus)
			if err != nil {
				m.CountError()
				failures++
				if failures == accelDisconnectThreshold {
					monitoring.Logf("accel: %d consecutive read failures, marking disconnected", failures)
					m.SetConnected(false)
				}
				continue
			}
			failures = 0
			m.Publish(fields, now)
		}
	}
}

// initDevice wakes the part out of its power-on sleep and programs the
// full-scale ranges.
func (m *MPU6050) initDevice(bus I2CBus) error {
	for _, w := range [][]byte{
		{regPwrMgmt1, 0x00},
		{regAccelConfig, m.accelBits},
		{regGyroConfig, m.gyroBits},
	} {
		if _, err := bus.Write(w); err != nil {
			return err
		}
	}
	return nil
}

// readSample burst-reads the 14-byte sensor block starting at
// ACCEL_XOUT_H and derives the published channels.
func (m *MPU6050) readSample(bus I2CBus) (map[string]float64, error) {
	if _, err := bus.Write([]byte{regAccelXOutH}); err != nil {
		return nil, err
	}
	buf := make([]byte, 14)
	if _, err := io.ReadFull(bus, buf); err != nil {
		return nil, err
	}

	ax := float64(be16(buf[0], buf[1]))/m.accelScale - m.offsets["x"]
	ay := float64(be16(buf[2], buf[3]))/m.accelScale - m.offsets["y"]
	az := float64(be16(buf[4], buf[5]))/m.accelScale - m.offsets["z"]
	// buf[6:8] is the die temperature, which the schema does not carry.
	gz := float64(be16(buf[12], buf[13])) / m.gyroScale

	return map[string]float64{
		telemetry.ChanAccelLongG:  ax,
		telemetry.ChanAccelLatG:   ay,
		telemetry.ChanAccelVertG:  az,
		telemetry.ChanAccelTotalG: math.Sqrt(ax*ax + ay*ay + az*az),
		telemetry.ChanPitchDeg:    math.Atan2(ax, math.Sqrt(ay*ay+az*az)) * 180 / math.Pi,
		telemetry.ChanRollDeg:     math.Atan2(ay, az) * 180 / math.Pi,
		telemetry.ChanYawRateDPS:  gz,
	}, nil
}

func be16(hi, lo byte) int16 {
	return int16(uint16(hi)<<8 | uint16(lo))
}
