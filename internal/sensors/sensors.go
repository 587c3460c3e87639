// Package sensors reads the vehicle's physical data sources and caches
// each source's latest reading for the sample scheduler to merge.
//
// One adapter runs per sensor family: OBD-II over an ELM327 serial
// bridge, GPS over an NMEA serial receiver, an MPU-6050 IMU over I2C,
// and DS18B20 probes over the 1-Wire sysfs interface. Adapters block
// on their own hardware at their own cadence and publish into a
// single-slot Cache; the scheduler only ever reads the cache, so a
// stalled bus never delays the global sample tick.
package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
)

// Adapter is a running sensor source. The scheduler reads it through
// the telemetry.Source side; the daemon drives the acquisition loop.
// Run blocks until ctx is cancelled or the source fails unrecoverably.
type Adapter interface {
	telemetry.Source
	Run(ctx context.Context) error
}

// Cache is a single-slot latest-reading store shared between one
// adapter (writer) and the scheduler (reader). The fields map handed
// to Publish is stored by reference and must not be mutated after the
// call.
type Cache struct {
	name     string
	channels []string

	mu       sync.RWMutex
	reading  telemetry.Reading
	readings uint64
	errors   uint64
}

var _ telemetry.Source = (*Cache)(nil)

// NewCache creates a cache for the named source covering the given
// channels. The cache starts disconnected with a zero reading.
func NewCache(name string, channels []string) *Cache {
	return &Cache{name: name, channels: channels}
}

// Name returns the source name.
func (c *Cache) Name() string { return c.name }

// Channels returns the channel names this source owns.
func (c *Cache) Channels() []string { return c.channels }

// Latest returns the most recently published reading without blocking.
func (c *Cache) Latest() telemetry.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading
}

// Publish stores a new reading and marks the source connected.
func (c *Cache) Publish(fields map[string]float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = telemetry.Reading{Fields: fields, At: at, Connected: true}
	c.readings++
}

// SetConnected updates the connection flag without touching the cached
// fields. A disconnected source keeps its last reading; the staleness
// threshold ages it out of emitted samples.
func (c *Cache) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading.Connected = connected
}

// CountError records an acquisition failure (I/O or parse) for status
// reporting.
func (c *Cache) CountError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// Counts returns the total readings published and errors recorded
// since the cache was created.
func (c *Cache) Counts() (readings, errors uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readings, c.errors
}
