// Package telemetry defines the sample data model shared by the
// acquisition loop, storage, and analysis: the fixed channel schema, the
// merged Sample emitted at each tick, and the latest-reading snapshot
// published by sensor adapters.
package telemetry

import "time"

// Reading is one adapter's latest snapshot. Adapters refresh their
// reading at their own cadence; the scheduler only ever looks at the
// most recent one.
//
// Fields maps channel names to values. Boolean channels are encoded as
// 0 or 1. The map handed to the scheduler must not be mutated after
// publication.
type Reading struct {
	Fields    map[string]float64
	At        time.Time // when the adapter last refreshed the snapshot
	Connected bool
}

// Channel is one merged channel value inside a Sample. Age is the time
// since the owning adapter last refreshed it, measured at the tick.
type Channel struct {
	Value float64       `json:"value"`
	Valid bool          `json:"valid"`
	Age   time.Duration `json:"age_ns"`
}

// Sample is one synchronized, timestamped set of channel readings.
// Samples are immutable once emitted; within a session their timestamps
// strictly increase.
type Sample struct {
	At      time.Time          `json:"at"`
	Elapsed float64            `json:"elapsed_s"`
	Chans   map[string]Channel `json:"channels"`
	Status  map[string]bool    `json:"status"` // adapter name -> connected
}

// Value returns the channel's value and whether it was valid at this
// sample. Analyzer inputs must check ok and treat false as a gap.
func (s Sample) Value(name string) (float64, bool) {
	c, found := s.Chans[name]
	if !found {
		return 0, false
	}
	return c.Value, c.Valid
}

// Bool reads a boolean channel. Any nonzero value is true.
func (s Sample) Bool(name string) (bool, bool) {
	v, ok := s.Value(name)
	return v != 0, ok
}
