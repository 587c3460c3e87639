// Package recorder owns the session lifecycle. It accepts the sample
// stream from the scheduler into a bounded buffer and drains it to
// durable storage in ordered, all-or-nothing batches. Backpressure is
// bounded and observable: a full buffer blocks the producer briefly,
// then drops the oldest unflushed sample and counts the loss. At most
// one buffer's worth of samples can be lost to an abnormal exit.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
)

// ErrSessionClosed is returned by Close when the session was already
// closed.
var ErrSessionClosed = errors.New("recorder: session already closed")

// Flush tuning. The retry delay paces the bounded retry budget so a
// briefly locked database gets a chance to recover.
const flushRetryDelay = 100 * time.Millisecond

// Store is the slice of durable storage the recorder needs. Batches are
// appended atomically and in produced order; a nil error means the
// whole batch is durable.
type Store interface {
	CreateSession(ctx context.Context, meta SessionMeta) error
	AppendSamples(ctx context.Context, sessionID string, batch []telemetry.Sample) error
	CloseSession(ctx context.Context, summary Summary) error
}

// SessionMeta identifies a session at open time.
type SessionMeta struct {
	ID        string
	Name      string
	StartedAt time.Time
	Vehicle   config.VehicleSnapshot
}

// Summary is the session's closing record.
type Summary struct {
	SessionID     string
	Name          string
	StartedAt     time.Time
	EndedAt       time.Time
	Duration      time.Duration
	Samples       uint64 // accepted into the buffer
	Flushed       uint64 // durably written
	Lost          uint64 // dropped under backpressure
	Degraded      bool
	ChannelErrors map[string]uint64
	Vehicle       config.VehicleSnapshot
}

// Counts is a point-in-time view of the recorder for status logging.
type Counts struct {
	Pushed   uint64
	Flushed  uint64
	Lost     uint64
	Buffered int
	Degraded bool
}

// Config configures an open session.
type Config struct {
	// Store is the durable sink. Required.
	Store Store
	// Name is an optional session label.
	Name string
	// Vehicle is the configuration snapshot persisted with the session.
	Vehicle config.VehicleSnapshot
	// Capacity is the buffer size in samples (default 100, about two
	// seconds at 50 Hz).
	Capacity int
	// HighWater triggers an early flush at this occupancy (default
	// three quarters of Capacity).
	HighWater int
	// PushWait bounds how long a push blocks on a full buffer before
	// dropping the oldest sample (default 50ms).
	PushWait time.Duration
	// FlushInterval is the time-based flush period (default 1s).
	FlushInterval time.Duration
	// Retries is the per-batch retry budget before the session is
	// marked degraded (default 3).
	Retries int
	// Clock is optional; if nil, the real clock is used.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Recorder buffers and persists one session's sample stream. It
// implements telemetry.Sink. The scheduler is the only producer; the
// Run goroutine is the only flusher.
type Recorder struct {
	store         Store
	clock         timeutil.Clock
	logger        *log.Logger
	pushWait      time.Duration
	flushInterval time.Duration
	highWater     int
	retries       int

	buf  chan telemetry.Sample
	kick chan struct{}

	mu       sync.Mutex
	meta     SessionMeta
	closed   bool
	degraded bool
	pushed   uint64
	flushed  uint64
	lost     uint64
	invalid  map[string]uint64
	spill    []telemetry.Sample // drained but not yet durable
}

// Open creates the session in storage and returns the live recorder.
// The caller starts the flush path with Run and finishes with Close.
func Open(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("recorder: store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	highWater := cfg.HighWater
	if highWater <= 0 || highWater > capacity {
		highWater = capacity * 3 / 4
	}
	pushWait := cfg.PushWait
	if pushWait <= 0 {
		pushWait = 50 * time.Millisecond
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}

	meta := SessionMeta{
		ID:        uuid.New().String(),
		Name:      cfg.Name,
		StartedAt: clock.Now(),
		Vehicle:   cfg.Vehicle,
	}
	if err := cfg.Store.CreateSession(ctx, meta); err != nil {
		return nil, fmt.Errorf("recorder: create session: %w", err)
	}

	r := &Recorder{
		store:         cfg.Store,
		clock:         clock,
		logger:        logger,
		pushWait:      pushWait,
		flushInterval: flushInterval,
		highWater:     highWater,
		retries:       retries,
		buf:           make(chan telemetry.Sample, capacity),
		kick:          make(chan struct{}, 1),
		meta:          meta,
		invalid:       make(map[string]uint64),
	}
	r.logger.Printf("recorder: session %s open (buffer %d, high water %d, flush every %v)",
		meta.ID, capacity, highWater, flushInterval)
	return r, nil
}

// SessionID returns the open session's identifier.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta.ID
}

// Counts returns the recorder's accounting so far.
func (r *Recorder) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{
		Pushed:   r.pushed,
		Flushed:  r.flushed,
		Lost:     r.lost,
		Buffered: len(r.buf),
		Degraded: r.degraded,
	}
}

// Push accepts one sample from the scheduler. It returns quickly when
// the buffer has room; when full it waits at most PushWait for the
// flush path, then drops the oldest buffered sample, counts the loss,
// and takes the freed slot. It never blocks unboundedly.
func (r *Recorder) Push(s telemetry.Sample) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	select {
	case r.buf <- s:
		r.noteAccepted(s)
		return
	default:
	}

	timer := r.clock.NewTimer(r.pushWait)
	defer timer.Stop()
	select {
	case r.buf <- s:
		r.noteAccepted(s)
		return
	case <-timer.C():
	}

	// The flush path is stalled. Drop the oldest unflushed sample so
	// the newest data survives.
	select {
	case <-r.buf:
		r.mu.Lock()
		r.lost++
		r.mu.Unlock()
	default:
	}
	select {
	case r.buf <- s:
		r.noteAccepted(s)
	default:
		r.mu.Lock()
		r.lost++
		r.mu.Unlock()
	}
}

func (r *Recorder) noteAccepted(s telemetry.Sample) {
	r.mu.Lock()
	r.pushed++
	for name, c := range s.Chans {
		if !c.Valid {
			r.invalid[name]++
		}
	}
	r.mu.Unlock()

	if len(r.buf) >= r.highWater {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Run drains the buffer to storage until ctx is cancelled, flushing on
// the configured interval and early when occupancy passes the high
// water mark. The final flush happens in Close, which must be called
// after Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.writeBatch(ctx, r.drain())
		case <-r.kick:
			r.writeBatch(ctx, r.drain())
		}
	}
}

// drain empties the buffer into one ordered batch.
func (r *Recorder) drain() []telemetry.Sample {
	batch := make([]telemetry.Sample, 0, len(r.buf))
	for {
		select {
		case s := <-r.buf:
			batch = append(batch, s)
		default:
			return batch
		}
	}
}

// writeBatch appends one batch with the bounded retry budget. On a
// cancelled context the batch moves to the spill so Close can still
// write it; on an exhausted budget the session is marked degraded and
// later batches accumulate in memory until close.
func (r *Recorder) writeBatch(ctx context.Context, batch []telemetry.Sample) {
	if len(batch) == 0 {
		return
	}

	r.mu.Lock()
	degraded := r.degraded
	id := r.meta.ID
	r.mu.Unlock()

	if degraded {
		r.addSpill(batch)
		return
	}

	err := r.tryAppend(ctx, id, batch)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		r.addSpill(batch)
		return
	}

	r.mu.Lock()
	r.degraded = true
	r.mu.Unlock()
	r.addSpill(batch)
	r.logger.Printf("recorder: session %s degraded, recording in memory only: %v", id, err)
}

// tryAppend runs the retry loop for one batch. The batch either became
// durable (nil) or did not (the final attempt's error).
func (r *Recorder) tryAppend(ctx context.Context, id string, batch []telemetry.Sample) error {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(flushRetryDelay):
			}
		}
		err := r.store.AppendSamples(ctx, id, batch)
		if err == nil {
			r.mu.Lock()
			r.flushed += uint64(len(batch))
			r.mu.Unlock()
			return nil
		}
		lastErr = err
		r.logger.Printf("recorder: batch write failed (attempt %d of %d): %v", attempt+1, r.retries+1, err)
	}
	return lastErr
}

func (r *Recorder) addSpill(batch []telemetry.Sample) {
	r.mu.Lock()
	r.spill = append(r.spill, batch...)
	r.mu.Unlock()
}

// Close forces a final flush, closes the session in storage, and
// returns the summary. Call it after Run has returned so no flush runs
// concurrently. The summary is always produced; the error reports a
// failed final write or summary persist.
func (r *Recorder) Close(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Summary{}, ErrSessionClosed
	}
	r.closed = true
	id := r.meta.ID
	final := r.spill
	r.spill = nil
	r.mu.Unlock()

	final = append(final, r.drain()...)

	// One more budgeted attempt covers spilled batches too: a degraded
	// session still gets its data written if storage recovered.
	var writeErr error
	if len(final) > 0 {
		writeErr = r.tryAppend(ctx, id, final)
		if writeErr != nil {
			r.mu.Lock()
			r.degraded = true
			r.mu.Unlock()
			r.logger.Printf("recorder: final flush of %d samples failed: %v", len(final), writeErr)
		}
	}

	summary := r.buildSummary()
	if err := r.store.CloseSession(ctx, summary); err != nil {
		r.logger.Printf("recorder: close session %s: %v", id, err)
		return summary, fmt.Errorf("recorder: close session: %w", err)
	}
	r.logger.Printf("recorder: session %s closed: %d samples, %d flushed, %d lost, %v",
		id, summary.Samples, summary.Flushed, summary.Lost, summary.Duration.Round(time.Millisecond))
	if writeErr != nil {
		return summary, fmt.Errorf("recorder: final flush: %w", writeErr)
	}
	return summary, nil
}

func (r *Recorder) buildSummary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	ended := r.clock.Now()
	channelErrors := make(map[string]uint64, len(r.invalid))
	for name, n := range r.invalid {
		channelErrors[name] = n
	}
	return Summary{
		SessionID:     r.meta.ID,
		Name:          r.meta.Name,
		StartedAt:     r.meta.StartedAt,
		EndedAt:       ended,
		Duration:      ended.Sub(r.meta.StartedAt),
		Samples:       r.pushed,
		Flushed:       r.flushed,
		Lost:          r.lost,
		Degraded:      r.degraded,
		ChannelErrors: channelErrors,
		Vehicle:       r.meta.Vehicle,
	}
}
