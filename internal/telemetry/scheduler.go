package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/trackday/internal/monitoring"
	"github.com/banshee-data/trackday/internal/timeutil"
)

// Source is the scheduler's view of a sensor adapter: a named,
// non-blocking latest-reading cache plus the fixed channel set the
// adapter owns.
type Source interface {
	Name() string
	Channels() []string
	Latest() Reading
}

// Sink receives emitted samples. Push may block briefly (the recorder's
// push is time-bounded) but must never block indefinitely.
type Sink interface {
	Push(Sample)
}

// SchedulerCounts reports tick accounting for status logging.
type SchedulerCounts struct {
	Emitted uint64
	Skipped uint64
}

// Scheduler ticks at a fixed period, merges the latest cached reading
// from every source into one timestamped Sample, and hands it to the
// sinks. It never blocks on a source: a stalled adapter only surfaces
// as stale channels.
type Scheduler struct {
	period  time.Duration
	stale   map[string]time.Duration
	clock   timeutil.Clock
	sources []Source
	sinks   []Sink

	mu       sync.Mutex
	started  time.Time
	lastEmit time.Time
	emitted  uint64
	skipped  uint64
}

// DefaultPeriod is the default tick interval (50 Hz).
const DefaultPeriod = 20 * time.Millisecond

// DefaultStaleness is used for sources with no configured threshold.
const DefaultStaleness = time.Second

// NewScheduler creates a scheduler over the given sources. staleness
// maps source names to the maximum reading age before that source's
// channels are emitted invalid; sources not listed use DefaultStaleness.
func NewScheduler(period time.Duration, staleness map[string]time.Duration, clock timeutil.Clock, sources []Source, sinks ...Sink) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{
		period:  period,
		stale:   staleness,
		clock:   clock,
		sources: sources,
		sinks:   sinks,
	}
}

// Run ticks until ctx is cancelled. At most one sample is emitted per
// tick period; if the host delays the loop, missed ticks are coalesced
// rather than burst, so sample timestamps strictly increase.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = s.clock.Now()
	s.mu.Unlock()

	monitoring.Logf("scheduler: sampling every %v across %d sources", s.period, len(s.sources))

	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			s.emit(now)
		}
	}
}

// Counts returns tick accounting since Run started.
func (s *Scheduler) Counts() SchedulerCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerCounts{Emitted: s.emitted, Skipped: s.skipped}
}

func (s *Scheduler) staleFor(source string) time.Duration {
	if d, ok := s.stale[source]; ok && d > 0 {
		return d
	}
	return DefaultStaleness
}

func (s *Scheduler) emit(now time.Time) {
	s.mu.Lock()
	// Ticks carrying a timestamp at or before the previous emit would
	// break the strict ordering contract; drop them.
	if !s.lastEmit.IsZero() && !now.After(s.lastEmit) {
		s.skipped++
		s.mu.Unlock()
		return
	}
	s.lastEmit = now
	start := s.started
	s.emitted++
	s.mu.Unlock()

	sample := Sample{
		At:      now,
		Elapsed: now.Sub(start).Seconds(),
		Chans:   make(map[string]Channel, len(Schema)),
		Status:  make(map[string]bool, len(s.sources)),
	}

	for _, src := range s.sources {
		r := src.Latest()
		age := now.Sub(r.At)
		fresh := r.Connected && !r.At.IsZero() && age <= s.staleFor(src.Name())
		sample.Status[src.Name()] = r.Connected
		for _, name := range src.Channels() {
			v, ok := r.Fields[name]
			sample.Chans[name] = Channel{Value: v, Valid: fresh && ok, Age: age}
		}
	}

	for _, sink := range s.sinks {
		sink.Push(sample)
	}
}
