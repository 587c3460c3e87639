package telemetry

import (
	"testing"
	"time"
)

func testSample(at time.Time, speed float64) Sample {
	return Sample{
		At:      at,
		Elapsed: 1.0,
		Chans: map[string]Channel{
			ChanSpeedMPH: {Value: speed, Valid: true},
		},
		Status: map[string]bool{SourceOBD: true},
	}
}

func TestHubLatest(t *testing.T) {
	h := NewHub()

	if _, ok := h.Latest(); ok {
		t.Error("empty hub should report no latest sample")
	}

	now := time.Date(2025, 8, 22, 10, 0, 0, 0, time.UTC)
	h.Push(testSample(now, 42))
	h.Push(testSample(now.Add(20*time.Millisecond), 43))

	got, ok := h.Latest()
	if !ok {
		t.Fatal("hub should have a latest sample after pushes")
	}
	if v, _ := got.Value(ChanSpeedMPH); v != 43 {
		t.Errorf("latest speed = %v, want 43", v)
	}
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()

	now := time.Date(2025, 8, 22, 10, 0, 0, 0, time.UTC)
	h.Push(testSample(now, 42))

	select {
	case s := <-ch:
		if v, _ := s.Value(ChanSpeedMPH); v != 42 {
			t.Errorf("subscribed speed = %v, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed sample")
	}

	h.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()

	// Overfill the subscriber buffer; pushes must not block.
	now := time.Date(2025, 8, 22, 10, 0, 0, 0, time.UTC)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Push(testSample(now.Add(time.Duration(i)*20*time.Millisecond), float64(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked on a slow subscriber")
	}

	// The subscriber still sees the earliest buffered samples and the
	// hub still has the newest.
	s := <-ch
	if v, _ := s.Value(ChanSpeedMPH); v != 0 {
		t.Errorf("first buffered speed = %v, want 0", v)
	}
	latest, _ := h.Latest()
	if v, _ := latest.Value(ChanSpeedMPH); v != 99 {
		t.Errorf("latest speed = %v, want 99", v)
	}
}
