package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestLatencyTracker_Stats(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	stats := lt.Stats()
	if stats.Count != 100 {
		t.Fatalf("count = %d, want 100", stats.Count)
	}
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 50*time.Millisecond {
		t.Errorf("p50 = %v, want 50ms", stats.P50)
	}
}

func TestLatencyTracker_SlidingWindow(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 0; i < 25; i++ {
		lt.Record(time.Duration(i) * time.Microsecond)
	}

	stats := lt.Stats()
	if stats.Count > 10 {
		t.Errorf("window exceeded: %d samples", stats.Count)
	}
	if stats.Max != 24*time.Microsecond {
		t.Errorf("newest sample lost, max = %v", stats.Max)
	}
}

func TestLatencyTracker_Empty(t *testing.T) {
	if got := NewLatencyTracker(0).Stats(); got.Count != 0 {
		t.Errorf("expected empty stats, got %+v", got)
	}
}

func TestCounters_Concurrent(t *testing.T) {
	m := NewRealtime()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.PushesSent.Inc()
				m.ActiveSessions.Inc()
				m.ActiveSessions.Dec()
			}
		}()
	}
	wg.Wait()

	if got := m.PushesSent.Value(); got != 8000 {
		t.Errorf("pushes = %d, want 8000", got)
	}
	if got := m.ActiveSessions.Value(); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
	if _, ok := m.Snapshot()["fanout_latency"]; !ok {
		t.Error("snapshot missing fanout latency")
	}
}
