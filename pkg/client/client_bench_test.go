package client_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Run with: go test -bench=. -benchtime=10s ./pkg/client/

func BenchmarkSendCacheHit(b *testing.B) {
	c := serve(b, newStackServer())
	ctx := context.Background()

	if _, err := c.Send(ctx, "bench-room", "warm"); err != nil {
		b.Fatalf("Failed to warm: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Send(ctx, "bench-room", "hit"); err != nil {
			b.Fatalf("Failed to send: %v", err)
		}
	}
}

func BenchmarkSendCreate(b *testing.B) {
	c := serve(b, newStackServer())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Send(ctx, fmt.Sprintf("room-%d", i), "new"); err != nil {
			b.Fatalf("Failed to send: %v", err)
		}
	}
}

// every goroutine races to create the same cold rooms
func BenchmarkSendContention(b *testing.B) {
	c := serve(b, newStackServer())
	ctx := context.Background()
	var seq atomic.Int64

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			room := fmt.Sprintf("contended-%d", seq.Add(1)/8)
			if _, err := c.Send(ctx, room, "x"); err != nil {
				b.Errorf("Failed to send: %v", err)
				return
			}
		}
	})
}

type latencyStats struct {
	samples []time.Duration
	mu      sync.Mutex
}

func (s *latencyStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, d)
}

func (s *latencyStats) calculate() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return nil
	}

	sort.Slice(s.samples, func(i, j int) bool {
		return s.samples[i] < s.samples[j]
	})

	percentile := func(p float64) time.Duration {
		idx := int(float64(len(s.samples)) * p)
		if idx >= len(s.samples) {
			idx = len(s.samples) - 1
		}
		return s.samples[idx]
	}

	return map[string]time.Duration{
		"min": s.samples[0],
		"p50": percentile(0.50),
		"p90": percentile(0.90),
		"p99": percentile(0.99),
		"max": s.samples[len(s.samples)-1],
	}
}

func TestPercentileSendMixed(t *testing.T) {
	if testing.Short() {
		t.Skip("latency sampling")
	}

	c := serve(t, newStackServer())
	ctx := context.Background()
	stats := &latencyStats{}

	const iterations = 500
	for i := 0; i < iterations; i++ {
		// one create for every nine cache hits
		room := fmt.Sprintf("room-%d", i/10)
		start := time.Now()
		if _, err := c.Send(ctx, room, "sample"); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
		stats.record(time.Since(start))
	}

	p := stats.calculate()
	for _, k := range []string{"min", "p50", "p90", "p99", "max"} {
		t.Logf("  %-4s %v", k, p[k])
	}
}
