// Package stats samples read latencies into a t-digest and reports
// quantiles on a fixed interval.
package stats

import (
	"sync"
	"time"

	tdigest "github.com/caio/go-tdigest"
	"go.uber.org/atomic"

	"github.com/pg-sharding/shardkv/pkg/shardlog"
)

type ReadSampler struct {
	mu sync.Mutex
	td *tdigest.TDigest

	// Every sampleRate'th observation is recorded.
	sampleRate uint64
	seen       atomic.Uint64
	recorded   atomic.Uint64
}

func NewReadSampler(sampleRate int) *ReadSampler {
	if sampleRate < 1 {
		sampleRate = 1
	}
	td, _ := tdigest.New()
	return &ReadSampler{
		td:         td,
		sampleRate: uint64(sampleRate),
	}
}

func (s *ReadSampler) Observe(d time.Duration) {
	if s.seen.Inc()%s.sampleRate != 0 {
		return
	}
	s.recorded.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.td.Add(float64(d.Microseconds()) / 1000)
}

// Quantile reports the latency quantile in milliseconds.
func (s *ReadSampler) Quantile(q float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.td.Quantile(q)
}

func (s *ReadSampler) Recorded() uint64 {
	return s.recorded.Load()
}

// StartReporting logs quantiles every interval until stop is closed.
func (s *ReadSampler) StartReporting(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.Recorded() == 0 {
					continue
				}
				shardlog.Zero.Info().
					Float64("p50_ms", s.Quantile(0.5)).
					Float64("p95_ms", s.Quantile(0.95)).
					Float64("p99_ms", s.Quantile(0.99)).
					Uint64("samples", s.Recorded()).
					Msg("read latency")
			}
		}
	}()
}
