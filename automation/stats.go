package automation

import (
	"sync"
	"time"
)

// statsCollector tracks aggregate dispatch counters. Each ProcessEvent call
// contributes exactly one increment and one timing sample regardless of how
// many rules it matched.
type statsCollector struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	averageMs float64
}

// record folds one dispatch into the counters. The average uses the
// recency-weighted update avg = (avg + sample) / 2 rather than a true mean,
// deliberately weighting recent dispatches more heavily.
func (s *statsCollector) record(elapsed time.Duration, failed bool) {
	ms := float64(elapsed) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if failed {
		s.failed++
	} else {
		s.succeeded++
	}
	s.averageMs = (s.averageMs + ms) / 2
}

func (s *statsCollector) snapshot() (total, succeeded, failed int64, averageMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.succeeded, s.failed, s.averageMs
}
