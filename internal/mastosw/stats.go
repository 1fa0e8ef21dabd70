package mastosw

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type statsCollector struct {
	responses atomic.Uint64
	respBytes atomic.Uint64
	minBytes  atomic.Uint64
	maxBytes  atomic.Uint64

	mu       sync.Mutex
	outcomes map[string]uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{outcomes: map[string]uint64{}}
	s.minBytes.Store(math.MaxUint64)
	return s
}

// Observe records one mediated response and how it was answered.
func (s *statsCollector) Observe(outcome string, respBytes int) {
	n := uint64(max(respBytes, 0))
	s.responses.Add(1)
	s.respBytes.Add(n)

	for {
		cur := s.minBytes.Load()
		if n >= cur || s.minBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxBytes.Load()
		if n <= cur || s.maxBytes.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	s.outcomes[outcome]++
	s.mu.Unlock()
}

type statsSnapshot struct {
	Responses uint64
	RespBytes uint64
	MinBytes  uint64
	MaxBytes  uint64
	AvgBytes  uint64
	Outcomes  map[string]uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	count := s.responses.Load()
	s.mu.Lock()
	outcomes := make(map[string]uint64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	s.mu.Unlock()
	if count == 0 {
		return statsSnapshot{Outcomes: outcomes}
	}
	total := s.respBytes.Load()
	minv := s.minBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	return statsSnapshot{
		Responses: count,
		RespBytes: total,
		MinBytes:  minv,
		MaxBytes:  s.maxBytes.Load(),
		AvgBytes:  total / count,
		Outcomes:  outcomes,
	}
}

func (o statsSnapshot) outcomeString() string {
	keys := make([]string, 0, len(o.Outcomes))
	for k := range o.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatUint(o.Outcomes[k], 10))
	}
	return strings.Join(parts, " ")
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			keys, _ := s.store.Keys(s.life.CacheName())
			fields := []zap.Field{
				zap.String("phase", s.life.Phase().String()),
				zap.Int("cached", len(keys)),
				zap.Uint64("responses", ss.Responses),
				zap.String("resp_min", formatBytes(ss.MinBytes)),
				zap.String("resp_avg", formatBytes(ss.AvgBytes)),
				zap.String("resp_max", formatBytes(ss.MaxBytes)),
				zap.String("outcomes", ss.outcomeString()),
			}
			if rss, ok := residentBytes(); ok {
				fields = append(fields, zap.String("rss", formatBytes(rss)))
			}
			s.log.Info("stats", fields...)
		}
	}
}
