package web

import (
	"sync"
	"sync/atomic"
	"time"

	"nmea-relay/internal/gps"
	"nmea-relay/internal/session"
)

// Status tracks the relay loop for /api/status. Counters come from the
// session itself through the registered sources.
type Status struct {
	startUnixNano int64
	cycles        uint64
	lastTickNano  int64
	name          atomic.Value // string
	kind          atomic.Value // string
	interval      atomic.Value // string

	mu    sync.RWMutex
	stats func() session.Stats
	fix   func(time.Time) gps.Fix
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.name.Store("")
	s.kind.Store("")
	s.interval.Store("")
	return s
}

func (s *Status) SetStatic(name, kind, interval string) {
	if name != "" {
		s.name.Store(name)
	}
	if kind != "" {
		s.kind.Store(kind)
	}
	if interval != "" {
		s.interval.Store(interval)
	}
}

// SetSources registers where snapshots read session counters and the current
// fix from. Either may be nil.
func (s *Status) SetSources(stats func() session.Stats, fix func(time.Time) gps.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	s.fix = fix
}

func (s *Status) MarkTick(nowUTC time.Time) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.cycles, 1)
}

type StatusSnapshot struct {
	Service     string         `json:"service"`
	NowUTC      string         `json:"now_utc"`
	UptimeSec   int64          `json:"uptime_sec"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Interval    string         `json:"interval"`
	Cycles      uint64         `json:"cycles"`
	LastTickUTC string         `json:"last_tick_utc,omitempty"`
	Session     *session.Stats `json:"session,omitempty"`
	Fix         *gps.Fix       `json:"fix,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   serviceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Name:      s.name.Load().(string),
		Kind:      s.kind.Load().(string),
		Interval:  s.interval.Load().(string),
		Cycles:    atomic.LoadUint64(&s.cycles),
	}
	if lastTick := atomic.LoadInt64(&s.lastTickNano); lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}

	s.mu.RLock()
	stats, fix := s.stats, s.fix
	s.mu.RUnlock()
	if stats != nil {
		st := stats()
		snap.Session = &st
	}
	if fix != nil {
		f := fix(nowUTC)
		snap.Fix = &f
	}
	return snap
}
