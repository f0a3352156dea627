package web

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"loramapper/internal/indicator"
	"loramapper/internal/lorawan"
	"loramapper/internal/scheduler"
)

// Static describes configuration that does not change at runtime.
type Static struct {
	GNSSDevice     string `json:"gnss_device,omitempty"`
	RadioBackend   string `json:"radio_backend,omitempty"`
	RadioMode      string `json:"radio_mode,omitempty"`
	Period         string `json:"period,omitempty"`
	AcquireTimeout string `json:"acquire_timeout,omitempty"`
}

// Status is the shared view served by /api/status and /ws. It is an
// indicator.Sink so the scheduler and joiner can feed it directly.
type Status struct {
	startUnixNano int64
	state         int32
	stateNano     int64
	static        atomic.Value // Static

	mu     sync.RWMutex
	join   func() lorawan.JoinState
	cycles func() scheduler.Snapshot

	events *EventBroadcaster
}

func NewStatus() *Status {
	s := &Status{events: NewEventBroadcaster()}
	now := time.Now().UTC()
	atomic.StoreInt64(&s.startUnixNano, now.UnixNano())
	atomic.StoreInt64(&s.stateNano, now.UnixNano())
	s.static.Store(Static{})
	return s
}

func (s *Status) SetStatic(info Static) { s.static.Store(info) }

// SetSources installs the providers polled by Snapshot. Either may be nil.
func (s *Status) SetSources(join func() lorawan.JoinState, cycles func() scheduler.Snapshot) {
	s.mu.Lock()
	s.join = join
	s.cycles = cycles
	s.mu.Unlock()
}

func (s *Status) Events() *EventBroadcaster { return s.events }

// Set records the indicator state and pushes it to live clients.
func (s *Status) Set(st indicator.State) {
	now := time.Now().UTC()
	atomic.StoreInt32(&s.state, int32(st))
	atomic.StoreInt64(&s.stateNano, now.UnixNano())
	s.events.Publish(Event{Type: "state", At: now.Format(time.RFC3339Nano), State: st.String()})
}

// RecordCycle pushes a finished cycle to live clients.
func (s *Status) RecordCycle(r scheduler.Report) {
	s.events.Publish(Event{Type: "cycle", Report: &r})
}

type StatusSnapshot struct {
	Service        string              `json:"service"`
	Version        string              `json:"version,omitempty"`
	Commit         string              `json:"commit,omitempty"`
	NowUTC         string              `json:"now_utc"`
	UptimeSec      int64               `json:"uptime_sec"`
	Indicator      string              `json:"indicator"`
	IndicatorSince string              `json:"indicator_since_utc"`
	Static         Static              `json:"static"`
	Join           *lorawan.JoinState  `json:"join,omitempty"`
	Cycles         *scheduler.Snapshot `json:"cycles,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:        "loramapper",
		NowUTC:         nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:      int64(nowUTC.Sub(start).Seconds()),
		Indicator:      indicator.State(atomic.LoadInt32(&s.state)).String(),
		IndicatorSince: time.Unix(0, atomic.LoadInt64(&s.stateNano)).UTC().Format(time.RFC3339Nano),
		Static:         s.static.Load().(Static),
	}
	snap.Version, snap.Commit = buildVersion()

	s.mu.RLock()
	join, cycles := s.join, s.cycles
	s.mu.RUnlock()
	if join != nil {
		js := join()
		snap.Join = &js
	}
	if cycles != nil {
		cs := cycles()
		snap.Cycles = &cs
	}
	return snap
}

func buildVersion() (version, commit string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return "", ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			commit = s.Value
		}
	}
	return bi.Main.Version, commit
}
