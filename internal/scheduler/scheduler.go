// Package scheduler runs the beacon cycle: acquire a GNSS fix, encode it,
// transmit it if the radio is joined, and report the outcome to the
// indicator. Cycles never overlap; ticks that arrive while a cycle overruns
// the period are dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"loramapper/internal/gps"
	"loramapper/internal/indicator"
	"loramapper/internal/observability"
	"loramapper/internal/payload"
)

var afterFn = time.After

var newTickerFn = func(d time.Duration) ticker { return realTicker{time.NewTicker(d)} }

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ErrNotJoined marks a cycle that found a fix but had no radio to send it on.
var ErrNotJoined = errors.New("scheduler: radio not joined")

const (
	DefaultPeriod         = 180 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
	DefaultLEDHold        = 200 * time.Millisecond
)

type Outcome string

const (
	FixSent    Outcome = "fix_sent"
	FixNotSent Outcome = "fix_not_sent"
	NoFix      Outcome = "no_fix"
)

type Config struct {
	Period         time.Duration
	AcquireTimeout time.Duration
	// LEDHold is how long Acquiring and the outcome state stay visible.
	LEDHold          time.Duration
	StartImmediately bool
}

// Acquirer yields one fix within timeout; *gps.Acquirer satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, timeout time.Duration) (gps.Fix, error)
}

// Transmitter sends one frame; *lorawan.Handle satisfies it.
type Transmitter interface {
	Send(ctx context.Context, p []byte) (int, error)
}

type Report struct {
	Seq       uint64            `json:"seq"`
	StartedAt time.Time         `json:"started_at"`
	Outcome   Outcome           `json:"outcome"`
	Fix       *gps.Fix          `json:"fix,omitempty"`
	Payload   string            `json:"payload,omitempty"`
	// Decoded is what the network side reads back from Payload.
	Decoded   *payload.Position `json:"decoded,omitempty"`
	Sent      int               `json:"sent_bytes"`
	Elapsed   time.Duration     `json:"elapsed_ns"`
	Error     string            `json:"error,omitempty"`

	Err error `json:"-"`
}

type Snapshot struct {
	Cycles  uint64             `json:"cycles"`
	Skipped uint64             `json:"skipped"`
	ByKind  map[Outcome]uint64 `json:"by_outcome"`
	Last    *Report            `json:"last,omitempty"`
	Radio   bool               `json:"radio"`
}

type Scheduler struct {
	cfg  Config
	acq  Acquirer
	tx   Transmitter
	sink indicator.Sink

	observers []func(Report)

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a scheduler. tx may be nil when the radio is disabled or the
// join failed; cycles then acquire and report but never transmit.
func New(cfg Config, acq Acquirer, tx Transmitter, sink indicator.Sink) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.LEDHold < 0 {
		cfg.LEDHold = 0
	}
	if sink == nil {
		sink = indicator.Discard
	}
	return &Scheduler{
		cfg:  cfg,
		acq:  acq,
		tx:   tx,
		sink: sink,
		snap: Snapshot{ByKind: map[Outcome]uint64{}, Radio: tx != nil},
	}
}

// OnReport registers fn to receive every cycle report. Not safe to call
// once Run has started.
func (s *Scheduler) OnReport(fn func(Report)) {
	if fn != nil {
		s.observers = append(s.observers, fn)
	}
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.ByKind = make(map[Outcome]uint64, len(s.snap.ByKind))
	for k, v := range s.snap.ByKind {
		out.ByKind[k] = v
	}
	if s.snap.Last != nil {
		last := *s.snap.Last
		out.Last = &last
	}
	return out
}

// Run fires a cycle every period until ctx is cancelled. A cycle that
// overruns the period causes the pending trigger to be skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("scheduler: started period=%s acquire_timeout=%s radio=%t", s.cfg.Period, s.cfg.AcquireTimeout, s.tx != nil)
	t := newTickerFn(s.cfg.Period)
	defer t.Stop()

	if s.cfg.StartImmediately {
		s.RunCycle(ctx)
		s.skipPending(t)
	}
	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: stopped")
			return ctx.Err()
		case <-t.C():
			s.RunCycle(ctx)
			s.skipPending(t)
		}
	}
}

func (s *Scheduler) skipPending(t ticker) {
	for {
		select {
		case <-t.C():
			observability.CyclesSkipped.Inc()
			s.mu.Lock()
			s.snap.Skipped++
			s.mu.Unlock()
			log.Printf("scheduler: cycle overran period=%s, trigger skipped", s.cfg.Period)
		default:
			return
		}
	}
}

// RunCycle runs exactly one acquisition and at most one transmission.
func (s *Scheduler) RunCycle(ctx context.Context) Report {
	s.mu.Lock()
	s.snap.Cycles++
	seq := s.snap.Cycles
	s.mu.Unlock()

	r := Report{Seq: seq, StartedAt: time.Now().UTC()}
	start := time.Now()

	s.sink.Set(indicator.Acquiring)
	s.hold(ctx)

	fix, err := s.acquire(ctx)
	switch {
	case err != nil:
		r.Outcome = NoFix
		r.Err = err
		s.sink.Set(indicator.NoFix)
		log.Printf("scheduler: no position: %v", err)
	default:
		r.Fix = &fix
		s.sink.Set(indicator.FixFound)
		log.Printf("scheduler: current position: %s", fix)

		p := payload.Encode(fix)
		r.Payload = p.String()
		pos := payload.Decode(p)
		r.Decoded = &pos
		if s.tx == nil {
			r.Outcome = FixNotSent
			r.Err = ErrNotJoined
		} else if n, serr := s.tx.Send(ctx, p.Bytes()); serr != nil {
			r.Outcome = FixNotSent
			r.Err = serr
		} else {
			r.Outcome = FixSent
			r.Sent = n
		}
		if r.Outcome == FixNotSent {
			s.sink.Set(indicator.FixNotSent)
			log.Printf("scheduler: payload %s (lat=%.5f lon=%.5f alt=%d) not sent: %v",
				r.Payload, pos.LatDeg, pos.LonDeg, pos.AltM, r.Err)
		}
	}

	s.hold(ctx)
	s.sink.Set(indicator.Idle)

	r.Elapsed = time.Since(start)
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	observability.Cycles.WithLabelValues(string(r.Outcome)).Inc()
	log.Printf("scheduler: cycle=%d outcome=%s elapsed=%s", r.Seq, r.Outcome, r.Elapsed.Round(time.Millisecond))

	s.mu.Lock()
	s.snap.ByKind[r.Outcome]++
	last := r
	s.snap.Last = &last
	s.mu.Unlock()

	for _, fn := range s.observers {
		fn(r)
	}
	return r
}

func (s *Scheduler) acquire(ctx context.Context) (gps.Fix, error) {
	if s.acq == nil {
		return gps.Fix{}, fmt.Errorf("scheduler: no gnss source")
	}
	return s.acq.Acquire(ctx, s.cfg.AcquireTimeout)
}

func (s *Scheduler) hold(ctx context.Context) {
	if s.cfg.LEDHold <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-afterFn(s.cfg.LEDHold):
	}
}
