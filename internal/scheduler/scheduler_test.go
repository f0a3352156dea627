package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"loramapper/internal/gps"
	"loramapper/internal/indicator"
	"loramapper/internal/observability"
)

type fakeAcquirer struct {
	mu       sync.Mutex
	fix      gps.Fix
	err      error
	calls    int
	timeouts []time.Duration
	during   func()
}

func (f *fakeAcquirer) Acquire(_ context.Context, timeout time.Duration) (gps.Fix, error) {
	f.mu.Lock()
	f.calls++
	f.timeouts = append(f.timeouts, timeout)
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	return f.fix, f.err
}

type fakeTx struct {
	sent [][]byte
	err  error
}

func (f *fakeTx) Send(_ context.Context, p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	return len(p), nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []indicator.State
}

func (r *stateRecorder) Set(s indicator.State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) get() []indicator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]indicator.State(nil), r.states...)
}

func stubAfter(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	prev := afterFn
	afterFn = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	t.Cleanup(func() { afterFn = prev })
	return &waits
}

var munich = gps.Fix{Quality: 1, Satellites: 8, HDOP: 0.9, LatDeg: 48.1173, LonDeg: 11.516666666666667, AltM: 545.4}

func equalStates(a, b []indicator.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunCycleFixSent(t *testing.T) {
	waits := stubAfter(t)
	acq := &fakeAcquirer{fix: munich}
	tx := &fakeTx{}
	rec := &stateRecorder{}
	s := New(Config{AcquireTimeout: 5 * time.Second, LEDHold: 200 * time.Millisecond}, acq, tx, rec)

	before := testutil.ToFloat64(observability.Cycles.WithLabelValues(string(FixSent)))
	r := s.RunCycle(context.Background())

	if r.Outcome != FixSent || r.Err != nil || r.Sent != 9 {
		t.Fatalf("report=%+v", r)
	}
	if r.Payload != "C46EF988308B022109" {
		t.Fatalf("payload=%s", r.Payload)
	}
	if d := r.Decoded; d == nil || d.AltM != 545 || d.HDOP != 0.9 || math.Abs(d.LatDeg-munich.LatDeg) > 1e-4 || math.Abs(d.LonDeg-munich.LonDeg) > 1e-4 {
		t.Fatalf("decoded=%+v", r.Decoded)
	}
	if len(tx.sent) != 1 || len(tx.sent[0]) != 9 {
		t.Fatalf("sent=%v", tx.sent)
	}
	if acq.calls != 1 || acq.timeouts[0] != 5*time.Second {
		t.Fatalf("acquire calls=%d timeouts=%v", acq.calls, acq.timeouts)
	}
	want := []indicator.State{indicator.Acquiring, indicator.FixFound, indicator.Idle}
	if got := rec.get(); !equalStates(got, want) {
		t.Fatalf("states=%v want %v", got, want)
	}
	if len(*waits) != 2 || (*waits)[0] != 200*time.Millisecond {
		t.Fatalf("waits=%v", *waits)
	}
	if got := testutil.ToFloat64(observability.Cycles.WithLabelValues(string(FixSent))) - before; got != 1 {
		t.Fatalf("fix_sent counter delta=%v want 1", got)
	}
}

func TestRunCycleRadioDisabled(t *testing.T) {
	stubAfter(t)
	rec := &stateRecorder{}
	s := New(Config{}, &fakeAcquirer{fix: munich}, nil, rec)

	r := s.RunCycle(context.Background())
	if r.Outcome != FixNotSent || !errors.Is(r.Err, ErrNotJoined) {
		t.Fatalf("report=%+v", r)
	}
	if r.Payload == "" || r.Error == "" {
		t.Fatalf("payload=%q error=%q", r.Payload, r.Error)
	}
	want := []indicator.State{indicator.Acquiring, indicator.FixFound, indicator.FixNotSent, indicator.Idle}
	if got := rec.get(); !equalStates(got, want) {
		t.Fatalf("states=%v want %v", got, want)
	}
	if s.Snapshot().Radio {
		t.Fatalf("radio reported present")
	}
}

func TestRunCycleSendFailure(t *testing.T) {
	stubAfter(t)
	boom := errors.New("duty cycle")
	s := New(Config{}, &fakeAcquirer{fix: munich}, &fakeTx{err: boom}, nil)
	r := s.RunCycle(context.Background())
	if r.Outcome != FixNotSent || !errors.Is(r.Err, boom) {
		t.Fatalf("report=%+v", r)
	}
}

func TestRunCycleNoFix(t *testing.T) {
	stubAfter(t)
	tx := &fakeTx{}
	rec := &stateRecorder{}
	acqErr := &gps.AcquireError{Attempts: 3, LastErr: gps.ErrNoFixObtained, Err: gps.ErrAcquisitionTimeout}
	s := New(Config{}, &fakeAcquirer{err: acqErr}, tx, rec)

	r := s.RunCycle(context.Background())
	if r.Outcome != NoFix || !errors.Is(r.Err, gps.ErrAcquisitionTimeout) || r.Fix != nil || r.Decoded != nil {
		t.Fatalf("report=%+v", r)
	}
	if len(tx.sent) != 0 {
		t.Fatalf("transmitted without a fix")
	}
	want := []indicator.State{indicator.Acquiring, indicator.NoFix, indicator.Idle}
	if got := rec.get(); !equalStates(got, want) {
		t.Fatalf("states=%v want %v", got, want)
	}
}

func TestRunCycleNoAcquirer(t *testing.T) {
	stubAfter(t)
	r := New(Config{}, nil, nil, nil).RunCycle(context.Background())
	if r.Outcome != NoFix || r.Err == nil {
		t.Fatalf("report=%+v", r)
	}
}

func TestRunCycleZeroHoldSkipsWaits(t *testing.T) {
	waits := stubAfter(t)
	New(Config{}, &fakeAcquirer{fix: munich}, nil, nil).RunCycle(context.Background())
	if len(*waits) != 0 {
		t.Fatalf("waits=%v want none", *waits)
	}
}

func TestSnapshotAndObservers(t *testing.T) {
	stubAfter(t)
	acq := &fakeAcquirer{fix: munich}
	s := New(Config{}, acq, &fakeTx{}, nil)
	var seen []uint64
	s.OnReport(func(r Report) { seen = append(seen, r.Seq) })

	s.RunCycle(context.Background())
	acq.err = errors.New("no fix")
	s.RunCycle(context.Background())

	snap := s.Snapshot()
	if snap.Cycles != 2 || snap.ByKind[FixSent] != 1 || snap.ByKind[NoFix] != 1 {
		t.Fatalf("snap=%+v", snap)
	}
	if snap.Last == nil || snap.Last.Seq != 2 || snap.Last.Outcome != NoFix {
		t.Fatalf("last=%+v", snap.Last)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("seen=%v", seen)
	}

	snap.ByKind[FixSent] = 99
	if s.Snapshot().ByKind[FixSent] != 1 {
		t.Fatalf("snapshot aliases internal state")
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	reads   int
	onRead  func(n int)
}

func (f *fakeTicker) C() <-chan time.Time {
	f.reads++
	if f.onRead != nil {
		f.onRead(f.reads)
	}
	return f.ch
}

func (f *fakeTicker) Stop() { f.stopped = true }

func withFakeTicker(t *testing.T) (*fakeTicker, *time.Duration) {
	t.Helper()
	ft := &fakeTicker{ch: make(chan time.Time, 4)}
	var period time.Duration
	prev := newTickerFn
	newTickerFn = func(d time.Duration) ticker {
		period = d
		return ft
	}
	t.Cleanup(func() { newTickerFn = prev })
	return ft, &period
}

func TestRunSkipsTriggersDuringOverrun(t *testing.T) {
	stubAfter(t)
	ft, period := withFakeTicker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acq := &fakeAcquirer{fix: munich}
	s := New(Config{Period: 30 * time.Second}, acq, &fakeTx{}, nil)

	cycles := 0
	acq.during = func() {
		cycles++
		if cycles == 1 {
			// Two triggers land while the first cycle is still running.
			ft.ch <- time.Now()
			ft.ch <- time.Now()
		}
	}
	s.OnReport(func(r Report) {
		ft.ch <- time.Now()
		cancel()
	})

	before := testutil.ToFloat64(observability.CyclesSkipped)
	ft.ch <- time.Now()
	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if *period != 30*time.Second {
		t.Fatalf("period=%v", *period)
	}
	// The two overrun triggers and the one queued by the report callback
	// are all dropped before the loop notices the cancellation.
	snap := s.Snapshot()
	if snap.Cycles != 1 || snap.Skipped != 3 {
		t.Fatalf("cycles=%d skipped=%d", snap.Cycles, snap.Skipped)
	}
	if got := testutil.ToFloat64(observability.CyclesSkipped) - before; got != 3 {
		t.Fatalf("skipped counter delta=%v want 3", got)
	}
	if !ft.stopped {
		t.Fatalf("ticker not stopped")
	}
}

func TestRunStartImmediately(t *testing.T) {
	stubAfter(t)
	ft, _ := withFakeTicker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acq := &fakeAcquirer{fix: munich}
	s := New(Config{StartImmediately: true}, acq, nil, nil)
	// Read 1 is the drain after the immediate cycle; read 2 is the loop.
	ft.onRead = func(n int) {
		if n == 2 {
			ft.ch <- time.Now()
		}
	}
	s.OnReport(func(r Report) {
		if r.Seq == 2 {
			cancel()
		}
	})

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if acq.calls != 2 {
		t.Fatalf("acquire calls=%d want 2", acq.calls)
	}
}
