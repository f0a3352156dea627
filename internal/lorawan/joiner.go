package lorawan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"loramapper/internal/indicator"
	"loramapper/internal/observability"
)

var afterFn = time.After

const (
	DefaultBackoff  = 2500 * time.Millisecond
	DefaultBlink    = 200 * time.Millisecond
	DefaultDataRate = 5
	DefaultPort     = 2
)

type Config struct {
	// Backoff is the wait between join polls.
	Backoff time.Duration
	// Blink is how long the indicator shows Idle before Joining on each
	// poll, and Joined once the radio is up.
	Blink time.Duration
	// DataRate is applied once joined; nil means DefaultDataRate so that
	// DR0 stays selectable.
	DataRate *int
	Port     int
}

func (c Config) withDefaults() Config {
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Blink <= 0 {
		c.Blink = DefaultBlink
	}
	dr := DefaultDataRate
	if c.DataRate != nil {
		dr = *c.DataRate
	}
	c.DataRate = &dr
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	return c
}

type Joiner struct {
	modem Modem
	cfg   Config
	sink  indicator.Sink

	mu    sync.Mutex
	state JoinState
}

// NewJoiner returns a joiner driving m. sink may be nil.
func NewJoiner(m Modem, cfg Config, sink indicator.Sink) *Joiner {
	if sink == nil {
		sink = indicator.Discard
	}
	return &Joiner{modem: m, cfg: cfg.withDefaults(), sink: sink}
}

func (j *Joiner) State() JoinState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Joiner) update(fn func(*JoinState)) {
	j.mu.Lock()
	fn(&j.state)
	j.mu.Unlock()
}

func (j *Joiner) fail(reason string, err error) error {
	j.update(func(s *JoinState) {
		s.Phase = JoinFailed
		s.Reason = reason
	})
	observability.Joined.Set(0)
	return err
}

// Join activates the device and returns a handle for uplinks. OTAA polls
// until accepted or ctx ends; ABP completes locally.
func (j *Joiner) Join(ctx context.Context, req Request) (*Handle, error) {
	j.update(func(s *JoinState) {
		*s = JoinState{Phase: NotJoined, Mode: req.Mode.String()}
	})

	if req.Enable != nil {
		on, err := req.Enable.Value()
		if err != nil {
			log.Printf("lorawan: enable signal read failed: %v", err)
			return nil, j.fail("disabled", fmt.Errorf("%w: enable signal: %v", ErrDisabled, err))
		}
		if !on {
			log.Printf("lorawan: radio disabled")
			return nil, j.fail("disabled", ErrDisabled)
		}
	}
	if req.Mode != OTAA && req.Mode != ABP {
		return nil, j.fail("unsupported_mode", fmt.Errorf("%w: %s", ErrUnsupportedMode, req.Mode))
	}
	if j.modem == nil {
		return nil, j.fail("no_modem", errors.New("lorawan: no modem"))
	}

	devEUI, err := j.modem.DevEUI(ctx)
	if err != nil {
		log.Printf("lorawan: read dev eui failed: %v", err)
	} else {
		devEUI = strings.ToUpper(devEUI)
		j.update(func(s *JoinState) { s.DevEUI = devEUI })
	}
	log.Printf("lorawan: initializing mode=%s dev_eui=%s", req.Mode, devEUI)

	if missing := req.Credentials.missing(req.Mode); len(missing) > 0 {
		log.Printf("lorawan: credentials not set: %s", strings.Join(missing, ","))
		if req.Mode == OTAA {
			log.Printf("lorawan: register dev_eui=%s with the network to obtain an app key", devEUI)
		}
		return nil, j.fail("missing_credentials", fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ",")))
	}

	switch req.Mode {
	case ABP:
		c := req.Credentials
		if err := j.modem.ActivateABP(ctx, c.DevAddr, c.NwkSKey, c.AppSKey); err != nil {
			return nil, j.fail("abp_activation", fmt.Errorf("lorawan: abp activation: %w", err))
		}
	case OTAA:
		if err := j.joinOTAA(ctx, req.Credentials); err != nil {
			return nil, err
		}
	}

	dr := *j.cfg.DataRate
	if err := j.modem.SetDataRate(ctx, dr); err != nil {
		// The modem keeps its previous data rate; uplinks still work.
		log.Printf("lorawan: set data rate %d failed: %v", dr, err)
	}

	j.update(func(s *JoinState) {
		s.Phase = Joined
		s.Reason = ""
	})
	observability.Joined.Set(1)
	log.Printf("lorawan: joined mode=%s dr=%d port=%d", req.Mode, dr, j.cfg.Port)

	j.sink.Set(indicator.Joined)
	// Cancellation here only shortens the Joined blink; the handle is valid.
	_ = j.sleep(ctx, j.cfg.Blink)
	j.sink.Set(indicator.Idle)
	return &Handle{modem: j.modem, port: j.cfg.Port}, nil
}

func (j *Joiner) joinOTAA(ctx context.Context, c Credentials) error {
	j.update(func(s *JoinState) { s.Phase = Joining })
	j.sink.Set(indicator.Joining)

	requested := false
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return j.fail("cancelled", err)
		}
		if !requested {
			if err := j.modem.JoinOTAA(ctx, c.AppEUI, c.AppKey); err != nil {
				log.Printf("lorawan: join request failed: %v", err)
			} else {
				requested = true
			}
		}
		if requested {
			ok, err := j.modem.Joined(ctx)
			if ok {
				return nil
			}
			if errors.Is(err, ErrJoinRejected) {
				// Ask again on the next poll.
				requested = false
			}
			if err != nil {
				log.Printf("lorawan: join poll: %v", err)
			}
		}

		observability.JoinAttempts.Inc()
		j.update(func(s *JoinState) { s.Attempts = attempt })
		log.Printf("lorawan: joining... attempt=%d", attempt)

		j.sink.Set(indicator.Idle)
		if err := j.sleep(ctx, j.cfg.Blink); err != nil {
			return j.fail("cancelled", err)
		}
		j.sink.Set(indicator.Joining)
		if err := j.sleep(ctx, j.cfg.Backoff); err != nil {
			return j.fail("cancelled", err)
		}
	}
}

func (j *Joiner) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-afterFn(d):
		return nil
	}
}

// Handle is a joined radio. It is safe to share read-only once returned;
// the scheduler is its only sender.
type Handle struct {
	modem Modem
	port  int
}

func (h *Handle) Port() int { return h.port }

// Send transmits p as one unconfirmed uplink and returns the byte count
// handed to the radio.
func (h *Handle) Send(ctx context.Context, p []byte) (int, error) {
	if h == nil || h.modem == nil {
		return 0, errors.New("lorawan: send on nil handle")
	}
	if err := h.modem.Send(ctx, h.port, p); err != nil {
		observability.UplinkErrors.Inc()
		return 0, fmt.Errorf("lorawan: send: %w", err)
	}
	observability.Uplinks.Inc()
	log.Printf("lorawan: message sent: %s (%d bytes)", strings.ToUpper(hex.EncodeToString(p)), len(p))
	return len(p), nil
}
