package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"loramapper/internal/config"
	"loramapper/internal/gpio"
	"loramapper/internal/gps"
	"loramapper/internal/indicator"
	"loramapper/internal/lorawan"
	"loramapper/internal/scheduler"
	"loramapper/internal/web"
)

// Hardware seams; tests swap them for fakes.
var (
	detectGNSSFn = gps.DetectDevice
	openGNSSFn   = func(device string, baud int) (io.ReadCloser, error) {
		p, err := gps.OpenSerial(device, baud)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	openATFn = func(device string, baud int) (lorawan.Modem, error) {
		m, err := lorawan.OpenAT(device, baud)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	dialUDPFn = func(dest, devEUI string) (lorawan.Modem, error) {
		m, err := lorawan.DialUDP(dest, devEUI)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	newRGBFn = func(r, g, b int) (indicator.Sink, io.Closer, error) {
		rgb, err := indicator.NewRGB(r, g, b)
		if err != nil {
			return nil, nil, err
		}
		return rgb, rgb, nil
	}
	newMQTTSinkFn = func(cfg indicator.MQTTConfig) (indicator.Sink, func(), error) {
		m, err := indicator.NewMQTTSink(cfg)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}
	serveFn = web.Serve
)

type runtime struct {
	cfg    config.Config
	status *web.Status
	logs   *web.LogBuffer
	sink   indicator.Multi

	joiner *lorawan.Joiner
	sched  *scheduler.Scheduler

	closers []func()
}

func newRuntime(cfg config.Config, logs *web.LogBuffer) *runtime {
	return &runtime{cfg: cfg, status: web.NewStatus(), logs: logs}
}

func (rt *runtime) onClose(fn func()) { rt.closers = append(rt.closers, fn) }

// Close releases hardware in reverse acquisition order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// setupIndicator builds the sink fan-out. LED and MQTT failures are logged
// and the beacon keeps running with the remaining sinks.
func (rt *runtime) setupIndicator() {
	rt.sink = indicator.Multi{&indicator.LogSink{}, rt.status}

	if g := rt.cfg.Indicator.GPIO; g.Enable {
		s, c, err := newRGBFn(g.RedPin, g.GreenPin, g.BluePin)
		if err != nil {
			log.Printf("indicator: rgb disabled: %v", err)
		} else {
			rt.sink = append(rt.sink, s)
			rt.onClose(func() { _ = c.Close() })
			log.Printf("indicator: rgb enabled pins=%d/%d/%d", g.RedPin, g.GreenPin, g.BluePin)
		}
	}
	if m := rt.cfg.Indicator.MQTT; m.Enable {
		s, closeFn, err := newMQTTSinkFn(indicator.MQTTConfig{Broker: m.Broker, ClientID: m.ClientID, Topic: m.Topic})
		if err != nil {
			log.Printf("indicator: mqtt disabled: %v", err)
		} else {
			rt.sink = append(rt.sink, s)
			rt.onClose(closeFn)
		}
	}
	rt.sink.Set(indicator.Idle)
}

// openGNSS powers the receiver after its UART is configured, so the first
// sentences are not lost to a port still in canonical mode.
func (rt *runtime) openGNSS() (*gps.Acquirer, string, error) {
	g := rt.cfg.GNSS
	device := g.Device
	if device == "" {
		device = detectGNSSFn()
		if device == "" {
			return nil, "", fmt.Errorf("gnss: no receiver found on /dev/ttyACM* or /dev/ttyUSB* (set gnss.device)")
		}
		log.Printf("gps: auto-detected device=%s", device)
	}

	var power gpio.Output
	if g.EnablePin > 0 {
		out, err := gpio.OpenOutput(g.EnablePin, false)
		if err != nil {
			return nil, "", fmt.Errorf("gnss enable pin %d: %w", g.EnablePin, err)
		}
		power = out
		rt.onClose(func() { _ = out.Close() })
	}

	port, err := openGNSSFn(device, g.Baud)
	if err != nil {
		return nil, "", fmt.Errorf("gnss open %s: %w", device, err)
	}
	rt.onClose(func() { _ = port.Close() })

	if power != nil {
		if err := power.Set(true); err != nil {
			return nil, "", fmt.Errorf("gnss power on: %w", err)
		}
	}
	log.Printf("gps enabled device=%s baud=%d timeout=%s", device, g.Baud, g.Timeout)
	return gps.NewAcquirer(port, g.PollInterval), device, nil
}

// openRadio returns the modem and enable signal. A nil modem with a nil
// error means the radio is disabled or unavailable; the joiner reports why.
func (rt *runtime) openRadio() (lorawan.Modem, lorawan.Signal) {
	l := rt.cfg.LoRa
	var enable lorawan.Signal = lorawan.Static(l.Enable)
	if !l.Enable {
		return nil, enable
	}
	if l.EnablePin > 0 {
		in, err := gpio.OpenInput(l.EnablePin)
		if err != nil {
			log.Printf("lorawan: enable pin %d unavailable, assuming enabled: %v", l.EnablePin, err)
		} else {
			enable = in
			rt.onClose(func() { _ = in.Close() })
		}
	}

	var (
		m   lorawan.Modem
		err error
	)
	switch l.Backend {
	case "udp":
		m, err = dialUDPFn(l.UDPDest, l.DevEUI)
	default:
		m, err = openATFn(l.Device, l.Baud)
	}
	if err != nil {
		log.Printf("lorawan: %s modem unavailable: %v", l.Backend, err)
		return nil, enable
	}
	rt.onClose(func() { _ = m.Close() })
	return m, enable
}

// join blocks until the radio is usable or the join gave up. The returned
// transmitter is nil when the beacon must run without uplinks.
func (rt *runtime) join(ctx context.Context, modem lorawan.Modem, enable lorawan.Signal) (scheduler.Transmitter, error) {
	l := rt.cfg.LoRa
	mode, err := lorawan.ParseMode(l.Mode)
	if err != nil && l.Enable {
		return nil, err
	}

	h, err := rt.joiner.Join(ctx, lorawan.Request{
		Mode: mode,
		Credentials: lorawan.Credentials{
			AppEUI:  l.AppEUI,
			AppKey:  l.AppKey,
			DevAddr: l.DevAddr,
			NwkSKey: l.NwkSKey,
			AppSKey: l.AppSKey,
		},
		Enable: enable,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("lorawan: continuing without radio: %v", err)
		return nil, nil
	}
	log.Printf("lorawan: uplinks on port=%d", h.Port())
	return h, nil
}

func (rt *runtime) Run(ctx context.Context) error {
	defer rt.Close()
	rt.setupIndicator()

	cfg := rt.cfg
	static := web.Static{
		RadioBackend:   cfg.LoRa.Backend,
		RadioMode:      cfg.LoRa.Mode,
		Period:         cfg.Cycle.Period.String(),
		AcquireTimeout: cfg.GNSS.Timeout.String(),
	}
	if !cfg.LoRa.Enable {
		static.RadioBackend = "disabled"
	}
	rt.status.SetStatic(static)

	if cfg.Web.Listen != "" {
		h := web.Handler(rt.status, rt.logs)
		go func() {
			if err := serveFn(ctx, cfg.Web.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("web: server stopped: %v", err)
			}
		}()
		log.Printf("web: listening on %s", cfg.Web.Listen)
	}

	acq, device, err := rt.openGNSS()
	if err != nil {
		return err
	}
	static.GNSSDevice = device
	rt.status.SetStatic(static)

	modem, enable := rt.openRadio()
	dataRate := cfg.LoRa.DataRate
	rt.joiner = lorawan.NewJoiner(modem, lorawan.Config{
		Backoff:  cfg.LoRa.JoinBackoff,
		DataRate: &dataRate,
		Port:     cfg.LoRa.Port,
	}, rt.sink)
	rt.status.SetSources(rt.joiner.State, nil)

	tx, err := rt.join(ctx, modem, enable)
	if err != nil {
		return err
	}

	rt.sched = scheduler.New(scheduler.Config{
		Period:           cfg.Cycle.Period,
		AcquireTimeout:   cfg.GNSS.Timeout,
		LEDHold:          cfg.Cycle.LEDHold,
		StartImmediately: cfg.Cycle.StartImmediately,
	}, acq, tx, rt.sink)
	rt.sched.OnReport(rt.status.RecordCycle)
	rt.status.SetSources(rt.joiner.State, rt.sched.Snapshot)

	err = rt.sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
