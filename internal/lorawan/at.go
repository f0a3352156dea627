package lorawan

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

var openPortFn = serial.Open

const (
	DefaultATBaud      = 115200
	defaultCommandWait = 3 * time.Second
	atPollInterval     = 20 * time.Millisecond
	maxATLineBytes     = 512
)

var errATTimeout = errors.New("lorawan: at command timeout")

// ATError is a modem-reported failure such as AT_PARAM_ERROR.
type ATError struct {
	Cmd  string
	Code string
}

func (e *ATError) Error() string { return fmt.Sprintf("lorawan: %s: %s", e.Cmd, e.Code) }

// ATModem drives an RUI3-style LoRaWAN module (RAK3172 and friends) over a
// serial line: commands end in CRLF, replies end with OK or AT_*_ERROR, and
// asynchronous +EVT: lines may arrive between replies.
type ATModem struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	wait    time.Duration
	pending []byte
	buf     []byte

	joinFailed bool
}

// OpenAT opens device as an 8N1 serial line with short-blocking reads.
func OpenAT(device string, baud int) (*ATModem, error) {
	if baud <= 0 {
		baud = DefaultATBaud
	}
	opts := serial.OpenOptions{
		PortName:              device,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
	port, err := openPortFn(opts)
	if err != nil {
		return nil, fmt.Errorf("lorawan: open %s: %w", device, err)
	}
	log.Printf("lorawan: at modem opened device=%s baud=%d", device, baud)
	return NewATModem(port, 0), nil
}

// NewATModem wraps an already open line. wait bounds each command; zero
// means 3s.
func NewATModem(port io.ReadWriteCloser, wait time.Duration) *ATModem {
	if wait <= 0 {
		wait = defaultCommandWait
	}
	return &ATModem{port: port, wait: wait, buf: make([]byte, 128)}
}

func (m *ATModem) DevEUI(ctx context.Context) (string, error) {
	lines, err := m.command(ctx, "AT+DEVEUI=?")
	if err != nil {
		return "", err
	}
	v, ok := queryValue(lines, "DEVEUI")
	if !ok {
		return "", fmt.Errorf("lorawan: AT+DEVEUI=?: no value in reply %q", lines)
	}
	return strings.ToUpper(v), nil
}

func (m *ATModem) JoinOTAA(ctx context.Context, appEUI, appKey string) error {
	m.mu.Lock()
	m.joinFailed = false
	m.mu.Unlock()
	for _, cmd := range []string{
		"AT+NJM=1",
		"AT+APPEUI=" + appEUI,
		"AT+APPKEY=" + appKey,
		// join now, no auto-join, module-side retries disabled.
		"AT+JOIN=1:0:10:0",
	} {
		if _, err := m.command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (m *ATModem) Joined(ctx context.Context) (bool, error) {
	lines, err := m.command(ctx, "AT+NJS=?")
	if err != nil {
		return false, err
	}
	v, ok := queryValue(lines, "NJS")
	if ok && v == "1" {
		return true, nil
	}
	m.mu.Lock()
	failed := m.joinFailed
	m.joinFailed = false
	m.mu.Unlock()
	if failed {
		return false, ErrJoinRejected
	}
	return false, nil
}

func (m *ATModem) ActivateABP(ctx context.Context, devAddr, nwkSKey, appSKey string) error {
	for _, cmd := range []string{
		"AT+NJM=0",
		"AT+DEVADDR=" + devAddr,
		"AT+NWKSKEY=" + nwkSKey,
		"AT+APPSKEY=" + appSKey,
	} {
		if _, err := m.command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (m *ATModem) SetDataRate(ctx context.Context, dr int) error {
	_, err := m.command(ctx, fmt.Sprintf("AT+DR=%d", dr))
	return err
}

func (m *ATModem) Send(ctx context.Context, port int, payload []byte) error {
	_, err := m.command(ctx, fmt.Sprintf("AT+SEND=%d:%s", port, strings.ToUpper(hex.EncodeToString(payload))))
	return err
}

func (m *ATModem) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

// command writes cmd and collects reply lines up to OK. Echoed commands and
// +EVT: lines are not part of the reply.
func (m *ATModem) command(ctx context.Context, cmd string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return nil, fmt.Errorf("lorawan: write %s: %w", cmd, err)
	}
	deadline := time.Now().Add(m.wait)
	var lines []string
	for {
		line, err := m.readLineLocked(ctx, deadline)
		if err != nil {
			return nil, fmt.Errorf("lorawan: %s: %w", cmd, err)
		}
		switch {
		case line == "" || line == cmd:
		case line == "OK":
			return lines, nil
		case strings.HasPrefix(line, "AT_") && strings.HasSuffix(line, "ERROR"):
			return nil, &ATError{Cmd: cmd, Code: line}
		case strings.HasPrefix(line, "+EVT:"):
			m.eventLocked(strings.TrimPrefix(line, "+EVT:"))
		default:
			lines = append(lines, line)
		}
	}
}

func (m *ATModem) eventLocked(ev string) {
	switch {
	case ev == "JOINED":
		log.Printf("lorawan: modem event joined")
	case strings.HasPrefix(ev, "JOIN_FAILED"):
		m.joinFailed = true
		log.Printf("lorawan: modem event %s", strings.ToLower(ev))
	}
}

func (m *ATModem) readLineLocked(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(m.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(m.pending[:i]))
			m.pending = m.pending[i+1:]
			return line, nil
		}
		if len(m.pending) > maxATLineBytes {
			m.pending = m.pending[:0]
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", errATTimeout
		}
		n, err := m.port.Read(m.buf)
		if n > 0 {
			m.pending = append(m.pending, m.buf[:n]...)
			continue
		}
		// Short-blocking serial reads report an empty read as io.EOF.
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		select {
		case <-ctx.Done():
		case <-afterFn(atPollInterval):
		}
	}
}

// queryValue extracts v from a "AT+KEY=v" or "+KEY:v" reply line.
func queryValue(lines []string, key string) (string, bool) {
	for _, l := range lines {
		for _, prefix := range []string{"AT+" + key + "=", "+" + key + ":", key + "="} {
			if strings.HasPrefix(l, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(l, prefix)), true
			}
		}
	}
	return "", false
}
