package indicator

import (
	"fmt"
	"log"
	"sync"

	"loramapper/internal/gpio"
)

// Color is a 3-bit RGB value for an LED with one GPIO line per channel.
type Color uint8

const (
	Off     Color = 0
	Red     Color = 1 << 0
	Green   Color = 1 << 1
	Blue    Color = 1 << 2
	Yellow        = Red | Green
	Cyan          = Green | Blue
	Magenta       = Red | Blue
)

// Palette maps states to LED colors.
var Palette = map[State]Color{
	Idle:       Off,
	Acquiring:  Yellow,
	FixFound:   Green,
	FixNotSent: Cyan,
	NoFix:      Red,
	Joining:    Blue,
	Joined:     Green,
}

// RGB drives a common-cathode RGB LED.
type RGB struct {
	mu    sync.Mutex
	lines [3]gpio.Output
	cur   Color
	err   error
}

// NewRGB requests the three channel pins (BCM numbering) as outputs, LED off.
func NewRGB(redPin, greenPin, bluePin int) (*RGB, error) {
	r := &RGB{}
	for i, pin := range []int{redPin, greenPin, bluePin} {
		out, err := gpio.OpenOutput(pin, false)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("indicator: rgb channel %d pin %d: %w", i, pin, err)
		}
		r.lines[i] = out
	}
	return r, nil
}

func (r *RGB) Set(s State) {
	c, ok := Palette[s]
	if !ok {
		c = Off
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.showLocked(c); err != nil {
		// Log the first failure only; a dead LED should not flood the log.
		if r.err == nil {
			log.Printf("indicator: rgb set failed state=%s: %v", s, err)
		}
		r.err = err
		return
	}
	r.err = nil
	r.cur = c
}

func (r *RGB) showLocked(c Color) error {
	for i, line := range r.lines {
		if line == nil {
			continue
		}
		if err := line.Set(c&(1<<i) != 0); err != nil {
			return err
		}
	}
	return nil
}

// Current returns the color last shown successfully.
func (r *RGB) Current() Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// Close turns the LED off and releases the lines.
func (r *RGB) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.showLocked(Off)
	var first error
	for i, line := range r.lines {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil && first == nil {
			first = err
		}
		r.lines[i] = nil
	}
	return first
}
