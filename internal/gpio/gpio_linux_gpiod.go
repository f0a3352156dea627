//go:build linux && (arm || arm64)

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "loramapper"

func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if pin <= 0 {
		return nil, nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}

	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels can expose the header on gpiochip4; try the usual chips first.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	opts = append(opts, gpiocdev.WithConsumer(consumer))
	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

func openOutput(pin int, initial bool) (Output, error) {
	v := 0
	if initial {
		v = 1
	}
	chip, line, err := requestLine(pin, gpiocdev.AsOutput(v))
	if err != nil {
		return nil, err
	}
	return &gpiodLine{chip: chip, line: line}, nil
}

func openInput(pin int) (Input, error) {
	chip, line, err := requestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, err
	}
	return &gpiodLine{chip: chip, line: line}, nil
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) Set(on bool) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("gpio: line not initialized")
	}
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Value() (bool, error) {
	if g == nil || g.line == nil {
		return false, fmt.Errorf("gpio: line not initialized")
	}
	v, err := g.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (g *gpiodLine) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	err1 := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err1
}
