//go:build !linux || (!arm && !arm64)

package gpio

import "fmt"

// Stub implementation for non-Linux and/or non-ARM platforms.
func openOutput(pin int, initial bool) (Output, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func openInput(pin int) (Input, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}
