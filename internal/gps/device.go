package gps

import (
	"fmt"
	"os"
)

var statFn = os.Stat

// DetectDevice returns the first present /dev/ttyACM* or /dev/ttyUSB* node,
// or "" when none exists. USB receivers enumerate as ACM, UART bridges as USB.
func DetectDevice() string {
	candidates := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := statFn(p); err == nil {
			return p
		}
	}
	return ""
}
