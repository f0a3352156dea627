// Package gpio exposes single BCM-numbered lines as digital outputs or
// pulled-up inputs. Pins are named "GPIO<n>" as on the Raspberry Pi header.
package gpio

// Output drives one line high or low.
type Output interface {
	Set(on bool) error
	Close() error
}

// Input samples one line.
type Input interface {
	Value() (bool, error)
	Close() error
}

var (
	OpenOutputFn = openOutput
	OpenInputFn  = openInput
)

// OpenOutput requests pin as an output driven to initial.
func OpenOutput(pin int, initial bool) (Output, error) { return OpenOutputFn(pin, initial) }

// OpenInput requests pin as an input with the internal pull-up enabled, so
// an unconnected pin reads true.
func OpenInput(pin int) (Input, error) { return OpenInputFn(pin) }
