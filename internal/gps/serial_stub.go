//go:build !linux

package gps

import "fmt"

type Port struct{}

func OpenSerial(path string, baud int) (*Port, error) {
	return nil, fmt.Errorf("gps serial not supported on this platform")
}

func (p *Port) Read(b []byte) (int, error) { return 0, fmt.Errorf("gps serial not supported on this platform") }

func (p *Port) Flush() error { return nil }

func (p *Port) Close() error { return nil }
