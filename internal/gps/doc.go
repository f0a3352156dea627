// Package gps turns the NMEA stream of a serial GNSS receiver into position
// fixes.
//
// It is intentionally small:
// - Parse validates and decodes one GGA sentence into a Fix or a *ParseError
// - Acquire polls a byte source for a bounded window and returns the first Fix
// - OpenSerial opens the receiver UART for polled reads
package gps
