// Package payload packs a GPS fix into the 9-byte uplink frame understood by
// the mapping backend:
//
//	bytes 0-2  latitude,  (lat+90)/180 scaled to 24 bits, big-endian
//	bytes 3-5  longitude, (lon+180)/360 scaled to 24 bits, big-endian
//	bytes 6-7  altitude in whole meters, int16 big-endian
//	byte  8    HDOP * 10, saturating at 255
//
// There is no header or version byte.
package payload

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"loramapper/internal/gps"
)

// Size is the fixed frame length.
const Size = 9

const max24 = 1<<24 - 1

// Payload is one encoded frame. It is a value type so a sent frame cannot be
// modified through a shared slice.
type Payload [Size]byte

// Bytes returns a copy of the frame.
func (p Payload) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, p[:])
	return b
}

func (p Payload) String() string {
	return strings.ToUpper(hex.EncodeToString(p[:]))
}

// Encode quantizes fix into a frame. It has no failure mode for a Fix
// produced by gps.Parse; out-of-range inputs are clamped to the field limits.
func Encode(fix gps.Fix) Payload {
	var p Payload

	lat := scale24((fix.LatDeg + 90) / 180)
	p[0] = byte(lat >> 16)
	p[1] = byte(lat >> 8)
	p[2] = byte(lat)

	lon := scale24((fix.LonDeg + 180) / 360)
	p[3] = byte(lon >> 16)
	p[4] = byte(lon >> 8)
	p[5] = byte(lon)

	binary.BigEndian.PutUint16(p[6:8], uint16(altitude(fix.AltM)))

	hdop := math.Round(fix.HDOP * 10)
	switch {
	case !(hdop > 0):
		p[8] = 0
	case hdop > 255:
		p[8] = 255
	default:
		p[8] = byte(hdop)
	}
	return p
}

func scale24(frac float64) uint32 {
	v := math.Round(frac * max24)
	if !(v > 0) {
		return 0
	}
	if v > max24 {
		return max24
	}
	return uint32(v)
}

func altitude(m float64) int16 {
	v := math.Trunc(m)
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Position is what a receiver recovers from a frame.
type Position struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   int     `json:"alt_m"`
	HDOP   float64 `json:"hdop"`
}

// Decode reverses Encode up to quantization (~1.1e-5 degrees latitude).
func Decode(p Payload) Position {
	lat := uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	lon := uint32(p[3])<<16 | uint32(p[4])<<8 | uint32(p[5])
	return Position{
		LatDeg: float64(lat)/max24*180 - 90,
		LonDeg: float64(lon)/max24*360 - 180,
		AltM:   int(int16(binary.BigEndian.Uint16(p[6:8]))),
		HDOP:   float64(p[8]) / 10,
	}
}
