package payload

import (
	"bytes"
	"math"
	"testing"

	"loramapper/internal/gps"
)

func TestEncode_ReferenceFix(t *testing.T) {
	line := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	fix, err := gps.Parse([]byte(line))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := Encode(fix)
	if got, want := p.String(), "C46EF988308B022109"; got != want {
		t.Fatalf("payload=%s want %s", got, want)
	}
}

func TestEncode_Boundaries(t *testing.T) {
	lo := Encode(gps.Fix{LatDeg: -90, LonDeg: -180})
	if !bytes.Equal(lo[0:6], []byte{0, 0, 0, 0, 0, 0}) {
		t.Fatalf("min lat/lon bytes=% X want zeros", lo[0:6])
	}

	hi := Encode(gps.Fix{LatDeg: 90, LonDeg: 180})
	if !bytes.Equal(hi[0:3], []byte{0xFF, 0xFF, 0xFF}) {
		t.Fatalf("max lat bytes=% X want FF FF FF", hi[0:3])
	}
	if !bytes.Equal(hi[3:6], []byte{0xFF, 0xFF, 0xFF}) {
		t.Fatalf("max lon bytes=% X want FF FF FF", hi[3:6])
	}

	mid := Encode(gps.Fix{})
	// 0.5 * 0xFFFFFF rounds half away from zero.
	if !bytes.Equal(mid[0:3], []byte{0x80, 0x00, 0x00}) || !bytes.Equal(mid[3:6], []byte{0x80, 0x00, 0x00}) {
		t.Fatalf("equator/meridian bytes=% X", mid[0:6])
	}
}

func TestEncode_Altitude(t *testing.T) {
	cases := []struct {
		alt  float64
		want [2]byte
	}{
		{545.4, [2]byte{0x02, 0x21}},
		{545.99, [2]byte{0x02, 0x21}},
		{-12.7, [2]byte{0xFF, 0xF4}},
		{0, [2]byte{0x00, 0x00}},
		{40000, [2]byte{0x7F, 0xFF}},
		{-40000, [2]byte{0x80, 0x00}},
	}
	for _, tc := range cases {
		p := Encode(gps.Fix{AltM: tc.alt})
		if p[6] != tc.want[0] || p[7] != tc.want[1] {
			t.Fatalf("alt=%v bytes=% X want % X", tc.alt, p[6:8], tc.want[:])
		}
	}
}

func TestEncode_HDOP(t *testing.T) {
	cases := []struct {
		hdop float64
		want byte
	}{
		{0, 0},
		{0.9, 9},
		{1.25, 13},
		{25.5, 255},
		{99.99, 255},
	}
	for _, tc := range cases {
		if got := Encode(gps.Fix{HDOP: tc.hdop})[8]; got != tc.want {
			t.Fatalf("hdop=%v byte=%d want %d", tc.hdop, got, tc.want)
		}
	}
}

func TestEncode_IsPure(t *testing.T) {
	fix := gps.Fix{LatDeg: -33.8688, LonDeg: 151.2093, AltM: 58, HDOP: 1.1, Satellites: 7, Quality: 1}
	a := Encode(fix)
	b := Encode(fix)
	if a != b {
		t.Fatalf("payloads differ: %s vs %s", a, b)
	}
	// Mutating a copy must not affect the frame.
	raw := a.Bytes()
	raw[0] ^= 0xFF
	if a != b {
		t.Fatalf("Bytes() aliases the payload")
	}
	if len(a.Bytes()) != Size {
		t.Fatalf("len=%d want %d", len(a.Bytes()), Size)
	}
}

func TestDecode_RoundTripWithinResolution(t *testing.T) {
	fixes := []gps.Fix{
		{LatDeg: 48.1173, LonDeg: 11.516667, AltM: 545.4, HDOP: 0.9},
		{LatDeg: -33.8688, LonDeg: 151.2093, AltM: -3.2, HDOP: 2.3},
		{LatDeg: 89.9999, LonDeg: -179.9999, AltM: 8848, HDOP: 12.4},
	}
	latRes := 180.0 / (1<<24 - 1)
	lonRes := 360.0 / (1<<24 - 1)
	for _, f := range fixes {
		pos := Decode(Encode(f))
		if math.Abs(pos.LatDeg-f.LatDeg) > latRes {
			t.Fatalf("lat=%v decoded=%v", f.LatDeg, pos.LatDeg)
		}
		if math.Abs(pos.LonDeg-f.LonDeg) > lonRes {
			t.Fatalf("lon=%v decoded=%v", f.LonDeg, pos.LonDeg)
		}
		if pos.AltM != int(math.Trunc(f.AltM)) {
			t.Fatalf("alt=%v decoded=%d", f.AltM, pos.AltM)
		}
		if math.Abs(pos.HDOP-f.HDOP) > 0.05+1e-9 {
			t.Fatalf("hdop=%v decoded=%v", f.HDOP, pos.HDOP)
		}
	}
}
