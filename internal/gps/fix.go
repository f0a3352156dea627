package gps

import (
	"fmt"
	"time"
)

// Clock is the UTC time of day reported by the receiver for a fix.
type Clock struct {
	Hour        int `json:"hour"`
	Minute      int `json:"minute"`
	Second      int `json:"second"`
	Millisecond int `json:"millisecond,omitempty"`
}

func (c Clock) String() string {
	if c.Millisecond != 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", c.Hour, c.Minute, c.Second, c.Millisecond)
	}
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Fix is a fully decoded GGA position. A Fix value is only ever handed out
// when every field below has been parsed and range-checked; decode failures
// surface as a *ParseError instead.
type Fix struct {
	TimeOfDay  Clock   `json:"time_of_day"`
	Quality    int     `json:"fix_quality"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`

	LatDeg float64  `json:"lat_deg"`
	LonDeg float64  `json:"lon_deg"`
	AltM   float64  `json:"alt_m"`
	GeoidM *float64 `json:"geoid_m,omitempty"`

	// AcquiredAt is stamped by the acquirer; Parse leaves it zero.
	AcquiredAt time.Time `json:"acquired_at"`
}

func (f Fix) String() string {
	return fmt.Sprintf("t=%s lat=%.6f lon=%.6f alt=%.1f fix=%d sats=%d hdop=%.1f",
		f.TimeOfDay, f.LatDeg, f.LonDeg, f.AltM, f.Quality, f.Satellites, f.HDOP)
}
