package gps

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parse decodes one GGA sentence. raw may carry leading noise or a truncated
// earlier sentence; the body used is the one ending at the first '*' after a
// '$'. Checksum validation always runs before any field is looked at.
func Parse(raw []byte) (Fix, error) {
	payload, rest, err := sentencePayload(raw)
	if err != nil {
		return Fix{}, err
	}

	// GGA fields:
	//
	//	0: talker+type
	//	1: time (hhmmss[.sss])
	//	2: latitude (ddmm.mmmm)
	//	3: N/S
	//	4: longitude (dddmm.mmmm)
	//	5: E/W
	//	6: fix quality (0=invalid)
	//	7: number of satellites
	//	8: HDOP
	//	9: altitude (meters)
	//
	// 10: units (M), 11: geoid separation, 12: units (M), 13/14: DGPS age/station
	f := strings.Split(payload, ",")
	if !isGGA(f[0]) {
		// Sentences glued together without a line break: try the next one.
		if bytes.IndexByte(rest, '$') != -1 {
			if fix, err := Parse(rest); err == nil || !errors.Is(err, ErrUnsupportedSentence) {
				return fix, err
			}
		}
		return Fix{}, &ParseError{Kind: ErrUnsupportedSentence, Field: f[0]}
	}
	if len(f) < 10 {
		return Fix{}, &ParseError{Kind: ErrIncompleteSentence, Err: fmt.Errorf("%d fields", len(f))}
	}

	timeStr := strings.TrimSpace(f[1])
	if timeStr == "" {
		return Fix{}, parseErr(ErrTimeNotSynchronized)
	}
	clock, err := parseClock(timeStr)
	if err != nil {
		return Fix{}, fieldErr("time", err)
	}

	quality, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || quality < 0 {
		return Fix{}, fieldErr("fix_quality", err)
	}
	sats, satsErr := parseCount(f[7])
	hdop, hdopErr := parseNonNegative(f[8])

	// Without a fix many receivers leave sats/HDOP empty; that is still a
	// plain no-fix. Present but unreadable telemetry is a malformed field.
	noTelemetry := quality == 0 && strings.TrimSpace(f[7]) == "" && strings.TrimSpace(f[8]) == ""
	if !noTelemetry {
		if satsErr != nil {
			return Fix{}, fieldErr("satellites", satsErr)
		}
		if hdopErr != nil {
			return Fix{}, fieldErr("hdop", hdopErr)
		}
	}
	if quality == 0 {
		pe := parseErr(ErrNoFixObtained)
		if !noTelemetry {
			pe.Telemetry = &Telemetry{Satellites: sats, HDOP: hdop}
		}
		return Fix{}, pe
	}

	lat, err := parseCoord(f[2], 2, 90)
	if err != nil {
		return Fix{}, fieldErr("latitude", err)
	}
	switch strings.ToUpper(strings.TrimSpace(f[3])) {
	case "N":
	case "S":
		lat = -lat
	default:
		return Fix{}, fieldErr("lat_hemisphere", fmt.Errorf("got %q", f[3]))
	}

	lon, err := parseCoord(f[4], 3, 180)
	if err != nil {
		return Fix{}, fieldErr("longitude", err)
	}
	switch strings.ToUpper(strings.TrimSpace(f[5])) {
	case "E":
	case "W":
		lon = -lon
	default:
		return Fix{}, fieldErr("lon_hemisphere", fmt.Errorf("got %q", f[5]))
	}

	alt, err := parseFinite(f[9])
	if err != nil {
		return Fix{}, fieldErr("altitude", err)
	}

	out := Fix{
		TimeOfDay:  clock,
		Quality:    quality,
		Satellites: sats,
		HDOP:       hdop,
		LatDeg:     lat,
		LonDeg:     lon,
		AltM:       alt,
	}
	// Geoid separation is diagnostic only; a bad value is dropped, not fatal.
	if len(f) > 11 {
		if g, err := parseFinite(f[11]); err == nil {
			out.GeoidM = &g
		}
	}
	return out, nil
}

// sentencePayload returns the checksummed body of the first sentence and
// whatever follows its checksum.
func sentencePayload(raw []byte) (string, []byte, error) {
	first := bytes.IndexByte(raw, '$')
	if first == -1 {
		return "", nil, parseErr(ErrChecksumMissing)
	}
	star := bytes.IndexByte(raw[first:], '*')
	if star == -1 {
		return "", nil, parseErr(ErrChecksumMissing)
	}
	star += first
	// A receiver restarting mid-line leaves a truncated sentence in front of
	// the real one; the checksummed body starts at the last '$'.
	start := bytes.LastIndexByte(raw[:star], '$')
	payload := raw[start+1 : star]

	ck := raw[star+1:]
	if len(ck) < 2 {
		return "", nil, &ParseError{Kind: ErrChecksumMissing, Err: fmt.Errorf("short checksum")}
	}
	want, err := hex.DecodeString(string(ck[:2]))
	if err != nil || len(want) != 1 {
		return "", nil, &ParseError{Kind: ErrChecksumMissing, Err: fmt.Errorf("bad checksum digits %q", ck[:2])}
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return "", nil, &ParseError{Kind: ErrChecksumMismatch, Err: fmt.Errorf("computed %02X, sentence says %02X", got, want[0])}
	}
	return string(payload), raw[star+3:], nil
}

// isGGA accepts any two-letter talker (GP, GN, GL, ...) followed by GGA.
func isGGA(typeField string) bool {
	return len(typeField) == 5 && typeField[2:] == "GGA"
}

func parseClock(s string) (Clock, error) {
	if len(s) < 6 || !allDigits(s[:6]) {
		return Clock{}, fmt.Errorf("want hhmmss, got %q", s)
	}
	c := Clock{}
	c.Hour, _ = strconv.Atoi(s[0:2])
	c.Minute, _ = strconv.Atoi(s[2:4])
	c.Second, _ = strconv.Atoi(s[4:6])
	if c.Hour > 23 || c.Minute > 59 || c.Second > 60 {
		return Clock{}, fmt.Errorf("time %q out of range", s)
	}
	if rest := s[6:]; rest != "" {
		if rest[0] != '.' || !allDigits(rest[1:]) {
			return Clock{}, fmt.Errorf("bad fractional seconds %q", s)
		}
		frac := rest[1:]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		c.Millisecond, _ = strconv.Atoi(frac)
	}
	return c, nil
}

// parseCoord converts ddmm.mmmm (degDigits=2) or dddmm.mmmm (degDigits=3) to
// unsigned decimal degrees.
func parseCoord(v string, degDigits int, limit float64) (float64, error) {
	v = strings.TrimSpace(v)
	if len(v) <= degDigits || !allDigits(v[:degDigits]) {
		return 0, fmt.Errorf("want %d degree digits then minutes, got %q", degDigits, v)
	}
	deg, _ := strconv.Atoi(v[:degDigits])
	minStr := v[degDigits:]
	if minStr[0] < '0' || minStr[0] > '9' {
		return 0, fmt.Errorf("bad minutes %q", minStr)
	}
	mins, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return 0, err
	}
	if mins >= 60 {
		return 0, fmt.Errorf("minutes %v out of range", mins)
	}
	dec := float64(deg) + mins/60
	if dec > limit {
		return 0, fmt.Errorf("%v exceeds %v degrees", dec, limit)
	}
	return dec, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}

func parseNonNegative(s string) (float64, error) {
	v, err := parseFinite(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %v", v)
	}
	return v, nil
}

func parseFinite(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
