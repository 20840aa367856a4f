package gps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotNMEA     = errors.New("not an NMEA sentence")
	ErrBadChecksum = errors.New("nmea checksum mismatch")
)

// ParseSentence extracts a position from an RMC or GGA sentence. ok is false
// for well-formed sentences that carry no usable fix (other sentence types,
// void RMC status, GGA without quality).
func ParseSentence(line string) (lat, lon float64, ok bool, err error) {
	body, err := verify(strings.TrimSpace(line))
	if err != nil {
		return 0, 0, false, err
	}
	fields := strings.Split(body, ",")
	if len(fields[0]) < 5 {
		return 0, 0, false, fmt.Errorf("%w: short address %q", ErrNotNMEA, fields[0])
	}

	var latF, latH, lonF, lonH string
	switch fields[0][len(fields[0])-3:] {
	case "RMC":
		if len(fields) < 7 || fields[2] != "A" {
			return 0, 0, false, nil
		}
		latF, latH, lonF, lonH = fields[3], fields[4], fields[5], fields[6]
	case "GGA":
		if len(fields) < 7 || fields[6] == "" || fields[6] == "0" {
			return 0, 0, false, nil
		}
		latF, latH, lonF, lonH = fields[2], fields[3], fields[4], fields[5]
	default:
		return 0, 0, false, nil
	}

	if lat, err = coordinate(latF, latH, "N", "S"); err != nil {
		return 0, 0, false, err
	}
	if lon, err = coordinate(lonF, lonH, "E", "W"); err != nil {
		return 0, 0, false, err
	}
	return lat, lon, true, nil
}

// verify checks the framing and the XOR checksum, returning the text
// between '$' and '*'.
func verify(line string) (string, error) {
	if !strings.HasPrefix(line, "$") {
		return "", ErrNotNMEA
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return line[1:], nil // checksum is optional
	}
	body := line[1:star]
	want, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil {
		return "", fmt.Errorf("%w: checksum field %q", ErrNotNMEA, line[star+1:])
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != byte(want) {
		return "", fmt.Errorf("%w: calculated %02X, received %02X", ErrBadChecksum, got, want)
	}
	return body, nil
}

// coordinate converts ddmm.mmmm (or dddmm.mmmm) plus a hemisphere letter to
// signed decimal degrees.
func coordinate(v, hemi, pos, neg string) (float64, error) {
	raw, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrNotNMEA, v)
	}
	deg := float64(int(raw / 100))
	dec := deg + (raw-deg*100)/60
	switch hemi {
	case pos:
		return dec, nil
	case neg:
		return -dec, nil
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrNotNMEA, hemi)
	}
}
