package sensors

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RMC is a decoded recommended-minimum sentence: position, speed over
// ground, course, and the receiver's fix status.
type RMC struct {
	At         time.Time // UTC fix time, zero when the receiver omits date or time
	Valid      bool      // status field 'A'
	HasFix     bool      // lat/lon fields were present
	Lat        float64
	Lon        float64
	SpeedKnots float64
	CourseDeg  float64
}

// GGA is a decoded fix-data sentence: fix quality, satellites in use,
// and antenna altitude.
type GGA struct {
	Quality     int
	Satellites  int
	AltitudeM   float64
	HasAltitude bool
}

// SentenceType returns the three-letter type of an NMEA sentence
// ("RMC", "GGA", ...) ignoring the talker prefix, or "" when the
// sentence is too short to carry one.
func SentenceType(sentence string) string {
	end := strings.IndexByte(sentence, ',')
	if end < 0 {
		end = len(sentence)
	}
	if end < 4 || sentence[0] != '$' {
		return ""
	}
	head := sentence[1:end]
	if len(head) < 3 {
		return ""
	}
	return head[len(head)-3:]
}

// splitSentence validates the "$...*hh" framing and checksum and
// returns the comma-separated fields, including the talker/type head.
func splitSentence(sentence string) ([]string, error) {
	sentence = strings.TrimRight(sentence, "\r\n")
	if len(sentence) < 4 || sentence[0] != '$' {
		return nil, fmt.Errorf("malformed sentence %q", sentence)
	}
	star := strings.LastIndexByte(sentence, '*')
	if star < 0 || star+3 != len(sentence) {
		return nil, fmt.Errorf("missing checksum in %q", sentence)
	}
	body := sentence[1:star]
	want, err := strconv.ParseUint(sentence[star+1:], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("bad checksum field in %q", sentence)
	}
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	if sum != byte(want) {
		return nil, fmt.Errorf("checksum mismatch in %q: computed %02X, sentence says %02X", sentence, sum, want)
	}
	return strings.Split(body, ","), nil
}

// parseCoordinate converts an NMEA ddmm.mmmm (or dddmm.mmmm) value and
// hemisphere letter to signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %q: %w", value, err)
	}
	deg := math.Trunc(v / 100)
	minutes := v - deg*100
	if minutes >= 60 {
		return 0, fmt.Errorf("bad coordinate %q: minutes out of range", value)
	}
	result := deg + minutes/60
	switch hemisphere {
	case "N", "E":
		return result, nil
	case "S", "W":
		return -result, nil
	}
	return 0, fmt.Errorf("bad hemisphere %q", hemisphere)
}

// parseFixTime combines the hhmmss(.sss) time and ddmmyy date fields
// into a UTC timestamp. Either field empty yields the zero time.
func parseFixTime(timeField, dateField string) (time.Time, error) {
	if timeField == "" || dateField == "" {
		return time.Time{}, nil
	}
	if len(timeField) < 6 || len(dateField) != 6 {
		return time.Time{}, fmt.Errorf("bad fix time %q %q", timeField, dateField)
	}
	hh, err1 := strconv.Atoi(timeField[0:2])
	mi, err2 := strconv.Atoi(timeField[2:4])
	ss, err3 := strconv.Atoi(timeField[4:6])
	dd, err4 := strconv.Atoi(dateField[0:2])
	mo, err5 := strconv.Atoi(dateField[2:4])
	yy, err6 := strconv.Atoi(dateField[4:6])
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, fmt.Errorf("bad fix time %q %q", timeField, dateField)
		}
	}
	ns := 0
	if len(timeField) > 7 && timeField[6] == '.' {
		frac, err := strconv.ParseFloat(timeField[6:], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad fix time %q", timeField)
		}
		ns = int(frac * float64(time.Second))
	}
	return time.Date(2000+yy, time.Month(mo), dd, hh, mi, ss, ns, time.UTC), nil
}

// ParseRMC decodes a $xxRMC sentence. Lat/lon are absent (HasFix
// false) when the receiver has no position; that is not an error.
func ParseRMC(sentence string) (RMC, error) {
	fields, err := splitSentence(sentence)
	if err != nil {
		return RMC{}, err
	}
	if !strings.HasSuffix(fields[0], "RMC") {
		return RMC{}, fmt.Errorf("not an RMC sentence: %q", fields[0])
	}
	if len(fields) < 10 {
		return RMC{}, fmt.Errorf("RMC sentence has %d fields, want at least 10", len(fields))
	}

	out := RMC{Valid: fields[2] == "A"}

	out.At, err = parseFixTime(fields[1], fields[9])
	if err != nil {
		return RMC{}, err
	}

	if fields[3] != "" && fields[5] != "" {
		out.Lat, err = parseCoordinate(fields[3], fields[4])
		if err != nil {
			return RMC{}, err
		}
		out.Lon, err = parseCoordinate(fields[5], fields[6])
		if err != nil {
			return RMC{}, err
		}
		out.HasFix = true
	}

	if fields[7] != "" {
		out.SpeedKnots, err = strconv.ParseFloat(fields[7], 64)
		if err != nil {
			return RMC{}, fmt.Errorf("bad speed %q: %w", fields[7], err)
		}
	}
	if fields[8] != "" {
		out.CourseDeg, err = strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return RMC{}, fmt.Errorf("bad course %q: %w", fields[8], err)
		}
	}
	return out, nil
}

// ParseGGA decodes a $xxGGA sentence for the fields RMC does not
// carry: fix quality, satellite count, and altitude.
func ParseGGA(sentence string) (GGA, error) {
	fields, err := splitSentence(sentence)
	if err != nil {
		return GGA{}, err
	}
	if !strings.HasSuffix(fields[0], "GGA") {
		return GGA{}, fmt.Errorf("not a GGA sentence: %q", fields[0])
	}
	if len(fields) < 10 {
		return GGA{}, fmt.Errorf("GGA sentence has %d fields, want at least 10", len(fields))
	}

	var out GGA
	if fields[6] != "" {
		out.Quality, err = strconv.Atoi(fields[6])
		if err != nil {
			return GGA{}, fmt.Errorf("bad fix quality %q: %w", fields[6], err)
		}
	}
	if fields[7] != "" {
		out.Satellites, err = strconv.Atoi(fields[7])
		if err != nil {
			return GGA{}, fmt.Errorf("bad satellite count %q: %w", fields[7], err)
		}
	}
	if fields[9] != "" {
		out.AltitudeM, err = strconv.ParseFloat(fields[9], 64)
		if err != nil {
			return GGA{}, fmt.Errorf("bad altitude %q: %w", fields[9], err)
		}
		out.HasAltitude = true
	}
	return out, nil
}
