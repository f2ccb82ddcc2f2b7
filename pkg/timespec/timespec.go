// Package timespec provides parsing of time specifications as they appear
// in converter command lines and configuration: clock form, plain seconds,
// and Go duration form.
//
// Accepted forms:
//   - "[-]HH:MM:SS[.m...]" or "[-]MM:SS[.m...]": clock form
//   - "[-]S+[.m...]": seconds, optionally fractional
//   - anything time.ParseDuration accepts: "1h30m", "2500ms", "90s"
//
// Examples:
//   - "1:02:03.5"  = 1 hour, 2 minutes, 3.5 seconds
//   - "02:30"      = 2 minutes, 30 seconds
//   - "45.5"       = 45.5 seconds
//   - "1h30m"      = 90 minutes
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse parses a time specification into a duration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("timespec: empty string")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	var d time.Duration
	var err error

	switch {
	case strings.Contains(s, ":"):
		d, err = parseClock(s)
	default:
		d, err = parseSecondsOrDuration(s)
	}
	if err != nil {
		return 0, err
	}

	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on malformed input. Use only for
// literals.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// parseClock handles "HH:MM:SS[.m...]" and "MM:SS[.m...]".
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("timespec: malformed clock time %q", s)
	}

	var hours int64
	if len(parts) == 3 {
		h, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timespec: bad hours in %q: %w", s, err)
		}
		hours = h
		parts = parts[1:]
	}

	mins, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("timespec: bad minutes in %q", s)
	}

	secs, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || secs < 0 || secs >= 60 {
		return 0, fmt.Errorf("timespec: bad seconds in %q", s)
	}

	total := time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs*float64(time.Second))
	return total, nil
}

// parseSecondsOrDuration handles bare numbers (seconds) and Go duration
// strings.
func parseSecondsOrDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("timespec: %w", err)
	}
	return d, nil
}

// Format renders a duration in clock form with centisecond precision, the
// way progress lines display it: "[-]HH:MM:SS.cc".
func Format(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}

	secs := int64(d / time.Second)
	centis := int64(d%time.Second) / int64(10*time.Millisecond)
	mins := secs / 60
	secs %= 60
	hours := mins / 60
	mins %= 60

	return fmt.Sprintf("%s%02d:%02d:%02d.%02d", sign, hours, mins, secs, centis)
}
