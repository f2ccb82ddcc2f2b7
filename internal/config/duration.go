package config

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/transmux/pkg/timespec"
)

// Duration is a time.Duration that parses converter-style time
// specifications: clock form ("1:02:03.5"), seconds ("45.5"), and Go
// duration form ("500ms").
//
// It implements encoding.TextUnmarshaler for Viper/YAML support and
// json.Unmarshaler for JSON configuration files.
type Duration time.Duration

// ParseDuration parses a time specification into a Duration.
func ParseDuration(s string) (Duration, error) {
	d, err := timespec.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Microseconds returns the duration in canonical microseconds.
func (d Duration) Microseconds() int64 {
	return time.Duration(d).Microseconds()
}

func (d Duration) String() string {
	return timespec.Format(time.Duration(d))
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper
// support.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Fall back to a bare number of nanoseconds.
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}
