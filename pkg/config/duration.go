package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration written as "30s" or "1m30s" in configuration
// files. Bare integers are taken as seconds.
type Duration struct {
	time.Duration
}

// ParseDuration parses the configuration form of a duration.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return Duration{}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		var secs int64
		if _, serr := fmt.Sscanf(s, "%d", &secs); serr == nil && fmt.Sprint(secs) == s {
			return Duration{time.Duration(secs) * time.Second}, nil
		}
		return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration{d}, nil
}

func (d Duration) String() string {
	if d.Duration == 0 {
		return ""
	}
	return d.Duration.String()
}

// MarshalText implements encoding.TextMarshaler (TOML).
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (TOML).
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var secs int64
		if ierr := unmarshal(&secs); ierr != nil {
			return err
		}
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
