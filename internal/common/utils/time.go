package utils

import (
	"fmt"
	"time"
)

// ParseDuration parses a duration string with support for additional time
// units beyond the standard library: days ("d") and weeks ("w"). Route and
// service files express intervals and timeouts as strings, so every duration
// in declarative config flows through here.
//
// Examples:
//
//	ParseDuration("1d")    // 24 hours
//	ParseDuration("2w")    // 336 hours
//	ParseDuration("1h30m") // 1.5 hours (standard Go format)
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 {
		return time.Duration(days) * 24 * time.Hour, nil
	}

	var weeks int
	if n, err := fmt.Sscanf(s, "%dw", &weeks); err == nil && n == 1 {
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// FormatDuration formats a duration in a human-readable way, selecting the
// unit by magnitude: seconds, minutes, hours, then days.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
