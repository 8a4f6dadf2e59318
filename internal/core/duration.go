package core

import (
	"fmt"
	"strings"
	"time"
)

// parseDurationField parses a required Go duration string from config.
// Empty means zero (disabled).
func parseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// parseDurationOrDefault is parseDurationField with a fallback for empty.
func parseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationField(field, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
