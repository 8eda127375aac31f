package server

import (
	"strconv"
	"time"
)

// DefaultTimeframe is used when a timeframe is missing or malformed.
const DefaultTimeframe = 5 * time.Minute

// parseTimeframe parses "<n><unit>" with unit s, m, h or d.
func parseTimeframe(s string) time.Duration {
	if len(s) < 2 {
		return DefaultTimeframe
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return DefaultTimeframe
	}
	d := time.Duration(n)
	switch s[len(s)-1] {
	case 's':
		return d * time.Second
	case 'm':
		return d * time.Minute
	case 'h':
		return d * time.Hour
	case 'd':
		return d * 24 * time.Hour
	}
	return DefaultTimeframe
}
