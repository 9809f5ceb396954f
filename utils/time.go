package utils

import (
	"fmt"
	"math"
)

// FormatSRTTimestamp formats seconds to SRT timestamp format (HH:MM:SS,mmm)
func FormatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))

	h := totalMs / 3_600_000
	m := (totalMs % 3_600_000) / 60_000
	s := (totalMs % 60_000) / 1000
	ms := totalMs % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatSeconds renders seconds the way ffmpeg options expect them
func FormatSeconds(seconds float64) string {
	return fmt.Sprintf("%.3f", seconds)
}
