package journal

import (
	"math"
	"time"
)

// Event times are stored as fractional unix seconds, kept to the microsecond
// so a round trip through REAL is exact.

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(v float64) time.Time {
	if v <= 0 || math.IsNaN(v) {
		return time.Time{}
	}
	return time.UnixMicro(int64(math.Round(v * 1e6))).UTC()
}
