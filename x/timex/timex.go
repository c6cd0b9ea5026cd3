// Package timex converts between rates and periods.
package timex

import "time"

// Period returns the period of hz, truncated to whole nanoseconds. hz == 0
// is treated as 1 Hz.
func Period(hz uint32) time.Duration {
	if hz == 0 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}
