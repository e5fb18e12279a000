//go:build !unix

package monitor

import "time"

// processCPUTime is unavailable here; CPU percent stays at zero.
func processCPUTime() time.Duration {
	return 0
}
