//go:build !unix

package instrument

import "time"

// processCPU is not available on this platform.
func processCPU() time.Duration {
	return 0
}
