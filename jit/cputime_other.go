//go:build !linux

package jit

import "time"

var epoch = time.Now()

func threadCPUTime() time.Duration {
	return time.Since(epoch)
}
