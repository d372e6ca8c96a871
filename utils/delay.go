package utils

import (
	"runtime"
	"time"
)

// SpinDelay busy-waits for at least d. time.Sleep has a granularity well above the tens of
// microseconds that bit-banged protocols need, so short delays spin on the monotonic clock
// instead. With allowYield the goroutine gives up its processor between checks, which is kinder
// on single core boards but makes the delay less precise.
func SpinDelay(d time.Duration, allowYield bool) {
	start := time.Now()
	for time.Since(start) < d {
		if allowYield {
			runtime.Gosched()
		}
	}
}

// LockThread pins the calling goroutine to its OS thread for the duration of a timing critical
// section. Call the returned function to release it.
func LockThread() func() {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}
