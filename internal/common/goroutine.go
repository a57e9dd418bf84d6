// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

var (
	// goroutineCounter tracks spawned goroutines for diagnostics
	goroutineCounter int64
	// recoveredCounter tracks panics SafeGo swallowed
	recoveredCounter int64
)

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// GetRecoveredPanicCount returns how many SafeGo goroutines ended in a panic
func GetRecoveredPanicCount() int64 {
	return atomic.LoadInt64(&recoveredCounter)
}

// SafeGo runs fn in a goroutine with panic recovery. Used for the process
// stream pumps and log closers: a panic there must not take the harness
// down while the server and browser are still alive.
//
// The panic is logged and a goroutine report is written next to the active
// run's logs. The run itself carries on; a dead pump shows up as missing
// output in the diagnostics.
//
// Example:
//
//	common.SafeGo(logger, "stdout-pump", func() {
//	    io.Copy(stdoutLog, pipe)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&recoveredCounter, 1)

				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				stackTrace := string(buf[:n])

				if logger != nil {
					logger.Error().
						Str("goroutine", name).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stackTrace).
						Msg("Recovered from panic in goroutine")
				} else {
					// Fallback to stderr if no logger
					fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
				}

				// Non-fatal, so only this goroutine's stack
				writeReport("goroutine-"+name, "GOROUTINE PANIC: "+name, r, stackTrace, false)
			}
		}()

		fn()
	}()
}
