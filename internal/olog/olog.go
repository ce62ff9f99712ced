// Package olog is the leveled logger used across osiris. It mirrors the
// call shape of syzkaller's pkg/log (Logf(level, fmt, args...)) rather than
// pulling in a structured-logging dependency: the core is single-threaded
// and the log volume is low, so a timestamped line writer is enough.
package olog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var verbosity atomic.Int32

var std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

// SetVerbosity sets the maximum level passed to Logf that is still printed.
func SetVerbosity(v int) {
	verbosity.Store(int32(v))
}

// Logf prints a message if level is at or below the current verbosity.
func Logf(level int, format string, args ...any) {
	if int32(level) > verbosity.Load() {
		return
	}
	std.Output(3, fmt.Sprintf(format, args...)) //nolint:errcheck
}

// Errorf prints an error-level message unconditionally and returns it as an error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	std.Output(3, "ERROR: "+err.Error()) //nolint:errcheck
	return err
}

// Fatalf prints the message and terminates the process. The packages in
// this module return corpus, resource, and harness-overflow errors to
// their callers instead of calling Fatalf.
func Fatalf(format string, args ...any) {
	std.Output(3, "FATAL: "+fmt.Sprintf(format, args...)) //nolint:errcheck
	os.Exit(1)
}
