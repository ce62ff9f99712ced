//go:build linux && amd64

// Package trap is osiris's one cgo module: process-wide synchronous fault
// trapping around an indirect call into a JIT'd harness page.
//
// Pure-Go os/signal cannot resume a goroutine's user code at a saved
// register context after SIGSEGV/SIGILL/SIGFPE/SIGTRAP fires inside code
// the Go runtime does not recognize as one of its own functions — the
// runtime's signal handler is built to unwind Go stacks, not arbitrary
// JIT'd machine code. A small C shim using sigsetjmp/siglongjmp, the same
// mechanism other_examples/lucasduete-spectre-go__main.go and
// other_examples/morehouse-smite/bindings/go/nyx_runner.go reach for cgo
// to do, sidesteps that entirely.
//
// Grounded on original_source/src/executor.cc's FaultHandler,
// RegisterFaultHandler/UnregisterFaultHandler, and ExecuteCodePage — the
// C below is that logic translated almost line for line; Call/Register/
// Unregister/FaultCounts are the Go-facing wrapper.
package trap

/*
#include <setjmp.h>
#include <signal.h>
#include <stdint.h>

static sigjmp_buf osiris_trap_jmpbuf;
volatile int osiris_sigsegv_count;
volatile int osiris_sigill_count;
volatile int osiris_sigfpe_count;
volatile int osiris_sigtrap_count;

static void osiris_fault_handler(int sig) {
	switch (sig) {
	case SIGSEGV: osiris_sigsegv_count++; break;
	case SIGILL:  osiris_sigill_count++;  break;
	case SIGFPE:  osiris_sigfpe_count++;  break;
	case SIGTRAP: osiris_sigtrap_count++; break;
	default: break;
	}
	siglongjmp(osiris_trap_jmpbuf, 1);
}

static void osiris_register_handlers(void) {
	signal(SIGSEGV, osiris_fault_handler);
	signal(SIGILL, osiris_fault_handler);
	signal(SIGFPE, osiris_fault_handler);
	signal(SIGTRAP, osiris_fault_handler);
}

static void osiris_unregister_handlers(void) {
	signal(SIGSEGV, SIG_DFL);
	signal(SIGILL, SIG_DFL);
	signal(SIGFPE, SIG_DFL);
	signal(SIGTRAP, SIG_DFL);
}

// osiris_call invokes the harness at addr, a function taking no arguments
// and returning the measured cycle count in RAX. Returns 1 if a trapped
// fault fired during the call (out is left untouched), else 0.
static int osiris_call(uintptr_t addr, uint64_t *out) {
	if (!sigsetjmp(osiris_trap_jmpbuf, 1)) {
		uint64_t (*fn)(void) = (uint64_t (*)(void)) addr;
		*out = fn();
		return 0;
	}

	sigset_t set;
	sigemptyset(&set);
	sigaddset(&set, SIGSEGV);
	sigaddset(&set, SIGILL);
	sigaddset(&set, SIGFPE);
	sigaddset(&set, SIGTRAP);
	sigprocmask(SIG_UNBLOCK, &set, NULL);
	return 1;
}
*/
import "C"

import (
	"fmt"
	"sync"
)

// registerMu guards registered, which records whether the handlers are
// currently installed.
var (
	registerMu sync.Mutex
	registered bool
)

// callMu serializes Call: the fault-handling state (jmp_buf, counters) is
// a single set of C globals, so only one harness may be in flight at a
// time process-wide. This mirrors the original Executor, which is itself
// a single-instance, single-threaded design.
var callMu sync.Mutex

// Register installs the process-wide SIGSEGV/SIGILL/SIGFPE/SIGTRAP
// handlers. It must run before the first Call; repeat calls while the
// handlers are installed are no-ops, and a call after Unregister installs
// them again.
func Register() {
	registerMu.Lock()
	defer registerMu.Unlock()
	if !registered {
		C.osiris_register_handlers()
		registered = true
	}
}

// Unregister restores the default disposition for all four signals.
func Unregister() {
	registerMu.Lock()
	defer registerMu.Unlock()
	C.osiris_unregister_handlers()
	registered = false
}

// Call invokes the harness at addr (typically a memmap.CodePage's Addr())
// under the fault boundary. ok is false if a trapped signal fired during
// the call, in which case cycles is meaningless; callers should treat
// that the same way the original treats ExecuteCodePage returning 1 —
// discard the run, do not retry it as-is.
func Call(addr uintptr) (cycles uint64, ok bool) {
	if addr == 0 {
		panic("trap: Call with nil address")
	}
	callMu.Lock()
	defer callMu.Unlock()

	var out C.uint64_t
	if C.osiris_call(C.uintptr_t(addr), &out) != 0 {
		return 0, false
	}
	return uint64(out), true
}

// FaultCounts returns the SIGSEGV/SIGILL/SIGFPE/SIGTRAP counts observed
// since the process started, the Go equivalent of the original's static
// sigsegv_no/sigill_no/sigfpe_no/sigtrap_no counters.
func FaultCounts() (sigsegv, sigill, sigfpe, sigtrap int) {
	return int(C.osiris_sigsegv_count), int(C.osiris_sigill_count),
		int(C.osiris_sigfpe_count), int(C.osiris_sigtrap_count)
}

// String renders the fault counters in the same block layout as
// Executor::PrintFaultCount.
func String() string {
	sigsegv, sigill, sigfpe, sigtrap := FaultCounts()
	return fmt.Sprintf(
		"=== Faultcounters of Executor ===\n\tSIGSEGV: %d\n\tSIGFPE: %d\n\tSIGILL: %d\n\tSIGTRAP: %d\n=================================",
		sigsegv, sigfpe, sigill, sigtrap)
}
