//go:build linux && amd64

package executor

import "testing"

func TestMedianOddLength(t *testing.T) {
	if got := median([]int64{5, 1, 3}); got != 3 {
		t.Fatalf("median([5,1,3]) = %d, want 3", got)
	}
}

func TestMedianEvenLengthAveragesMiddleTwo(t *testing.T) {
	if got := median([]int64{10, 20, 30, 40}); got != 25 {
		t.Fatalf("median([10,20,30,40]) = %d, want 25", got)
	}
}

func TestMedianEmptyIsZero(t *testing.T) {
	if got := median(nil); got != 0 {
		t.Fatalf("median(nil) = %d, want 0", got)
	}
}

func TestTestTripleOnNOPsIsStable(t *testing.T) {
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	nop := []byte{0x90}
	rdtsc := []byte{0x0f, 0x31} // measurement sequence needs to at least be valid bytes
	diff, err := e.TestTriple(nop, nop, rdtsc, 5)
	if err != nil {
		t.Fatalf("TestTriple: %v", err)
	}
	// Both orderings run the same instruction bytes, so the measured
	// difference should stay well within outlier range rather than
	// indicate a fault.
	if diff < -100000 || diff > 100000 {
		t.Fatalf("TestTriple(nop, nop) = %d, want a small difference", diff)
	}
}

func TestTestResetOnNOPsDoesNotFault(t *testing.T) {
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	nop := []byte{0x90}
	rdtsc := []byte{0x0f, 0x31}
	if _, err := e.TestReset(nop, rdtsc, nop, 5, 3); err != nil {
		t.Fatalf("TestReset: %v", err)
	}
}

func TestTestTriggerArchitecturalDoesNotFault(t *testing.T) {
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	nop := []byte{0x90}
	rdtsc := []byte{0x0f, 0x31}
	if _, err := e.TestTrigger(nop, rdtsc, nop, false, 5, 3); err != nil {
		t.Fatalf("TestTrigger (architectural): %v", err)
	}
}

func TestTestTriggerSpeculativeDoesNotFault(t *testing.T) {
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	nop := []byte{0x90}
	rdtsc := []byte{0x0f, 0x31}
	if _, err := e.TestTrigger(nop, rdtsc, nop, true, 5, 3); err != nil {
		t.Fatalf("TestTrigger (speculative): %v", err)
	}
}
