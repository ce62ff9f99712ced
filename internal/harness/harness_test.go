package harness

import "testing"

func newPage(t *testing.T) *Page {
	t.Helper()
	mem := make([]byte, 4096)
	return NewPage(mem)
}

func TestNewPageFillsNopsAndRetSentinel(t *testing.T) {
	mem := make([]byte, 16)
	NewPage(mem)
	for i := 0; i < len(mem)-1; i++ {
		if mem[i] != 0x90 {
			t.Fatalf("mem[%d] = %#x, want NOP", i, mem[i])
		}
	}
	if mem[len(mem)-1] != 0xc3 {
		t.Fatalf("last byte = %#x, want RET sentinel", mem[len(mem)-1])
	}
}

func TestEmitOverflow(t *testing.T) {
	mem := make([]byte, 4)
	p := NewPage(mem)
	if err := p.Emit([]byte{1}); err != nil {
		t.Fatalf("Emit of one byte into a 4-byte page: %v", err)
	}
	if err := p.Emit([]byte{1, 2, 3}); err == nil {
		t.Fatalf("Emit into a near-full page: got nil error, want ErrOverflow")
	}
}

func TestBuildResetFitsInPage(t *testing.T) {
	p := newPage(t)
	trigger := []byte{0x90}
	reset := []byte{0x90, 0x90}
	measurement := []byte{0x0f, 0x31} // rdtsc
	if err := BuildReset(p, 0x13370000, trigger, reset, measurement, 10); err != nil {
		t.Fatalf("BuildReset: %v", err)
	}
	if p.Len() == 0 {
		t.Fatalf("BuildReset wrote no bytes")
	}
}

func TestBuildTripleFitsInPage(t *testing.T) {
	p := newPage(t)
	if err := BuildTriple(p, 0x13370000, []byte{0x90}, []byte{0x90}, []byte{0x90}, 5); err != nil {
		t.Fatalf("BuildTriple: %v", err)
	}
}

func TestBuildSpeculativeTriggerFitsInPage(t *testing.T) {
	p := newPage(t)
	measurement := []byte{0x0f, 0x31}
	trigger := []byte{0x90, 0x90, 0x90}
	reset := []byte{0x90}
	if err := BuildSpeculativeTrigger(p, 0x13370000, measurement, trigger, reset, 3); err != nil {
		t.Fatalf("BuildSpeculativeTrigger: %v", err)
	}
}

func TestBuildRejectsExcessiveRepeats(t *testing.T) {
	p := newPage(t)
	err := BuildReset(p, 0x13370000, []byte{0x90}, []byte{0x90}, []byte{0x90}, MaxResetRepeats+1)
	if err == nil {
		t.Fatalf("BuildReset with too many repeats: got nil error")
	}
}

func TestNOPSequence(t *testing.T) {
	seq := NOPSequence(5)
	if len(seq) != 5 {
		t.Fatalf("len = %d, want 5", len(seq))
	}
	for _, b := range seq {
		if b != 0x90 {
			t.Fatalf("byte = %#x, want 0x90", b)
		}
	}
}

func TestBuildOverflowsTinyPage(t *testing.T) {
	mem := make([]byte, 32)
	p := NewPage(mem)
	err := BuildReset(p, 0x13370000, []byte{0x90}, []byte{0x90}, []byte{0x90}, 1)
	if err == nil {
		t.Fatalf("BuildReset into a 32-byte page: got nil error, want ErrOverflow")
	}
}
