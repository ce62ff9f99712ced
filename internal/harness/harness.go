// Package harness assembles the tiny x86-64 functions the executor times:
// a prolog that saves callee-saved state and points a fixed set of
// registers at the data pages, the sequence under test, a CPUID/MFENCE
// serialization barrier, an RDTSC/RDTSCP timer, and a matching epilog.
//
// Grounded on original_source/src/executor.cc's AddProlog/AddEpilog/
// AddTimerStartToCodePage/AddTimerEndToCodePage/AddSerializeInstructionToCodePage/
// CreateResetTestrunCode/CreateTestrunCode/CreateSpeculativeTriggerTestrunCode —
// every byte constant below is copied from those functions unchanged; only
// the write-cursor bookkeeping is rewritten in Go.
package harness

import (
	"encoding/binary"
	"fmt"
)

// MaxResetRepeats bounds how many times a reset sequence may be inlined
// into one harness; above this the reserved guard stack space in the
// prolog (kept at one page, SUB_RSP_0x1000) is not large enough.
const MaxResetRepeats = 100

// ErrOverflow is returned when a harness would not fit in one page. The
// original implementation treats this as fatal (abort()); here it is a
// normal error so callers can choose how to react.
var ErrOverflow = fmt.Errorf("harness: generated code exceeds page boundary")

var (
	instPushRbxRspRbp      = []byte{0x53, 0x54, 0x55}
	instPushR12R13R14R15   = []byte{0x41, 0x54, 0x41, 0x55, 0x41, 0x56, 0x41, 0x57}
	instSubRsp8            = []byte{0x48, 0x83, 0xec, 0x08}
	instStmxcsrRsp         = []byte{0x0f, 0xae, 0x1c, 0x24}
	instFstcwRsp           = []byte{0x9b, 0xd9, 0x3c, 0x24}
	instMovRbpRsp          = []byte{0x48, 0x89, 0xe5}
	instSubRsp0x1000       = []byte{0x48, 0x81, 0xec, 0x00, 0x10, 0x00, 0x00}
	instMovR8Imm32Prefix   = []byte{0x49, 0xc7, 0xc0}
	instMovRaxImm32Prefix  = []byte{0x48, 0xc7, 0xc0}
	instMovRdiImm32Prefix  = []byte{0x48, 0xc7, 0xc7}
	instMovRsiImm32Prefix  = []byte{0x48, 0xc7, 0xc6}
	instMovRdxImm32Prefix  = []byte{0x48, 0xc7, 0xc2}
	instMovqXmm0R8         = []byte{0x66, 0x49, 0x0f, 0x6e, 0xc0}
	instCld                = []byte{0xfc}
	instPopR15R14R13R12    = []byte{0x41, 0x5f, 0x41, 0x5e, 0x41, 0x5d, 0x41, 0x5c}
	instPopRbpRspRbx       = []byte{0x5d, 0x5c, 0x5b}
	instMovRspRbp          = []byte{0x48, 0x89, 0xec}
	instRet                = []byte{0xc3}
	instAddRsp8            = []byte{0x48, 0x83, 0xc4, 0x08}
	instLdmxcsrRsp         = []byte{0x0f, 0xae, 0x14, 0x24}
	instFldcwRsp           = []byte{0xd9, 0x2c, 0x24}
	instXorEaxEaxCpuid     = []byte{0x31, 0xc0, 0x0f, 0xa2}
	instMfence             = []byte{0x0f, 0xae, 0xf0}
	instRdtsc               = []byte{0x0f, 0x31}
	instMovR10Rax           = []byte{0x49, 0x89, 0xc2}
	instRdtscp              = []byte{0x0f, 0x01, 0xf9}
	instSubRaxR10           = []byte{0x4c, 0x29, 0xd0}
	instMovR11Rax           = []byte{0x49, 0x89, 0xc3}
	instCpuid                = []byte{0x0f, 0xa2}
	instMovRaxR11            = []byte{0x4c, 0x89, 0xd8}

	instRelativeCallOpcode = []byte{0xe8}
	instRelativeJmpOpcode  = []byte{0xe9}
	instLeaRaxRipPrefix    = []byte{0x48, 0x8d, 0x05}
	instMovDerefRspRax     = []byte{0x48, 0x89, 0x04, 0x24}
)

// Page is a write cursor over a single memory page a harness is assembled
// into. It does not own the backing memory; callers supply it (normally a
// memmap.CodePage's Bytes()).
type Page struct {
	mem    []byte
	cursor int
}

// NewPage wraps mem as an empty write cursor. mem must be exactly one
// page; it is filled with NOP and terminated with a RET sentinel so any
// harness that runs off the end of its own code still returns cleanly.
func NewPage(mem []byte) *Page {
	for i := range mem {
		mem[i] = 0x90 // NOP
	}
	mem[len(mem)-1] = 0xc3 // RET, matches InitializeCodePage's safety net
	return &Page{mem: mem}
}

// Len reports how many bytes have been written so far.
func (p *Page) Len() int { return p.cursor }

// Emit appends raw bytes at the write cursor, failing with ErrOverflow if
// doing so would land on or past the last byte of the page (the original
// reserves that byte for the RET sentinel, hence the strict "<" rather
// than "<=" bound).
func (p *Page) Emit(b []byte) error {
	if p.cursor+len(b) >= len(p.mem) {
		return fmt.Errorf("harness: at offset %d writing %d bytes into %d-byte page: %w",
			p.cursor, len(b), len(p.mem), ErrOverflow)
	}
	copy(p.mem[p.cursor:], b)
	p.cursor += len(b)
	return nil
}

// EmitImm32LE appends a 32-bit little-endian immediate.
func (p *Page) EmitImm32LE(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return p.Emit(buf[:])
}

// addProlog saves callee-saved registers and the MXCSR/x87 control words,
// reserves a guard page of stack space, and points R8/RAX/RDI/RSI/RDX and
// XMM0 at dataBase — the fixed address the harness's data page is mapped
// at. Mirrors AddProlog exactly.
func addProlog(p *Page, dataBase uint32) error {
	steps := [][]byte{
		instPushRbxRspRbp,
		instPushR12R13R14R15,
		instSubRsp8, instStmxcsrRsp,
		instSubRsp8, instFstcwRsp,
		instMovRbpRsp,
		instSubRsp0x1000,
	}
	for _, s := range steps {
		if err := p.Emit(s); err != nil {
			return err
		}
	}
	regs := [][]byte{instMovR8Imm32Prefix, instMovRaxImm32Prefix, instMovRdiImm32Prefix, instMovRsiImm32Prefix, instMovRdxImm32Prefix}
	for _, prefix := range regs {
		if err := p.Emit(prefix); err != nil {
			return err
		}
		if err := p.EmitImm32LE(int32(dataBase)); err != nil {
			return err
		}
	}
	return p.Emit(instMovqXmm0R8)
}

// addEpilog restores everything addProlog set up, mirroring AddEpilog.
func addEpilog(p *Page) error {
	steps := [][]byte{
		instCld,
		instMovRspRbp,
		instFldcwRsp, instAddRsp8,
		instLdmxcsrRsp, instAddRsp8,
		instPopR15R14R13R12,
		instPopRbpRspRbx,
		instRet,
	}
	for _, s := range steps {
		if err := p.Emit(s); err != nil {
			return err
		}
	}
	return nil
}

// addSerialize inserts the CPUID-based serialization barrier used between
// every phase of a harness, mirroring AddSerializeInstructionToCodePage.
func addSerialize(p *Page) error {
	return p.Emit(instXorEaxEaxCpuid)
}

// addTimerStart starts the cycle counter, mirroring AddTimerStartToCodePage.
func addTimerStart(p *Page) error {
	for _, s := range [][]byte{instMfence, instXorEaxEaxCpuid, instRdtsc, instMovR10Rax} {
		if err := p.Emit(s); err != nil {
			return err
		}
	}
	return nil
}

// addTimerEnd stops the cycle counter and leaves the elapsed cycle count
// in R11, mirroring AddTimerEndToCodePage.
func addTimerEnd(p *Page) error {
	for _, s := range [][]byte{instRdtscp, instSubRaxR10, instMovR11Rax, instCpuid} {
		if err := p.Emit(s); err != nil {
			return err
		}
	}
	return nil
}

// addReturnValue moves the elapsed cycle count from R11 into RAX, the
// System V return register, mirroring MakeTimerResultReturnValue.
func addReturnValue(p *Page) error {
	return p.Emit(instMovRaxR11)
}

func checkRepeat(n int) error {
	if n > MaxResetRepeats {
		return fmt.Errorf("harness: repeat count %d exceeds MaxResetRepeats (%d)", n, MaxResetRepeats)
	}
	return nil
}

// BuildReset assembles a harness that runs trigger once, serializes,
// then repeats reset resetRepeats times, serializes again, times
// measurement, and returns the elapsed cycle count. Used for both arms of
// TestReset (with and without the trigger sequence), mirroring
// CreateResetTestrunCode.
func BuildReset(p *Page, dataBase uint32, trigger, reset, measurement []byte, resetRepeats int) error {
	if err := checkRepeat(resetRepeats); err != nil {
		return err
	}
	if err := addProlog(p, dataBase); err != nil {
		return err
	}
	if err := p.Emit(trigger); err != nil {
		return err
	}
	if err := addSerialize(p); err != nil {
		return err
	}
	for i := 0; i < resetRepeats; i++ {
		if err := p.Emit(reset); err != nil {
			return err
		}
	}
	if err := addSerialize(p); err != nil {
		return err
	}
	if err := addTimerStart(p); err != nil {
		return err
	}
	if err := p.Emit(measurement); err != nil {
		return err
	}
	if err := addTimerEnd(p); err != nil {
		return err
	}
	if err := addReturnValue(p); err != nil {
		return err
	}
	return addEpilog(p)
}

// BuildTriple assembles a harness that runs first firstRepeats times,
// serializes, runs second once, serializes, times measurement, and
// returns the elapsed cycle count. Used for both orderings of
// TestSequenceTriple's pair and for the two arms of TestTrigger's
// non-speculative mode, mirroring CreateTestrunCode.
func BuildTriple(p *Page, dataBase uint32, first, second, measurement []byte, firstRepeats int) error {
	if err := checkRepeat(firstRepeats); err != nil {
		return err
	}
	if err := addProlog(p, dataBase); err != nil {
		return err
	}
	if err := addSerialize(p); err != nil {
		return err
	}
	for i := 0; i < firstRepeats; i++ {
		if err := p.Emit(first); err != nil {
			return err
		}
	}
	if err := addSerialize(p); err != nil {
		return err
	}
	if err := p.Emit(second); err != nil {
		return err
	}
	if err := addSerialize(p); err != nil {
		return err
	}
	if err := addTimerStart(p); err != nil {
		return err
	}
	if err := p.Emit(measurement); err != nil {
		return err
	}
	if err := addTimerEnd(p); err != nil {
		return err
	}
	if err := addReturnValue(p); err != nil {
		return err
	}
	return addEpilog(p)
}

// BuildSpeculativeTrigger assembles a harness that executes reset
// resetRepeats times, then misdirects the CPU's return-stack-buffer
// predictor with a CALL/JMP/LEA/MOV/RET gadget so that trigger only ever
// runs speculatively (its architectural effects, if any, are squashed;
// only microarchitectural side effects survive), and finally times
// measurement. Mirrors CreateSpeculativeTriggerTestrunCode, including its
// exact relative-displacement arithmetic.
func BuildSpeculativeTrigger(p *Page, dataBase uint32, measurement, trigger, reset []byte, resetRepeats int) error {
	if err := checkRepeat(resetRepeats); err != nil {
		return err
	}
	if err := addProlog(p, dataBase); err != nil {
		return err
	}
	if err := addSerialize(p); err != nil {
		return err
	}
	for i := 0; i < resetRepeats; i++ {
		if err := p.Emit(reset); err != nil {
			return err
		}
	}
	if err := addSerialize(p); err != nil {
		return err
	}

	// Displacements below mirror call_displacement/jmp_displacement/
	// lea_rip_displacement in CreateSpeculativeTriggerTestrunCode exactly,
	// including its "sizeof() - 1" convention for dropping the C string's
	// trailing NUL from the literal instruction-byte lengths.
	callDisplacement := int32(len(trigger) + len(instRelativeJmpOpcode) + 4)
	jmpDisplacement := int32(len(instLeaRaxRipPrefix) + 4 + len(instMovDerefRspRax) + len(instRet))
	leaRipDisplacement := int32(len(instMovDerefRspRax) + len(instRet))

	if err := p.Emit(instRelativeCallOpcode); err != nil {
		return err
	}
	if err := p.EmitImm32LE(callDisplacement); err != nil {
		return err
	}

	// Speculation window: the CPU predicts this CALL returns here, but the
	// architectural return address (patched in below) points elsewhere.
	if err := p.Emit(trigger); err != nil {
		return err
	}
	if err := p.Emit(instRelativeJmpOpcode); err != nil {
		return err
	}
	if err := p.EmitImm32LE(jmpDisplacement); err != nil {
		return err
	}

	// Target of the CALL: load the real return address into RAX, splice it
	// onto the stack in place of the predicted one, then RET — the RET is
	// mispredicted (it targets the just-squashed speculation path) but
	// architecturally resolves to the instruction right after this block.
	if err := p.Emit(instLeaRaxRipPrefix); err != nil {
		return err
	}
	if err := p.EmitImm32LE(leaRipDisplacement); err != nil {
		return err
	}
	if err := p.Emit(instMovDerefRspRax); err != nil {
		return err
	}
	if err := p.Emit(instRet); err != nil {
		return err
	}

	// Target of both the LEA-computed return address and the in-speculation JMP.
	if err := addTimerStart(p); err != nil {
		return err
	}
	if err := p.Emit(measurement); err != nil {
		return err
	}
	if err := addTimerEnd(p); err != nil {
		return err
	}
	if err := addReturnValue(p); err != nil {
		return err
	}
	return addEpilog(p)
}

// NOPSequence returns length NOP bytes, mirroring CreateSequenceOfNOPs —
// used by callers that need a same-size stand-in for a sequence without
// its side effects.
func NOPSequence(length int) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = 0x90
	}
	return out
}
