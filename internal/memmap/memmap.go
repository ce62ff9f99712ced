// Package memmap owns the two kinds of pages the executor needs: the two
// fixed-address data pages that JIT'd harnesses read and write during
// measurement, and the anonymous RWX code pages the harnesses are written
// into before being called.
//
// Grounded on original_source/src/executor.cc's Executor() constructor
// (the mmap/msync sequence for both page kinds). golang.org/x/sys/unix's
// Mmap wrapper always requests addr=0 from the kernel, so the
// MAP_FIXED path goes through unix.Syscall6(unix.SYS_MMAP, ...) directly,
// the same raw-syscall style other_examples/gate-computer-gate__gen.go
// uses for low-level interaction with the same package.
package memmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the size of every page this package maps. The executor
// always works in whole pages regardless of the host's actual page size.
const PageSize = 4096

// DataBase is the fixed virtual address of the first data page, matching
// kMemoryBegin in the original implementation.
const DataBase = 0x13370000

// ErrAlreadyMapped is returned when a fixed data-page address is already
// occupied by another mapping — the original aborts the process outright
// when this happens; callers here get the chance to decide.
var ErrAlreadyMapped = fmt.Errorf("memmap: fixed address already mapped")

// DataPage is one fixed-address, read-write page used by harnesses to
// stage operands and scratch memory at a known address.
type DataPage struct {
	addr uintptr
	mem  []byte
}

// Addr returns the page's fixed virtual address.
func (p *DataPage) Addr() uintptr { return p.addr }

// Bytes exposes the page's backing memory directly; writes are visible to
// code executed through this address.
func (p *DataPage) Bytes() []byte { return p.mem }

// Zero clears the page's contents without unmapping it.
func (p *DataPage) Zero() {
	for i := range p.mem {
		p.mem[i] = 0
	}
}

// Close unmaps the data page. unix.Munmap is not used here because it
// refuses to unmap a slice it did not hand out itself via unix.Mmap, and
// this page was mapped with a raw SYS_MMAP call (see NewDataPage).
func (p *DataPage) Close() error {
	if p.mem == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&p.mem[0]))
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, PageSize, 0)
	p.mem = nil
	if errno != 0 {
		return errno
	}
	return nil
}

// NewDataPage maps a single fixed-address, anonymous, read-write page at
// base. It fails with ErrAlreadyMapped if the address range is already
// backed by another mapping, mirroring the msync probe in
// Executor::Executor.
func NewDataPage(base uintptr) (*DataPage, error) {
	if err := probeUnmapped(base); err != nil {
		return nil, err
	}
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP,
		base,
		PageSize,
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_FIXED|unix.MAP_PRIVATE|unix.MAP_ANONYMOUS),
		^uintptr(0), // fd -1
		0)
	if errno != 0 {
		return nil, fmt.Errorf("memmap: mmap data page at %#x: %w", base, errno)
	}
	if addr != base {
		return nil, fmt.Errorf("memmap: mmap data page returned %#x, want %#x", addr, base)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), PageSize)
	return &DataPage{addr: base, mem: mem}, nil
}

// probeUnmapped asks msync whether anything already backs addr; ENOMEM
// means nothing does, which is the only acceptable outcome before a fixed
// mapping is requested there.
func probeUnmapped(addr uintptr) error {
	probe := unsafe.Slice((*byte)(unsafe.Pointer(addr)), PageSize)
	err := unix.Msync(probe, 0)
	if err == nil || err != unix.ENOMEM {
		return fmt.Errorf("memmap: address %#x: %w", addr, ErrAlreadyMapped)
	}
	return nil
}

// CodePage is an anonymous, RWX page a harness is JIT'd into and then
// executed from. The executor keeps two of these, one for each of the two
// harnesses a measurement compares; each is built and then run in turn.
type CodePage struct {
	mem []byte
}

// Addr returns the code page's base address, taken from the slice Go
// allocated for it via mmap.
func (p *CodePage) Addr() uintptr {
	if len(p.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&p.mem[0]))
}

// Bytes exposes the page's backing memory for the harness builder to
// write into.
func (p *CodePage) Bytes() []byte { return p.mem }

// Zero clears the page's contents.
func (p *CodePage) Zero() {
	for i := range p.mem {
		p.mem[i] = 0
	}
}

// Close unmaps the code page.
func (p *CodePage) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// NewCodePage maps a single anonymous page with read, write, and execute
// permission, matching the PROT_READ|PROT_WRITE|PROT_EXEC mapping
// Executor::Executor requests for its code pages.
func NewCodePage() (*CodePage, error) {
	mem, err := unix.Mmap(-1, 0, PageSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("memmap: mmap code page: %w", err)
	}
	return &CodePage{mem: mem}, nil
}
