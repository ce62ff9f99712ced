//go:build linux && amd64

package trap

import (
	"testing"

	"github.com/cispa/osiris/internal/memmap"
)

func makeExecutablePage(t *testing.T, code []byte) *memmap.CodePage {
	t.Helper()
	page, err := memmap.NewCodePage()
	if err != nil {
		t.Fatalf("NewCodePage: %v", err)
	}
	copy(page.Bytes(), code)
	return page
}

func freeExecutablePage(page *memmap.CodePage) {
	page.Close()
}

func addrOf(page *memmap.CodePage) uintptr {
	return page.Addr()
}

func TestCallReturnsCleanly(t *testing.T) {
	Register()
	defer Unregister()

	// 0xc3 is RET; a harness that immediately returns leaves whatever was
	// already in RAX, but the call must complete without faulting.
	page := makeExecutablePage(t, []byte{0xc3})
	defer freeExecutablePage(page)

	if _, ok := Call(addrOf(page)); !ok {
		t.Fatalf("Call on a RET-only page: got ok=false, want true")
	}
}

func TestCallRecoversFromFault(t *testing.T) {
	Register()
	defer Unregister()

	_, before, _, _ := FaultCounts()

	// 0x0f 0x0b is UD2, an instruction guaranteed to raise SIGILL.
	page := makeExecutablePage(t, []byte{0x0f, 0x0b})
	defer freeExecutablePage(page)

	if _, ok := Call(addrOf(page)); ok {
		t.Fatalf("Call on a UD2-only page: got ok=true, want false")
	}
	_, afterFirst, _, _ := FaultCounts()
	if afterFirst <= before {
		t.Fatalf("FaultCounts: SIGILL counter did not increment")
	}

	// Calling again must still work: the fault boundary must not leave
	// SIGILL permanently blocked.
	if _, ok := Call(addrOf(page)); ok {
		t.Fatalf("second Call on the same UD2 page: got ok=true, want false")
	}
	_, afterSecond, _, _ := FaultCounts()
	if afterSecond <= afterFirst {
		t.Fatalf("SIGILL counter did not increase across two faulting calls")
	}
}
