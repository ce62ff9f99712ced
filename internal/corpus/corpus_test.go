package corpus

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCorpus(t *testing.T, rows []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "instructions.csv")
	content := Header + "\n"
	for _, r := range rows {
		content += r + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeCorpus(t, []string{
		b64([]byte{0x90}) + ";nop;general;none;baseline",
		b64([]byte{0x0f, 0x31}) + ";rdtsc;timing;none;baseline",
	})

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NumInstructions() != 2 {
		t.Fatalf("NumInstructions() = %d, want 2", c.NumInstructions())
	}

	first, err := c.ByIndex(0)
	if err != nil {
		t.Fatalf("ByIndex(0): %v", err)
	}
	if first.Assembly != "nop" {
		t.Fatalf("ByIndex(0).Assembly = %q, want nop", first.Assembly)
	}

	back, err := c.ByUID(first.UID)
	if err != nil {
		t.Fatalf("ByUID: %v", err)
	}
	if back.Assembly != first.Assembly {
		t.Fatalf("ByUID round trip mismatch: got %q, want %q", back.Assembly, first.Assembly)
	}
}

func TestByUIDMismatch(t *testing.T) {
	pathA := writeCorpus(t, []string{b64([]byte{0x90}) + ";nop;general;none;baseline"})
	pathB := writeCorpus(t, []string{b64([]byte{0xcc}) + ";int3;trap;none;baseline"})

	a, err := Load(pathA)
	if err != nil {
		t.Fatalf("Load(a): %v", err)
	}
	b, err := Load(pathB)
	if err != nil {
		t.Fatalf("Load(b): %v", err)
	}

	inst, err := a.ByIndex(0)
	if err != nil {
		t.Fatalf("ByIndex: %v", err)
	}
	if _, err := b.ByUID(inst.UID); !errors.Is(err, ErrMismatch) {
		t.Fatalf("ByUID across corpora: got err %v, want ErrMismatch", err)
	}
}

func TestByIndexBounds(t *testing.T) {
	path := writeCorpus(t, []string{b64([]byte{0x90}) + ";nop;general;none;baseline"})
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := c.ByIndex(1); !errors.Is(err, ErrBadIndex) {
		t.Fatalf("ByIndex(1): got err %v, want ErrBadIndex", err)
	}
	if _, err := c.ByIndex(-1); !errors.Is(err, ErrBadIndex) {
		t.Fatalf("ByIndex(-1): got err %v, want ErrBadIndex", err)
	}
}

func TestLoadBadHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(path, []byte("wrong;header\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("Load: got err %v, want ErrBadHeader", err)
	}
}

func TestLoadBadRow(t *testing.T) {
	path := writeCorpus(t, []string{"AA==;only;three;fields"})
	if _, err := Load(path); !errors.Is(err, ErrBadRow) {
		t.Fatalf("Load: got err %v, want ErrBadRow", err)
	}
}

func TestIsSleepSentinel(t *testing.T) {
	cases := map[string]bool{
		SentinelBusySleep:      true,
		SentinelShortBusySleep: true,
		SentinelSleepSyscall:   true,
		"nop":                  false,
		"":                     false,
	}
	for assembly, want := range cases {
		if got := IsSleepSentinel(assembly); got != want {
			t.Errorf("IsSleepSentinel(%q) = %v, want %v", assembly, got, want)
		}
	}
}
