package filter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeInput(t *testing.T, rows []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pairs.csv")
	content := header + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func outputPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "out.csv")
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return lines
}

func TestIncreaseThresholdTo300DropsSmallDeltas(t *testing.T) {
	rows := []string{
		"40;1;nop;c;e;i;2;nop;c;e;i;3;nop;c;e;i",
		"400;1;nop;c;e;i;2;nop;c;e;i;3;nop;c;e;i",
	}
	in := writeInput(t, rows)
	out := outputPath(t)

	rf := New()
	rf.EnableFilter(IncreaseThresholdTo300)
	if err := rf.ApplyFiltersOnFile(in, out); err != nil {
		t.Fatalf("ApplyFiltersOnFile: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + surviving row)", len(lines))
	}
	if !strings.HasPrefix(lines[1], "400;") {
		t.Fatalf("surviving row = %q, want the 400 row", lines[1])
	}
}

func TestRemoveAllCacheSequencesDropsAnyCacheTouch(t *testing.T) {
	rows := []string{
		"400;1;nop;c;e;i;2;nop;c;e;i;3;CLFLUSH;c;e;i",
		"400;1;nop;c;e;i;2;nop;c;e;i;3;nop;c;e;i",
	}
	in := writeInput(t, rows)
	out := outputPath(t)

	rf := New()
	rf.EnableFilter(RemoveAllCacheSequences)
	if err := rf.ApplyFiltersOnFile(in, out); err != nil {
		t.Fatalf("ApplyFiltersOnFile: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if strings.Contains(lines[1], "CLFLUSH") {
		t.Fatalf("CLFLUSH row survived filtering")
	}
}

func TestUniquePropertyTuplesKeepsOnlyLargestMagnitude(t *testing.T) {
	rows := []string{
		"40;1;nopA;c;e;i;2;nopB;c;e;i;3;nopC;c;e;i",
		"-900;1;nopA;c;e;i;2;nopB;c;e;i;3;nopC;c;e;i",
		"100;1;nopA;c;e;i;2;nopB;c;e;i;3;nopC;c;e;i",
	}
	in := writeInput(t, rows)
	out := outputPath(t)

	rf := New()
	rf.EnableFilter(UniquePropertyTuples)
	if err := rf.ApplyFiltersOnFile(in, out); err != nil {
		t.Fatalf("ApplyFiltersOnFile: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + best row)", len(lines))
	}
	if !strings.HasPrefix(lines[1], "-900;") {
		t.Fatalf("surviving row = %q, want the -900 row", lines[1])
	}
}

func TestMeasurementTriggerExtensionPairsKeepsOnlyLargestMagnitude(t *testing.T) {
	rows := []string{
		"40;1;nopA;c;extA;i;2;nopB;c;extB;i;3;nopC;c;e;i",
		"900;1;nopA;c;extA;i;2;nopB;c;extB;i;3;nopC;c;e;i",
	}
	in := writeInput(t, rows)
	out := outputPath(t)

	rf := New()
	rf.EnableFilter(MeasurementTriggerExtensionPairs)
	if err := rf.ApplyFiltersOnFile(in, out); err != nil {
		t.Fatalf("ApplyFiltersOnFile: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[1], "900;") {
		t.Fatalf("surviving row = %q, want the 900 row", lines[1])
	}
}

func TestEnableDisableFilterToggling(t *testing.T) {
	rf := New()
	rf.EnableFilter(IncreaseThresholdTo300)
	rf.EnableFilter(IncreaseThresholdTo300)
	if len(rf.active) != 1 {
		t.Fatalf("EnableFilter should be idempotent, got %d active filters", len(rf.active))
	}
	rf.DisableFilter(IncreaseThresholdTo300)
	if len(rf.active) != 0 {
		t.Fatalf("DisableFilter did not remove filter, got %d active", len(rf.active))
	}
}

func TestClearAllFilters(t *testing.T) {
	rf := New()
	rf.EnableFilters([]Func{IncreaseThresholdTo300, RemoveAllCacheSequences})
	rf.ClearAllFilters()
	if len(rf.active) != 0 {
		t.Fatalf("ClearAllFilters left %d active", len(rf.active))
	}
}

func TestApplyFiltersOnFileRejectsBadHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(path, []byte("not-a-header\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rf := New()
	if err := rf.ApplyFiltersOnFile(path, outputPath(t)); err == nil {
		t.Fatalf("expected error for bad header, got nil")
	}
}
