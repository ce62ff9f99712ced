package format

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubDisassembler struct{}

func (stubDisassembler) Disassemble(code []byte) ([]Instruction, error) {
	if len(code) == 1 && code[0] == 0x90 {
		return []Instruction{{Mnemonic: "nop", Operands: ""}}, nil
	}
	return nil, nil
}

func TestFormatTriggerPairsDecodesKnownTrigger(t *testing.T) {
	inputDir := t.TempDir()
	trigger := []byte{0x90}
	name := base64.StdEncoding.EncodeToString(trigger)
	content := base64.StdEncoding.EncodeToString([]byte{0x90}) + ";123\n"
	if err := os.WriteFile(filepath.Join(inputDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write side file: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "formatted")
	if err := FormatTriggerPairs(stubDisassembler{}, inputDir, outputDir); err != nil {
		t.Fatalf("FormatTriggerPairs: %v", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d output files, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "nop_---0") {
		t.Fatalf("unexpected output filename %q", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(outputDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "TIMING: 123") {
		t.Fatalf("output missing timing line:\n%s", data)
	}
}

func TestFormatTriggerPairsFallsBackOnUndecodable(t *testing.T) {
	inputDir := t.TempDir()
	trigger := []byte{0x00, 0x00}
	name := base64.StdEncoding.EncodeToString(trigger)
	content := base64.StdEncoding.EncodeToString(trigger) + ";-7\n"
	if err := os.WriteFile(filepath.Join(inputDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write side file: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "formatted")
	if err := FormatTriggerPairs(stubDisassembler{}, inputDir, outputDir); err != nil {
		t.Fatalf("FormatTriggerPairs: %v", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d output files, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "disasm_err_") {
		t.Fatalf("unexpected output filename %q, want disasm_err_ prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(outputDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "DISASM ERR(inst:") {
		t.Fatalf("output missing trigger disasm error marker:\n%s", data)
	}
	if !strings.Contains(string(data), "TIMING: -7") {
		t.Fatalf("output missing timing line:\n%s", data)
	}
}

func TestHexDisassemblerAlwaysErrors(t *testing.T) {
	insts, err := HexDisassembler{}.Disassemble([]byte{0x90})
	if err == nil {
		t.Fatalf("HexDisassembler.Disassemble returned nil error")
	}
	if insts != nil {
		t.Fatalf("HexDisassembler.Disassemble returned non-nil instructions")
	}
}

func TestFormatTriggerPairsRejectsBadFileName(t *testing.T) {
	inputDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(inputDir, "not-base64!!"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outputDir := filepath.Join(t.TempDir(), "formatted")
	if err := FormatTriggerPairs(stubDisassembler{}, inputDir, outputDir); err == nil {
		t.Fatalf("expected error for non-base64 side-file name")
	}
}
