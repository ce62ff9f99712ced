// Package format turns Mode B's per-trigger side files (raw base64-named
// files of `<b64 reset>;<timing>` lines) into a human-readable directory
// tree, one file per trigger, each holding the disassembled trigger
// instruction followed by its reset candidates and their timing deltas.
//
// Grounded on original_source/src/core.cc::FormatTriggerPairOutput.
// Disassembly itself (capstone in the original) is out of scope per
// spec.md §1 — no Go capstone binding or x86 disassembler of any kind
// appears anywhere in the retrieval pack, so Disassembler is left as an
// interface a caller can plug a real one into; HexDisassembler is the
// only implementation shipped here and always reports "DISASM ERR",
// mirroring the original's own fallback path for bytes capstone could
// not decode.
package format

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cispa/osiris/internal/olog"
)

const (
	delimiter  = "======================================================================="
	delimiter2 = "-----------------------------------------------------------------------"
)

// Instruction is one decoded machine instruction, mnemonic plus operands.
type Instruction struct {
	Mnemonic string
	Operands string
}

func (i Instruction) String() string {
	if i.Operands == "" {
		return i.Mnemonic
	}
	return i.Mnemonic + " " + i.Operands
}

// Disassembler decodes a byte sequence into one or more instructions.
// Implementations should decode as many instructions as fit in the
// provided bytes, the way a length-prefixed x86 decode loop would.
type Disassembler interface {
	Disassemble(code []byte) ([]Instruction, error)
}

// HexDisassembler never decodes successfully; it exists so
// FormatTriggerPairs has a usable default when no real disassembler is
// wired in, producing the same "DISASM ERR" fallback text the original
// writes when capstone fails to decode a sequence.
type HexDisassembler struct{}

// Disassemble always returns an error, reporting the raw hex of code.
func (HexDisassembler) Disassemble(code []byte) ([]Instruction, error) {
	return nil, fmt.Errorf("no disassembler wired in (bytes: %x)", code)
}

// FormatTriggerPairs reads every per-trigger side file under inputDir
// (as written by internal/resultio.SideFileWriter) and writes one
// formatted text file per trigger under outputDir, naming each file
// "<mnemonic>_<operands>---<index>" the way the original does, falling
// back to "disasm_err_<original-filename>---<index>" when the trigger
// bytes can't be decoded.
func FormatTriggerPairs(dis Disassembler, inputDir, outputDir string) error {
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("format: remove %s: %w", outputDir, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("format: mkdir %s: %w", outputDir, err)
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return fmt.Errorf("format: read %s: %w", inputDir, err)
	}

	uniqueIdx := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := formatOneFile(dis, inputDir, outputDir, entry.Name(), &uniqueIdx); err != nil {
			return err
		}
	}
	return nil
}

func formatOneFile(dis Disassembler, inputDir, outputDir, name string, uniqueIdx *int) error {
	triggerBytes, err := base64.StdEncoding.DecodeString(name)
	if err != nil {
		return fmt.Errorf("format: %s is not a valid base64 side-file name: %w", name, err)
	}

	var header string
	instructions, derr := dis.Disassemble(triggerBytes)
	if derr != nil || len(instructions) == 0 {
		olog.Logf(1, "couldn't disassemble filename %s", name)
		header = "disasm_err_" + name
	} else {
		header = instructions[0].Mnemonic + "_" + instructions[0].Operands
	}
	header = strings.ReplaceAll(header, " ", "_")
	formattedName := fmt.Sprintf("%s---%d", header, *uniqueIdx)
	*uniqueIdx++

	out, err := os.Create(filepath.Join(outputDir, formattedName))
	if err != nil {
		return fmt.Errorf("format: create %s: %w", formattedName, err)
	}
	defer out.Close()

	fmt.Fprintln(out, delimiter)
	fmt.Fprintln(out, "=================== trigger/measurement instruction ===================")
	fmt.Fprintln(out, delimiter)
	if derr != nil || len(instructions) == 0 {
		fmt.Fprintf(out, "DISASM ERR(inst:%s)\n", name)
	} else {
		for _, inst := range instructions {
			fmt.Fprintln(out, inst.String())
		}
	}
	fmt.Fprintln(out, delimiter)
	fmt.Fprintln(out, "========================== reset instructions =========================")
	fmt.Fprintln(out, delimiter)

	inPath := filepath.Join(inputDir, name)
	data, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("format: read %s: %w", inPath, err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, ";", 2)
		if len(fields) != 2 {
			return fmt.Errorf("format: %s: malformed side-file line %q", inPath, line)
		}
		resetBytes, err := base64.StdEncoding.DecodeString(fields[0])
		if err != nil {
			return fmt.Errorf("format: %s: bad base64 reset field: %w", inPath, err)
		}
		timing, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("format: %s: bad timing field: %w", inPath, err)
		}

		resetInstructions, rerr := dis.Disassemble(resetBytes)
		if rerr != nil || len(resetInstructions) == 0 {
			olog.Logf(1, "couldn't disassemble %s", fields[0])
			fmt.Fprintf(out, "DISASM ERR (inst: %s)\n", fields[0])
		} else {
			for _, inst := range resetInstructions {
				fmt.Fprintln(out, inst.String())
			}
		}
		fmt.Fprintf(out, "TIMING: %d\n", timing)
		fmt.Fprintln(out, delimiter2)
	}
	return nil
}
