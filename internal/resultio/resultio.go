// Package resultio writes and reads the three on-disk artefacts the
// search driver and its downstream tools exchange: the pairs CSV, Mode
// B's per-trigger side files, and the non-faulting-instruction CSV.
//
// Grounded on original_source/src/core.cc (FindAndOutputTriggerpairs*,
// OutputNonFaultingInstructions) for the exact record shapes, and on the
// teacher pack's encoding/csv-free, manual ";"-join style (no CSV library
// appears anywhere in the retrieval pack, so this stays on manual
// semicolon joins rather than introducing one — see DESIGN.md).
package resultio

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cispa/osiris/internal/corpus"
)

// PairsHeader is the literal first line of a pairs CSV, copied verbatim
// from spec.md §6.
const PairsHeader = "timing;measurement-uid;measurement-sequence;measurement-category;measurement-extension;measurement-isa-set;trigger-uid;trigger-sequence;trigger-category;trigger-extension;trigger-isa-set;reset-uid;reset-sequence;reset-category;reset-extension;reset-isa-set"

// PairRow is one qualifying (measurement, trigger, reset) triple plus the
// timing delta that qualified it.
type PairRow struct {
	Timing      int64
	Measurement corpus.Instruction
	Trigger     corpus.Instruction
	Reset       corpus.Instruction
}

// CSVLine renders the row in pairs-CSV format.
func (r PairRow) CSVLine() string {
	fields := []string{strconv.FormatInt(r.Timing, 10)}
	fields = append(fields, r.Measurement.CSVFields()...)
	fields = append(fields, r.Trigger.CSVFields()...)
	fields = append(fields, r.Reset.CSVFields()...)
	return strings.Join(fields, ";")
}

// PairsWriter appends PairRows to a pairs CSV, writing the header once on
// creation.
type PairsWriter struct {
	f *os.File
	w *bufio.Writer
}

// NewPairsWriter creates (or truncates) path and writes the pairs header.
func NewPairsWriter(path string) (*PairsWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("resultio: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(PairsHeader + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("resultio: write header to %s: %w", path, err)
	}
	return &PairsWriter{f: f, w: w}, nil
}

// WriteRow appends one qualifying row.
func (pw *PairsWriter) WriteRow(row PairRow) error {
	if _, err := pw.w.WriteString(row.CSVLine() + "\n"); err != nil {
		return fmt.Errorf("resultio: write row: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the underlying file.
func (pw *PairsWriter) Close() error {
	if err := pw.w.Flush(); err != nil {
		pw.f.Close()
		return fmt.Errorf("resultio: flush: %w", err)
	}
	return pw.f.Close()
}

// RawPairRow is one row of a previously written pairs CSV as parsed by
// ReadPairsCSV, kept as raw fields (without resolving UIDs against a
// corpus — callers that need the decoded Instruction should resolve
// measurement-uid/trigger-uid/reset-uid via corpus.ByUID themselves).
type RawPairRow struct {
	Timing int64

	MeasurementUID       uint64
	MeasurementSequence  string
	MeasurementCategory  string
	MeasurementExtension string
	MeasurementISASet    string

	TriggerUID       uint64
	TriggerSequence  string
	TriggerCategory  string
	TriggerExtension string
	TriggerISASet    string

	ResetUID       uint64
	ResetSequence  string
	ResetCategory  string
	ResetExtension string
	ResetISASet    string
}

// ReadPairsCSV reads and validates a full pairs CSV file.
func ReadPairsCSV(path string) ([]RawPairRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("resultio: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("resultio: %s is empty", path)
	}
	if scanner.Text() != PairsHeader {
		return nil, fmt.Errorf("resultio: %s: unexpected header %q", path, scanner.Text())
	}

	var rows []RawPairRow
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) != 16 {
			return nil, fmt.Errorf("resultio: %s: row has %d fields, want 16", path, len(fields))
		}
		row, err := parseRawPairRow(fields)
		if err != nil {
			return nil, fmt.Errorf("resultio: %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("resultio: %s: %w", path, err)
	}
	return rows, nil
}

func parseRawPairRow(f []string) (RawPairRow, error) {
	timing, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return RawPairRow{}, fmt.Errorf("bad timing field %q: %w", f[0], err)
	}
	measurementUID, err := strconv.ParseUint(f[1], 16, 64)
	if err != nil {
		return RawPairRow{}, fmt.Errorf("bad measurement-uid field %q: %w", f[1], err)
	}
	triggerUID, err := strconv.ParseUint(f[6], 16, 64)
	if err != nil {
		return RawPairRow{}, fmt.Errorf("bad trigger-uid field %q: %w", f[6], err)
	}
	resetUID, err := strconv.ParseUint(f[11], 16, 64)
	if err != nil {
		return RawPairRow{}, fmt.Errorf("bad reset-uid field %q: %w", f[11], err)
	}
	return RawPairRow{
		Timing: timing,

		MeasurementUID:       measurementUID,
		MeasurementSequence:  f[2],
		MeasurementCategory:  f[3],
		MeasurementExtension: f[4],
		MeasurementISASet:    f[5],

		TriggerUID:       triggerUID,
		TriggerSequence:  f[7],
		TriggerCategory:  f[8],
		TriggerExtension: f[9],
		TriggerISASet:    f[10],

		ResetUID:       resetUID,
		ResetSequence:  f[12],
		ResetCategory:  f[13],
		ResetExtension: f[14],
		ResetISASet:    f[15],
	}, nil
}

// SideFileDir returns the path a Mode B side file for trigger should be
// written under outputDir.
func SideFileDir(outputDir string) string { return outputDir }

// SideFilePath derives a per-trigger side-file name: the base64 encoding
// of the trigger's raw bytes, mirroring FindAndOutputTriggerpairsWithTriggerEqualsMeasurement's
// naming convention.
func SideFilePath(outputDir string, triggerBytes []byte) string {
	name := base64.StdEncoding.EncodeToString(triggerBytes)
	return filepath.Join(outputDir, name)
}

// SideFileWriter appends `<b64 reset>;<timing>` lines to a Mode B
// per-trigger side file.
type SideFileWriter struct {
	f *os.File
	w *bufio.Writer
}

// NewSideFileWriter creates (or truncates) the side file for triggerBytes
// under outputDir.
func NewSideFileWriter(outputDir string, triggerBytes []byte) (*SideFileWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("resultio: mkdir %s: %w", outputDir, err)
	}
	path := SideFilePath(outputDir, triggerBytes)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("resultio: create %s: %w", path, err)
	}
	return &SideFileWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteLine appends one `<b64 reset>;<timing>` line.
func (sw *SideFileWriter) WriteLine(resetBytes []byte, timing int64) error {
	line := base64.StdEncoding.EncodeToString(resetBytes) + ";" + strconv.FormatInt(timing, 10)
	if _, err := sw.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("resultio: write side-file line: %w", err)
	}
	return nil
}

// Close flushes and closes the side file.
func (sw *SideFileWriter) Close() error {
	if err := sw.w.Flush(); err != nil {
		sw.f.Close()
		return fmt.Errorf("resultio: flush: %w", err)
	}
	return sw.f.Close()
}

// RecreateOutputDir removes and recreates dir, matching Mode B's
// "delete any prior content before a fresh run" behaviour noted in
// spec.md §7.
func RecreateOutputDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("resultio: remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resultio: mkdir %s: %w", dir, err)
	}
	return nil
}

// WriteNonFaultingCorpus writes a corpus-schema CSV containing only the
// instructions the caller has determined do not fault, mirroring
// OutputNonFaultingInstructions.
func WriteNonFaultingCorpus(path string, instructions []corpus.Instruction) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("resultio: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(corpus.Header + "\n"); err != nil {
		return fmt.Errorf("resultio: write header to %s: %w", path, err)
	}
	for _, inst := range instructions {
		line := strings.Join([]string{
			base64.StdEncoding.EncodeToString(inst.Bytes),
			inst.Assembly,
			inst.Category,
			inst.Extension,
			inst.ISASet,
		}, ";")
		if _, err := w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("resultio: write row to %s: %w", path, err)
		}
	}
	return w.Flush()
}
