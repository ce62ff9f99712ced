// Package filter post-processes a pairs CSV written by internal/search,
// dropping rows by pluggable criteria or keeping only the best row for a
// given property grouping.
//
// Grounded on original_source/src/filter.{h,cc}: ResultFilter becomes
// Filter, the ResultFilterFunctions enum becomes the Func type, and the
// two-pass prefilter/filter split over the input file is preserved
// exactly (a pass to let per-group "best seen" state accumulate, then a
// second pass that actually drops rows), since later filter functions
// depend on state only a full first pass can build.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Func identifies one pluggable filter, mirroring ResultFilterFunctions.
type Func int

const (
	// IncreaseThresholdTo300 drops rows whose |timing| is below 300,
	// raising the effective qualifying threshold past search's default 50.
	IncreaseThresholdTo300 Func = iota
	// RemoveCacheResetSequence drops rows whose reset sequence touches
	// cache state (CLFLUSH, non-temporal MOVs, MASKMOV).
	RemoveCacheResetSequence
	// RemoveAllCacheSequences drops rows where any of measurement,
	// trigger, or reset touches cache state.
	RemoveAllCacheSequences
	// UniquePropertyTuples keeps only the largest-|timing| row for each
	// distinct (measurement, trigger, reset) category/extension/isa-set
	// combination.
	UniquePropertyTuples
	// MeasurementTriggerExtensionPairs keeps only the largest-|timing|
	// row for each distinct (measurement-extension, trigger-extension)
	// pair.
	MeasurementTriggerExtensionPairs
)

// header is the literal pairs CSV header, validated on every read and
// re-emitted on every write.
const header = "timing;measurement-uid;measurement-sequence;measurement-category;measurement-extension;measurement-isa-set;trigger-uid;trigger-sequence;trigger-category;trigger-extension;trigger-isa-set;reset-uid;reset-sequence;reset-category;reset-extension;reset-isa-set"

// lineData holds the fields of one pairs CSV row relevant to filtering;
// the UID fields are not parsed since no filter function needs them.
type lineData struct {
	timing int64

	measurementSequence  string
	measurementCategory  string
	measurementExtension string
	measurementISASet    string

	triggerSequence  string
	triggerCategory  string
	triggerExtension string
	triggerISASet    string

	resetSequence  string
	resetCategory  string
	resetExtension string
	resetISASet    string
}

func parseLineData(line string) (lineData, error) {
	fields := strings.Split(line, ";")
	if len(fields) != 16 {
		return lineData{}, fmt.Errorf("filter: row has %d fields, want 16", len(fields))
	}
	timing, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return lineData{}, fmt.Errorf("filter: bad timing field %q: %w", fields[0], err)
	}
	return lineData{
		timing: timing,

		measurementSequence:  fields[2],
		measurementCategory:  fields[3],
		measurementExtension: fields[4],
		measurementISASet:    fields[5],

		triggerSequence:  fields[7],
		triggerCategory:  fields[8],
		triggerExtension: fields[9],
		triggerISASet:    fields[10],

		resetSequence:  fields[12],
		resetCategory:  fields[13],
		resetExtension: fields[14],
		resetISASet:    fields[15],
	}, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

type bestSeen struct {
	lineNo int64
	timing int64
}

// Filter applies a set of enabled Funcs to a pairs CSV, mirroring
// ResultFilter.
type Filter struct {
	active []Func

	bestPropertyTuples map[string]bestSeen
	bestExtensionPairs map[string]bestSeen
}

// New returns a Filter with no filters enabled.
func New() *Filter {
	return &Filter{
		bestPropertyTuples: make(map[string]bestSeen),
		bestExtensionPairs: make(map[string]bestSeen),
	}
}

// EnableFilter enables f if it is not already active.
func (rf *Filter) EnableFilter(f Func) {
	for _, existing := range rf.active {
		if existing == f {
			return
		}
	}
	rf.active = append(rf.active, f)
}

// DisableFilter removes f from the active set if present.
func (rf *Filter) DisableFilter(f Func) {
	for i, existing := range rf.active {
		if existing == f {
			rf.active = append(rf.active[:i], rf.active[i+1:]...)
			return
		}
	}
}

// EnableFilters enables every Func in fs.
func (rf *Filter) EnableFilters(fs []Func) {
	for _, f := range fs {
		rf.EnableFilter(f)
	}
}

// DisableFilters disables every Func in fs.
func (rf *Filter) DisableFilters(fs []Func) {
	for _, f := range fs {
		rf.DisableFilter(f)
	}
}

// ClearAllFilters disables every active Func.
func (rf *Filter) ClearAllFilters() {
	rf.active = nil
}

func propertyTupleKey(d lineData) string {
	return d.measurementCategory + d.measurementExtension + d.measurementISASet +
		d.triggerCategory + d.triggerExtension + d.triggerISASet +
		d.resetCategory + d.resetExtension + d.resetISASet
}

func extensionPairKey(d lineData) string {
	return d.measurementExtension + d.triggerExtension
}

func updateBest(m map[string]bestSeen, key string, lineNo, timing int64) {
	if current, ok := m[key]; ok {
		if abs64(timing) > abs64(current.timing) {
			m[key] = bestSeen{lineNo: lineNo, timing: timing}
		}
		return
	}
	m[key] = bestSeen{lineNo: lineNo, timing: timing}
}

// runPrefilter updates any per-group "best seen" state f needs before the
// filtering pass can decide which rows to keep.
func (rf *Filter) runPrefilter(lineNo int64, d lineData, f Func) {
	switch f {
	case UniquePropertyTuples:
		updateBest(rf.bestPropertyTuples, propertyTupleKey(d), lineNo, d.timing)
	case MeasurementTriggerExtensionPairs:
		updateBest(rf.bestExtensionPairs, extensionPairKey(d), lineNo, d.timing)
	case RemoveAllCacheSequences, RemoveCacheResetSequence, IncreaseThresholdTo300:
		// stateless, no prefilter pass needed
	}
}

// runFilter reports whether the row at lineNo should be dropped under f.
func (rf *Filter) runFilter(lineNo int64, d lineData, f Func) bool {
	switch f {
	case IncreaseThresholdTo300:
		return -300 < d.timing && d.timing < 300
	case UniquePropertyTuples:
		best := rf.bestPropertyTuples[propertyTupleKey(d)]
		return lineNo != best.lineNo
	case MeasurementTriggerExtensionPairs:
		best := rf.bestExtensionPairs[extensionPairKey(d)]
		return lineNo != best.lineNo
	case RemoveCacheResetSequence:
		return touchesCache(d.resetSequence)
	case RemoveAllCacheSequences:
		return touchesCache(d.measurementSequence) || touchesCache(d.triggerSequence) || touchesCache(d.resetSequence)
	}
	return false
}

func touchesCache(sequence string) bool {
	if strings.Contains(sequence, "CLFLUSH") {
		return true
	}
	if strings.Contains(sequence, "MOV") && strings.Contains(sequence, "NT") {
		return true
	}
	if strings.Contains(sequence, "MASKMOV") {
		return true
	}
	return false
}

// ApplyFiltersOnFile reads inputPath, applies every active filter in two
// passes (prefilter state accumulation, then drop decisions), and writes
// the surviving rows verbatim to outputPath.
func (rf *Filter) ApplyFiltersOnFile(inputPath, outputPath string) error {
	lines, err := readDataLines(inputPath)
	if err != nil {
		return err
	}

	for lineNo, line := range lines {
		d, err := parseLineData(line)
		if err != nil {
			return fmt.Errorf("filter: %s: line %d: %w", inputPath, lineNo, err)
		}
		for _, f := range rf.active {
			rf.runPrefilter(int64(lineNo), d, f)
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("filter: create %s: %w", outputPath, err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	if _, err := w.WriteString(header + "\n"); err != nil {
		return fmt.Errorf("filter: write header: %w", err)
	}

	for lineNo, line := range lines {
		d, err := parseLineData(line)
		if err != nil {
			return fmt.Errorf("filter: %s: line %d: %w", inputPath, lineNo, err)
		}
		dropped := false
		for _, f := range rf.active {
			if rf.runFilter(int64(lineNo), d, f) {
				dropped = true
			}
		}
		if !dropped {
			if _, err := w.WriteString(line + "\n"); err != nil {
				return fmt.Errorf("filter: write row: %w", err)
			}
		}
	}
	return w.Flush()
}

// readDataLines reads inputPath, validates its header, and returns the
// remaining lines unparsed.
func readDataLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filter: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("filter: %s is empty", path)
	}
	if scanner.Text() != header {
		return nil, fmt.Errorf("filter: %s: unexpected header %q", path, scanner.Text())
	}

	var lines []string
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
