// Package confirm re-runs a previously written pairs CSV in randomized
// order with a heavier iteration budget, to separate triples that
// reproduce from ones that were noise. This is not part of the core
// spec's four components; it supplements it the way
// original_source/src/osiris.cc::ConfirmResultsOfFuzzer does.
package confirm

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/cispa/osiris/internal/corpus"
	"github.com/cispa/osiris/internal/executor"
	"github.com/cispa/osiris/internal/metrics"
	"github.com/cispa/osiris/internal/olog"
	"github.com/cispa/osiris/internal/resultio"
)

// Config mirrors the hardcoded constants in ConfirmResultsOfFuzzer.
type Config struct {
	Iters          int
	ResetRepeats   int // used when the reset is not a sleep sentinel
	Speculative    bool
	CleanThreshold int64 // a result survives into the _cleaned file iff |result| > this
}

// DefaultConfig returns ConfirmResultsOfFuzzer's hardcoded tunables:
// 200 iterations, 100 reset repeats, speculative trigger, |result| > 50.
func DefaultConfig() Config {
	return Config{Iters: 200, ResetRepeats: 100, Speculative: true, CleanThreshold: 50}
}

// Run re-tests every row of inputPath against c through ex, writing the
// full re-measured CSV to outputPath and the subset whose |result|
// exceeds cfg.CleanThreshold to outputPath with its extension replaced by
// "_cleaned.csv". Rows whose trigger or measurement is a sleep sentinel
// are skipped, matching the original's "the sleep is only a valid reset
// sequence" guards.
func Run(cfg Config, c *corpus.Corpus, ex *executor.Executor, inputPath, outputPath string) error {
	rows, err := resultio.ReadPairsCSV(inputPath)
	if err != nil {
		return fmt.Errorf("confirm: %w", err)
	}

	rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("confirm: create %s: %w", outputPath, err)
	}
	defer out.Close()
	cleanedPath := cleanedPathFor(outputPath)
	cleaned, err := os.Create(cleanedPath)
	if err != nil {
		return fmt.Errorf("confirm: create %s: %w", cleanedPath, err)
	}
	defer cleaned.Close()

	w := bufio.NewWriter(out)
	cw := bufio.NewWriter(cleaned)
	if _, err := w.WriteString(resultio.PairsHeader + "\n"); err != nil {
		return fmt.Errorf("confirm: write header: %w", err)
	}
	if _, err := cw.WriteString(resultio.PairsHeader + "\n"); err != nil {
		return fmt.Errorf("confirm: write cleaned header: %w", err)
	}

	succeeded, failed := 0, 0
	for _, row := range rows {
		measurement, err := c.ByUID(row.MeasurementUID)
		if err != nil {
			continue
		}
		trigger, err := c.ByUID(row.TriggerUID)
		if err != nil {
			continue
		}
		reset, err := c.ByUID(row.ResetUID)
		if err != nil {
			continue
		}
		if trigger.IsSleepSentinel() || measurement.IsSleepSentinel() {
			continue
		}

		resetReps := cfg.ResetRepeats
		if reset.IsSleepSentinel() {
			resetReps = 1
		}
		result, err := ex.TestTrigger(trigger.Bytes, measurement.Bytes, reset.Bytes, cfg.Speculative, cfg.Iters, resetReps)
		if err != nil {
			continue
		}
		metrics.TestrunsTotal.WithLabelValues("confirm").Inc()
		metrics.CycleDelta.Observe(float64(result))
		olog.Logf(4, "%s: %d", measurement.Assembly, result)

		line := pairLineWithoutTiming(row)
		outputLine := strconv.FormatInt(result, 10) + ";" + line
		if _, err := w.WriteString(outputLine + "\n"); err != nil {
			return fmt.Errorf("confirm: write row: %w", err)
		}

		if abs64(result) > cfg.CleanThreshold {
			succeeded++
			if _, err := cw.WriteString(outputLine + "\n"); err != nil {
				return fmt.Errorf("confirm: write cleaned row: %w", err)
			}
			metrics.CandidatesFound.Inc()
		} else {
			failed++
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("confirm: flush %s: %w", outputPath, err)
	}
	if err := cw.Flush(); err != nil {
		return fmt.Errorf("confirm: flush %s: %w", cleanedPath, err)
	}
	olog.Logf(2, "succeeded: %d failed: %d", succeeded, failed)
	return nil
}

// pairLineWithoutTiming re-renders a parsed row's 15 non-timing fields in
// pairs-CSV order, mirroring line.substr(line.find(';') + 1).
func pairLineWithoutTiming(row resultio.RawPairRow) string {
	fields := []string{
		fmt.Sprintf("%x", row.MeasurementUID), row.MeasurementSequence, row.MeasurementCategory, row.MeasurementExtension, row.MeasurementISASet,
		fmt.Sprintf("%x", row.TriggerUID), row.TriggerSequence, row.TriggerCategory, row.TriggerExtension, row.TriggerISASet,
		fmt.Sprintf("%x", row.ResetUID), row.ResetSequence, row.ResetCategory, row.ResetExtension, row.ResetISASet,
	}
	return strings.Join(fields, ";")
}

// cleanedPathFor derives "<base>_cleaned.csv" from outputPath, matching
// output_file.substr(0, output_file.find_last_of('.')) + "_cleaned.csv".
func cleanedPathFor(outputPath string) string {
	if idx := strings.LastIndexByte(outputPath, '.'); idx >= 0 {
		return outputPath[:idx] + "_cleaned.csv"
	}
	return outputPath + "_cleaned.csv"
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
