// Package search drives the corpus-wide product search for qualifying
// (trigger, measurement, reset) triples and the non-faulting-instruction
// sweep, sitting on top of internal/executor and internal/corpus.
//
// Grounded on original_source/src/core.{h,cc}: Driver is the Go
// counterpart of Core, with FindAndOutputTriggerpairsWithoutAssumptions
// and FindAndOutputTriggerpairsWithTriggerEqualsMeasurement becoming
// RunModeA/RunModeB, and FindNonFaultingInstructions becoming
// FindNonFaulting.
package search

import (
	"fmt"

	"github.com/cispa/osiris/internal/corpus"
	"github.com/cispa/osiris/internal/executor"
	"github.com/cispa/osiris/internal/metrics"
	"github.com/cispa/osiris/internal/olog"
	"github.com/cispa/osiris/internal/resultio"
)

// resetVerificationBound is the |delta| < 20 cycle window a reset must
// fall within before a candidate is accepted, copied from core.cc's
// -20 < reset_test_result < 20 check.
const resetVerificationBound = 20

// Config carries the search driver's tunables, defaulting to the values
// Core's constructor hardcodes.
type Config struct {
	Iters                int
	RepsNoAssumption     int
	RepsEqualMeasurement int
	Speculative          bool
	Threshold            int64
}

// DefaultConfig returns the original's hardcoded tunables.
func DefaultConfig() Config {
	return Config{
		Iters:                10,
		RepsNoAssumption:     1,
		RepsEqualMeasurement: 50,
		Speculative:          false,
		Threshold:            50,
	}
}

// Driver runs the search modes against a loaded corpus through an
// Executor.
type Driver struct {
	cfg Config
	c   *corpus.Corpus
	ex  *executor.Executor
}

// New builds a Driver over an already-loaded corpus and executor.
func New(cfg Config, c *corpus.Corpus, ex *executor.Executor) *Driver {
	return &Driver{cfg: cfg, c: c, ex: ex}
}

func resetRepeats(reset corpus.Instruction, fallback int) int {
	if reset.IsSleepSentinel() {
		return 1
	}
	return fallback
}

// RunModeA searches the full (measurement, trigger, reset) product space
// over the corpus and writes qualifying rows to outputPath. Mirrors
// FindAndOutputTriggerpairsWithoutAssumptions.
func (d *Driver) RunModeA(outputPath string) error {
	w, err := resultio.NewPairsWriter(outputPath)
	if err != nil {
		return err
	}
	defer w.Close()

	all := d.c.All()
	n := len(all)
	for mi, measurement := range all {
		olog.Logf(3, "processing measurement %d/%d", mi, n-1)
		for _, trigger := range all {
			if trigger.IsSleepSentinel() {
				continue
			}
			for _, reset := range all {
				reps := resetRepeats(reset, d.cfg.RepsNoAssumption)
				delta, err := d.ex.TestTrigger(trigger.Bytes, measurement.Bytes, reset.Bytes, d.cfg.Speculative, d.cfg.Iters, reps)
				if err != nil {
					continue
				}
				metrics.TestrunsTotal.WithLabelValues("mode_a").Inc()
				metrics.CycleDelta.Observe(float64(delta))
				if delta < -d.cfg.Threshold || delta > d.cfg.Threshold {
					if err := d.confirmAndWrite(w, delta, measurement, trigger, reset, reps); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// RunModeB searches with trigger == measurement and writes both the main
// pairs CSV and, for each qualifying trigger, a per-trigger side file
// under outputDir. Mirrors FindAndOutputTriggerpairsWithTriggerEqualsMeasurement.
func (d *Driver) RunModeB(outputDir, outputCSV string, negativeThreshold, positiveThreshold int64) error {
	if err := resultio.RecreateOutputDir(outputDir); err != nil {
		return err
	}
	w, err := resultio.NewPairsWriter(outputCSV)
	if err != nil {
		return err
	}
	defer w.Close()

	all := d.c.All()
	n := len(all)
	for ti, trigger := range all {
		olog.Logf(3, "processing trigger %d/%d (%s)", ti, n-1, trigger.Assembly)
		if trigger.IsSleepSentinel() {
			continue
		}

		var side *resultio.SideFileWriter
		for _, reset := range all {
			reps := resetRepeats(reset, d.cfg.RepsEqualMeasurement)
			delta, err := d.ex.TestTrigger(trigger.Bytes, trigger.Bytes, reset.Bytes, d.cfg.Speculative, d.cfg.Iters, reps)
			if err != nil {
				continue
			}
			metrics.TestrunsTotal.WithLabelValues("mode_b").Inc()
			metrics.CycleDelta.Observe(float64(delta))
			if delta < negativeThreshold || delta > positiveThreshold {
				verified, rerr := d.verifyReset(trigger.Bytes, trigger.Bytes, reset.Bytes, reps)
				if rerr != nil || !verified {
					continue
				}
				if side == nil {
					side, err = resultio.NewSideFileWriter(outputDir, trigger.Bytes)
					if err != nil {
						return err
					}
				}
				if err := side.WriteLine(reset.Bytes, delta); err != nil {
					return err
				}
				if err := w.WriteRow(resultio.PairRow{Timing: delta, Measurement: trigger, Trigger: trigger, Reset: reset}); err != nil {
					return err
				}
				metrics.CandidatesFound.Inc()
			}
		}
		if side != nil {
			if err := side.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyReset runs TestReset and reports whether the result falls inside
// the ±resetVerificationBound window, the "does the reset really work"
// gate shared by both modes.
func (d *Driver) verifyReset(trigger, measurement, reset []byte, reps int) (bool, error) {
	delta, err := d.ex.TestReset(trigger, measurement, reset, d.cfg.Iters, reps)
	if err != nil {
		return false, err
	}
	return delta > -resetVerificationBound && delta < resetVerificationBound, nil
}

// confirmAndWrite runs the reset-verification phase for a Mode A
// candidate and, if it passes, writes the qualifying row.
func (d *Driver) confirmAndWrite(w *resultio.PairsWriter, delta int64, measurement, trigger, reset corpus.Instruction, reps int) error {
	verified, err := d.verifyReset(trigger.Bytes, measurement.Bytes, reset.Bytes, reps)
	if err != nil || !verified {
		return nil
	}
	if err := w.WriteRow(resultio.PairRow{Timing: delta, Measurement: measurement, Trigger: trigger, Reset: reset}); err != nil {
		return err
	}
	metrics.CandidatesFound.Inc()
	return nil
}

// FindNonFaulting tests every corpus instruction against itself (as
// trigger, measurement, and reset) with a single iteration and returns
// the indices of those that complete without faulting. Mirrors
// FindNonFaultingInstructions.
func (d *Driver) FindNonFaulting() []int {
	var ok []int
	all := d.c.All()
	for i, inst := range all {
		olog.Logf(3, "testing instruction %s", inst.Assembly)
		if _, err := d.ex.TestTrigger(inst.Bytes, inst.Bytes, inst.Bytes, false, 1, 1); err == nil {
			ok = append(ok, i)
		}
	}
	return ok
}

// WriteNonFaultingCorpus runs FindNonFaulting and writes the surviving
// instructions to path in corpus-schema form. Mirrors
// OutputNonFaultingInstructions.
func (d *Driver) WriteNonFaultingCorpus(path string) error {
	indices := d.FindNonFaulting()
	olog.Logf(2, "found %d non faulting instructions", len(indices))

	all := d.c.All()
	insts := make([]corpus.Instruction, 0, len(indices))
	for _, i := range indices {
		insts = append(insts, all[i])
	}
	if err := resultio.WriteNonFaultingCorpus(path, insts); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	olog.Logf(2, "wrote non faulting instructions to %s", path)
	return nil
}
