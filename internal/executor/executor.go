// Package executor owns the two code pages and two data pages a harness
// runs against, and exposes the three measurement primitives the search
// driver builds candidate discovery and confirmation on top of.
//
// Grounded on original_source/src/executor.{h,cc}: Executor is the Go
// counterpart of the Executor class, with memmap.CodePage/DataPage taking
// over mmap bookkeeping, internal/harness taking over code generation,
// and internal/trap taking over the setjmp/longjmp fault boundary.
package executor

import (
	"fmt"
	"sort"

	"github.com/cispa/osiris/internal/harness"
	"github.com/cispa/osiris/internal/memmap"
	"github.com/cispa/osiris/internal/metrics"
	"github.com/cispa/osiris/internal/trap"
)

// OutlierCycleCeiling discards any single TestTrigger run above this many
// cycles, mirroring the `cycles_elapsed <= 5000` gate in
// Executor::TestTriggerSequence.
const OutlierCycleCeiling = 5000

// Config carries the executor's tunables, threaded explicitly per
// component rather than read from globals.
type Config struct {
	// DataBase is the fixed virtual address of the first data page;
	// the second data page is mapped immediately after it.
	DataBase uintptr
}

// DefaultConfig returns the data-page base address the original hardcodes
// as kMemoryBegin.
func DefaultConfig() Config {
	return Config{DataBase: memmap.DataBase}
}

// Executor owns two RWX code pages and two fixed-address data pages. Only
// one Executor may exist per process: the fault-trap state in
// internal/trap is a single set of process globals, and a second
// Executor's fixed-address data pages would collide with the first's.
type Executor struct {
	cfg Config

	codePages [2]*memmap.CodePage
	dataPages [2]*memmap.DataPage
}

// New maps the executor's pages and registers the process-wide fault
// handlers. Close must be called to release the mappings.
func New(cfg Config) (*Executor, error) {
	e := &Executor{cfg: cfg}

	for i := range e.dataPages {
		page, err := memmap.NewDataPage(cfg.DataBase + uintptr(i)*memmap.PageSize)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("executor: data page %d: %w", i, err)
		}
		e.dataPages[i] = page
	}
	for i := range e.codePages {
		page, err := memmap.NewCodePage()
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("executor: code page %d: %w", i, err)
		}
		e.codePages[i] = page
	}

	trap.Register()
	return e, nil
}

// Close unmaps every page this executor owns. It does not unregister the
// process-wide fault handlers, since another Executor may still be alive
// in rare test scenarios; callers that know they are done with the
// package entirely may call trap.Unregister() themselves.
func (e *Executor) Close() error {
	var firstErr error
	for _, p := range e.codePages {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, p := range e.dataPages {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Executor) clearDataPages() {
	for _, p := range e.dataPages {
		p.Zero()
	}
}

// runHarness builds harness onto codePages[slot] with build, then
// executes it through the fault-trap boundary.
func (e *Executor) runHarness(slot int, build func(p *harness.Page) error) (uint64, error) {
	page := harness.NewPage(e.codePages[slot].Bytes())
	if err := build(page); err != nil {
		return 0, fmt.Errorf("executor: build harness: %w", err)
	}
	cycles, ok := trap.Call(e.codePages[slot].Addr())
	if !ok {
		return 0, errFaulted
	}
	return cycles, nil
}

var errFaulted = fmt.Errorf("executor: harness faulted")

// TestReset runs noTestruns measurements with and without trigger
// preceding resetRepeats copies of reset, and returns the median
// without-trigger cycle count minus the median with-trigger cycle count.
// Mirrors Executor::TestResetSequence.
func (e *Executor) TestReset(trigger, measurement, reset []byte, noTestruns, resetRepeats int) (int64, error) {
	nopSeq := harness.NOPSequence(len(reset))

	cleanRuns := make([]int64, 0, noTestruns)
	for i := 0; i < noTestruns; i++ {
		e.clearDataPages()
		cycles, err := e.runHarness(0, func(p *harness.Page) error {
			return harness.BuildReset(p, uint32(e.cfg.DataBase), nopSeq, reset, measurement, resetRepeats)
		})
		if err != nil {
			return -1, err
		}
		cleanRuns = append(cleanRuns, int64(cycles))
	}

	noisyRuns := make([]int64, 0, noTestruns)
	for i := 0; i < noTestruns; i++ {
		e.clearDataPages()
		cycles, err := e.runHarness(1, func(p *harness.Page) error {
			return harness.BuildReset(p, uint32(e.cfg.DataBase), trigger, reset, measurement, resetRepeats)
		})
		if err != nil {
			return -1, err
		}
		noisyRuns = append(noisyRuns, int64(cycles))
	}

	return median(cleanRuns) - median(noisyRuns), nil
}

// TestTriple runs noTestruns rounds alternating (first, second) and
// (second, first) orderings ahead of measurement, and returns the median
// per-round difference. Mirrors Executor::TestSequenceTriple.
func (e *Executor) TestTriple(first, second, measurement []byte, noTestruns int) (int64, error) {
	diffs := make([]int64, 0, noTestruns)
	for i := 0; i < noTestruns; i++ {
		e.clearDataPages()
		a, err := e.runHarness(0, func(p *harness.Page) error {
			return harness.BuildTriple(p, uint32(e.cfg.DataBase), first, second, measurement, 1)
		})
		if err != nil {
			return -1, err
		}
		e.clearDataPages()
		b, err := e.runHarness(1, func(p *harness.Page) error {
			return harness.BuildTriple(p, uint32(e.cfg.DataBase), second, first, measurement, 1)
		})
		if err != nil {
			return -1, err
		}
		diffs = append(diffs, int64(a)-int64(b))
	}
	return median(diffs), nil
}

// TestTrigger runs noTestruns measurements with trigger present and
// noTestruns without it, in either architectural (trigger executes
// normally, reset runs resetRepeats times first) or speculative
// (trigger executes only on the CPU's mispredicted path) mode, and
// returns the median without-trigger cycle count minus the median
// with-trigger cycle count. Runs above OutlierCycleCeiling are discarded
// before the median is taken. Mirrors Executor::TestTriggerSequence.
func (e *Executor) TestTrigger(trigger, measurement, reset []byte, speculative bool, noTestruns, resetRepeats int) (int64, error) {
	nopTrigger := harness.NOPSequence(len(trigger))

	buildTrigger := func(p *harness.Page) error {
		if speculative {
			return harness.BuildSpeculativeTrigger(p, uint32(e.cfg.DataBase), measurement, trigger, reset, resetRepeats)
		}
		return harness.BuildTriple(p, uint32(e.cfg.DataBase), reset, trigger, measurement, resetRepeats)
	}
	buildNoTrigger := func(p *harness.Page) error {
		if speculative {
			return harness.BuildSpeculativeTrigger(p, uint32(e.cfg.DataBase), measurement, nopTrigger, reset, resetRepeats)
		}
		return harness.BuildTriple(p, uint32(e.cfg.DataBase), reset, nopTrigger, measurement, resetRepeats)
	}

	withTrigger := make([]int64, 0, noTestruns)
	for i := 0; i < noTestruns; i++ {
		e.clearDataPages()
		cycles, err := e.runHarness(0, buildTrigger)
		if err != nil {
			return -1, err
		}
		if cycles <= OutlierCycleCeiling {
			withTrigger = append(withTrigger, int64(cycles))
		} else {
			metrics.OutliersDiscardedTotal.Inc()
		}
	}

	withoutTrigger := make([]int64, 0, noTestruns)
	for i := 0; i < noTestruns; i++ {
		e.clearDataPages()
		cycles, err := e.runHarness(1, buildNoTrigger)
		if err != nil {
			return -1, err
		}
		if cycles <= OutlierCycleCeiling {
			withoutTrigger = append(withoutTrigger, int64(cycles))
		} else {
			metrics.OutliersDiscardedTotal.Inc()
		}
	}

	return median(withoutTrigger) - median(withTrigger), nil
}

// FaultCounts returns the process-wide SIGSEGV/SIGILL/SIGFPE/SIGTRAP
// counters, mirroring Executor::PrintFaultCount's underlying state.
func FaultCounts() (sigsegv, sigill, sigfpe, sigtrap int) {
	return trap.FaultCounts()
}

// FaultCountsString renders the fault counters in the original's block
// format.
func FaultCountsString() string {
	return trap.String()
}

// median computes the exact median of values: the average of the two
// middle elements for an even-length input, the single middle element for
// an odd-length one. This intentionally does not use an interpolated
// quantile estimator (e.g. gonum's stat.Quantile): the original's
// median<T> template is an exact order-statistic average, and this port
// preserves that so a confirmation re-run reproduces the same number.
//
// median of an empty slice is 0, matching the original template's
// explicit empty-input case (values.empty() returns 0 rather than
// asserting) — TestTrigger can legitimately discard every run as an
// outlier, and callers should see that as "no signal" rather than crash.
func median(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
