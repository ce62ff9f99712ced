// Package metrics exposes osiris's fault counters and cycle-delta
// distributions as prometheus metrics, for internal/statusserver's
// /metrics endpoint.
//
// Grounded on the teacher's pkg/manager/http.go, which registers
// "/metrics" against promhttp.HandlerFor(prometheus.DefaultGatherer,
// ...) and lets library code register counters against the default
// registry; osiris does the same rather than threading a *prometheus.Registry
// through every package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cispa/osiris/internal/trap"
)

var (
	// TestrunsTotal counts every TestTrigger call made by a search or
	// confirmation stage that completes without a fault, labeled by the
	// stage ("mode_a", "mode_b", "confirm"). Faulted calls are not counted.
	TestrunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "osiris",
		Name:      "testruns_total",
		Help:      "Total non-faulting trigger tests run, by stage.",
	}, []string{"kind"})

	// FaultsTotal counts process-wide synchronous faults trapped during
	// harness execution, by signal name.
	FaultsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "osiris",
		Name:      "faults_total",
		Help:      "Cumulative synchronous faults trapped during harness execution, by signal.",
	}, []string{"signal"})

	// OutliersDiscardedTotal counts individual TestTrigger runs dropped
	// for exceeding the outlier cycle ceiling.
	OutliersDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "osiris",
		Name:      "outliers_discarded_total",
		Help:      "Individual timing runs discarded for exceeding the outlier cycle ceiling.",
	})

	// CycleDelta tracks the distribution of measured cycle deltas across
	// all search-driver candidates, regardless of whether they qualify.
	CycleDelta = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "osiris",
		Name:      "cycle_delta",
		Help:      "Measured cycle deltas of trigger/measurement/reset candidates.",
		Buckets:   prometheus.LinearBuckets(-500, 50, 21),
	})

	// CandidatesFound counts rows the search driver has confirmed and
	// written to a pairs CSV, plus rows the confirmation pass writes to its
	// _cleaned CSV.
	CandidatesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "osiris",
		Name:      "candidates_found_total",
		Help:      "Confirmed (trigger, measurement, reset) candidates written to a pairs CSV.",
	})
)

func init() {
	prometheus.MustRegister(TestrunsTotal, FaultsTotal, OutliersDiscardedTotal, CycleDelta, CandidatesFound)
}

// RefreshFaultCounts copies internal/trap's process-wide fault counters
// into the FaultsTotal gauge vector. Callers must invoke this before
// reading FaultsTotal; internal/statusserver does so on every request to
// "/" and "/metrics", since trap's counters are plain C integers, not
// prometheus collectors that update themselves on scrape.
func RefreshFaultCounts() {
	sigsegv, sigill, sigfpe, sigtrap := trap.FaultCounts()
	FaultsTotal.WithLabelValues("SIGSEGV").Set(float64(sigsegv))
	FaultsTotal.WithLabelValues("SIGILL").Set(float64(sigill))
	FaultsTotal.WithLabelValues("SIGFPE").Set(float64(sigfpe))
	FaultsTotal.WithLabelValues("SIGTRAP").Set(float64(sigtrap))
}
