// Package statusserver is osiris's optional HTTP status and metrics
// endpoint, serving a small JSON status page alongside prometheus's
// /metrics.
//
// Grounded on the teacher's pkg/manager/http.go: HTTPServer.Serve's
// gorilla/handlers.CompressHandler wrapping and ListenAndServe/
// server.Close-on-context-done shutdown are copied directly; the large
// template-driven dashboard the teacher serves has no equivalent here
// since osiris has no corresponding UI dependency in the pack, so this
// stays a JSON status endpoint rather than an HTML one.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/cispa/osiris/internal/metrics"
	"github.com/cispa/osiris/internal/olog"
)

// Status is the JSON body served at "/".
type Status struct {
	StartTime       time.Time `json:"start_time"`
	Uptime          string    `json:"uptime"`
	CorpusSize      int       `json:"corpus_size"`
	CorpusTag       uint16    `json:"corpus_tag"`
	SIGSEGV         int       `json:"sigsegv_faults"`
	SIGILL          int       `json:"sigill_faults"`
	SIGFPE          int       `json:"sigfpe_faults"`
	SIGTRAP         int       `json:"sigtrap_faults"`
	CandidatesFound float64   `json:"candidates_found"`
}

// CorpusInfo is supplied by the caller so this package does not need to
// depend on internal/corpus directly.
type CorpusInfo struct {
	Size int
	Tag  uint16
}

// FaultCounter reports the process-wide fault counts osiris has trapped
// so far; internal/trap.FaultCounts matches this signature.
type FaultCounter func() (sigsegv, sigill, sigfpe, sigtrap int)

// Server serves a JSON status page and prometheus's /metrics.
type Server struct {
	Addr      string
	StartTime time.Time
	Corpus    CorpusInfo
	Faults    FaultCounter
}

// New returns a Server ready to Serve, with StartTime set to startTime.
func New(addr string, corpus CorpusInfo, faults FaultCounter, startTime time.Time) *Server {
	return &Server{Addr: addr, StartTime: startTime, Corpus: corpus, Faults: faults}
}

// Serve runs the status/metrics HTTP server until ctx is cancelled,
// mirroring HTTPServer.Serve's ListenAndServe/server.Close pairing.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	handle := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, handlers.CompressHandler(handler))
	}
	metricsHandler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
	handle("/", s.httpStatus)
	handle("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.RefreshFaultCounts()
		metricsHandler.ServeHTTP(w, r)
	})

	olog.Logf(0, "serving status on http://%s", s.Addr)
	server := &http.Server{Addr: s.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusserver: %w", err)
	}
	return nil
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request) {
	metrics.RefreshFaultCounts()
	sigsegv, sigill, sigfpe, sigtrap := 0, 0, 0, 0
	if s.Faults != nil {
		sigsegv, sigill, sigfpe, sigtrap = s.Faults()
	}
	status := Status{
		StartTime:       s.StartTime,
		Uptime:          time.Since(s.StartTime).String(),
		CorpusSize:      s.Corpus.Size,
		CorpusTag:       s.Corpus.Tag,
		SIGSEGV:         sigsegv,
		SIGILL:          sigill,
		SIGFPE:          sigfpe,
		SIGTRAP:         sigtrap,
		CandidatesFound: readCounterValue(metrics.CandidatesFound),
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	if err := enc.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode status: %v", err), http.StatusInternalServerError)
	}
}

func readCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
