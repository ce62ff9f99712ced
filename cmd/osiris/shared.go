package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cispa/osiris/internal/corpus"
	"github.com/cispa/osiris/internal/executor"
	"github.com/cispa/osiris/internal/statusserver"
	"github.com/cispa/osiris/internal/trap"
)

// loadCorpus loads the corpus named by the --instructions flag.
func loadCorpus() (*corpus.Corpus, error) {
	c, err := corpus.Load(cfg.instructionsFile)
	if err != nil {
		return nil, fmt.Errorf("osiris: load corpus: %w", err)
	}
	return c, nil
}

// newExecutor builds an Executor using the --data-base override, if set.
func newExecutor() (*executor.Executor, error) {
	ecfg := executor.DefaultConfig()
	if cfg.dataBase != 0 {
		ecfg.DataBase = uintptr(cfg.dataBase)
	}
	ex, err := executor.New(ecfg)
	if err != nil {
		return nil, fmt.Errorf("osiris: init executor: %w", err)
	}
	return ex, nil
}

// maybeServeStatus starts the optional status/metrics server in the
// background when --status-addr is set, returning a stop function that
// must be deferred by the caller. It is a no-op when the flag is unset.
func maybeServeStatus(c *corpus.Corpus) func() {
	if cfg.statusAddr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := statusserver.New(cfg.statusAddr, statusserver.CorpusInfo{
		Size: c.NumInstructions(),
		Tag:  c.Tag(),
	}, trap.FaultCounts, time.Now())
	go func() {
		if err := srv.Serve(ctx); err != nil {
			fmt.Println("osiris: status server:", err)
		}
	}()
	return cancel
}
