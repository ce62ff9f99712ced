package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cispa/osiris/internal/olog"
	"github.com/cispa/osiris/internal/statusserver"
	"github.com/cispa/osiris/internal/trap"
)

// newServeCmd runs only the status/metrics server, for operators who want
// to point a scraper at a long-running osiris process without also
// running a search stage. Ctrl-C shuts it down cleanly.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON status page and prometheus metrics on their own",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCorpus()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				olog.Logf(0, "shutting down...")
				cancel()
			}()

			srv := statusserver.New(addr, statusserver.CorpusInfo{
				Size: c.NumInstructions(),
				Tag:  c.Tag(),
			}, trap.FaultCounts, time.Now())
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to serve on")
	return cmd
}
