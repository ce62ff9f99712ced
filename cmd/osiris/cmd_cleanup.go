package main

import (
	"github.com/spf13/cobra"

	"github.com/cispa/osiris/internal/executor"
	"github.com/cispa/osiris/internal/olog"
	"github.com/cispa/osiris/internal/search"
)

// newCleanupCmd mirrors osiris.cc's --cleanup path:
// OutputNonFaultingInstructions followed by PrintFaultStatistics.
func newCleanupCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Write a corpus containing only the instructions that do not fault",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCorpus()
			if err != nil {
				return err
			}
			ex, err := newExecutor()
			if err != nil {
				return err
			}
			defer ex.Close()
			stop := maybeServeStatus(c)
			defer stop()

			d := search.New(search.DefaultConfig(), c, ex)
			olog.Logf(2, "testing %d instructions for faults", c.NumInstructions())
			if err := d.WriteNonFaultingCorpus(output); err != nil {
				return err
			}
			olog.Logf(2, "%s", executor.FaultCountsString())
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "instructions_cleaned.b64", "corpus CSV to write")
	return cmd
}
