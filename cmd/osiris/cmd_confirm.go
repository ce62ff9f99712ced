package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cispa/osiris/internal/confirm"
	"github.com/cispa/osiris/internal/olog"
)

// newConfirmCmd mirrors osiris.cc's --confirm path: ConfirmResultsOfFuzzer
// re-tests a pairs CSV in randomized order with a heavier iteration
// budget, taking its two positional arguments the same way.
func newConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <input-csv> <output-csv>",
		Short: "Randomize the order of a pairs CSV and re-test every triple",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath, outputPath := args[0], args[1]
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

			olog.Logf(2, "confirming %s into %s", inputPath, outputPath)
			if err := confirm.Run(confirm.DefaultConfig(), c, ex, inputPath, outputPath); err != nil {
				return fmt.Errorf("osiris: confirm: %w", err)
			}
			return nil
		},
	}
	return cmd
}
