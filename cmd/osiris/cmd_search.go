package main

import (
	"github.com/spf13/cobra"

	"github.com/cispa/osiris/internal/executor"
	"github.com/cispa/osiris/internal/format"
	"github.com/cispa/osiris/internal/olog"
	"github.com/cispa/osiris/internal/search"
)

// newSearchAllCmd mirrors osiris.cc's --all path:
// FindAndOutputTriggerpairsWithoutAssumptions over the full product space.
// The original warns this takes a few days; nothing here changes that.
func newSearchAllCmd() *cobra.Command {
	var (
		speculative bool
		output      string
	)
	cmd := &cobra.Command{
		Use:   "search-all",
		Short: "Search with trigger sequence != measurement sequence (slow, full product search)",
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

			scfg := search.DefaultConfig()
			scfg.Speculative = speculative
			d := search.New(scfg, c, ex)

			olog.Logf(2, "searching with trigger sequence != measurement sequence")
			if err := d.RunModeA(output); err != nil {
				return err
			}
			olog.Logf(2, "%s", executor.FaultCountsString())
			return nil
		},
	}
	cmd.Flags().BoolVar(&speculative, "speculation", false, "execute the trigger sequence only transiently")
	cmd.Flags().StringVar(&output, "output", "measure_trigger_pairs.csv", "pairs CSV to write")
	return cmd
}

// newSearchSelfCmd mirrors osiris.cc's default path:
// FindAndOutputTriggerpairsWithTriggerEqualsMeasurement followed by
// FormatTriggerPairOutput.
func newSearchSelfCmd() *cobra.Command {
	var (
		speculative       bool
		outputDir         string
		outputCSV         string
		negativeThreshold int64
		positiveThreshold int64
		formattedDir      string
		skipFormat        bool
	)
	cmd := &cobra.Command{
		Use:   "search-self",
		Short: "Search with trigger sequence == measurement sequence (default fuzzing stage)",
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

			scfg := search.DefaultConfig()
			scfg.Speculative = speculative
			d := search.New(scfg, c, ex)

			olog.Logf(2, "searching with trigger sequence == measurement sequence")
			if err := d.RunModeB(outputDir, outputCSV, negativeThreshold, positiveThreshold); err != nil {
				return err
			}
			olog.Logf(2, "%s", executor.FaultCountsString())

			if skipFormat {
				return nil
			}
			olog.Logf(2, "formatting %s into %s", outputDir, formattedDir)
			return format.FormatTriggerPairs(format.HexDisassembler{}, outputDir, formattedDir)
		},
	}
	cmd.Flags().BoolVar(&speculative, "speculation", false, "execute the trigger sequence only transiently")
	cmd.Flags().StringVar(&outputDir, "output-dir", "triggerpairs", "directory of per-trigger side files")
	cmd.Flags().StringVar(&outputCSV, "output", "triggerpairs.csv", "pairs CSV to write")
	cmd.Flags().Int64Var(&negativeThreshold, "negative-threshold", -50, "deltas below this value qualify")
	cmd.Flags().Int64Var(&positiveThreshold, "positive-threshold", 50, "deltas above this value qualify")
	cmd.Flags().StringVar(&formattedDir, "formatted-dir", "triggerpairs-formatted", "directory for human-readable output")
	cmd.Flags().BoolVar(&skipFormat, "skip-format", false, "skip the formatting pass over output-dir")
	return cmd
}
