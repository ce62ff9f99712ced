package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/cispa/osiris/internal/filter"
	"github.com/cispa/osiris/internal/olog"
)

// newFilterCmd mirrors osiris.cc's --filter path: a fixed three-stage
// pipeline over a pairs CSV (drop all cache-touching sequences, then keep
// only the best row per property tuple, then only the best row per
// measurement/trigger extension pair), each stage's output file named by
// appending a suffix to the input's base name.
func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <input-csv>",
		Short: "Apply the standard cache-removal/uniqueness filter pipeline to a pairs CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilterPipeline(args[0])
		},
	}
	return cmd
}

func runFilterPipeline(inputFile string) error {
	baseName := inputFile
	if idx := strings.LastIndexByte(inputFile, '.'); idx >= 0 {
		baseName = inputFile[:idx]
	}

	rf := filter.New()

	stage1 := baseName + "_nocache.csv"
	olog.Logf(2, "filtering %s to %s", inputFile, stage1)
	rf.EnableFilter(filter.RemoveAllCacheSequences)
	if err := rf.ApplyFiltersOnFile(inputFile, stage1); err != nil {
		return err
	}

	rf.ClearAllFilters()
	stage2 := baseName + "_nocache_filtered_by_all.csv"
	olog.Logf(2, "filtering %s to %s", stage1, stage2)
	rf.EnableFilter(filter.UniquePropertyTuples)
	if err := rf.ApplyFiltersOnFile(stage1, stage2); err != nil {
		return err
	}

	rf.ClearAllFilters()
	stage3 := baseName + "_nocache_filtered_by_all_mt_extensionpair.csv"
	olog.Logf(2, "filtering %s to %s", stage2, stage3)
	rf.EnableFilter(filter.MeasurementTriggerExtensionPairs)
	return rf.ApplyFiltersOnFile(stage2, stage3)
}
