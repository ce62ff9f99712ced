// Command osiris is the microarchitectural side-channel fuzzer's
// command-line entry point: it loads an instruction corpus, drives the
// search/cleanup/confirm/filter stages against it, and can optionally
// serve a status/metrics endpoint while a stage runs.
//
// Grounded on original_source/src/osiris.cc's main()/ParseArguments
// dispatch (cleanup, search with/without the trigger==measurement
// assumption, confirm, filter), rewritten as cobra subcommands with a
// viper-backed config file the way the DOMAIN STACK in SPEC_FULL.md
// calls for, replacing getopt_long.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cispa/osiris/internal/olog"
)

// rootConfig holds the flags and config-file values shared by every
// subcommand, bound through viper so osiris.yaml and CLI flags resolve
// to the same fields.
type rootConfig struct {
	instructionsFile string
	dataBase         uint64
	verbosity        int
	statusAddr       string
}

var cfg rootConfig

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "osiris",
		Short:         "Microarchitectural side-channel fuzzer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			olog.SetVerbosity(cfg.verbosity)
		},
	}

	root.PersistentFlags().StringVar(&cfg.instructionsFile, "instructions", "instructions_cleaned.b64",
		"corpus CSV of candidate x86 instructions")
	root.PersistentFlags().Uint64Var(&cfg.dataBase, "data-base", 0,
		"fixed virtual address of the first data page (0 uses the built-in default)")
	root.PersistentFlags().IntVar(&cfg.verbosity, "verbosity", 2, "log verbosity")
	root.PersistentFlags().StringVar(&cfg.statusAddr, "status-addr", "",
		"if set, serve a JSON status page and prometheus metrics on this address while the command runs")
	root.PersistentFlags().String("config", "", "optional osiris.yaml config file overriding these flags")

	bindViper(root)

	root.AddCommand(
		newSearchAllCmd(),
		newSearchSelfCmd(),
		newCleanupCmd(),
		newConfirmCmd(),
		newFilterCmd(),
		newServeCmd(),
	)
	return root
}

// bindViper wires root's persistent flags to viper and, if --config names
// a readable file, loads it: any key present there overrides the flag's
// default but not an explicit command-line value.
func bindViper(root *cobra.Command) {
	v := viper.New()
	v.SetConfigName("osiris")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	cobra.OnInitialize(func() {
		if path, _ := root.PersistentFlags().GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				fmt.Fprintf(os.Stderr, "osiris: reading config: %v\n", err)
			}
			return
		}
		applyViperOverrides(root, v)
	})
}

func applyViperOverrides(root *cobra.Command, v *viper.Viper) {
	flags := root.PersistentFlags()
	for _, name := range []string{"instructions", "data-base", "verbosity", "status-addr"} {
		if !flags.Changed(name) && v.IsSet(name) {
			flags.Set(name, v.GetString(name)) //nolint:errcheck
		}
	}
}
