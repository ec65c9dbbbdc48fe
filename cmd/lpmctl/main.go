// Command lpmctl is a thin demonstration host for the lpmcore engine: a
// cobra CLI exposing the text handlers spec.md §6 describes
// (add/set/remove/lookup/table/flush/status/stat/ctrl/bench/bench_sel).
// None of this is part of the core; it exists only to exercise
// engine.Engine end to end, the way akvorado's cmd/ package wraps its
// components for operators.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kestrelnet/lpmcore/engine"
)

var (
	debug           bool
	acceleratorFlag string
	dxrDirectBits   uint
	applyDelay      time.Duration

	eng *engine.Engine
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lpmctl",
	Short: "drive an lpmcore routing engine from the command line",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
		eng = newEngine()
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func setupLogging() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func newEngine() *engine.Engine {
	opts := engine.Options{
		ApplyDelay: applyDelay,
		Logger:     log,
	}
	switch acceleratorFlag {
	case "dir24":
		opts.Accelerator = engine.AcceleratorDIR24
	case "dxr":
		opts.Accelerator = engine.AcceleratorDXR
		opts.DXRDirectBits = dxrDirectBits
	case "none", "":
		opts.Accelerator = engine.AcceleratorNone
	default:
		fmt.Fprintf(os.Stderr, "lpmctl: unknown --accelerator %q (want none/dir24/dxr)\n", acceleratorFlag)
		os.Exit(2)
	}
	return engine.New(opts)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logs")
	rootCmd.PersistentFlags().StringVar(&acceleratorFlag, "accelerator", "dxr", "accelerator: none, dir24, or dxr")
	rootCmd.PersistentFlags().UintVar(&dxrDirectBits, "dxr-direct-bits", 20, "DXR direct-table width, only used with --accelerator=dxr")
	rootCmd.PersistentFlags().DurationVar(&applyDelay, "apply-delay", 0, "accelerator apply delay (0 uses sched.DefaultDelay)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
