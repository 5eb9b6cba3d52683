package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mxngoc2104/thumbd/pkg/accel"
	"github.com/mxngoc2104/thumbd/pkg/benchmark"
	"github.com/mxngoc2104/thumbd/pkg/imagefilter"
)

var benchIterations int

var benchCmd = &cobra.Command{
	Use:   "bench <image-path>",
	Short: "Compare the fallback and accelerated processing paths",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 100, "thumbnails per path")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	src, err := imagefilter.Load(args[0])
	if err != nil {
		return err
	}
	p := imagefilter.NewProcessor(cfg.Filter())

	fallback, err := benchmark.RunFallbackBenchmark(p, src, benchIterations)
	if err != nil {
		return err
	}
	accelerated, err := benchmark.RunAcceleratedBenchmark(cmd.Context(), p, accel.NewParallelDevice(cfg.Accel.Contexts), src, benchIterations)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), benchmark.GeneratePerformanceSummary(fallback, accelerated))
	return nil
}
