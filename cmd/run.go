package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runSkipCrawl bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full cell-filling pipeline",
	Long:  "Loads the input datasets, crawls the comune site, indexes documents and fills every missing cell.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if runSkipCrawl {
			zap.L().Info("run: crawl disabled by flag")
		}

		report, err := env.Pipeline.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("datasets:       %d\n", len(report.Datasets))
		fmt.Printf("missing cells:  %d\n", report.MissingCells)
		fmt.Printf("filled:         %d\n", report.FilledCells)
		fmt.Printf("not found:      %d\n", report.NotFoundCells)
		fmt.Printf("indexed chunks: %d\n", report.IndexedChunks)
		for _, out := range report.Outputs {
			fmt.Printf("wrote %s\n", out)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSkipCrawl, "skip-crawl", false, "fill cells from already cataloged documents only")
	rootCmd.AddCommand(runCmd)
}
