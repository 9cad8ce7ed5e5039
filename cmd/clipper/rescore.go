package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/pipeline"
)

func newRescoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Score saved gene results again with new cutoffs",
		Long: `Rescore re-runs significance testing and output on gene results saved by
"clipper call --save-results", without reading alignments again.`,
		Example: `  clipper rescore --results peaks.bed.all_peaks.gob -o strict.bed --poisson-cutoff 0.01`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("results")
			if path == "" {
				return usagef("--results is required")
			}

			var opts pipeline.Options
			if err := scoringOptions(&opts); err != nil {
				return err
			}

			logger, err := newLogger(false)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p := pipeline.New(opts)
			p.SetLogger(logger)
			summary, err := p.Rescore(ctx, path)
			if err != nil {
				return err
			}
			logger.Info("done",
				zap.String("run_id", summary.RunID),
				zap.Int("clusters", summary.Clusters),
				zap.Int("peaks", summary.Kept),
				zap.String("outfile", summary.Outfile))
			return nil
		},
	}

	cmd.Flags().String("results", "", "saved gene results file")
	addScoringFlags(cmd.Flags())
	return cmd
}
