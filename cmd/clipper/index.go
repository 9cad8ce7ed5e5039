package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inodb/clipper/internal/alignment"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <bam>",
		Short: "Create the BAI index of a BAM file if it is missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(false)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logger.Sync()

			if err := alignment.EnsureIndex(args[0], logger); err != nil {
				if errors.Is(err, alignment.ErrNotFound) {
					return &usageError{err: err}
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), alignment.IndexPath(args[0]))
			return nil
		},
	}
}
