package main

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/significance"
	"github.com/inodb/clipper/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the scored clusters of a stored run",
		Long: `Export copies every scored cluster of one run from the DuckDB file written
by "clipper call --db" to a parquet file. With --lookup-gene the clusters of
that gene are printed as peak records instead, kept or not.`,
		Example: `  clipper export --db runs.duckdb --run 7c9e6679-7425-40de-944b-e07fc1f90ae7 --out clusters.parquet
  clipper export --db runs.duckdb --run 7c9e6679-7425-40de-944b-e07fc1f90ae7 --lookup-gene ENSG00000100320`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd)
		},
	}

	fs := cmd.Flags()
	fs.String("db", "", "DuckDB file written by call --db")
	fs.String("run", "", "id of the run to export")
	fs.String("out", "", "parquet file to write")
	fs.String("lookup-gene", "", "print the stored clusters of this gene instead of exporting")
	return cmd
}

func runExport(cmd *cobra.Command) error {
	dbPath := viper.GetString("db")
	runID := viper.GetString("run")
	out := viper.GetString("out")
	gene := viper.GetString("lookup-gene")
	switch {
	case dbPath == "" || runID == "":
		return usagef("--db and --run are required")
	case out == "" && gene == "":
		return usagef("one of --out or --lookup-gene is required")
	}
	// Opening a missing path would create an empty database.
	if _, err := os.Stat(dbPath); err != nil {
		return &usageError{err: fmt.Errorf("database %s: %w", dbPath, err)}
	}

	logger, err := newLogger(false)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	exists, err := s.RunExists(runID)
	if err != nil {
		return err
	}
	if !exists {
		return usagef("run %s not found in %s", runID, dbPath)
	}

	if gene != "" {
		rows, err := s.LookupGene(runID, gene)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range rows {
			// padj is only stored for corrected runs.
			fmt.Fprintln(w, significance.FormatPeak(r, r.ReportedP(!math.IsNaN(r.PAdj))))
		}
		return nil
	}

	kept, err := s.CountClusters(runID, true)
	if err != nil {
		return err
	}
	if err := s.ExportParquet(runID, out); err != nil {
		if errors.Is(err, store.ErrEmptyRun) {
			logger.Warn("no clusters to export", zap.String("run_id", runID))
		}
		return err
	}
	total, err := s.CountClusters(runID, false)
	if err != nil {
		return err
	}
	logger.Info("exported clusters",
		zap.String("run_id", runID),
		zap.Int("clusters", total),
		zap.Int("kept", kept),
		zap.String("out", out))
	return nil
}
