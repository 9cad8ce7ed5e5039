// Package store persists gene results and scored clusters.
// Per-gene detection results are saved as gob files (fast, pure Go) so a
// batch can be rescored without re-reading alignments.
// Scored clusters are kept in DuckDB (queryable, append-only), one run per batch.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Store manages a DuckDB connection for scored cluster tables.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id VARCHAR PRIMARY KEY,
		started_at TIMESTAMP,
		bam VARCHAR,
		annotation VARCHAR,
		algorithm VARCHAR,
		cutoff DOUBLE,
		corrected BOOLEAN,
		transcriptome_reads BIGINT,
		transcriptome_size BIGINT
	)`); err != nil {
		return err
	}

	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS clusters (
		run_id VARCHAR,
		chrom VARCHAR,
		gene_id VARCHAR,
		peak_number INTEGER,
		start BIGINT,
		stop BIGINT,
		thick_start BIGINT,
		thick_stop BIGINT,
		strand VARCHAR,
		reads_in_peak BIGINT,
		reads_in_gene BIGINT,
		effective_length BIGINT,
		area_reads BIGINT,
		area_size BIGINT,
		peak_length BIGINT,
		transcriptome_reads BIGINT,
		transcriptome_size BIGINT,
		transcriptome_p DOUBLE,
		transcript_p DOUBLE,
		superlocal_p DOUBLE,
		final_p DOUBLE,
		bh_corrected DOUBLE,
		padj DOUBLE,
		kept BOOLEAN,
		PRIMARY KEY (run_id, gene_id, peak_number)
	)`)
	return err
}
