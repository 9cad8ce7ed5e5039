package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/clipper/internal/peak"
	"github.com/inodb/clipper/internal/significance"
)

// ErrEmptyRun is returned when exporting a run that has no clusters.
var ErrEmptyRun = errors.New("run has no clusters")

// Run describes one scored batch.
type Run struct {
	ID         string
	StartedAt  time.Time
	BAM        string
	Annotation string
	Algorithm  peak.Algorithm
	Cutoff     float64
	Corrected  bool
	Totals     significance.Totals
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func nullable(p float64) any {
	if math.IsNaN(p) {
		return nil
	}
	return p
}

// WriteRun records a run and batch-inserts its scored clusters using the
// Appender API. The run row and its clusters are committed together; if any
// cluster cannot be stored, nothing is.
func (s *Store) WriteRun(run Run, rows []significance.Row) error {
	if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}

	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.BAM, run.Annotation, string(run.Algorithm),
		run.Cutoff, run.Corrected, run.Totals.Reads, run.Totals.Size,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(rows) > 0 {
		if err := appendClusters(conn, run.ID, rows); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// appendClusters appends rows inside the transaction open on conn.
func appendClusters(conn *sql.Conn, runID string, rows []significance.Row) error {
	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "clusters")
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	for _, r := range rows {
		if err := appender.AppendRow(
			runID, r.Chrom, r.GeneID, int32(r.PeakNumber),
			r.GenomicStart, r.GenomicStop, r.ThickStart, r.ThickStop,
			peak.StrandString(r.Strand),
			r.ReadsInPeak, r.ReadsInGene, r.EffectiveLength,
			r.AreaReads, r.AreaSize, r.PeakLength,
			r.TranscriptomeReads, r.TranscriptomeSize,
			nullable(r.TranscriptomeP), nullable(r.TranscriptP), nullable(r.SuperlocalP),
			nullable(r.FinalP), nullable(r.BHCorrected), nullable(r.PAdj),
			r.Kept,
		); err != nil {
			appender.Close()
			return fmt.Errorf("append cluster %s_%d: %w", r.GeneID, r.PeakNumber, err)
		}
	}

	// Close flushes the remaining rows.
	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush clusters: %w", err)
	}
	return nil
}

// RunExists reports whether a run has been recorded.
func (s *Store) RunExists(runID string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT count(*) FROM runs WHERE run_id=?", runID).Scan(&n); err != nil {
		return false, fmt.Errorf("look up run: %w", err)
	}
	return n > 0, nil
}

// CountClusters returns the number of clusters stored for a run. If keptOnly
// is set only clusters passing the cutoff are counted.
func (s *Store) CountClusters(runID string, keptOnly bool) (int, error) {
	q := "SELECT count(*) FROM clusters WHERE run_id=?"
	if keptOnly {
		q += " AND kept"
	}
	var n int
	if err := s.db.QueryRow(q, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clusters: %w", err)
	}
	return n, nil
}

// LookupGene returns the scored clusters of one gene in a run, ordered by peak number.
// P-values that were not computed are returned as NaN.
func (s *Store) LookupGene(runID, geneID string) ([]significance.Row, error) {
	rows, err := s.db.Query(`SELECT
		chrom, gene_id, peak_number, start, stop, thick_start, thick_stop, strand,
		reads_in_peak, reads_in_gene, effective_length, area_reads, area_size, peak_length,
		transcriptome_reads, transcriptome_size,
		transcriptome_p, transcript_p, superlocal_p, final_p, bh_corrected, padj, kept
		FROM clusters
		WHERE run_id=? AND gene_id=?
		ORDER BY peak_number`, runID, geneID)
	if err != nil {
		return nil, fmt.Errorf("query gene clusters: %w", err)
	}
	defer rows.Close()

	var out []significance.Row
	for rows.Next() {
		var r significance.Row
		var strand string
		var ps [6]sql.NullFloat64
		if err := rows.Scan(
			&r.Chrom, &r.GeneID, &r.PeakNumber, &r.GenomicStart, &r.GenomicStop,
			&r.ThickStart, &r.ThickStop, &strand,
			&r.ReadsInPeak, &r.ReadsInGene, &r.EffectiveLength,
			&r.AreaReads, &r.AreaSize, &r.PeakLength,
			&r.TranscriptomeReads, &r.TranscriptomeSize,
			&ps[0], &ps[1], &ps[2], &ps[3], &ps[4], &ps[5], &r.Kept,
		); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		if r.Strand, err = peak.ParseStrand(strand); err != nil {
			return nil, err
		}
		dst := []*float64{&r.TranscriptomeP, &r.TranscriptP, &r.SuperlocalP, &r.FinalP, &r.BHCorrected, &r.PAdj}
		for i, p := range ps {
			*dst[i] = math.NaN()
			if p.Valid {
				*dst[i] = p.Float64
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}
	return out, nil
}

// ExportParquet copies the clusters of a run to a parquet file.
func (s *Store) ExportParquet(runID, path string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	n, err := s.CountClusters(runID, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyRun, runID)
	}

	q := fmt.Sprintf(
		"COPY (SELECT * FROM clusters WHERE run_id='%s' ORDER BY chrom, start, stop) TO '%s' (FORMAT PARQUET)",
		runID, strings.ReplaceAll(path, "'", "''"))
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("export parquet: %w", err)
	}
	return nil
}
