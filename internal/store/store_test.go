package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/clipper/internal/peak"
	"github.com/inodb/clipper/internal/significance"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Scored cluster tests (DuckDB) ---

func TestOpenClose(t *testing.T) {
	s := openInMemory(t)
	assert.NotNil(t, s.DB())
}

func testRows() []significance.Row {
	return []significance.Row{
		{
			Cluster: peak.Cluster{
				Chrom: "chr1", GeneID: "ENSG1", PeakNumber: 1,
				GenomicStart: 100, GenomicStop: 150, ThickStart: 120, ThickStop: 121,
				Strand: peak.Forward, ReadsInPeak: 30, ReadsInGene: 60, EffectiveLength: 2000,
				AreaReads: 35, AreaSize: 1000, PeakLength: 50,
			},
			TranscriptomeReads: 100, TranscriptomeSize: 5000,
			TranscriptomeP: math.NaN(), TranscriptP: 1e-20, SuperlocalP: math.NaN(),
			FinalP: 1e-20, BHCorrected: 2e-20, PAdj: 2e-20, Kept: true,
		},
		{
			Cluster: peak.Cluster{
				Chrom: "chr1", GeneID: "ENSG1", PeakNumber: 2,
				GenomicStart: 900, GenomicStop: 950, Strand: peak.Forward,
				ReadsInPeak: 2, ReadsInGene: 60, EffectiveLength: 2000, PeakLength: 50,
			},
			TranscriptomeReads: 100, TranscriptomeSize: 5000,
			TranscriptomeP: math.NaN(), TranscriptP: 0.6, SuperlocalP: math.NaN(),
			FinalP: 0.6, BHCorrected: 0.6, PAdj: 0.6,
		},
	}
}

func testRun() Run {
	return Run{
		ID: NewRunID(), StartedAt: time.Now().UTC(), BAM: "reads.bam", Annotation: "species hg19",
		Algorithm: peak.AlgorithmSpline, Cutoff: 0.05, Corrected: true,
		Totals: significance.Totals{Reads: 100, Size: 5000},
	}
}

func TestWriteRunAndLookup(t *testing.T) {
	s := openInMemory(t)
	run := testRun()
	require.NoError(t, s.WriteRun(run, testRows()))

	n, err := s.CountClusters(run.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountClusters(run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.LookupGene(run.ID, "ENSG1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].PeakNumber)
	assert.Equal(t, int64(100), rows[0].GenomicStart)
	assert.Equal(t, peak.Forward, rows[0].Strand)
	assert.Equal(t, 1e-20, rows[0].FinalP)
	assert.True(t, math.IsNaN(rows[0].SuperlocalP))
	assert.True(t, rows[0].Kept)
	assert.False(t, rows[1].Kept)

	rows, err = s.LookupGene(run.ID, "missing")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWriteRun_SeparatesRuns(t *testing.T) {
	s := openInMemory(t)
	a, b := testRun(), testRun()
	require.NoError(t, s.WriteRun(a, testRows()))
	require.NoError(t, s.WriteRun(b, testRows()[:1]))

	n, err := s.CountClusters(b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriteRun_FailedAppendLeavesNoRun(t *testing.T) {
	s := openInMemory(t)
	run := testRun()
	rows := testRows()
	rows[1].PeakNumber = rows[0].PeakNumber // duplicate primary key

	require.Error(t, s.WriteRun(run, rows))

	exists, err := s.RunExists(run.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	n, err := s.CountClusters(run.ID, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.WriteRun(run, testRows()))
	exists, err = s.RunExists(run.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWriteRun_InvalidID(t *testing.T) {
	s := openInMemory(t)
	run := testRun()
	run.ID = "x'; DROP TABLE clusters; --"
	assert.Error(t, s.WriteRun(run, testRows()))
}

func TestExportParquet(t *testing.T) {
	s := openInMemory(t)
	run := testRun()
	require.NoError(t, s.WriteRun(run, testRows()))

	path := filepath.Join(t.TempDir(), "clusters.parquet")
	require.NoError(t, s.ExportParquet(run.ID, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT count(*) FROM read_parquet('"+path+"')").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestExportParquet_EmptyRun(t *testing.T) {
	s := openInMemory(t)
	run := testRun()
	require.NoError(t, s.WriteRun(run, nil))

	err := s.ExportParquet(run.ID, filepath.Join(t.TempDir(), "x.parquet"))
	assert.ErrorIs(t, err, ErrEmptyRun)
}

// --- Saved results tests (gob) ---

func TestSaveLoadResults(t *testing.T) {
	results := []*peak.GeneResult{
		{
			GeneID: "G1", Chrom: "chr1", Strand: peak.Reverse, Start: 10, Stop: 500,
			NReads: 12, EffectiveLength: 300,
			Clusters: []peak.Cluster{{Chrom: "chr1", GeneID: "G1", PeakNumber: 1, GenomicStart: 50, GenomicStop: 90, ReadsInPeak: 7}},
		},
		nil,
		{GeneID: "G3", Chrom: "chr2", Strand: peak.Forward, NReads: 1, EffectiveLength: 40},
	}

	path := filepath.Join(t.TempDir(), ResultsPath("peaks.bed"))
	require.NoError(t, SaveResults(path, results))

	loaded, err := LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Nil(t, loaded[1])
	assert.Equal(t, *results[0], *loaded[0])
	assert.Equal(t, "G3", loaded[2].GeneID)
	assert.Empty(t, loaded[2].Clusters)
}

func TestLoadResults_Missing(t *testing.T) {
	_, err := LoadResults(filepath.Join(t.TempDir(), "nope.gob"))
	assert.Error(t, err)
}
