package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inodb/clipper/internal/alignment"
	"github.com/inodb/clipper/internal/annotation"
	"github.com/inodb/clipper/internal/peak"
	"github.com/inodb/clipper/internal/schedule"
	"github.com/inodb/clipper/internal/store"
)

const testGTF = `chr1	test	exon	1001	1500	.	+	.	gene_id "G1"; transcript_id "T1";
chr1	test	exon	5001	6000	.	-	.	gene_id "G2"; transcript_id "T2";
chr2	test	exon	101	400	.	+	.	gene_id "G3"; transcript_id "T3";
`

// stubDetector returns canned results keyed by gene ID.
func stubDetector(t *testing.T) schedule.Detector {
	t.Helper()
	return schedule.DetectorFunc(func(ctx context.Context, task peak.Task) (*peak.GeneResult, error) {
		g := task.Gene
		assert.NotEmpty(t, task.Params.BAMPath)
		res := &peak.GeneResult{GeneID: g.ID, Chrom: g.Chrom, Strand: g.Strand, Start: g.Start, Stop: g.Stop, EffectiveLength: g.EffectiveLength}
		switch g.ID {
		case "G1":
			res.NReads = 100
			res.Clusters = []peak.Cluster{
				{Chrom: g.Chrom, GeneID: g.ID, PeakNumber: 1, GenomicStart: 1100, GenomicStop: 1150, ThickStart: 1120, ThickStop: 1121,
					Strand: g.Strand, ReadsInPeak: 50, ReadsInGene: 100, EffectiveLength: g.EffectiveLength},
				{Chrom: g.Chrom, GeneID: g.ID, PeakNumber: 2, GenomicStart: 1300, GenomicStop: 1350, ThickStart: 1320, ThickStop: 1321,
					Strand: g.Strand, ReadsInPeak: 2, ReadsInGene: 100, EffectiveLength: g.EffectiveLength},
			}
		case "G2":
			res.NReads = 10
		default:
			return nil, errors.New("unreadable region")
		}
		return res, nil
	})
}

func setup(t *testing.T) (Options, string) {
	t.Helper()
	dir := t.TempDir()

	bam := filepath.Join(dir, "reads.bam")
	require.NoError(t, os.WriteFile(bam, nil, 0644))
	require.NoError(t, os.WriteFile(alignment.IndexPath(bam), nil, 0644))

	gtf := filepath.Join(dir, "genes.gtf")
	require.NoError(t, os.WriteFile(gtf, []byte(testGTF), 0644))

	opts := Options{
		BAM:     bam,
		Source:  annotation.GTFSource(gtf),
		Outfile: filepath.Join(dir, "out", "peaks.bed"),
		Params: peak.Params{
			PoissonCutoff: 0.05,
			Algorithm:     peak.AlgorithmSpline,
			MinReads:      3,
			MaxGap:        15,
		},
		Schedule:        schedule.Options{Workers: 2, Timeout: time.Minute},
		UseGlobalCutoff: true,
		Correct:         true,
	}
	return opts, dir
}

func TestRun(t *testing.T) {
	opts, dir := setup(t)
	opts.SaveResults = true
	opts.DBPath = filepath.Join(dir, "clusters.duckdb")
	opts.MetricsFile = filepath.Join(dir, "clipper.prom")

	core, logs := observer.New(zapcore.InfoLevel)
	p := New(opts)
	p.SetDetector(stubDetector(t))
	p.SetLogger(zap.New(core))

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Genes)
	assert.Equal(t, 2, summary.Present)
	assert.Equal(t, 2, summary.Clusters)
	assert.Equal(t, 1, summary.Kept)

	data, err := os.ReadFile(opts.Outfile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 8)
	assert.Equal(t, []string{"chr1", "1100", "1150", "G1_1_50"}, fields[:4])
	assert.Equal(t, []string{"+", "1120", "1121"}, fields[5:])

	failed := logs.FilterMessage("gene failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "G3", failed[0].ContextMap()["gene"])

	totals := logs.FilterMessage("transcriptome totals").All()
	require.Len(t, totals, 1)
	assert.Equal(t, int64(1500), totals[0].ContextMap()["transcriptome_size"])
	assert.Equal(t, int64(110), totals[0].ContextMap()["transcriptome_reads"])

	saved, err := store.LoadResults(store.ResultsPath(opts.Outfile))
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Nil(t, saved[2])

	s, err := store.Open(opts.DBPath)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountClusters(summary.RunID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	prom, err := os.ReadFile(opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `clipper_gene_tasks_total{outcome="failed"} 1`)
}

func TestRescore(t *testing.T) {
	opts, dir := setup(t)
	opts.SaveResults = true

	p := New(opts)
	p.SetDetector(stubDetector(t))
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	// a stricter cutoff over the same results drops every peak
	rescore := opts
	rescore.Outfile = filepath.Join(dir, "strict.bed")
	rescore.Params.PoissonCutoff = 1e-300
	summary, err := New(rescore).Rescore(context.Background(), store.ResultsPath(opts.Outfile))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Genes)
	assert.Equal(t, 2, summary.Clusters)
	assert.Equal(t, 0, summary.Kept)

	data, err := os.ReadFile(rescore.Outfile)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRun_MissingBAM(t *testing.T) {
	opts, _ := setup(t)
	opts.BAM = filepath.Join(t.TempDir(), "missing.bam")

	_, err := New(opts).Run(context.Background())
	assert.ErrorIs(t, err, alignment.ErrNotFound)
}

func TestRun_NoSource(t *testing.T) {
	opts, _ := setup(t)
	opts.Source = nil

	_, err := New(opts).Run(context.Background())
	assert.ErrorIs(t, err, annotation.ErrNoSource)
}

func TestRun_GeneAllowList(t *testing.T) {
	opts, _ := setup(t)
	opts.Genes = []string{"G2", "NOPE"}

	var seen []string
	p := New(opts)
	p.SetDetector(schedule.DetectorFunc(func(ctx context.Context, task peak.Task) (*peak.GeneResult, error) {
		seen = append(seen, task.Gene.ID)
		return nil, nil
	}))
	p.opts.Schedule.Sequential = true

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"G2"}, seen)
	assert.Equal(t, 1, summary.Genes)
	assert.Equal(t, 0, summary.Present)
}

func TestSelectGenes(t *testing.T) {
	var records []peak.GeneRecord
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		records = append(records, peak.GeneRecord{ID: id})
	}

	got, missing := SelectGenes(records, []string{"E", "B", "Z"}, 0, 1)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ID)
	assert.Equal(t, "E", got[1].ID)
	assert.Equal(t, []string{"Z"}, missing)

	a, _ := SelectGenes(records, nil, 3, 42)
	b, _ := SelectGenes(records, nil, 3, 42)
	require.Len(t, a, 3)
	assert.Equal(t, a, b, "same seed, same sample")
	pos := map[string]int{"A": 0, "B": 1, "C": 2, "D": 3, "E": 4, "F": 5}
	assert.Less(t, pos[a[0].ID], pos[a[1].ID])
	assert.Less(t, pos[a[1].ID], pos[a[2].ID])

	all, _ := SelectGenes(records, nil, 10, 1)
	assert.Len(t, all, 6)
}

func TestBuildTasks(t *testing.T) {
	records := []peak.GeneRecord{{ID: "A"}, {ID: "B"}}
	tasks := BuildTasks(records, peak.Params{MinReads: 7})
	require.Len(t, tasks, 2)
	assert.Equal(t, "B", tasks[1].Gene.ID)
	assert.Equal(t, 7, tasks[1].Params.MinReads)
}
