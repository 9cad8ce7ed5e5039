package significance

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/peak"
)

// Params holds the batch-level scoring parameters.
type Params struct {
	Cutoff          float64
	UseGlobalCutoff bool
	Correct         bool
	Algorithm       peak.Algorithm
	Superlocal      bool
	MinWidth        int64
}

// Totals are the transcriptome-wide aggregates over all present gene results.
type Totals struct {
	Reads int64
	Size  int64
}

// Aggregate sums read counts and effective lengths over non-absent results.
func Aggregate(results []*peak.GeneResult) Totals {
	var t Totals
	for _, r := range results {
		if r == nil {
			continue
		}
		t.Reads += r.NReads
		t.Size += r.EffectiveLength
	}
	return t
}

// Row is one cluster in the global table. P-values that were not computed are NaN.
type Row struct {
	peak.Cluster

	TranscriptomeReads int64
	TranscriptomeSize  int64
	TranscriptomeP     float64
	TranscriptP        float64
	SuperlocalP        float64
	FinalP             float64
	BHCorrected        float64
	PAdj               float64
	Kept               bool
}

// Report is the outcome of scoring one batch.
type Report struct {
	Totals Totals
	Rows   []Row // every scored cluster, in flattening order
	Kept   []Row // rows passing the cutoff
}

// Engine scores gene results.
type Engine struct {
	params Params
	logger *zap.Logger
}

// NewEngine creates an engine with the given parameters.
func NewEngine(p Params) *Engine {
	if p.Algorithm == "" {
		p.Algorithm = peak.AlgorithmSpline
	}
	return &Engine{params: p, logger: zap.NewNop()}
}

// SetLogger sets the logger for summary messages.
func (e *Engine) SetLogger(l *zap.Logger) {
	e.logger = l
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Flatten collects every cluster of every present result into one table.
func Flatten(results []*peak.GeneResult) []Row {
	var rows []Row
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, c := range r.Clusters {
			rows = append(rows, Row{Cluster: c})
		}
	}
	return rows
}

// Run scores all clusters and filters them. It must only be called once all
// gene tasks of the batch have resolved, since the transcriptome aggregates
// depend on every result.
func (e *Engine) Run(results []*peak.GeneResult) (*Report, error) {
	totals := Aggregate(results)
	e.logger.Info("transcriptome totals",
		zap.Int64("transcriptome_size", totals.Size),
		zap.Int64("transcriptome_reads", totals.Reads))

	rows := Flatten(results)
	report := &Report{Totals: totals, Rows: rows}
	if len(rows) == 0 {
		e.logger.Warn("no peaks detected in dataset")
		return report, nil
	}

	if err := e.Score(rows, totals); err != nil {
		return nil, err
	}
	report.Kept = e.Filter(rows)

	e.logger.Info("filtered peaks",
		zap.Int("clusters", len(rows)),
		zap.Int("significant", len(report.Kept)),
		zap.Float64("cutoff", e.params.Cutoff),
		zap.Bool("corrected", e.params.Correct))
	return report, nil
}

// Score fills the aggregate, p-value and correction columns of rows in place.
func (e *Engine) Score(rows []Row, totals Totals) error {
	p := e.params
	for i := range rows {
		r := &rows[i]

		if p.Algorithm == peak.AlgorithmClassic && r.Size() < p.MinWidth {
			r.PeakLength = p.MinWidth
		}
		r.TranscriptomeReads = totals.Reads
		r.TranscriptomeSize = totals.Size

		if err := e.scoreRow(r); err != nil {
			return fmt.Errorf("cluster %s_%d: %w", r.GeneID, r.PeakNumber, err)
		}
	}

	if p.Correct {
		BHCorrect(rows)
	} else {
		for i := range rows {
			rows[i].BHCorrected = math.NaN()
			rows[i].PAdj = math.NaN()
		}
	}
	return nil
}

func (e *Engine) scoreRow(r *Row) error {
	var err error
	size := r.Size()

	r.TranscriptomeP = math.NaN()
	if e.params.UseGlobalCutoff {
		r.TranscriptomeP, err = PoissonP(r.TranscriptomeReads, r.ReadsInPeak, r.TranscriptomeSize, size)
		if err != nil {
			return fmt.Errorf("transcriptome test: %w", err)
		}
	}

	r.TranscriptP, err = PoissonP(r.ReadsInGene, r.ReadsInPeak, r.EffectiveLength, size)
	if err != nil {
		return fmt.Errorf("transcript test: %w", err)
	}

	r.SuperlocalP = math.NaN()
	if e.params.Superlocal {
		r.SuperlocalP, err = PoissonP(r.AreaReads, r.ReadsInPeak, r.AreaSize, size)
		if err != nil {
			return fmt.Errorf("superlocal test: %w", err)
		}
	}

	r.FinalP = FinalP(e.params.Algorithm, r.TranscriptP, r.SuperlocalP)
	return nil
}

// FinalP combines the transcript and superlocal p-values. The classic
// algorithm keeps the larger one, every other algorithm the smaller one.
// NaN candidates are ignored.
func FinalP(alg peak.Algorithm, transcriptP, superlocalP float64) float64 {
	final := math.NaN()
	for _, p := range []float64{transcriptP, superlocalP} {
		switch {
		case math.IsNaN(p):
		case math.IsNaN(final):
			final = p
		case alg == peak.AlgorithmClassic:
			final = math.Max(final, p)
		default:
			final = math.Min(final, p)
		}
	}
	return final
}

// BHCorrect sets BHCorrected and PAdj on every row using the Benjamini-Hochberg
// step-up procedure over FinalP. Tied p-values share the largest rank of their
// tie group, so the result does not depend on row order. Row order is kept.
func BHCorrect(rows []Row) {
	n := len(rows)
	if n == 0 {
		return
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rows[order[a]].FinalP < rows[order[b]].FinalP
	})

	for i := 0; i < n; {
		j := i
		for j+1 < n && rows[order[j+1]].FinalP == rows[order[i]].FinalP {
			j++
		}
		rank := float64(j + 1)
		for k := i; k <= j; k++ {
			r := &rows[order[k]]
			r.BHCorrected = math.Min(1, float64(n)/rank*r.FinalP)
		}
		i = j + 1
	}

	running := math.Inf(1)
	for k := n - 1; k >= 0; k-- {
		r := &rows[order[k]]
		running = math.Min(running, r.BHCorrected)
		r.PAdj = running
	}
}

// Filter marks and returns the rows whose adjusted p-value (or final p-value
// when correction is off) is strictly below the cutoff.
func (e *Engine) Filter(rows []Row) []Row {
	var kept []Row
	for i := range rows {
		p := rows[i].ReportedP(e.params.Correct)
		rows[i].Kept = p < e.params.Cutoff
		if rows[i].Kept {
			kept = append(kept, rows[i])
		}
	}
	return kept
}

// ReportedP is the p-value that is filtered on and written out.
func (r Row) ReportedP(corrected bool) float64 {
	if corrected {
		return r.PAdj
	}
	return r.FinalP
}

// Lines formats the kept rows as peak records.
func (rep *Report) Lines(corrected bool) []string {
	lines := make([]string, 0, len(rep.Kept))
	for _, r := range rep.Kept {
		lines = append(lines, FormatPeak(r, r.ReportedP(corrected)))
	}
	return lines
}

// FormatPeak renders a row as a tab-delimited 8-column peak line:
// chrom, start, stop, gene_peak_reads, p-value, strand, thick start, thick stop.
func FormatPeak(r Row, p float64) string {
	name := r.GeneID + "_" + strconv.Itoa(r.PeakNumber) + "_" + strconv.FormatInt(r.ReadsInPeak, 10)
	return strings.Join([]string{
		r.Chrom,
		strconv.FormatInt(r.GenomicStart, 10),
		strconv.FormatInt(r.GenomicStop, 10),
		name,
		strconv.FormatFloat(p, 'g', -1, 64),
		peak.StrandString(r.Strand),
		strconv.FormatInt(r.ThickStart, 10),
		strconv.FormatInt(r.ThickStop, 10),
	}, "\t")
}
