// Package pipeline wires annotation, scheduling, scoring and output into a
// single peak calling run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/alignment"
	"github.com/inodb/clipper/internal/annotation"
	"github.com/inodb/clipper/internal/detect"
	"github.com/inodb/clipper/internal/metrics"
	"github.com/inodb/clipper/internal/output"
	"github.com/inodb/clipper/internal/peak"
	"github.com/inodb/clipper/internal/schedule"
	"github.com/inodb/clipper/internal/significance"
	"github.com/inodb/clipper/internal/store"
)

// Options configures a run.
type Options struct {
	BAM     string
	Source  annotation.Source
	Catalog annotation.Catalog
	PreMRNA bool
	Outfile string

	Genes    []string
	MaxGenes int
	Seed     uint64

	Params          peak.Params
	Schedule        schedule.Options
	UseGlobalCutoff bool
	Correct         bool

	SaveResults bool
	DBPath      string
	MetricsFile string
}

// Summary reports what a run produced.
type Summary struct {
	RunID    string
	Genes    int
	Present  int
	Clusters int
	Kept     int
	Outfile  string
}

// Pipeline runs peak calling for one alignment file.
type Pipeline struct {
	opts     Options
	detector schedule.Detector
	logger   *zap.Logger
}

// New creates a pipeline using the section detector on the BAM file.
func New(opts Options) *Pipeline {
	return &Pipeline{
		opts:     opts,
		detector: detect.NewSectionDetector(nil),
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the logger for the pipeline and every stage it creates.
func (p *Pipeline) SetLogger(l *zap.Logger) {
	p.logger = l
	if d, ok := p.detector.(*detect.SectionDetector); ok {
		d.SetLogger(l)
	}
}

// SetDetector replaces the per-gene detector.
func (p *Pipeline) SetDetector(d schedule.Detector) {
	p.detector = d
}

func (p *Pipeline) newMetrics() *metrics.Metrics {
	if p.opts.MetricsFile == "" {
		return nil
	}
	return metrics.New("clipper")
}

// Run verifies the alignment index, builds the gene annotation, detects
// clusters for every gene, then scores and writes the significant peaks.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	o := p.opts

	if err := alignment.EnsureIndex(o.BAM, p.logger); err != nil {
		return nil, err
	}

	builder := annotation.NewBuilder(o.Catalog)
	builder.SetPreMRNA(o.PreMRNA)
	builder.SetLogger(p.logger)
	records, err := builder.Build(o.Source)
	if err != nil {
		return nil, fmt.Errorf("build annotation: %w", err)
	}

	records, missing := SelectGenes(records, o.Genes, o.MaxGenes, o.Seed)
	if len(missing) > 0 {
		p.logger.Warn("genes not found in annotation", zap.Strings("genes", missing))
	}

	params := o.Params
	params.BAMPath = o.BAM
	params.Seed = o.Seed
	tasks := BuildTasks(records, params)

	m := p.newMetrics()
	sched := schedule.New(p.detector, o.Schedule)
	sched.SetLogger(p.logger)
	sched.SetMetrics(m)

	p.logger.Info("calling peaks",
		zap.Int("genes", len(tasks)),
		zap.Int("workers", sched.Workers()),
		zap.Bool("sequential", o.Schedule.Sequential))
	start := time.Now()
	results := sched.Run(ctx, tasks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.logger.Info("finished calling peaks",
		zap.Int("genes", len(tasks)),
		zap.Duration("elapsed", time.Since(start)))

	if o.SaveResults {
		if err := p.saveResults(results); err != nil {
			return nil, err
		}
	}

	summary, err := p.finish(ctx, results)
	if err != nil {
		return nil, err
	}
	if m != nil {
		if err := m.WriteTextfile(o.MetricsFile); err != nil {
			return nil, fmt.Errorf("write metrics: %w", err)
		}
	}
	summary.Genes = len(tasks)
	return summary, nil
}

// Rescore scores and writes results saved by an earlier run without
// re-reading alignments.
func (p *Pipeline) Rescore(ctx context.Context, resultsPath string) (*Summary, error) {
	results, err := store.LoadResults(resultsPath)
	if err != nil {
		return nil, err
	}
	p.logger.Info("loaded gene results", zap.String("path", resultsPath), zap.Int("genes", len(results)))

	summary, err := p.finish(ctx, results)
	if err != nil {
		return nil, err
	}
	summary.Genes = len(results)
	return summary, nil
}

func (p *Pipeline) saveResults(results []*peak.GeneResult) error {
	if output.IsURL(p.opts.Outfile) {
		p.logger.Warn("not saving gene results for a bucket output", zap.String("outfile", p.opts.Outfile))
		return nil
	}
	path := store.ResultsPath(p.opts.Outfile)
	if err := store.SaveResults(path, results); err != nil {
		return fmt.Errorf("save gene results: %w", err)
	}
	p.logger.Info("saved gene results", zap.String("path", path))
	return nil
}

func (p *Pipeline) engineParams() significance.Params {
	o := p.opts
	return significance.Params{
		Cutoff:          o.Params.PoissonCutoff,
		UseGlobalCutoff: o.UseGlobalCutoff,
		Correct:         o.Correct,
		Algorithm:       o.Params.Algorithm,
		Superlocal:      o.Params.Superlocal,
		MinWidth:        int64(o.Params.MinWidth),
	}
}

// finish runs the significance engine over resolved results and writes the peaks.
func (p *Pipeline) finish(ctx context.Context, results []*peak.GeneResult) (*Summary, error) {
	o := p.opts
	startedAt := time.Now().UTC()

	engine := significance.NewEngine(p.engineParams())
	engine.SetLogger(p.logger)
	report, err := engine.Run(results)
	if err != nil {
		return nil, fmt.Errorf("score clusters: %w", err)
	}

	if err := output.WritePeaks(ctx, o.Outfile, report.Lines(o.Correct)); err != nil {
		return nil, fmt.Errorf("write peaks: %w", err)
	}
	p.logger.Info("wrote peaks", zap.String("path", o.Outfile), zap.Int("peaks", len(report.Kept)))

	summary := &Summary{
		RunID:    store.NewRunID(),
		Clusters: len(report.Rows),
		Kept:     len(report.Kept),
		Outfile:  o.Outfile,
	}
	for _, r := range results {
		if r != nil {
			summary.Present++
		}
	}

	if o.DBPath != "" {
		run := store.Run{
			ID:        summary.RunID,
			StartedAt: startedAt,
			BAM:       o.BAM,
			Algorithm: engine.Params().Algorithm,
			Cutoff:    o.Params.PoissonCutoff,
			Corrected: o.Correct,
			Totals:    report.Totals,
		}
		if o.Source != nil {
			run.Annotation = o.Source.Describe()
		}
		if err := p.writeDB(run, report.Rows); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func (p *Pipeline) writeDB(run store.Run, rows []significance.Row) (err error) {
	s, err := store.Open(p.opts.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	if err := s.WriteRun(run, rows); err != nil {
		return fmt.Errorf("store scored clusters: %w", err)
	}
	p.logger.Info("stored scored clusters",
		zap.String("db", p.opts.DBPath),
		zap.String("run_id", run.ID),
		zap.Int("clusters", len(rows)))
	return nil
}
