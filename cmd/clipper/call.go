package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/alignment"
	"github.com/inodb/clipper/internal/annotation"
	"github.com/inodb/clipper/internal/peak"
	"github.com/inodb/clipper/internal/pipeline"
	"github.com/inodb/clipper/internal/schedule"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call significant peaks from a BAM file",
		Example: `  clipper call -b reads.bam -s hg19 -o peaks.bed
  clipper call -b reads.bam --gtf genes.gtf --premrna --processors 8
  clipper call -b reads.bam --custom-bed genes.bed --custom-mrna mrna.txt --custom-premrna premrna.txt
  clipper call -b reads.bam -s mm9 -o s3://my-bucket/peaks.bed --db runs.duckdb`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.StringP("bam", "b", "", "BAM file to call peaks on")
	fs.StringP("species", "s", "", "species with a bundled annotation (e.g. hg19, mm9)")
	fs.String("gtf", "", "GTF/GFF3 annotation; the longest transcript of each gene is used")
	fs.String("custom-bed", "", "BED6 gene regions (custom annotation)")
	fs.String("custom-mrna", "", "gene mRNA lengths (custom annotation)")
	fs.String("custom-premrna", "", "gene pre-mRNA lengths (custom annotation)")
	fs.Bool("premrna", false, "use pre-mRNA lengths as effective gene lengths")
	fs.String("data-dir", defaultDataDir(), "directory with bundled species annotations")
	fs.StringSliceP("gene", "g", nil, "only call peaks on these genes (repeatable)")
	fs.Int("maxgenes", 0, "randomly subsample at most this many genes (0 = all)")
	fs.Uint64("seed", 1, "seed for --maxgenes subsampling")
	fs.Int("minreads", 3, "minimum reads required for a section")
	fs.String("threshold-method", string(peak.ThresholdBinomial), "height threshold estimate: binomial or random")
	fs.Float64("fdr", 0.05, "FDR cutoff for the random height threshold")
	fs.Float64("binomial", 0.05, "alpha for the binomial height threshold")
	fs.Int("threshold", 0, "explicit height threshold; skips the estimate")
	fs.Int("max-gap", 15, "maximum gap between reads within one section")
	fs.Int("max-width", 75, "maximum peak width for the classic algorithm")
	fs.Bool("reverse-strand", false, "reads map to the strand opposite the gene")
	fs.String("processors", "auto", `worker pool width, or "auto" for one per CPU`)
	fs.Int("timeout", 0, "per-gene timeout in seconds (0 = none)")
	fs.Bool("debug", false, "run genes sequentially on one goroutine with debug logging")
	fs.BoolP("plot", "p", false, "log every section considered (implies --debug)")
	fs.Bool("save-results", false, "save per-gene results next to the output for rescoring")
	addScoringFlags(fs)

	return cmd
}

// addScoringFlags registers the flags shared by call and rescore.
func addScoringFlags(fs *pflag.FlagSet) {
	fs.StringP("outfile", "o", "fitted_clusters", "output peak file: a local path or a s3://, gs:// or file:// URL")
	fs.Float64("poisson-cutoff", 0.05, "p-value cutoff for reported peaks")
	fs.Bool("disable-global-cutoff", false, "do not compute the transcriptome-wide p-value")
	fs.Bool("no-correction", false, "filter on uncorrected p-values")
	fs.String("algorithm", string(peak.AlgorithmSpline), "peak algorithm: spline, classic or gaussian")
	fs.Bool("superlocal", false, "also test each peak against a 1kb window around it")
	fs.Int("min-width", 50, "minimum peak width for the classic algorithm")
	fs.String("db", "", "DuckDB file to store every scored cluster in")
	fs.String("metrics-file", "", "write scheduler metrics in Prometheus text format to this file")
}

func parseProcessors(s string) (int, error) {
	if s == "" || s == "auto" || s == "autodetect" {
		return runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, usagef("invalid --processors %q: want a positive number or auto", s)
	}
	return n, nil
}

// scoringOptions reads the shared scoring flags into opts.
func scoringOptions(opts *pipeline.Options) error {
	alg, err := peak.ParseAlgorithm(viper.GetString("algorithm"))
	if err != nil {
		return &usageError{err: err}
	}
	opts.Outfile = viper.GetString("outfile")
	opts.Params.Algorithm = alg
	opts.Params.PoissonCutoff = viper.GetFloat64("poisson-cutoff")
	opts.Params.Superlocal = viper.GetBool("superlocal")
	opts.Params.MinWidth = viper.GetInt("min-width")
	opts.UseGlobalCutoff = !viper.GetBool("disable-global-cutoff")
	opts.Correct = !viper.GetBool("no-correction")
	opts.DBPath = viper.GetString("db")
	opts.MetricsFile = viper.GetString("metrics-file")
	return nil
}

func callOptions() (pipeline.Options, error) {
	var opts pipeline.Options

	opts.BAM = viper.GetString("bam")
	if opts.BAM == "" {
		return opts, usagef("--bam is required")
	}

	custom := annotation.CustomFiles{
		BED:     viper.GetString("custom-bed"),
		MRNA:    viper.GetString("custom-mrna"),
		PreMRNA: viper.GetString("custom-premrna"),
	}
	src, err := annotation.SelectSource(viper.GetString("species"), viper.GetString("gtf"), custom)
	if err != nil {
		if errors.Is(err, annotation.ErrNoSource) || errors.Is(err, annotation.ErrMultipleSources) ||
			errors.Is(err, annotation.ErrIncompleteCustom) {
			return opts, &usageError{err: err}
		}
		return opts, err
	}
	opts.Source = src
	opts.Catalog = annotation.NewDirCatalog(viper.GetString("data-dir"))
	opts.PreMRNA = viper.GetBool("premrna")

	opts.Genes = viper.GetStringSlice("gene")
	opts.MaxGenes = viper.GetInt("maxgenes")
	opts.Seed = viper.GetUint64("seed")

	if err := scoringOptions(&opts); err != nil {
		return opts, err
	}

	debug := viper.GetBool("debug") || viper.GetBool("plot")
	opts.Params.MaxGap = viper.GetInt("max-gap")
	method, err := peak.ParseThresholdMethod(viper.GetString("threshold-method"))
	if err != nil {
		return opts, &usageError{err: err}
	}
	opts.Params.Method = method
	opts.Params.FDRAlpha = viper.GetFloat64("fdr")
	opts.Params.BinomAlpha = viper.GetFloat64("binomial")
	opts.Params.Threshold = viper.GetInt("threshold")
	opts.Params.MinReads = viper.GetInt("minreads")
	opts.Params.MaxWidth = viper.GetInt("max-width")
	opts.Params.ReverseStrand = viper.GetBool("reverse-strand")
	opts.Params.Plot = viper.GetBool("plot")

	workers, err := parseProcessors(viper.GetString("processors"))
	if err != nil {
		return opts, err
	}
	opts.Schedule = schedule.Options{
		Workers:    workers,
		Timeout:    time.Duration(viper.GetInt("timeout")) * time.Second,
		Sequential: debug,
	}
	opts.SaveResults = viper.GetBool("save-results")
	return opts, nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runCall(ctx context.Context) error {
	opts, err := callOptions()
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.Schedule.Sequential)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signalContext(ctx)
	defer stop()

	p := pipeline.New(opts)
	p.SetLogger(logger)
	summary, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, alignment.ErrNotFound) {
			return &usageError{err: err}
		}
		return err
	}

	logger.Info("done",
		zap.String("run_id", summary.RunID),
		zap.Int("genes", summary.Genes),
		zap.Int("genes_with_reads", summary.Present),
		zap.Int("clusters", summary.Clusters),
		zap.Int("peaks", summary.Kept),
		zap.String("outfile", summary.Outfile))
	return nil
}
