// Package detect implements the default per-gene cluster caller.
//
// Reads on the gene's strand are merged into sections wherever consecutive
// reads lie within the maximum gap of each other. A section becomes a cluster
// when it carries enough reads and its coverage summit reaches the height
// threshold, which is either fixed or estimated per gene: from a binomial model
// of read placement, or from the false discovery rate against randomly placed
// reads.
package detect

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/biogo/store/interval"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mathext"

	"github.com/inodb/clipper/internal/alignment"
	"github.com/inodb/clipper/internal/peak"
)

// SuperlocalWindow is the width of the background window centered on each cluster.
const SuperlocalWindow = 1000

// ReadSource fetches reads overlapping a region.
type ReadSource interface {
	io.Closer
	Fetch(chrom string, start, stop int64) ([]alignment.Read, error)
}

// OpenFunc opens a read source for an alignment file path.
type OpenFunc func(path string) (ReadSource, error)

// OpenBAM opens an indexed BAM file.
func OpenBAM(path string) (ReadSource, error) {
	return alignment.Open(path)
}

// SectionDetector calls clusters from read sections.
type SectionDetector struct {
	open   OpenFunc
	logger *zap.Logger
}

// NewSectionDetector creates a detector that reads alignments through open.
// If open is nil, OpenBAM is used.
func NewSectionDetector(open OpenFunc) *SectionDetector {
	if open == nil {
		open = OpenBAM
	}
	return &SectionDetector{open: open, logger: zap.NewNop()}
}

// SetLogger sets the logger for per-section debug output.
func (d *SectionDetector) SetLogger(l *zap.Logger) {
	d.logger = l
}

type section struct {
	start, stop int64
	reads       []alignment.Read
}

// Detect implements schedule.Detector. It returns nil when the gene region
// has no reads on the gene's strand.
func (d *SectionDetector) Detect(ctx context.Context, task peak.Task) (*peak.GeneResult, error) {
	gene, params := task.Gene, task.Params

	src, err := d.open(params.BAMPath)
	if err != nil {
		return nil, fmt.Errorf("open alignments: %w", err)
	}
	defer src.Close()

	all, err := src.Fetch(gene.Chrom, gene.Start, gene.Stop)
	if err != nil {
		return nil, err
	}
	reads := strandReads(all, gene.Strand, params.ReverseStrand)
	if len(reads) == 0 {
		return nil, nil
	}

	result := &peak.GeneResult{
		GeneID:          gene.ID,
		Chrom:           gene.Chrom,
		Strand:          gene.Strand,
		Start:           gene.Start,
		Stop:            gene.Stop,
		NReads:          int64(len(reads)),
		EffectiveLength: gene.EffectiveLength,
	}

	threshold := params.Threshold
	if threshold <= 0 {
		switch params.Method {
		case peak.ThresholdRandom:
			rng := rand.New(rand.NewPCG(params.Seed, uint64(gene.Start)))
			threshold = RandomThreshold(reads, gene.EffectiveLength, params.FDRAlpha, rng)
		default:
			threshold = HeightThreshold(reads, gene.EffectiveLength, params.BinomAlpha)
		}
	}

	tree, err := indexReads(reads)
	if err != nil {
		return nil, err
	}

	debug := params.Plot || d.logger.Core().Enabled(zap.DebugLevel)
	for _, s := range sections(reads, int64(params.MaxGap)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.reads) < params.MinReads {
			continue
		}

		height, summitStart, summitStop := summit(s)
		if debug {
			d.logger.Debug("section",
				zap.String("gene", gene.ID),
				zap.Int64("start", s.start),
				zap.Int64("stop", s.stop),
				zap.Int("reads", len(s.reads)),
				zap.Int("height", height),
				zap.Int("threshold", threshold))
		}
		if height < threshold {
			continue
		}

		start, stop := s.start, s.stop
		if params.Algorithm == peak.AlgorithmClassic && params.MaxWidth > 0 && stop-start > int64(params.MaxWidth) {
			start, stop = capWidth(s, summitStart, summitStop, int64(params.MaxWidth))
			summitStart, summitStop = max(summitStart, start), min(summitStop, stop)
		}

		c := peak.Cluster{
			Chrom:           gene.Chrom,
			GeneID:          gene.ID,
			GenomicStart:    start,
			GenomicStop:     stop,
			ThickStart:      summitStart,
			ThickStop:       summitStop,
			Strand:          gene.Strand,
			PeakNumber:      len(result.Clusters) + 1,
			ReadsInPeak:     countOverlapping(tree, start, stop),
			ReadsInGene:     result.NReads,
			EffectiveLength: gene.EffectiveLength,
			PeakLength:      stop - start,
		}
		areaStart, areaStop := superlocalArea(start, stop)
		c.AreaReads = countOverlapping(tree, areaStart, areaStop)
		c.AreaSize = areaStop - areaStart

		result.Clusters = append(result.Clusters, c)
	}
	return result, nil
}

// strandReads keeps the reads on the gene's strand, or the opposite strand
// when the library is reverse stranded. The result is sorted by start.
func strandReads(reads []alignment.Read, strand int8, reverse bool) []alignment.Read {
	want := strand
	if reverse {
		want = -strand
	}
	var out []alignment.Read
	for _, r := range reads {
		if r.Strand == want {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// sections groups sorted reads so that a new section starts when a read
// begins more than maxGap past the furthest end seen so far.
func sections(reads []alignment.Read, maxGap int64) []section {
	var out []section
	for _, r := range reads {
		if n := len(out); n > 0 && r.Start <= out[n-1].stop+maxGap {
			s := &out[n-1]
			s.reads = append(s.reads, r)
			if r.End > s.stop {
				s.stop = r.End
			}
			continue
		}
		out = append(out, section{start: r.Start, stop: r.End, reads: []alignment.Read{r}})
	}
	return out
}

// summit returns the maximum coverage of a section and the first run of
// positions reaching it.
func summit(s section) (height int, start, stop int64) {
	width := s.stop - s.start
	diff := make([]int, width+1)
	for _, r := range s.reads {
		diff[r.Start-s.start]++
		diff[r.End-s.start]--
	}

	cov := 0
	inRun := false
	for i := int64(0); i < width; i++ {
		cov += diff[i]
		switch {
		case cov > height:
			height, start, stop, inRun = cov, s.start+i, s.start+i+1, true
		case cov == height && inRun:
			stop = s.start + i + 1
		default:
			inRun = false
		}
	}
	return height, start, stop
}

// capWidth centers a window of at most maxWidth on the summit, inside the section.
func capWidth(s section, summitStart, summitStop, maxWidth int64) (int64, int64) {
	center := (summitStart + summitStop) / 2
	start := center - maxWidth/2
	if start < s.start {
		start = s.start
	}
	stop := start + maxWidth
	if stop > s.stop {
		stop = s.stop
		start = max(s.start, stop-maxWidth)
	}
	return start, stop
}

func superlocalArea(start, stop int64) (int64, int64) {
	center := (start + stop) / 2
	areaStart := max(0, center-SuperlocalWindow/2)
	return areaStart, center + SuperlocalWindow/2
}

// readInterval is a read stored in an interval tree. Ranges are half-open.
type readInterval struct {
	start, end int
	uid        uintptr
}

func (r readInterval) Overlap(b interval.IntRange) bool { return r.end > b.Start && r.start < b.End }
func (r readInterval) ID() uintptr                      { return r.uid }
func (r readInterval) Range() interval.IntRange {
	return interval.IntRange{Start: r.start, End: r.end}
}

// span is a half-open query range.
type span struct{ start, end int }

func (q span) Overlap(b interval.IntRange) bool { return q.end > b.Start && q.start < b.End }

func indexReads(reads []alignment.Read) (*interval.IntTree, error) {
	var t interval.IntTree
	for i, r := range reads {
		if r.End <= r.Start {
			continue
		}
		if err := t.Insert(readInterval{start: int(r.Start), end: int(r.End), uid: uintptr(i)}, true); err != nil {
			return nil, fmt.Errorf("index read %d-%d: %w", r.Start, r.End, err)
		}
	}
	t.AdjustRanges()
	return &t, nil
}

// countOverlapping counts the indexed reads overlapping [start, stop).
func countOverlapping(t *interval.IntTree, start, stop int64) int64 {
	var n int64
	t.DoMatching(func(interval.IntInterface) bool {
		n++
		return false
	}, span{start: int(start), end: int(stop)})
	return n
}

// HeightThreshold returns the smallest coverage height h such that, with the
// reads placed uniformly along a transcript of the given length, the chance
// of a position being covered by h or more reads is below alpha.
func HeightThreshold(reads []alignment.Read, length int64, alpha float64) int {
	if len(reads) == 0 || length <= 0 {
		return 1
	}
	var total int64
	for _, r := range reads {
		total += r.End - r.Start
	}
	n := len(reads)
	p := math.Min(1, float64(total)/float64(n)/float64(length))

	// P(X >= h) for X ~ Binomial(n, p) is I_p(h, n-h+1).
	for h := 1; h <= n; h++ {
		if mathext.RegIncBeta(float64(h), float64(n-h+1), p) < alpha {
			return h
		}
	}
	return n + 1
}

const (
	// RandomIterations is the number of random placements averaged by RandomThreshold.
	RandomIterations = 100
	randomMinHeight  = 2
	randomMinReads   = 20
)

// RandomThreshold places the reads uniformly at random along a transcript of
// the given length RandomIterations times and returns the smallest height h
// for which the expected number of positions covered h deep by chance, divided
// by the observed number, is below alpha. Genes with few reads get the
// minimum height of 2.
func RandomThreshold(reads []alignment.Read, length int64, alpha float64, rng *rand.Rand) int {
	if len(reads) < randomMinReads || length <= 0 {
		return randomMinHeight
	}

	starts := make([]int64, len(reads))
	ends := make([]int64, len(reads))
	for i, r := range reads {
		starts[i], ends[i] = r.Start, r.End
	}
	observed := heightSpans(starts, ends)

	expected := make([]float64, len(observed))
	for it := 0; it < RandomIterations; it++ {
		for i, r := range reads {
			w := min(r.End-r.Start, length)
			var s int64
			if length > w {
				s = rng.Int64N(length - w + 1)
			}
			starts[i], ends[i] = s, s+w
		}
		for h, n := range heightSpans(starts, ends) {
			expected[h] += float64(n) / RandomIterations
		}
	}

	for h := randomMinHeight; h < len(observed); h++ {
		if observed[h] == 0 || expected[h]/float64(observed[h]) < alpha {
			return h
		}
	}
	return len(observed)
}

// heightSpans returns, indexed by height h, the number of positions covered
// by at least h of the half-open intervals [starts[i], ends[i]).
func heightSpans(starts, ends []int64) []int64 {
	type event struct {
		pos   int64
		delta int
	}
	events := make([]event, 0, 2*len(starts))
	for i := range starts {
		events = append(events, event{starts[i], 1}, event{ends[i], -1})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].pos < events[j].pos })

	spans := make([]int64, len(starts)+2)
	cov := 0
	for i, e := range events {
		if i > 0 && cov > 0 {
			spans[cov] += e.pos - events[i-1].pos
		}
		cov += e.delta
	}
	for h := len(spans) - 2; h >= 1; h-- {
		spans[h] += spans[h+1]
	}
	return spans
}
