// Package peak defines the records that flow through the peak calling pipeline.
package peak

import "fmt"

// Strand values.
const (
	Forward int8 = 1
	Reverse int8 = -1
)

// StrandString formats a strand as "+" or "-".
func StrandString(s int8) string {
	if s == Reverse {
		return "-"
	}
	return "+"
}

// ParseStrand converts "+"/"-" to a strand value.
func ParseStrand(s string) (int8, error) {
	switch s {
	case "+":
		return Forward, nil
	case "-":
		return Reverse, nil
	default:
		return 0, fmt.Errorf("invalid strand %q", s)
	}
}

// GeneRecord represents a gene region that peaks are called on.
type GeneRecord struct {
	ID              string // Gene identifier (unique)
	TranscriptID    string // Representative transcript, empty if unknown
	Chrom           string // Chromosome
	Start           int64  // Region start (0-based)
	Stop            int64  // Region end (0-based, exclusive)
	Strand          int8   // +1 or -1
	EffectiveLength int64  // Mappable mRNA or pre-mRNA length
}

// Span returns stop - start.
func (g GeneRecord) Span() int64 {
	return g.Stop - g.Start
}

// Algorithm selects how clusters are detected and how the final p-value is combined.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmSpline   Algorithm = "spline"
	AlgorithmClassic  Algorithm = "classic"
	AlgorithmGaussian Algorithm = "gaussian"
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmSpline, AlgorithmClassic, AlgorithmGaussian:
		return a, nil
	default:
		return "", fmt.Errorf("unknown algorithm %q (want spline, classic or gaussian)", s)
	}
}

// ThresholdMethod selects how the per-gene height threshold is estimated.
type ThresholdMethod string

// Supported threshold methods.
const (
	// ThresholdBinomial tests each height against a binomial model of read
	// placement at the BinomAlpha level.
	ThresholdBinomial ThresholdMethod = "binomial"
	// ThresholdRandom compares observed coverage with coverage from randomly
	// placed reads and picks the smallest height whose FDR is below FDRAlpha.
	ThresholdRandom ThresholdMethod = "random"
)

// ParseThresholdMethod validates a threshold method name.
func ParseThresholdMethod(s string) (ThresholdMethod, error) {
	switch m := ThresholdMethod(s); m {
	case ThresholdBinomial, ThresholdRandom:
		return m, nil
	default:
		return "", fmt.Errorf("unknown threshold method %q (want binomial or random)", s)
	}
}

// Params holds the experiment-wide parameters handed to every task.
type Params struct {
	BAMPath       string
	MaxGap        int
	FDRAlpha      float64
	BinomAlpha    float64
	Threshold     int // explicit height threshold, 0 = estimate
	Method        ThresholdMethod
	Seed          uint64 // seeds the random threshold method
	MinReads      int
	PoissonCutoff float64
	Algorithm     Algorithm
	Superlocal    bool
	MaxWidth      int
	MinWidth      int
	ReverseStrand bool
	Plot          bool
}

// Task is the unit of work for one gene. It is never mutated after creation.
type Task struct {
	Gene   GeneRecord
	Params Params
}

// NewTask creates a task for a gene.
func NewTask(g GeneRecord, p Params) Task {
	return Task{Gene: g, Params: p}
}
