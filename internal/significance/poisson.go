// Package significance scores candidate clusters genome-wide: Poisson tests
// against three universes, Benjamini-Hochberg correction and cutoff filtering.
package significance

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mathext"
)

// ErrZeroUniverse is returned when a Poisson test is asked to use an empty universe.
var ErrZeroUniverse = errors.New("poisson universe size must be positive")

// PoissonP returns P(X >= peakReads) for X ~ Poisson(lambda), with
// lambda = universeReads * peakSize / universeSize.
//
// The upper tail is computed as the regularized lower incomplete gamma
// P(k, lambda) rather than 1-CDF, so p-values far below machine epsilon
// stay positive.
func PoissonP(universeReads, peakReads, universeSize, peakSize int64) (float64, error) {
	if universeSize <= 0 {
		return math.NaN(), fmt.Errorf("%w (got %d)", ErrZeroUniverse, universeSize)
	}
	if universeReads < 0 || peakReads < 0 || peakSize < 0 {
		return math.NaN(), fmt.Errorf("poisson counts must be non-negative (reads=%d, peak reads=%d, peak size=%d)",
			universeReads, peakReads, peakSize)
	}
	if peakReads == 0 {
		return 1, nil
	}

	lambda := float64(universeReads) * float64(peakSize) / float64(universeSize)
	if lambda == 0 {
		return 0, nil
	}
	return mathext.GammaIncReg(float64(peakReads), lambda), nil
}
