// Package weighted implements proportional random selection over positive weights.
package weighted

import (
	"math/rand"
	"sort"

	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

// Select returns an index i with probability weights[i] / sum(weights).
//
// Callers sampling without replacement remove the chosen element (and its
// weight) before calling Select again.
func Select(rng *rand.Rand, weights []float64) (int, error) {
	if len(weights) == 0 {
		return 0, appErrors.Clone(appErrors.ErrInvalidWeights, "weights must not be empty")
	}
	cumulative := make([]float64, len(weights))
	var total float64
	for i, w := range weights {
		if !(w > 0) {
			return 0, appErrors.Clone(appErrors.ErrInvalidWeights, "weights must be strictly positive")
		}
		total += w
		cumulative[i] = total
	}

	draw := rng.Float64() * total
	// upper bound: first cumulative value strictly greater than the draw
	idx := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > draw })
	if idx == len(cumulative) {
		idx = len(cumulative) - 1
	}
	return idx, nil
}
