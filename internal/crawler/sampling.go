package crawler

import (
	"math"
	"math/rand"
)

// lowIndex draws an index biased toward the front of a list of n items:
// |Normal(0, n/prioritization)|, redrawn until it lands inside the list.
// With the default prioritization of 25, picks concentrate on the shallowest
// few percent.
func lowIndex(rng *rand.Rand, n int, prioritization float64) int {
	if n <= 1 {
		return 0
	}
	// clamp so small pools still get spread across all indices
	sigma := float64(n) / prioritization
	if sigma < 1 {
		sigma = 1
	}
	for {
		i := int(math.Abs(rng.NormFloat64()) * sigma)
		if i < n {
			return i
		}
	}
}

// expIndex draws an index with exponentially decaying probability, mean
// n/prioritization. Used by targeted crawling over a similarity-sorted list.
func expIndex(rng *rand.Rand, n int, prioritization float64) int {
	if n <= 1 {
		return 0
	}
	mean := float64(n) / prioritization
	if mean < 1 {
		mean = 1
	}
	for {
		i := int(rng.ExpFloat64() * mean)
		if i < n {
			return i
		}
	}
}

// synergyKeepProbability scores how much two paths belong together. A pair
// whose paths barely overlap tends to produce nonsense mashups, so its keep
// probability shrinks with how much of the shallower path is not shared:
//
//	(1 / (1 + min(depthA, depthB) - overlap)) ^ penalization
//
// A path nested in the other gives 1; penalization 0 disables the filter.
func synergyKeepProbability(depthA, depthB, overlap int, penalization float64) float64 {
	minDepth := depthA
	if depthB < minDepth {
		minDepth = depthB
	}
	nonOverlap := minDepth - overlap
	if nonOverlap < 0 {
		nonOverlap = 0
	}
	return math.Pow(1/float64(1+nonOverlap), penalization)
}
