package registry

// scoreEpsilon is the fraction of the peer range treated as "at" an end.
const scoreEpsilon = 0.1

// TrainingScore buckets v within [lo, hi] into 0.0, 0.5 or 1.0. A degenerate
// range scores 1.0; the near-lowest test runs before the near-highest one.
func TrainingScore(v, lo, hi int64) float64 {
	distance := float64(hi - lo)
	if distance == 0 {
		return 1.0
	}
	if float64(v-lo)/distance < scoreEpsilon {
		return 0.0
	}
	if float64(hi-v)/distance < scoreEpsilon {
		return 1.0
	}
	return 0.5
}
