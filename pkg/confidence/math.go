// Package confidence scores how much of a footprint rests on declared data.
package confidence

import "math"

// Per-source confidence of a footprint line
const (
	// Declared by the user (trip distance with declared consumption).
	Declared = 0.95
	// Derived from a reference table (appliance power, product factor).
	Referenced = 0.80
	// Modelled from coarse defaults (heating need by energy class).
	Modelled = 0.60
	// Below this a footprint is flagged as unreliable.
	Minimum = 0.50
)

// Aggregate combines scores with a geometric mean, so a single weak line
// drags the whole result down.
func Aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	sumLog := 0.0
	for _, s := range scores {
		if s <= 0 {
			return 0
		}
		sumLog += math.Log(s)
	}
	return math.Exp(sumLog / float64(len(scores)))
}

// Decay lowers confidence by 10% per record that could not be estimated.
func Decay(base float64, skipped int) float64 {
	if skipped <= 0 {
		return base
	}
	return base * math.Pow(0.9, float64(skipped))
}

// Weighted averages scores by weights, typically the kg CO2e of each line.
func Weighted(scores, weights []float64) float64 {
	if len(scores) == 0 || len(scores) != len(weights) {
		return 0
	}

	var sum, weightSum float64
	for i, s := range scores {
		sum += s * weights[i]
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return Aggregate(scores)
	}
	return sum / weightSum
}

// Clamp ensures confidence is in valid range [0, 1].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Reliable reports whether score meets Minimum.
func Reliable(score float64) bool {
	return score >= Minimum
}
