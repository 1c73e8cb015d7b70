package learning

import (
	"math"
	"time"
)

const (
	// frequencyScale sets how quickly repeated sightings saturate.
	frequencyScale = 4.0
	// recencyScale sets how quickly the recency bonus fades.
	recencyScale = 24 * time.Hour
	// recencyBonus is the largest boost a sighting right after the previous
	// one can add.
	recencyBonus = 0.1
	// supervisedFloor is the lowest confidence of a pattern an operator labelled.
	supervisedFloor = 0.9
)

// Confidence is 1 - 0.7*exp(-(f-1)/4) plus a recency bonus of
// 0.1*exp(-gap/24h), capped to [0,1]. gap is the time since the previous
// sighting; a negative gap means there was none. A first sighting scores 0.3.
func Confidence(frequency int, gap time.Duration) float64 {
	if frequency < 1 {
		return 0
	}
	c := 1 - 0.7*math.Exp(-float64(frequency-1)/frequencyScale)
	if gap >= 0 {
		c += recencyBonus * math.Exp(-float64(gap)/float64(recencyScale))
	}
	return math.Min(1, math.Max(0, c))
}

// freshness decays a pattern's weight with the time since it was last seen.
func freshness(age, maxAge time.Duration) float64 {
	if maxAge <= 0 || age <= 0 {
		return 1
	}
	return math.Exp(-float64(age) / float64(maxAge))
}
