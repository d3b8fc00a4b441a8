// Package scoring holds the point rules shared by single-player and multiplayer games.
package scoring

import (
	"math"
	"time"

	"github.com/brainquiz/backend/internal/atlas"
)

const (
	MaxPointsPerRegion         = 50
	MaxPointsWithPenalty       = 30
	MaxPenaltyDistance         = 100.0 // mm
	MaxAttemptsBeforeHighlight = 3
	TotalRegionsTimeAttack     = 18
	BonusPointsPerSecond       = 1.0
	TimeAttackBonusPerSecond   = 1
)

// MinDistance returns the smallest Euclidean distance from p to any center.
func MinDistance(p atlas.Point, centers []atlas.Point) (float64, bool) {
	if len(centers) == 0 {
		return 0, false
	}
	best := math.Inf(1)
	for _, c := range centers {
		dx, dy, dz := p[0]-c[0], p[1]-c[1], p[2]-c[2]
		if d := math.Sqrt(dx*dx + dy*dy + dz*dz); d < best {
			best = d
		}
	}
	return best, true
}

// PenaltyPoints is the partial credit for a miss at the given distance from the target.
func PenaltyPoints(distance float64) int {
	if distance < 0 || distance > MaxPenaltyDistance {
		return 0
	}
	return int(math.Floor((1 - distance/MaxPenaltyDistance) * MaxPointsWithPenalty))
}

// PartialCredit scores a miss clicked at p against the target region's centers.
// A region without stored centers earns nothing.
func PartialCredit(p atlas.Point, centers []atlas.Point) int {
	d, ok := MinDistance(p, centers)
	if !ok {
		return 0
	}
	return PenaltyPoints(d)
}

// TimeBonus is the multiplayer bonus for answering with time left in the step.
func TimeBonus(stepDuration, elapsed time.Duration) int {
	left := (stepDuration - elapsed).Seconds()
	if left <= 0 {
		return 0
	}
	return int(math.Floor(left * BonusPointsPerSecond))
}

// TimeAttackBonus is awarded once when all time-attack regions are attempted before the limit.
func TimeAttackBonus(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int(math.Floor(remaining.Seconds())) * TimeAttackBonusPerSecond
}
