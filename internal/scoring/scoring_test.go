package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brainquiz/backend/internal/atlas"
)

func TestPenaltyPoints(t *testing.T) {
	tests := []struct {
		distance float64
		want     int
	}{
		{0, 30},
		{10, 27},
		{50, 15},
		{99.9, 0},
		{100, 0},
		{100.01, 0},
		{500, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PenaltyPoints(tt.distance), "distance %v", tt.distance)
	}
}

func TestPenaltyPoints_BoundedAndMonotonic(t *testing.T) {
	prev := PenaltyPoints(0)
	for d := 0.0; d <= 150; d += 0.5 {
		p := PenaltyPoints(d)
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, MaxPointsWithPenalty)
		assert.LessOrEqual(t, p, prev, "distance %v", d)
		prev = p
	}
}

func TestPartialCredit_UsesNearestCenter(t *testing.T) {
	centers := []atlas.Point{{100, 0, 0}, {0, 0, 20}}
	assert.Equal(t, 24, PartialCredit(atlas.Point{0, 0, 0}, centers))
	assert.Equal(t, 0, PartialCredit(atlas.Point{0, 0, 0}, nil))
}

func TestMinDistance(t *testing.T) {
	d, ok := MinDistance(atlas.Point{0, 0, 0}, []atlas.Point{{3, 4, 0}})
	assert.True(t, ok)
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestTimeBonus(t *testing.T) {
	assert.Equal(t, 10, TimeBonus(15*time.Second, 4500*time.Millisecond))
	assert.Equal(t, 0, TimeBonus(15*time.Second, 16*time.Second))
}

func TestTimeAttackBonus(t *testing.T) {
	assert.Equal(t, 10, TimeAttackBonus(10*time.Second+400*time.Millisecond))
	assert.Equal(t, 0, TimeAttackBonus(-time.Second))
}
