package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTiming(t *testing.T) {
	s := ComputeTiming(nil)
	assert.Nil(t, s.Min)
	assert.Nil(t, s.Avg)

	s = ComputeTiming([]float64{3, 1, 2})
	require.NotNil(t, s.Min)
	assert.Equal(t, 1.0, *s.Min)
	assert.Equal(t, 3.0, *s.Max)
	assert.Equal(t, 2.0, *s.Avg)
}

func TestMode_Valid(t *testing.T) {
	assert.True(t, ModeTimeAttack.Valid())
	assert.True(t, ModeNavigation.Valid())
	assert.False(t, ModeMultiplayer.Valid())
	assert.False(t, Mode("").Valid())
}
