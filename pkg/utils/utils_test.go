package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretHashing(t *testing.T) {
	secret, err := RandomSecret(32)
	require.NoError(t, err)
	assert.Len(t, secret, 43)

	hash, err := HashSecret(secret)
	require.NoError(t, err)
	assert.True(t, CheckSecret(hash, secret))
	assert.False(t, CheckSecret(hash, secret+"x"))
	assert.False(t, CheckSecret(hash, ""))
	assert.False(t, CheckSecret(nil, secret))
}

func TestRandomDigits(t *testing.T) {
	re := regexp.MustCompile(`^[0-9]{8}$`)
	for i := 0; i < 50; i++ {
		code, err := RandomDigits(8)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}
