package ratelimit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFromToken(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		expected  Tier
		expectErr bool
	}{
		{name: "tier one", token: "T1abcdef", expected: TierOne},
		{name: "tier two", token: "T2-0123456789", expected: TierTwo},
		{name: "tier three", token: "T3xyz", expected: TierThree},
		{name: "prefix only", token: "T2", expected: TierTwo},
		{name: "unknown prefix", token: "T4abc", expectErr: true},
		{name: "lowercase prefix", token: "t1abc", expectErr: true},
		{name: "too short", token: "T", expectErr: true},
		{name: "empty", token: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := TierFromToken(tt.token)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownTier))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tier)
		})
	}
}

func TestDefaultTiers(t *testing.T) {
	assert.Len(t, DefaultTiers, 3)
	assert.Equal(t, Limits{PerSecond: 1, PerMinute: 30}, DefaultTiers[TierOne])
	assert.Equal(t, Limits{PerSecond: 4, PerMinute: 120}, DefaultTiers[TierTwo])
	assert.Equal(t, Limits{PerSecond: 10, PerMinute: 300}, DefaultTiers[TierThree])
}

func TestTier_Limits(t *testing.T) {
	limits, err := TierThree.Limits()
	require.NoError(t, err)
	assert.Equal(t, 10, limits.PerSecond)
	assert.Equal(t, 300, limits.PerMinute)

	_, err = Tier("ZZ").Limits()
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestNewGateForToken(t *testing.T) {
	gate, err := NewGateForToken("T2secret", NewManualClock(testEpoch))
	require.NoError(t, err)
	assert.Equal(t, DefaultTiers[TierTwo], gate.Limits())
}

func TestNewGateForToken_UnknownTier(t *testing.T) {
	gate, err := NewGateForToken("XXsecret", nil)
	assert.Nil(t, gate)
	assert.ErrorIs(t, err, ErrUnknownTier)
	assert.Contains(t, err.Error(), `"XX"`)
}

func TestNewGateForTier_UnknownTier(t *testing.T) {
	_, err := NewGateForTier(Tier("T9"), nil)
	assert.ErrorIs(t, err, ErrUnknownTier)
}
