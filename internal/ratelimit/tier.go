package ratelimit

import (
	"errors"
	"fmt"
)

// ErrUnknownTier is returned when a token does not carry a recognized tier prefix.
var ErrUnknownTier = errors.New("unknown rate limit tier")

// Tier is a quota class assigned by the provider. The tier is encoded in the
// first two characters of every API token.
type Tier string

const (
	TierOne   Tier = "T1"
	TierTwo   Tier = "T2"
	TierThree Tier = "T3"
)

// tierPrefixLen is the number of token characters that identify the tier.
const tierPrefixLen = 2

// Limits holds the two quotas enforced by a gate.
type Limits struct {
	PerSecond int `json:"per_second" yaml:"per_second"`
	PerMinute int `json:"per_minute" yaml:"per_minute"`
}

// DefaultTiers is the provider's fixed quota table.
var DefaultTiers = map[Tier]Limits{
	TierOne:   {PerSecond: 1, PerMinute: 30},
	TierTwo:   {PerSecond: 4, PerMinute: 120},
	TierThree: {PerSecond: 10, PerMinute: 300},
}

// Limits returns the quotas of the tier from DefaultTiers.
func (t Tier) Limits() (Limits, error) {
	limits, ok := DefaultTiers[t]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownTier, string(t))
	}
	return limits, nil
}

// TierFromToken extracts the tier from the token prefix.
func TierFromToken(token string) (Tier, error) {
	if len(token) < tierPrefixLen {
		return "", fmt.Errorf("%w: token too short", ErrUnknownTier)
	}
	tier := Tier(token[:tierPrefixLen])
	if _, ok := DefaultTiers[tier]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, string(tier))
	}
	return tier, nil
}

// Validate checks that both quotas are positive.
func (l Limits) Validate() error {
	if l.PerSecond <= 0 {
		return errors.New("per-second limit must be positive")
	}
	if l.PerMinute <= 0 {
		return errors.New("per-minute limit must be positive")
	}
	return nil
}

func (l Limits) limit(w Window) int {
	if w == WindowSecond {
		return l.PerSecond
	}
	return l.PerMinute
}
