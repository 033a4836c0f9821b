package domain

import "fmt"

// Effect is what a policy exception does to a matching rule outcome.
type Effect string

const (
	// EffectWaive removes the result from the final discrepancy list.
	EffectWaive Effect = "waive"
	// EffectDowngrade reduces severity by one level on the ordinal scale.
	EffectDowngrade Effect = "downgrade"
	// EffectOverride replaces the result's severity and/or pass status
	// with the exception's configured outcome. Override is symmetric: it
	// can flip a failing result to passing and vice versa.
	EffectOverride Effect = "override"
)

// effectRank orders effects for conflict resolution: override > downgrade > waive.
var effectRank = map[Effect]int{
	EffectOverride:  3,
	EffectDowngrade: 2,
	EffectWaive:     1,
}

// ParseEffect validates and returns an Effect.
func ParseEffect(s string) (Effect, error) {
	e := Effect(s)
	if _, ok := effectRank[e]; !ok {
		return "", fmt.Errorf("unknown effect: %q", s)
	}
	return e, nil
}

func (e Effect) String() string { return string(e) }

// IsValid reports whether the effect is known.
func (e Effect) IsValid() bool {
	_, ok := effectRank[e]
	return ok
}

// Rank returns the precedence of the effect; higher wins.
func (e Effect) Rank() int { return effectRank[e] }
