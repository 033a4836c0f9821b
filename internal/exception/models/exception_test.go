package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
)

func mustException(t *testing.T, effect domain.Effect, scope domain.Scope, createdAt time.Time) *Exception {
	t.Helper()
	e, err := NewException(
		domain.NewExceptionID(), "acme-bank", "UCP600_14B", scope, effect,
		"seasonal waiver approved by compliance", "ops@bank.example", createdAt,
	)
	require.NoError(t, err)
	if effect == domain.EffectOverride {
		e.OverrideSeverity = domain.SeverityMinor
	}
	return e
}

func TestNewExceptionValidation(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name     string
		tenant   domain.TenantID
		ruleCode string
		reason   string
		effect   domain.Effect
		wantCode dErrors.Code
	}{
		{"missing tenant", "", "R1", "reason", domain.EffectWaive, dErrors.CodeValidation},
		{"missing rule code", "acme", "  ", "reason", domain.EffectWaive, dErrors.CodeValidation},
		{"missing reason", "acme", "R1", "", domain.EffectDowngrade, dErrors.CodeValidation},
		{"unknown effect", "acme", "R1", "reason", "suspend", dErrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewException(domain.NewExceptionID(), tc.tenant, tc.ruleCode,
				domain.Scope{}, tc.effect, tc.reason, "ops", now)
			assert.True(t, dErrors.HasCode(err, tc.wantCode))
		})
	}

	t.Run("normalizes empty scope fields to wildcards", func(t *testing.T) {
		e, err := NewException(domain.NewExceptionID(), "acme", "R1",
			domain.Scope{Client: "ACME"}, domain.EffectWaive, "reason", "ops", now)
		require.NoError(t, err)
		assert.Equal(t, "ACME", e.Scope.Client)
		assert.Equal(t, domain.Wildcard, e.Scope.Branch)
		assert.Equal(t, domain.Wildcard, e.Scope.Product)
	})
}

func TestValidateOverride(t *testing.T) {
	now := time.Now()

	t.Run("override needs an outcome", func(t *testing.T) {
		e, err := NewException(domain.NewExceptionID(), "acme", "R1",
			domain.Scope{}, domain.EffectOverride, "reason", "ops", now)
		require.NoError(t, err)
		assert.True(t, dErrors.HasCode(e.ValidateOverride(), dErrors.CodeValidation))

		e.OverrideSeverity = domain.SeverityMinor
		assert.NoError(t, e.ValidateOverride())
	})

	t.Run("non-override effects reject override outcomes", func(t *testing.T) {
		e, err := NewException(domain.NewExceptionID(), "acme", "R1",
			domain.Scope{}, domain.EffectWaive, "reason", "ops", now)
		require.NoError(t, err)
		passed := true
		e.OverridePassed = &passed
		assert.True(t, dErrors.HasCode(e.ValidateOverride(), dErrors.CodeValidation))
	})
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	e := mustException(t, domain.EffectWaive, domain.Scope{}, now)

	assert.True(t, e.IsActiveAt(now), "no expiry means always active")

	past := now.Add(-time.Hour)
	e.ExpiresAt = &past
	assert.False(t, e.IsActiveAt(now))

	future := now.Add(time.Hour)
	e.ExpiresAt = &future
	assert.True(t, e.IsActiveAt(now))
	assert.False(t, e.IsActiveAt(future), "expiry instant itself is inactive")
}

func TestResolveWinner(t *testing.T) {
	now := time.Now()
	exact := domain.Scope{Client: "ACME"}.Normalize()

	t.Run("override beats waive regardless of scope or age", func(t *testing.T) {
		waive := mustException(t, domain.EffectWaive, exact, now)
		override := mustException(t, domain.EffectOverride, domain.Scope{}, now.Add(-time.Hour))

		winner := ResolveWinner([]*Exception{waive, override})
		assert.Equal(t, override.ID, winner.ID)
	})

	t.Run("equal effect resolves to the most specific scope", func(t *testing.T) {
		broad := mustException(t, domain.EffectDowngrade, domain.Scope{}, now)
		narrow := mustException(t, domain.EffectDowngrade, exact, now.Add(-time.Hour))

		winner := ResolveWinner([]*Exception{broad, narrow})
		assert.Equal(t, narrow.ID, winner.ID)
	})

	t.Run("equal effect and scope resolves to the newest", func(t *testing.T) {
		older := mustException(t, domain.EffectWaive, exact, now.Add(-time.Hour))
		newer := mustException(t, domain.EffectWaive, exact, now)

		winner := ResolveWinner([]*Exception{older, newer})
		assert.Equal(t, newer.ID, winner.ID)
	})

	t.Run("identical timestamps still resolve deterministically", func(t *testing.T) {
		a := mustException(t, domain.EffectWaive, exact, now)
		b := mustException(t, domain.EffectWaive, exact, now)

		first := ResolveWinner([]*Exception{a, b})
		second := ResolveWinner([]*Exception{b, a})
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("empty set has no winner", func(t *testing.T) {
		assert.Nil(t, ResolveWinner(nil))
	})
}
