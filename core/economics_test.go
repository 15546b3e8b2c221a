package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateSynergy(t *testing.T) {
	tests := []struct {
		name       string
		initial    float64
		economic   float64
		governance float64
		want       float64
	}{
		{name: "weighted gain", initial: 100, economic: 10, governance: 5, want: 108},
		{name: "no activity", initial: 40, want: 40},
		{name: "negative floors at zero", initial: 1, economic: -10, governance: 0, want: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.InDelta(t, test.want, CalculateSynergy(test.initial, test.economic, test.governance), 1e-9)
		})
	}
}

func TestApplyPenalty(t *testing.T) {
	tests := []struct {
		name             string
		synergy, penalty float64
		want             float64
	}{
		{name: "partial", synergy: 100, penalty: 30, want: 70},
		{name: "exact", synergy: 30, penalty: 30, want: 0},
		{name: "exceeds", synergy: 10, penalty: 30, want: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, ApplyPenalty(test.synergy, test.penalty))
		})
	}
}

func TestConversion(t *testing.T) {
	require := require.New(t)
	require.InDelta(12.5, SynergyToTokens(125, 0.1), 1e-9)
	require.InDelta(0.1, AdjustConversionRate(0.1, 0), 1e-9)
	require.InDelta(0.11, AdjustConversionRate(0.1, 2), 1e-9)
	require.InDelta(0.095, AdjustConversionRate(0.1, -1), 1e-9)
}

func TestRegistryValue(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(2)
	require.NoError(r.UpdateEconomicActivity(0, 100))
	require.NoError(r.SetGovernanceActivity(0, 5))

	// mean activity (10 + 1) / 2 of a maximum 10.
	rate := 0.1 * (1 + 0.55*0.05)
	require.InDelta(rate, r.EffectiveConversionRate(), 1e-9)

	v, err := r.Value(0)
	require.NoError(err)
	require.InDelta(108.0, v.ProjectedSynergy, 1e-9)
	require.InDelta(rate, v.ConversionRate, 1e-9)
	require.InDelta(100*rate, v.TokenValue, 1e-9)

	require.NoError(r.ApplySlash(1))
	v, err = r.Value(1)
	require.NoError(err)
	require.Zero(v.TokenValue)
	require.Zero(v.ProjectedSynergy)

	_, err = r.Value(2)
	require.ErrorIs(err, ErrUnknownParticipant)
}
