package core

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func constantBehavior(b Behavior) func(int) Behavior {
	return func(int) Behavior { return b }
}

func TestRegistryCycles(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(10, WithWorkers(3))
	require.Equal(10, r.Len())

	for i := 0; i < 5; i++ {
		r.RunCycle()
		stats := r.Statistics()
		require.Equal(10, stats.HonestCount+stats.DishonestCount)
		for _, p := range r.Participants() {
			require.GreaterOrEqual(p.Synergy, 0.0)
			if p.Slashed {
				require.Zero(p.Synergy)
			}
		}
	}
}

func TestRegistryHonestCycle(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(4, WithBehaviorSource(constantBehavior(Honest)))
	r.RunCycle()

	p, err := r.Participant(2)
	require.NoError(err)
	require.Equal(110.0, p.Synergy)
	// 5 from the honest step plus an equal share of the total activity of 4.
	require.InDelta(6.0, p.Reward, 1e-9)

	params := r.Parameters()
	require.InDelta(4.75, params.PenaltyIncrement, 1e-9)
	require.InDelta(10.5, params.SynergyGain, 1e-9)
	require.InDelta(0.1, params.ConversionRate, 1e-9)
}

func TestRegistryDishonestCycle(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(2, WithBehaviorSource(constantBehavior(Dishonest)))
	r.RunCycle()
	r.RunCycle()

	p, err := r.Participant(0)
	require.NoError(err)
	require.Equal(80.0, p.Synergy)
	require.Equal(10.0, p.Penalty)

	stats := r.Statistics()
	require.Equal(2, stats.DishonestCount)
	require.InDelta(80.0, stats.MeanSynergy, 1e-9)
	require.InDelta(20.0, stats.TotalPenalties, 1e-9)
	require.InDelta(0.15, r.Parameters().ConversionRate, 1e-9)
}

func TestRegistrySuspiciousDishonestIsSlashed(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(3, WithBehaviorSource(func(id int) Behavior {
		if id == 1 {
			return Dishonest
		}
		return Honest
	}))
	require.NoError(r.UpdateEconomicActivity(1, 50))
	require.NoError(r.SetGovernanceActivity(1, 3))

	suspicious, err := r.DetectSuspicious(1)
	require.NoError(err)
	require.True(suspicious)

	r.RunCycle()
	p, err := r.Participant(1)
	require.NoError(err)
	require.True(p.Slashed)
	require.Zero(p.Synergy)
	require.Equal(SlashPenalty+SuspiciousPenalty+PenaltyIncrement*5, p.Penalty)

	// slashed participants stay at zero and earn nothing until restored.
	r.RunCycle()
	again, err := r.Participant(1)
	require.NoError(err)
	require.Zero(again.Synergy)
	require.Equal(p.Reward, again.Reward)

	require.NoError(r.RestoreAfterSlash(1))
	restored, err := r.Participant(1)
	require.NoError(err)
	require.False(restored.Slashed)
	require.Equal(RestoreSynergy, restored.Synergy)
}

func TestRegistryViolationsSlash(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(2, WithBehaviorSource(constantBehavior(Honest)))

	for i := 0; i < MaxViolations; i++ {
		require.NoError(r.RecordViolation(0))
	}
	r.ApplySlashingMechanism()
	p, _ := r.Participant(0)
	require.False(p.Slashed)

	require.NoError(r.RecordViolation(0))
	r.ApplySlashingMechanism()
	p, _ = r.Participant(0)
	require.True(p.Slashed)
	require.Equal(1, r.Statistics().SlashedParticipants)
}

func TestRegistryApplySlashIsIdempotent(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(1)
	require.NoError(r.ApplySlash(0))
	require.NoError(r.ApplySlash(0))

	p, err := r.Participant(0)
	require.NoError(err)
	require.Equal(SlashPenalty, p.Penalty)
	require.Zero(p.Synergy)
}

func TestConvertSynergyToTokens(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(3)
	require.NoError(r.ApplySlash(2))

	require.InDelta(20.0, r.ConvertSynergyToTokens(0.1), 1e-9)
	require.Zero(r.ConvertSynergyToTokens(0.1))
	for _, p := range r.Participants() {
		require.Zero(p.Synergy)
	}
}

func TestUpdateEconomicActivity(t *testing.T) {
	tests := []struct {
		name         string
		contribution float64
		activity     int
	}{
		{name: "below one unit", contribution: 9, activity: 0},
		{name: "whole units", contribution: 35, activity: 3},
		{name: "capped", contribution: 500, activity: MaxEconomicActivity},
		{name: "negative floors at zero", contribution: -20, activity: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)
			r := NewRegistry(1)
			require.NoError(r.UpdateEconomicActivity(0, test.contribution))
			p, err := r.Participant(0)
			require.NoError(err)
			require.Equal(test.activity, p.EconomicActivity)
			require.Equal(test.contribution, p.EconomicContribution)
		})
	}
}

func TestRegistryUnknownParticipant(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(10)

	_, err := r.Participant(10)
	require.ErrorIs(err, ErrUnknownParticipant)
	_, err = r.Participant(-1)
	require.ErrorIs(err, ErrUnknownParticipant)
	require.ErrorIs(r.ApplySlash(11), ErrUnknownParticipant)
	require.ErrorIs(r.RecordViolation(42), ErrUnknownParticipant)
	require.ErrorIs(r.AddReward(10, 1), ErrUnknownParticipant)
	_, err = r.DetectSuspicious(10)
	require.ErrorIs(err, ErrUnknownParticipant)
}

func TestAddRewardIgnoresNonPositive(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(1)
	require.NoError(r.AddReward(0, -5))
	require.NoError(r.AddReward(0, 7.5))
	p, _ := r.Participant(0)
	require.Equal(7.5, p.Reward)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(200, WithWorkers(8))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		totals []int
	)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RunCycle()
		}()
		go func() {
			defer wg.Done()
			stats := r.Statistics()
			mu.Lock()
			totals = append(totals, stats.HonestCount+stats.DishonestCount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, []int{200, 200, 200, 200}, totals)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestRegistrySlashUpdatesGauge(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(err)
	r := NewRegistry(3, WithRegistryMetrics(m))

	require.NoError(r.ApplySlash(0))
	require.NoError(r.ApplySlash(2))
	require.Equal(2.0, gaugeValue(t, reg, "synledger_slashed_participants"))

	require.NoError(r.RestoreAfterSlash(0))
	require.Equal(1.0, gaugeValue(t, reg, "synledger_slashed_participants"))
}
