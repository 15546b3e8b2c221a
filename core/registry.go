package core

import (
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats aggregates the registry at one point in time.
type Stats struct {
	HonestCount               int     `json:"honestCount"`
	DishonestCount            int     `json:"dishonestCount"`
	TotalRewards              float64 `json:"totalRewards"`
	TotalPenalties            float64 `json:"totalPenalties"`
	SlashedParticipants       int     `json:"slashedParticipants"`
	TotalEconomicContribution float64 `json:"totalEconomicContribution"`
	MeanSynergy               float64 `json:"meanSynergy"`
}

// Parameters are the network-wide values recomputed every cycle.
type Parameters struct {
	PenaltyIncrement float64 `json:"penaltyIncrement"`
	SynergyGain      float64 `json:"synergyGain"`
	ConversionRate   float64 `json:"conversionRate"`
}

// Registry owns every participant record. Per-participant updates within a
// cycle run on index-disjoint workers; aggregates merge under one lock.
type Registry struct {
	mu           sync.RWMutex
	participants []Participant
	params       Parameters

	workers  int
	behavior func(id int) Behavior
	metrics  *Metrics
	log      *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithWorkers bounds the worker pool used for per-participant steps.
func WithWorkers(n int) RegistryOption {
	return func(r *Registry) { r.workers = n }
}

// WithBehaviorSource replaces the random per-cycle behavior draw.
func WithBehaviorSource(fn func(id int) Behavior) RegistryOption {
	return func(r *Registry) { r.behavior = fn }
}

// WithRegistryMetrics reports the slashed participant count to m.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates n participants with ids [0, n).
func NewRegistry(n int, opts ...RegistryOption) *Registry {
	r := &Registry{
		participants: make([]Participant, n),
		params: Parameters{
			PenaltyIncrement: PenaltyIncrement,
			SynergyGain:      SynergyPerActivity,
			ConversionRate:   0.1,
		},
		behavior: drawBehavior,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	parallelFor(n, r.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			r.participants[i] = NewParticipant(i)
		}
	})
	return r
}

// Len is the fixed number of participants.
func (r *Registry) Len() int {
	return len(r.participants)
}

// at returns the participant with id. Caller holds r.mu.
func (r *Registry) at(id int) (*Participant, error) {
	if id < 0 || id >= len(r.participants) {
		return nil, fmt.Errorf("%w: id %d outside [0, %d)", ErrUnknownParticipant, id, len(r.participants))
	}
	return &r.participants[id], nil
}

// RunCycle performs one reputation cycle: parameter adjustment, behavior
// draw, synergy update, violation slashing and proportional rewards.
func (r *Registry) RunCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adjustNetworkParameters()
	parallelFor(len(r.participants), r.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			p := &r.participants[i]
			p.Behavior = r.behavior(p.ID)
			p.UpdateSynergy()
		}
	})
	r.processSlashing()
	r.distributeRewards()
	r.metrics.setSlashed(r.countSlashed())
}

func (r *Registry) adjustNetworkParameters() {
	if len(r.participants) == 0 {
		return
	}
	var dishonest int
	for i := range r.participants {
		if r.participants[i].Behavior == Dishonest {
			dishonest++
		}
	}
	ratio := float64(dishonest) / float64(len(r.participants))
	if ratio > 0.5 {
		r.params.PenaltyIncrement *= 1.1
		r.params.SynergyGain *= 0.9
	} else {
		r.params.PenaltyIncrement *= 0.95
		r.params.SynergyGain *= 1.05
	}
	r.params.ConversionRate = 0.1 + ratio*0.05
	r.log.Debug("Adjusted network parameters", "dishonestRatio", ratio, "penaltyIncrement", r.params.PenaltyIncrement, "synergyGain", r.params.SynergyGain)
}

func (r *Registry) processSlashing() {
	parallelFor(len(r.participants), r.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			p := &r.participants[i]
			if p.ViolationsCount > MaxViolations && !p.Slashed {
				p.ApplySlash()
			}
		}
	})
}

// sumOver reduces value across participants with per-worker partial sums.
func (r *Registry) sumOver(value func(p *Participant) float64) float64 {
	var (
		mu    sync.Mutex
		total float64
	)
	parallelFor(len(r.participants), r.workers, func(lo, hi int) {
		partial := make([]float64, 0, hi-lo)
		for i := lo; i < hi; i++ {
			partial = append(partial, value(&r.participants[i]))
		}
		sum := floats.Sum(partial)
		mu.Lock()
		total += sum
		mu.Unlock()
	})
	return total
}

func (r *Registry) distributeRewards() {
	totalSynergy := r.sumOver(func(p *Participant) float64 {
		if p.Slashed {
			return 0
		}
		return p.Synergy
	})
	if totalSynergy <= 0 {
		return
	}
	totalActivity := r.sumOver(func(p *Participant) float64 {
		return float64(p.EconomicActivity)
	})
	parallelFor(len(r.participants), r.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			p := &r.participants[i]
			if !p.Slashed {
				p.Reward += (p.Synergy / totalSynergy) * totalActivity
			}
		}
	})
}

func (r *Registry) countSlashed() int {
	n := 0
	for i := range r.participants {
		if r.participants[i].Slashed {
			n++
		}
	}
	return n
}

// ApplySlashingMechanism slashes every participant over the violation limit.
func (r *Registry) ApplySlashingMechanism() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processSlashing()
	r.metrics.setSlashed(r.countSlashed())
}

// Statistics reduces the registry with one partial Stats per worker merged
// under a single lock.
func (r *Registry) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		mu    sync.Mutex
		stats Stats
	)
	synergies := make([]float64, len(r.participants))
	parallelFor(len(r.participants), r.workers, func(lo, hi int) {
		var local Stats
		rewards := make([]float64, 0, hi-lo)
		penalties := make([]float64, 0, hi-lo)
		contributions := make([]float64, 0, hi-lo)
		for i := lo; i < hi; i++ {
			p := &r.participants[i]
			if p.Behavior == Honest {
				local.HonestCount++
			} else {
				local.DishonestCount++
			}
			if p.Slashed {
				local.SlashedParticipants++
			}
			rewards = append(rewards, p.Reward)
			penalties = append(penalties, p.Penalty)
			contributions = append(contributions, p.EconomicContribution)
			synergies[i] = p.Synergy
		}
		local.TotalRewards = floats.Sum(rewards)
		local.TotalPenalties = floats.Sum(penalties)
		local.TotalEconomicContribution = floats.Sum(contributions)

		mu.Lock()
		stats.HonestCount += local.HonestCount
		stats.DishonestCount += local.DishonestCount
		stats.SlashedParticipants += local.SlashedParticipants
		stats.TotalRewards += local.TotalRewards
		stats.TotalPenalties += local.TotalPenalties
		stats.TotalEconomicContribution += local.TotalEconomicContribution
		mu.Unlock()
	})
	if len(synergies) > 0 {
		stats.MeanSynergy = stat.Mean(synergies, nil)
	}
	return stats
}

// ConvertSynergyToTokens converts every non-slashed participant's synergy at
// rate and zeroes it. A second call returns 0.
func (r *Registry) ConvertSynergyToTokens(rate float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumOver(func(p *Participant) float64 {
		if p.Slashed {
			return 0
		}
		tokens := SynergyToTokens(p.Synergy, rate)
		p.Synergy = 0
		return tokens
	})
}

// Participant returns a copy of the participant with id.
func (r *Registry) Participant(id int) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.at(id)
	if err != nil {
		return Participant{}, err
	}
	return *p, nil
}

// Valuation is a participant's standing under the economic model.
type Valuation struct {
	ProjectedSynergy float64 `json:"projectedSynergy"`
	ConversionRate   float64 `json:"conversionRate"`
	TokenValue       float64 `json:"tokenValue"`
}

// conditions is the mean economic activity as a fraction of the maximum.
// Caller holds r.mu.
func (r *Registry) conditions() float64 {
	if len(r.participants) == 0 {
		return 0
	}
	total := r.sumOver(func(p *Participant) float64 { return float64(p.EconomicActivity) })
	return total / float64(len(r.participants)*MaxEconomicActivity)
}

// EffectiveConversionRate adjusts the cycle's conversion rate by the current
// network activity level.
func (r *Registry) EffectiveConversionRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return AdjustConversionRate(r.params.ConversionRate, r.conditions())
}

// Value projects id's synergy from its activity and prices its current
// synergy at the effective conversion rate. Slashed participants are worth 0.
func (r *Registry) Value(id int) (Valuation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.at(id)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{
		ProjectedSynergy: CalculateSynergy(p.Synergy, float64(p.EconomicActivity), float64(p.GovernanceActivity)),
		ConversionRate:   AdjustConversionRate(r.params.ConversionRate, r.conditions()),
	}
	if !p.Slashed {
		v.TokenValue = SynergyToTokens(p.Synergy, v.ConversionRate)
	} else {
		v.ProjectedSynergy = 0
	}
	return v, nil
}

// Participants returns a copy of every participant.
func (r *Registry) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Participant(nil), r.participants...)
}

// Parameters returns the current network parameters.
func (r *Registry) Parameters() Parameters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params
}

// update runs fn on participant id under the write lock.
func (r *Registry) update(id int, fn func(p *Participant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.at(id)
	if err != nil {
		return err
	}
	fn(p)
	return nil
}

// ApplySlash slashes id and refreshes the slashed participants gauge.
func (r *Registry) ApplySlash(id int) error {
	return r.update(id, func(p *Participant) {
		p.ApplySlash()
		r.metrics.setSlashed(r.countSlashed())
	})
}

// RestoreAfterSlash lifts a slash on id and refreshes the slashed participants gauge.
func (r *Registry) RestoreAfterSlash(id int) error {
	return r.update(id, func(p *Participant) {
		p.RestoreAfterSlash()
		r.metrics.setSlashed(r.countSlashed())
	})
}

// RecordViolation counts one misbehavior against id.
func (r *Registry) RecordViolation(id int) error {
	return r.update(id, func(p *Participant) { p.ViolationsCount++ })
}

// AddReward credits amount to id's reward accumulator. Negative amounts are ignored.
func (r *Registry) AddReward(id int, amount float64) error {
	return r.update(id, func(p *Participant) {
		if amount > 0 {
			p.Reward += amount
		}
	})
}

// UpdateEconomicActivity adds contribution to id's economic activity.
func (r *Registry) UpdateEconomicActivity(id int, contribution float64) error {
	return r.update(id, func(p *Participant) { p.UpdateEconomicActivity(contribution) })
}

// SetGovernanceActivity overwrites id's governance activity.
func (r *Registry) SetGovernanceActivity(id, activity int) error {
	return r.update(id, func(p *Participant) { p.GovernanceActivity = max(0, activity) })
}

// DetectSuspicious reports whether id currently looks suspicious.
func (r *Registry) DetectSuspicious(id int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.at(id)
	if err != nil {
		return false, err
	}
	return p.DetectSuspiciousBehavior(), nil
}
