package core

import (
	"math"
	"math/rand/v2"
)

const (
	InitialSynergy        = 100.0
	RestoreSynergy        = 50.0
	SlashPenalty          = 100.0
	PenaltyIncrement      = 5.0
	RewardIncrement       = 5.0
	SynergyPerActivity    = 10.0
	SuspiciousPenalty     = 10.0
	MaxEconomicActivity   = 10
	MaxViolations         = 3
	dishonestProbability  = 0.3
	contributionPerActive = 10.0
)

// Behavior is the conduct drawn for a participant in one cycle.
type Behavior int

const (
	Dishonest Behavior = iota
	Honest
)

func (b Behavior) String() string {
	if b == Honest {
		return "honest"
	}
	return "dishonest"
}

// Participant represents a registry member's reputation and economics.
type Participant struct {
	ID                   int      `json:"id"`
	Synergy              float64  `json:"synergy"`
	Reward               float64  `json:"reward"`
	Penalty              float64  `json:"penalty"`
	ViolationsCount      int      `json:"violationsCount"`
	Behavior             Behavior `json:"behavior"`
	EconomicActivity     int      `json:"economicActivity"`
	GovernanceActivity   int      `json:"governanceActivity"`
	Slashed              bool     `json:"slashed"`
	EconomicContribution float64  `json:"economicContribution"`
}

// NewParticipant initializes an honest participant with the default synergy.
func NewParticipant(id int) Participant {
	return Participant{
		ID:                 id,
		Synergy:            InitialSynergy,
		Behavior:           Honest,
		EconomicActivity:   1,
		GovernanceActivity: 1,
	}
}

// DetectSuspiciousBehavior flags heavy economic and governance activity together.
func (p *Participant) DetectSuspiciousBehavior() bool {
	return p.EconomicActivity > 4 && p.GovernanceActivity > 2
}

// ApplySlash zeroes synergy and charges the slash penalty once.
func (p *Participant) ApplySlash() {
	if p.Slashed {
		return
	}
	p.Slashed = true
	p.Penalty += SlashPenalty
	p.Synergy = 0
}

// RestoreAfterSlash lifts a slash and resets synergy to the restore value.
func (p *Participant) RestoreAfterSlash() {
	if !p.Slashed {
		return
	}
	p.Slashed = false
	p.Synergy = RestoreSynergy
}

// UpdateSynergy applies the cycle's behavior to synergy, reward and penalty.
func (p *Participant) UpdateSynergy() {
	if p.Slashed {
		return
	}
	activity := float64(p.EconomicActivity)
	if p.Behavior == Honest {
		p.Synergy += SynergyPerActivity * activity
		p.Reward += RewardIncrement * activity
	} else {
		p.Synergy = ApplyPenalty(p.Synergy, SynergyPerActivity*activity)
		p.Penalty += PenaltyIncrement * activity
		if p.DetectSuspiciousBehavior() {
			p.Penalty += SuspiciousPenalty
			p.ApplySlash()
		}
	}
	p.Synergy = math.Max(0, p.Synergy)
}

// UpdateEconomicActivity records a contribution and derives the bounded activity level.
func (p *Participant) UpdateEconomicActivity(contribution float64) {
	p.EconomicContribution += contribution
	activity := int(contribution / contributionPerActive)
	p.EconomicActivity = max(0, min(activity, MaxEconomicActivity))
}

// drawBehavior is the default per-cycle behavior source.
func drawBehavior(int) Behavior {
	if rand.Float64() < dishonestProbability {
		return Dishonest
	}
	return Honest
}
