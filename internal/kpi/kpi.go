// Package kpi holds the commission rules for agents. Two independent rule
// sets live here: Commission maps monthly activity to a percentage, and
// AssignTier maps cumulative deal count to a tier. They are kept separate on
// purpose; they change at different times and must stay independently
// testable.
package kpi

import (
	"errors"
	"fmt"
)

// ErrCommercialNotSupported is returned for commercial agents, whose
// commission rules are not defined. Failing loudly beats silently returning
// zero.
var ErrCommercialNotSupported = errors.New("commercial agent commission is not supported")

// AgentType is the agent's business category.
type AgentType int

const (
	AgentPrivate AgentType = iota
	AgentCommercial
)

// Tier is the agent's seniority classification.
type Tier int

const (
	TierTrainee Tier = iota
	TierSpecialist
	TierExpert
	TierTop
)

func (t Tier) String() string {
	switch t {
	case TierTrainee:
		return "trainee"
	case TierSpecialist:
		return "specialist"
	case TierExpert:
		return "expert"
	case TierTop:
		return "top"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// minPercent is the floor every gated calculation degrades to.
const minPercent = 40.0

// Input carries one month of counters for one agent.
type Input struct {
	Agent       AgentType
	Tier        Tier
	BasePercent float64

	DealsRent int
	DealsSale int

	RegularContracts   int
	ExclusiveContracts int

	ColdCalls int
	Meetings  int
	Flyers    int
	Shows     int

	// LeadCRMRatio is collected but not yet part of any rule.
	LeadCRMRatio int
}

// Result is the commission percentage and the tier it was computed under.
type Result struct {
	Percent float64
	Tier    Tier
}

// Commission computes the commission percentage for one month of activity.
// Every tier defines a gate on the activity counters; below the gate the
// output degrades to the fixed minimum. Above it, contract bonuses apply, and
// above Trainee an over-achievement bonus on top.
func Commission(in Input) (Result, error) {
	switch in.Agent {
	case AgentPrivate:
	case AgentCommercial:
		return Result{}, ErrCommercialNotSupported
	default:
		return Result{}, fmt.Errorf("unknown agent type %d", in.Agent)
	}

	deals := in.DealsRent + in.DealsSale
	contractBonus := 0.5*float64(in.ExclusiveContracts) + 0.25*float64(in.RegularContracts)

	switch in.Tier {
	case TierTrainee:
		// A trainee with more than three deals is overdue for promotion; the
		// trainee formula no longer applies and the floor is paid out.
		if deals > 3 {
			return Result{Percent: minPercent, Tier: in.Tier}, nil
		}
		if in.ColdCalls < 200 || in.Meetings < 84 || in.Flyers < 1200 || in.Shows < 80 {
			return Result{Percent: minPercent, Tier: in.Tier}, nil
		}
		return Result{Percent: in.BasePercent + contractBonus, Tier: in.Tier}, nil

	case TierSpecialist:
		return gatedCommission(in, deals, contractBonus, 90, 40, 1000), nil

	case TierExpert:
		return gatedCommission(in, deals, contractBonus, 60, 30, 500), nil

	case TierTop:
		return gatedCommission(in, deals, contractBonus, 50, 20, 500), nil

	default:
		return Result{}, fmt.Errorf("unknown tier %d", in.Tier)
	}
}

// gatedCommission applies the shared above-Trainee formula: gate on the
// thresholds, then base + contract bonus + over-achievement.
func gatedCommission(in Input, deals int, contractBonus float64, calls, meetings, flyers int) Result {
	if in.ColdCalls < calls || in.Meetings < meetings || in.Flyers < flyers {
		return Result{Percent: minPercent, Tier: in.Tier}
	}

	extraDeals := deals - 1
	if extraDeals < 0 {
		extraDeals = 0
	}
	extra := float64(extraDeals) * 2.5
	if in.ColdCalls > calls {
		extra += 2
	}
	if in.Meetings > meetings {
		extra += 2
	}
	if in.Flyers > flyers {
		extra += 1
	}

	return Result{Percent: in.BasePercent + contractBonus + extra, Tier: in.Tier}
}

// AssignTier maps a cumulative deal count to a tier and its base percentage.
// Promotion to Top is never automatic: it requires the explicit flag and at
// least 21 deals.
func AssignTier(totalDeals int, topFlag bool) (Tier, float64) {
	switch {
	case topFlag && totalDeals >= 21:
		return TierTop, 50
	case totalDeals <= 3:
		return TierTrainee, 40
	case totalDeals <= 20:
		return TierSpecialist, 43
	default:
		return TierExpert, 45
	}
}
