// Package rank implements the competitive tier/division ladder driven
// by realized trade outcomes.
package rank

import "math"

type Tier int

const (
	Bronze Tier = iota
	Silver
	Gold
	Platinum
	Diamond
	Master
	Grandmaster
)

var tierNames = []string{"bronze", "silver", "gold", "platinum", "diamond", "master", "grandmaster"}

func (t Tier) String() string {
	if t < Bronze || t > Grandmaster {
		return "unknown"
	}
	return tierNames[t]
}

// Divisionless reports whether the tier runs without divisions; the
// two top tiers accumulate RP without further promotion.
func (t Tier) Divisionless() bool {
	return t >= Master
}

// State is a user's full ladder position. Division runs 3 (lowest)
// to 1 (highest) and is 0 for divisionless tiers. RankPoints stays in
// [0, 100) outside of normalization.
type State struct {
	Tier         Tier
	Division     int
	RankPoints   int
	PeakTier     Tier
	PeakDivision int
	Shield       int
}

func NewState() State {
	return State{Tier: Bronze, Division: 3, PeakTier: Bronze, PeakDivision: 3}
}

// Score folds tier/division into one monotonically ordered scalar used
// for peak detection and leaderboards.
func Score(tier Tier, division int) int {
	return int(tier)*10 + (4 - division)
}

// Change describes the effect of one applied outcome. It never crosses
// the wire itself; notify.RankEvent carries the published form.
type Change struct {
	RPChange       int
	Promoted       bool
	Demoted        bool
	ShieldConsumed bool
	Tier           Tier
	Division       int
	RankPoints     int
}

const (
	profitRPPerPercent = 5
	lossRPPerPercent   = 3
	minProfitRP        = 10
	maxProfitRP        = 50
	minLossRP          = 5
	maxLossRP          = 30
	shieldOnPromotion  = 3
)

// OutcomeRP converts a realized profit rate (basis points) into a rank
// point delta. Profits and losses use different slopes and clamps.
func OutcomeRP(profitRateBps int64) int {
	if profitRateBps == 0 {
		return 0
	}
	percent := float64(profitRateBps) / 100
	if profitRateBps > 0 {
		return clampInt(int(math.Round(percent*profitRPPerPercent)), minProfitRP, maxProfitRP)
	}
	return -clampInt(int(math.Round(-percent*lossRPPerPercent)), minLossRP, maxLossRP)
}

// Apply adds a rank-point delta to a state and normalizes it:
// promotions walk divisions then tiers and grant a demotion shield;
// demotions are absorbed by a shield when one is held; the two top
// tiers cap RP instead of promoting further; bronze 3 floors at zero.
func Apply(s State, rpChange int) (State, Change) {
	ch := Change{RPChange: rpChange}
	rp := s.RankPoints + rpChange

	for rp >= 100 {
		if s.Tier.Divisionless() {
			// Overflow RP is re-absorbed; top tiers hold at the cap.
			rp = 99
			break
		}
		rp -= 100
		if s.Division > 1 {
			s.Division--
		} else {
			s.Tier++
			if s.Tier.Divisionless() {
				s.Division = 0
			} else {
				s.Division = 3
			}
		}
		s.Shield = shieldOnPromotion
		ch.Promoted = true
	}

	for rp < 0 {
		if s.Tier == Bronze && s.Division == 3 {
			rp = 0
			break
		}
		if s.Shield > 0 {
			s.Shield--
			rp = 0
			ch.ShieldConsumed = true
			break
		}
		rp += 100
		switch {
		case s.Tier.Divisionless():
			s.Tier--
			if s.Tier.Divisionless() {
				s.Division = 0
			} else {
				s.Division = 1
			}
		case s.Division < 3:
			s.Division++
		default:
			s.Tier--
			s.Division = 1
		}
		ch.Demoted = true
	}

	s.RankPoints = rp
	if Score(s.Tier, s.Division) > Score(s.PeakTier, s.PeakDivision) {
		s.PeakTier = s.Tier
		s.PeakDivision = s.Division
	}

	ch.Tier = s.Tier
	ch.Division = s.Division
	ch.RankPoints = s.RankPoints
	return s, ch
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
