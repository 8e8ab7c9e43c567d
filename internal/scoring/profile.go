// Package scoring implements the Deterministic Scoring Engine (spec §4.5):
// the Plan A/B/C hierarchy, Leg-Damage Index escalation, impact-advantage
// detection, and the 10-8/10-7 gates, producing a RoundVerdict with an
// explainable RoundReceipt.
//
// Grounded on the teacher's realtime_risk.go, whose ScoreTransaction runs a
// fixed sequence of weighted-signal accumulation, threshold classification,
// and a final recommended-action decision — the same three-stage shape as
// Plan-A accumulation, impact-advantage/gate classification, and verdict
// assignment here. Control-window parsing is grounded on investigation.go's
// paired-event stack matching (it tracks open/close pairs of investigation
// holds the same way this tracks open/close pairs of control holds).
package scoring

import "github.com/rawblock/combat-score-engine/pkg/models"

// LDIBreakpoint is one step of the Leg-Damage Index multiplier lookup.
type LDIBreakpoint struct {
	Below      float64
	Multiplier float64
}

// ScoringProfile carries every numeric constant the engine uses, so a
// future sanctioning-body promotion can override them without touching
// the scoring logic itself (spec §4.5's framing of these as "fixed by this
// specification; treat as a ScoringProfile").
type ScoringProfile struct {
	StrikeBaseWeight map[models.EventType]float64
	QualityMultiplier map[models.Quality]float64
	HeavyStrikes      map[models.EventType]bool

	ImpactValues map[models.EventType]float64

	TakedownLandedValue  float64
	TakedownStuffedValue float64
	SubAttemptValue      map[models.SubTier]float64

	ControlRatePerSecond     map[models.ControlType]float64
	ControlOffenseMultiplier float64

	PlanBThreshold float64
	PlanBCap       float64
	PlanCThreshold float64
	DrawThreshold  float64

	AggressionEventValue float64

	LDIStep        float64
	LDIBreakpoints []LDIBreakpoint

	NFSequenceWindowSeconds float64

	TenEightImpactMinKnockdowns       int
	TenEightImpactMinKDHard           int
	TenEightImpactMinKDNF            int
	TenEightImpactMinNearFinish       int
	TenEightImpactMinHeavyAdvantage   int
	TenEightPlanALead                 float64
	TenEightSolidStrikeDiff           float64
	TenEightHeavyAdvantage            float64

	TenSevenImpactMinKnockdowns     int
	TenSevenImpactMinKDHard         int
	TenSevenImpactMinNearFinish     int
	TenSevenImpactMinNFKDSequences  int
	TenSevenPlanALead               float64
	TenSevenSolidStrikeDiff         float64
	TenSevenHeavyAdvantage          float64
}

// DefaultProfile returns the weights and thresholds fixed by spec §4.5.
func DefaultProfile() ScoringProfile {
	return ScoringProfile{
		StrikeBaseWeight: map[models.EventType]float64{
			models.StrikeJab:      1.0,
			models.StrikeCross:    2.0,
			models.StrikeHook:     2.5,
			models.StrikeUppercut: 2.5,
			models.StrikeOverhand: 2.8,
			models.KickHead:       5.0,
			models.KickBody:       3.0,
			models.KickLeg:        1.5,
			models.KickFront:      2.0,
			models.StrikeElbow:    3.0,
			models.StrikeKnee:     4.0,
			models.StrikeGround:   1.2,
		},
		QualityMultiplier: map[models.Quality]float64{
			models.QualityLight: 0.5,
			models.QualitySolid: 1.0,
		},
		HeavyStrikes: map[models.EventType]bool{
			models.StrikeHook:     true,
			models.StrikeUppercut: true,
			models.StrikeOverhand: true,
			models.KickHead:       true,
			models.KickBody:       true,
			models.StrikeElbow:    true,
			models.StrikeKnee:     true,
		},
		ImpactValues: map[models.EventType]float64{
			models.KDFlash: 15,
			models.KDHard:  25,
			models.KDNF:    35,
			models.Rocked:  12,

			models.StrikeHighImpact: 5,
		},
		TakedownLandedValue:  4,
		TakedownStuffedValue: 0.5,
		SubAttemptValue: map[models.SubTier]float64{
			models.SubLight:      2,
			models.SubDeep:       6,
			models.SubNearFinish: 12,
		},
		ControlRatePerSecond: map[models.ControlType]float64{
			models.ControlTop:  0.010,
			models.ControlBack: 0.012,
			models.ControlCage: 0.006,
		},
		ControlOffenseMultiplier: 1.10,

		PlanBThreshold: 2.0,
		PlanBCap:       1.5,
		PlanCThreshold: 1.0,
		DrawThreshold:  0.5,

		AggressionEventValue: 0.3,

		LDIStep: 0.1,
		LDIBreakpoints: []LDIBreakpoint{
			{Below: 0.3, Multiplier: 1.00},
			{Below: 0.6, Multiplier: 1.10},
			{Below: 1.0, Multiplier: 1.25},
			{Below: -1, Multiplier: 1.40}, // sentinel: ">= 1.0" catch-all
		},

		NFSequenceWindowSeconds: 30,

		TenEightImpactMinKnockdowns:     3,
		TenEightImpactMinKDHard:         3,
		TenEightImpactMinKDNF:           2,
		TenEightImpactMinNearFinish:     3,
		TenEightImpactMinHeavyAdvantage: 5,
		TenEightPlanALead:               4.0,
		TenEightSolidStrikeDiff:         12,
		TenEightHeavyAdvantage:          5,

		TenSevenImpactMinKnockdowns:    4,
		TenSevenImpactMinKDHard:        3,
		TenSevenImpactMinNearFinish:    4,
		TenSevenImpactMinNFKDSequences: 3,
		TenSevenPlanALead:              8.0,
		TenSevenSolidStrikeDiff:        25,
		TenSevenHeavyAdvantage:         10,
	}
}

// ldiMultiplier resolves the Leg-Damage Index multiplier for a fighter's
// current accumulated index (spec §4.5).
func (p ScoringProfile) ldiMultiplier(ldi float64) float64 {
	for _, bp := range p.LDIBreakpoints {
		if bp.Below < 0 {
			return bp.Multiplier // catch-all, >= 1.0
		}
		if ldi < bp.Below {
			return bp.Multiplier
		}
	}
	return 1.0
}
