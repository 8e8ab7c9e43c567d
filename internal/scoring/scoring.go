package scoring

import (
	"fmt"
	"sort"

	"github.com/rawblock/combat-score-engine/pkg/models"
)

func opposite(c models.Corner) models.Corner {
	if c == models.Red {
		return models.Blue
	}
	return models.Red
}

// ScoreRound runs the full Plan A/B/C hierarchy over a round's canonical
// event list and returns a RoundVerdict with its receipt (spec §4.5).
// events must already reflect multi-camera fusion: only events with
// Canonical == true are scored. score is a pure function of (events,
// profile): identical inputs always yield a byte-identical receipt.
func ScoreRound(events []models.CombatEvent, profile ScoringProfile) models.RoundVerdict {
	active := canonicalOnly(events)
	sort.SliceStable(active, func(i, j int) bool { return active[i].TimestampMs < active[j].TimestampMs })

	roundEndMs := int64(0)
	for _, e := range active {
		if e.TimestampMs > roundEndMs {
			roundEndMs = e.TimestampMs
		}
	}
	windows := parseControlWindows(active, roundEndMs)

	red := profile.cornerBreakdown(active, windows, models.Red)
	blue := profile.cornerBreakdown(active, windows, models.Blue)
	red.HasImpactAdvantage, red.ImpactReason = impactAdvantage(red, blue)
	blue.HasImpactAdvantage, blue.ImpactReason = impactAdvantage(blue, red)

	deltaPlanA := red.PlanATotal - blue.PlanATotal

	planBAllowed, planBReason := false, ""
	switch {
	case red.HasImpactAdvantage || blue.HasImpactAdvantage:
		planBReason = "disabled: impact advantage present"
	case absf(deltaPlanA) >= profile.PlanBThreshold:
		planBReason = fmt.Sprintf("disabled: |delta_plan_a|=%.2f >= threshold %.2f", absf(deltaPlanA), profile.PlanBThreshold)
	default:
		planBAllowed = true
		planBReason = "enabled: no impact advantage and plan A within threshold"
	}

	deltaPlanB := 0.0
	if planBAllowed {
		redAgg := countAggressionEvents(active, models.Red)
		blueAgg := countAggressionEvents(active, models.Blue)
		deltaPlanB = float64(redAgg-blueAgg) * profile.AggressionEventValue
		deltaPlanB = clampAbs(deltaPlanB, profile.PlanBCap)
	}

	planCAllowed, planCReason := false, ""
	switch {
	case red.HasImpactAdvantage || blue.HasImpactAdvantage:
		planCReason = "disabled: impact advantage present"
	case absf(deltaPlanA+deltaPlanB) >= profile.PlanCThreshold:
		planCReason = fmt.Sprintf("disabled: |delta_plan_a+delta_plan_b|=%.2f >= threshold %.2f", absf(deltaPlanA+deltaPlanB), profile.PlanCThreshold)
	default:
		planCAllowed = true
		planCReason = "enabled: plan A plus plan B still within threshold"
	}

	deltaPlanC := 0.0
	if planCAllowed {
		redCage := cageControlTotal(profile, windows, models.Red)
		blueCage := cageControlTotal(profile, windows, models.Blue)
		deltaPlanC = redCage - blueCage
	}

	deltaRound := deltaPlanA + deltaPlanB + deltaPlanC

	winner, scoreCard, gateMessages := assignVerdict(profile, red, blue, deltaRound)

	redPoints, bluePoints := pointsFor(winner, scoreCard)

	receipt := models.RoundReceipt{
		Winner:        winner,
		ScoreCard:     scoreCard,
		Red:           red,
		Blue:          blue,
		DeltaPlanA:    deltaPlanA,
		DeltaPlanB:    deltaPlanB,
		DeltaPlanC:    deltaPlanC,
		DeltaRound:    deltaRound,
		PlanBAllowed:  planBAllowed,
		PlanBReason:   planBReason,
		PlanCAllowed:  planCAllowed,
		PlanCReason:   planCReason,
		Contributions: topContributions(active, profile, winner),
		GateMessages:  gateMessages,
	}

	return models.RoundVerdict{
		RedPoints:  redPoints,
		BluePoints: bluePoints,
		Winner:     winner,
		ScoreCard:  scoreCard,
		Receipt:    receipt,
	}
}

func canonicalOnly(events []models.CombatEvent) []models.CombatEvent {
	out := make([]models.CombatEvent, 0, len(events))
	for _, e := range events {
		if e.Canonical {
			out = append(out, e)
		}
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampAbs(v, max float64) float64 {
	if v > max {
		return max
	}
	if v < -max {
		return -max
	}
	return v
}

func pointsFor(winner models.Winner, card models.ScoreCard) (red, blue int) {
	switch card {
	case models.Card1010:
		return 10, 10
	case models.Card109:
		if winner == models.WinnerRed {
			return 10, 9
		}
		return 9, 10
	case models.Card108:
		if winner == models.WinnerRed {
			return 10, 8
		}
		return 8, 10
	case models.Card107:
		if winner == models.WinnerRed {
			return 10, 7
		}
		return 7, 10
	default:
		return 10, 9
	}
}

// cornerBreakdown computes one corner's full category subtotals, gate
// counts, and impact-advantage flag (spec §4.5).
func (p ScoringProfile) cornerBreakdown(events []models.CombatEvent, windows []ControlWindow, corner models.Corner) models.CornerBreakdown {
	b := models.CornerBreakdown{}
	legDamage := map[models.Corner]float64{models.Red: 0, models.Blue: 0}

	for _, e := range events {
		switch {
		case e.EventType == models.KickLeg:
			target := opposite(e.FighterID)
			mult := p.ldiMultiplier(legDamage[target])
			if e.FighterID == corner {
				base := p.StrikeBaseWeight[models.KickLeg] * p.QualityMultiplier[e.Metadata.Quality()] * mult
				b.Striking += base
				b.SolidStrikes += solidCount(e)
				if p.HeavyStrikes[e.EventType] {
					b.HeavyStrikes++
				}
			}
			legDamage[target] += p.LDIStep

		case models.StrikeTechniques[e.EventType]:
			if e.FighterID != corner {
				continue
			}
			weight, ok := p.StrikeBaseWeight[e.EventType]
			if !ok {
				continue
			}
			b.Striking += weight * p.QualityMultiplier[e.Metadata.Quality()]
			b.SolidStrikes += solidCount(e)
			if p.HeavyStrikes[e.EventType] {
				b.HeavyStrikes++
			}

		case e.EventType == models.TDLand:
			if e.FighterID == corner {
				b.Grappling += p.TakedownLandedValue
			}
		case e.EventType == models.TDStuffed:
			if e.FighterID == corner {
				b.Grappling += p.TakedownStuffedValue
			}
		case e.EventType == models.SubAttempt:
			if e.FighterID != corner {
				continue
			}
			tier := e.Metadata.Tier()
			b.Grappling += p.SubAttemptValue[tier]
			if tier == models.SubNearFinish {
				b.SubNearFinishCount++
			}
		case e.EventType == models.Sweep:
			if e.FighterID == corner {
				b.Grappling += 3 // no explicit weight given; scored as a light positional reversal
			}
		case e.EventType == models.GuardPass:
			if e.FighterID == corner {
				b.Grappling += 2 // no explicit weight given; scored below a sweep/reversal
			}

		case e.EventType == models.KDFlash:
			if e.FighterID == corner {
				b.Impact += p.ImpactValues[models.KDFlash]
				b.Knockdowns++
				b.KDFlashCount++
			}
		case e.EventType == models.KDHard:
			if e.FighterID == corner {
				b.Impact += p.ImpactValues[models.KDHard]
				b.Knockdowns++
				b.KDHardCount++
			}
		case e.EventType == models.KDNF:
			if e.FighterID == corner {
				b.Impact += p.ImpactValues[models.KDNF]
				b.Knockdowns++
				b.KDNFCount++
			}
		case e.EventType == models.Rocked:
			if e.FighterID == corner {
				b.Impact += p.ImpactValues[models.Rocked]
				b.RockedCount++
			}
		case e.EventType == models.StrikeHighImpact:
			if e.FighterID == corner {
				b.Impact += p.ImpactValues[models.StrikeHighImpact]
			}
		}
	}

	for _, w := range windows {
		if w.Corner != corner || w.Type == models.ControlCage {
			continue
		}
		b.Control += p.controlContribution(w)
	}

	b.NearFinishSequences = nearFinishSequences(events, corner, p.NFSequenceWindowSeconds)
	b.PlanATotal = b.Striking + b.Grappling + b.Control + b.Impact

	return b
}

func solidCount(e models.CombatEvent) int {
	if e.Metadata.Quality() == models.QualitySolid {
		return 1
	}
	return 0
}

// nearFinishSequences counts: each KD_NF, each NEAR_FINISH submission
// attempt, and each adjacent pair of knockdowns within windowSeconds by
// the same fighter (spec §4.5).
func nearFinishSequences(events []models.CombatEvent, corner models.Corner, windowSeconds float64) int {
	count := 0
	var knockdowns []models.CombatEvent

	for _, e := range events {
		if e.FighterID != corner {
			continue
		}
		switch e.EventType {
		case models.KDNF:
			count++
			knockdowns = append(knockdowns, e)
		case models.KDFlash, models.KDHard:
			knockdowns = append(knockdowns, e)
		case models.SubAttempt:
			if e.Metadata.Tier() == models.SubNearFinish {
				count++
			}
		}
	}

	windowMs := int64(windowSeconds * 1000)
	for i := 0; i+1 < len(knockdowns); i++ {
		if knockdowns[i+1].TimestampMs-knockdowns[i].TimestampMs <= windowMs {
			count++
		}
	}
	return count
}

func countAggressionEvents(events []models.CombatEvent, corner models.Corner) int {
	count := 0
	for _, e := range events {
		if e.FighterID != corner {
			continue
		}
		if e.EventType == models.Aggression || e.EventType == models.Pressing || e.EventType == models.ForwardMovement {
			count++
		}
	}
	return count
}

func cageControlTotal(p ScoringProfile, windows []ControlWindow, corner models.Corner) float64 {
	total := 0.0
	for _, w := range windows {
		if w.Corner == corner && w.Type == models.ControlCage {
			total += p.controlContribution(w)
		}
	}
	return total
}

// impactAdvantage reports whether corner has structural impact advantage
// over the other side (spec §4.5), with a human-readable reason.
func impactAdvantage(self, other models.CornerBreakdown) (bool, string) {
	switch {
	case self.KDHardCount >= 1:
		return true, "has a KD_HARD knockdown"
	case self.KDNFCount >= 1:
		return true, "has a near-finish knockdown"
	case self.RockedCount >= 2:
		return true, "rocked the opponent multiple times"
	case self.KDFlashCount-other.KDFlashCount >= 2:
		return true, "flash-knockdown count exceeds opponent by 2 or more"
	default:
		return false, ""
	}
}
