package scoring

import (
	"fmt"
	"sort"

	"github.com/rawblock/combat-score-engine/pkg/models"
)

// assignVerdict applies the draw rule, then winner assignment, then the
// 10-7 and 10-8 gates in that order (spec §4.5's "Verdict assignment").
func assignVerdict(p ScoringProfile, red, blue models.CornerBreakdown, deltaRound float64) (models.Winner, models.ScoreCard, []string) {
	var messages []string

	noImpactAdvantage := !red.HasImpactAdvantage && !blue.HasImpactAdvantage
	if absf(deltaRound) < p.DrawThreshold && noImpactAdvantage {
		messages = append(messages, fmt.Sprintf("draw: |delta_round|=%.2f below draw threshold %.2f and neither side has impact advantage", absf(deltaRound), p.DrawThreshold))
		return models.WinnerDraw, models.Card1010, messages
	}

	var winner models.Winner
	var winnerBD, loserBD models.CornerBreakdown
	if deltaRound >= 0 {
		winner, winnerBD, loserBD = models.WinnerRed, red, blue
	} else {
		winner, winnerBD, loserBD = models.WinnerBlue, blue, red
	}

	planALead := absf(winnerBD.PlanATotal - loserBD.PlanATotal)
	solidStrikeDiff := float64(winnerBD.SolidStrikes - loserBD.SolidStrikes)
	heavyAdvantage := float64(winnerBD.HeavyStrikes - loserBD.HeavyStrikes)

	if ok, reason := tenSevenGate(p, winnerBD, planALead, solidStrikeDiff, heavyAdvantage); ok {
		messages = append(messages, reason)
		if winner == models.WinnerRed {
			return winner, models.Card107, messages
		}
		return winner, models.Card710, messages
	}

	if ok, reason := tenEightGate(p, winnerBD, planALead, solidStrikeDiff, heavyAdvantage); ok {
		messages = append(messages, reason)
		if winner == models.WinnerRed {
			return winner, models.Card108, messages
		}
		return winner, models.Card810, messages
	}

	messages = append(messages, "default: no 10-8/10-7 gate qualified")
	return winner, models.Card109, messages
}

func tenEightGate(p ScoringProfile, w models.CornerBreakdown, planALead, solidStrikeDiff, heavyAdvantage float64) (bool, string) {
	impactOK := w.Knockdowns >= p.TenEightImpactMinKnockdowns ||
		(w.KDHardCount >= p.TenEightImpactMinKDHard && (w.KDNFCount+w.SubNearFinishCount) >= p.TenEightImpactMinKDNF) ||
		(w.SubNearFinishCount >= p.TenEightImpactMinNearFinish && heavyAdvantage >= float64(p.TenEightImpactMinHeavyAdvantage))
	if !impactOK {
		return false, ""
	}

	differentialOK := planALead >= p.TenEightPlanALead ||
		solidStrikeDiff >= p.TenEightSolidStrikeDiff ||
		heavyAdvantage >= p.TenEightHeavyAdvantage
	if !differentialOK {
		return false, ""
	}

	return true, fmt.Sprintf("10-8 gate: impact condition met (knockdowns=%d, kd_hard=%d) and differential condition met (plan_a_lead=%.2f, solid_strike_diff=%.0f, heavy_advantage=%.0f)",
		w.Knockdowns, w.KDHardCount, planALead, solidStrikeDiff, heavyAdvantage)
}

func tenSevenGate(p ScoringProfile, w models.CornerBreakdown, planALead, solidStrikeDiff, heavyAdvantage float64) (bool, string) {
	impactOK := w.Knockdowns >= p.TenSevenImpactMinKnockdowns ||
		(w.KDHardCount >= p.TenSevenImpactMinKDHard && w.NearFinishSequences >= p.TenSevenImpactMinNearFinish) ||
		w.NearFinishSequences >= p.TenSevenImpactMinNFKDSequences
	if !impactOK {
		return false, ""
	}

	differentialOK := planALead >= p.TenSevenPlanALead ||
		solidStrikeDiff >= p.TenSevenSolidStrikeDiff ||
		heavyAdvantage >= p.TenSevenHeavyAdvantage
	if !differentialOK {
		return false, ""
	}

	return true, fmt.Sprintf("10-7 gate: severe-impact condition met (knockdowns=%d, kd_hard=%d, near_finish_sequences=%d) and massive-differential condition met (plan_a_lead=%.2f, solid_strike_diff=%.0f, heavy_advantage=%.0f)",
		w.Knockdowns, w.KDHardCount, w.NearFinishSequences, planALead, solidStrikeDiff, heavyAdvantage)
}

const (
	minContributions = 3
	maxContributions = 8
)

// topContributions builds the receipt's ranked contribution list,
// prioritizing the winner's contributions (spec §4.5).
func topContributions(events []models.CombatEvent, p ScoringProfile, winner models.Winner) []models.ContributionItem {
	var items []models.ContributionItem

	for _, e := range events {
		label, category, points := contributionFor(e, p)
		if points == 0 {
			continue
		}
		items = append(items, models.ContributionItem{
			ID:       e.EventID,
			Corner:   e.FighterID,
			Label:    label,
			Points:   points,
			Category: category,
		})
	}

	winnerCorner := models.Corner(winner)
	sort.SliceStable(items, func(i, j int) bool {
		iWins := items[i].Corner == winnerCorner
		jWins := items[j].Corner == winnerCorner
		if iWins != jWins {
			return iWins
		}
		return items[i].Points > items[j].Points
	})

	if len(items) > maxContributions {
		items = items[:maxContributions]
	}
	return items
}

func contributionFor(e models.CombatEvent, p ScoringProfile) (label, category string, points float64) {
	switch {
	case e.EventType == models.KickLeg:
		return "leg kick", "striking", p.StrikeBaseWeight[models.KickLeg] * p.QualityMultiplier[e.Metadata.Quality()]
	case models.StrikeTechniques[e.EventType]:
		if w, ok := p.StrikeBaseWeight[e.EventType]; ok {
			return string(e.EventType), "striking", w * p.QualityMultiplier[e.Metadata.Quality()]
		}
	case e.EventType == models.TDLand:
		return "takedown landed", "grappling", p.TakedownLandedValue
	case e.EventType == models.TDStuffed:
		return "takedown stuffed", "grappling", p.TakedownStuffedValue
	case e.EventType == models.SubAttempt:
		return "submission attempt", "grappling", p.SubAttemptValue[e.Metadata.Tier()]
	case e.EventType == models.KDFlash, e.EventType == models.KDHard, e.EventType == models.KDNF, e.EventType == models.Rocked, e.EventType == models.StrikeHighImpact:
		return string(e.EventType), "impact", p.ImpactValues[e.EventType]
	}
	return "", "", 0
}
