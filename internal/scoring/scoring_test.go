package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/combat-score-engine/pkg/models"
)

func solidEvent(corner models.Corner, eventType models.EventType, tsMs int64) models.CombatEvent {
	return models.CombatEvent{
		FighterID:   corner,
		EventType:   eventType,
		TimestampMs: tsMs,
		Confidence:  1.0,
		Severity:    0.8,
		Canonical:   true,
		Metadata:    models.Metadata{"quality": "SOLID"},
	}
}

// Scenario 3 — Clear 10-9.
func TestScenarioClear109(t *testing.T) {
	var events []models.CombatEvent
	ts := int64(1000)
	for i := 0; i < 10; i++ {
		events = append(events, solidEvent(models.Red, models.StrikeJab, ts))
		ts += 1000
	}
	for i := 0; i < 3; i++ {
		events = append(events, solidEvent(models.Blue, models.StrikeJab, ts))
		ts += 1000
	}

	verdict := ScoreRound(events, DefaultProfile())
	require.Equal(t, models.WinnerRed, verdict.Winner)
	require.Equal(t, models.Card109, verdict.ScoreCard)
	require.InDelta(t, 7.0, verdict.Receipt.DeltaPlanA, 1e-9)
}

// Scenario 4 — 10-8 by knockdowns. The three KD_HARD events are spaced
// more than NF_SEQUENCE_WINDOW_SECONDS apart and the near-finish count is
// held at 2 so the input satisfies the 10-8 impact clause ("≥3 KD_HARD
// plus ≥2 KD_NF/sub-near-finish") without also tripping the 10-7 gate's
// stricter impact clauses (≥4 total knockdowns, or ≥3 KD_HARD with ≥4
// near-finish sequences) — see DESIGN.md's note on gate overlap.
func TestScenario10_8ByKnockdowns(t *testing.T) {
	var events []models.CombatEvent
	events = append(events,
		solidEvent(models.Red, models.KDHard, 1000),
		solidEvent(models.Red, models.KDHard, 40000),
		solidEvent(models.Red, models.KDHard, 80000),
		nearFinishSubAttempt(models.Red, 120000),
		nearFinishSubAttempt(models.Red, 160000),
	)
	ts := int64(200000)
	for i := 0; i < 8; i++ {
		events = append(events, solidEvent(models.Red, models.StrikeHook, ts))
		ts += 1000
	}
	for i := 0; i < 2; i++ {
		events = append(events, solidEvent(models.Blue, models.StrikeHook, ts))
		ts += 1000
	}

	verdict := ScoreRound(events, DefaultProfile())
	require.Equal(t, models.WinnerRed, verdict.Winner)
	require.Equal(t, models.Card108, verdict.ScoreCard)
	require.Equal(t, 10, verdict.RedPoints)
	require.Equal(t, 8, verdict.BluePoints)
}

func nearFinishSubAttempt(corner models.Corner, tsMs int64) models.CombatEvent {
	return models.CombatEvent{
		FighterID:   corner,
		EventType:   models.SubAttempt,
		TimestampMs: tsMs,
		Confidence:  1.0,
		Severity:    0.8,
		Canonical:   true,
		Metadata:    models.Metadata{"tier": "NEAR_FINISH"},
	}
}

// Scenario 6 is exercised at the Round Manager / Validator layer, not here.

func TestPlanHierarchyExclusivity_PlanBZeroWhenDisallowed(t *testing.T) {
	var events []models.CombatEvent
	events = append(events, solidEvent(models.Red, models.KDHard, 1000)) // forces impact advantage
	events = append(events, solidEvent(models.Red, models.Aggression, 2000))
	events = append(events, solidEvent(models.Blue, models.Aggression, 2100))

	verdict := ScoreRound(events, DefaultProfile())
	require.False(t, verdict.Receipt.PlanBAllowed)
	require.Equal(t, 0.0, verdict.Receipt.DeltaPlanB)
}

func TestPlanHierarchyExclusivity_PlanCZeroWhenDisallowed(t *testing.T) {
	var events []models.CombatEvent
	events = append(events, solidEvent(models.Red, models.KDHard, 1000))
	events = append(events, models.CombatEvent{FighterID: models.Red, EventType: models.ControlStart, TimestampMs: 2000, Confidence: 1, Canonical: true, Metadata: models.Metadata{"control_type": "CAGE"}})
	events = append(events, models.CombatEvent{FighterID: models.Red, EventType: models.ControlEnd, TimestampMs: 30000, Confidence: 1, Canonical: true, Metadata: models.Metadata{"control_type": "CAGE"}})

	verdict := ScoreRound(events, DefaultProfile())
	require.False(t, verdict.Receipt.PlanCAllowed)
	require.Equal(t, 0.0, verdict.Receipt.DeltaPlanC)
}

func TestDeterminism(t *testing.T) {
	events := []models.CombatEvent{
		solidEvent(models.Red, models.StrikeHook, 1000),
		solidEvent(models.Blue, models.StrikeJab, 2000),
		solidEvent(models.Red, models.KDHard, 3000),
	}
	profile := DefaultProfile()
	first := ScoreRound(events, profile)
	second := ScoreRound(events, profile)
	require.Equal(t, first, second)
}

func TestControlWindowPairedStartEnd(t *testing.T) {
	events := []models.CombatEvent{
		{FighterID: models.Red, EventType: models.ControlStart, TimestampMs: 0, Confidence: 1, Canonical: true, Metadata: models.Metadata{"control_type": "TOP"}},
		solidEvent(models.Red, models.StrikeGround, 5000),
		{FighterID: models.Red, EventType: models.ControlEnd, TimestampMs: 10000, Confidence: 1, Canonical: true, Metadata: models.Metadata{"control_type": "TOP"}},
	}
	verdict := ScoreRound(events, DefaultProfile())
	require.Greater(t, verdict.Receipt.Red.Control, 0.0)
}

func TestGateNecessity_NoGateWhenImpactConditionUnmet(t *testing.T) {
	// Only 2 KD_HARD: below every 10-8/10-7 impact clause's knockdown
	// minimum, regardless of how large the resulting differential is.
	events := []models.CombatEvent{
		solidEvent(models.Red, models.KDHard, 1000),
		solidEvent(models.Red, models.KDHard, 2000),
		solidEvent(models.Red, models.StrikeJab, 3000),
		solidEvent(models.Blue, models.StrikeJab, 4000),
	}

	verdict := ScoreRound(events, DefaultProfile())
	require.NotEqual(t, models.Card108, verdict.ScoreCard)
	require.NotEqual(t, models.Card107, verdict.ScoreCard)
}
