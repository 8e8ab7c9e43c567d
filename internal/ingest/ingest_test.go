package ingest

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

func testStats() *Stats {
	return NewStats(prometheus.NewRegistry())
}

func TestAdmitRejectsLowConfidence(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	candidate := models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHook, Confidence: 0.1, TimestampMs: 1000}

	_, err := stats.Admit(candidate, nil, config, time.Now())
	require.Error(t, err)
	var rej *errs.AdmissionRejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, errs.LowConfidence, rej.Code)
}

func TestAdmitRejectsDuplicateWithinWindow(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	first := models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHook, Confidence: 0.9, TimestampMs: 10000}
	second := models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHook, Confidence: 0.9, TimestampMs: 10050}

	admittedFirst, err := stats.Admit(first, nil, config, time.Now())
	require.NoError(t, err)

	_, err = stats.Admit(second, []models.CombatEvent{admittedFirst}, config, time.Now())
	require.Error(t, err)
	var rej *errs.AdmissionRejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, errs.Duplicate, rej.Code)
}

func TestAdmitMonotonicity_RaisingConfidenceAdmits(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	candidate := models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHook, Confidence: 0.1, TimestampMs: 1000}

	_, err := stats.Admit(candidate, nil, config, time.Now())
	require.Error(t, err)

	candidate.Confidence = config.ConfidenceThreshold
	_, err = stats.Admit(candidate, nil, config, time.Now())
	require.NoError(t, err)
}

func TestAdmitMonotonicity_ShiftingTimestampPastWindowAdmits(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	first := models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHook, Confidence: 0.9, TimestampMs: 10000}
	admittedFirst, err := stats.Admit(first, nil, config, time.Now())
	require.NoError(t, err)

	second := models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHook, Confidence: 0.9, TimestampMs: 10000 + config.DeduplicationWindowMs + 1}
	_, err = stats.Admit(second, []models.CombatEvent{admittedFirst}, config, time.Now())
	require.NoError(t, err)
}

func TestFuseMultiCameraPicksHighestWeightedConfidence(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	a1, a2, a3 := 30.0, 90.0, 250.0
	events := []models.CombatEvent{
		{FighterID: models.Red, EventType: models.StrikeCross, TimestampMs: 20000, Confidence: 0.6, AngleDegrees: &a1},
		{FighterID: models.Red, EventType: models.StrikeCross, TimestampMs: 20080, Confidence: 0.9, AngleDegrees: &a2},
		{FighterID: models.Red, EventType: models.StrikeCross, TimestampMs: 20140, Confidence: 0.75, AngleDegrees: &a3},
	}

	fused := stats.FuseMultiCamera(events, config)
	require.Len(t, fused, 3)
	require.False(t, fused[0].Canonical)
	require.True(t, fused[1].Canonical)
	require.False(t, fused[2].Canonical)
}

func TestFuseMultiCameraSingletonIsCanonical(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	events := []models.CombatEvent{
		{FighterID: models.Red, EventType: models.StrikeJab, TimestampMs: 1000, Confidence: 0.9},
	}
	fused := stats.FuseMultiCamera(events, config)
	require.True(t, fused[0].Canonical)
}

func TestDetectMomentumSwingsRequiresThreeStrikesInWindow(t *testing.T) {
	stats := testStats()
	config := models.DefaultCalibrationConfig()
	events := []models.CombatEvent{
		{FighterID: models.Red, EventType: models.StrikeSig, TimestampMs: 1000, Severity: 0.5, Confidence: 0.8},
		{FighterID: models.Red, EventType: models.StrikeSig, TimestampMs: 1500, Severity: 0.6, Confidence: 0.9},
	}
	swings := stats.DetectMomentumSwings(events, "bout-1", "round-1", models.Red, config)
	require.Empty(t, swings)

	events = append(events, models.CombatEvent{FighterID: models.Red, EventType: models.StrikeHighImpact, TimestampMs: 2000, Severity: 0.7, Confidence: 1.0})
	swings = stats.DetectMomentumSwings(events, "bout-1", "round-1", models.Red, config)
	require.Len(t, swings, 1)
	require.Equal(t, models.MomentumSwing, swings[0].EventType)
	require.Equal(t, int64(2000), swings[0].TimestampMs)
}
