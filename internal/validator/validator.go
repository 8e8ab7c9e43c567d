// Package validator implements the Round Validator (spec §4.4): a pure
// set of pre-lock checks producing a ValidationReport with severity-typed
// issues. It has no persistence and no bus dependency, the same shape as
// the teacher's AnalyzeTx, which runs a fixed battery of checks over one
// transaction and aggregates their findings into one report rather than
// returning on the first failure.
package validator

import (
	"fmt"

	"github.com/rawblock/combat-score-engine/pkg/models"
)

// Thresholds carries the Validator's configurable limits (spec §4.4's
// check table). Defaults match the spec-mandated values; a promotion may
// override them the same way ScoringProfile can be overridden.
type Thresholds struct {
	MinTotalEvents           int
	MinJudgeEvents           int
	MaxJudgeInactivitySec    float64
	MaxCVInactivitySec       float64
	TimecodeToleranceMs      int64
	ExpectedRoundDurationSec float64
	DurationToleranceSec     float64
}

// DefaultThresholds returns the spec §4.4 table's default values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTotalEvents:           5,
		MinJudgeEvents:           2,
		MaxJudgeInactivitySec:    60,
		MaxCVInactivitySec:       30,
		TimecodeToleranceMs:      5000,
		ExpectedRoundDurationSec: 300, // a standard 5-minute round
		DurationToleranceSec:     30,
	}
}

// Validate runs every check against events and the round's timecode
// envelope, producing a ValidationReport (spec §4.4).
func Validate(events []models.CombatEvent, roundStartMs, roundEndMs int64, t Thresholds) models.ValidationReport {
	var issues []models.ValidationIssue

	issues = append(issues, checkMinTotalEvents(events, t)...)
	issues = append(issues, checkMinJudgeEvents(events, t)...)
	issues = append(issues, checkJudgeInactivity(events, t)...)
	issues = append(issues, checkCVFeedActive(events, t)...)
	issues = append(issues, checkTimecodeEnvelope(events, roundStartMs, roundEndMs, t)...)
	issues = append(issues, checkDurationSanity(roundStartMs, roundEndMs, t)...)

	report := models.ValidationReport{Issues: issues}
	for _, issue := range issues {
		switch issue.Severity {
		case models.SeverityWarning:
			report.WarningCount++
		case models.SeverityError:
			report.ErrorCount++
		case models.SeverityCritical:
			report.CriticalCount++
		}
	}
	report.Valid = len(issues) == 0
	report.RequiresSupervisorReview = report.ErrorCount > 0 || report.CriticalCount > 0
	report.CanLock = report.CriticalCount == 0
	return report
}

func checkMinTotalEvents(events []models.CombatEvent, t Thresholds) []models.ValidationIssue {
	if len(events) >= t.MinTotalEvents {
		return nil
	}
	return []models.ValidationIssue{{
		Kind:     "MIN_TOTAL_EVENTS",
		Severity: models.SeverityError,
		Message:  fmt.Sprintf("round has %d events, fewer than the required minimum %d", len(events), t.MinTotalEvents),
	}}
}

func checkMinJudgeEvents(events []models.CombatEvent, t Thresholds) []models.ValidationIssue {
	count := 0
	for _, e := range events {
		if e.Source == models.SourceJudgeManual {
			count++
		}
	}
	if count >= t.MinJudgeEvents {
		return nil
	}
	return []models.ValidationIssue{{
		Kind:     "MISSING_JUDGE_EVENTS",
		Severity: models.SeverityCritical,
		Message:  fmt.Sprintf("round has %d judge events, fewer than the required minimum %d", count, t.MinJudgeEvents),
	}}
}

func checkJudgeInactivity(events []models.CombatEvent, t Thresholds) []models.ValidationIssue {
	return checkSourceInactivity(events, models.SourceJudgeManual, t.MaxJudgeInactivitySec, "JUDGE_INACTIVITY_GAP")
}

func checkCVFeedActive(events []models.CombatEvent, t Thresholds) []models.ValidationIssue {
	var cvTimestamps []int64
	for _, e := range events {
		if e.Source == models.SourceCVSystem {
			cvTimestamps = append(cvTimestamps, e.TimestampMs)
		}
	}
	if len(cvTimestamps) == 0 {
		return []models.ValidationIssue{{
			Kind:     "CV_FEED_INACTIVE",
			Severity: models.SeverityWarning,
			Message:  "no CV_SYSTEM events observed in this round",
		}}
	}
	return checkSourceInactivity(events, models.SourceCVSystem, t.MaxCVInactivitySec, "CV_FEED_GAP")
}

func checkSourceInactivity(events []models.CombatEvent, source models.EventSource, maxGapSec float64, kind string) []models.ValidationIssue {
	var timestamps []int64
	for _, e := range events {
		if e.Source == source {
			timestamps = append(timestamps, e.TimestampMs)
		}
	}
	if len(timestamps) < 2 {
		return nil
	}
	maxGapMs := maxGapSec * 1000
	var maxGap int64
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i] - timestamps[i-1]
		if gap > maxGap {
			maxGap = gap
		}
	}
	if float64(maxGap) <= maxGapMs {
		return nil
	}
	return []models.ValidationIssue{{
		Kind:     kind,
		Severity: models.SeverityWarning,
		Message:  fmt.Sprintf("%s: max gap %.1fs exceeds the %.1fs limit", kind, float64(maxGap)/1000, maxGapSec),
	}}
}

func checkTimecodeEnvelope(events []models.CombatEvent, roundStartMs, roundEndMs int64, t Thresholds) []models.ValidationIssue {
	lower := roundStartMs - t.TimecodeToleranceMs
	upper := roundEndMs + t.TimecodeToleranceMs
	outOfRange := 0
	for _, e := range events {
		if e.TimestampMs < lower || e.TimestampMs > upper {
			outOfRange++
		}
	}
	if outOfRange == 0 {
		return nil
	}
	return []models.ValidationIssue{{
		Kind:     "TIMECODE_ENVELOPE",
		Severity: models.SeverityError,
		Message:  fmt.Sprintf("%d event(s) fall outside the round's timecode envelope [%d, %d]", outOfRange, lower, upper),
	}}
}

func checkDurationSanity(roundStartMs, roundEndMs int64, t Thresholds) []models.ValidationIssue {
	durationSec := float64(roundEndMs-roundStartMs) / 1000
	low := t.ExpectedRoundDurationSec - t.DurationToleranceSec
	high := t.ExpectedRoundDurationSec + t.DurationToleranceSec
	if durationSec >= low && durationSec <= high {
		return nil
	}
	return []models.ValidationIssue{{
		Kind:     "DURATION_SANITY",
		Severity: models.SeverityWarning,
		Message:  fmt.Sprintf("round duration %.1fs is outside the expected %.1fs ± %.1fs", durationSec, t.ExpectedRoundDurationSec, t.DurationToleranceSec),
	}}
}
