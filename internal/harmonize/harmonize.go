// Package harmonize normalizes inbound event payloads of any vendor shape
// into the canonical models.CombatEvent (spec §4.1). It is pure: no
// persistence, no bus, no shared state, mirroring the teacher's
// transaction-normalization helpers in internal/api/routes.go which take a
// raw payload and return a typed struct or an error with nothing in
// between.
package harmonize

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

// RawEvent is the loosely-typed inbound shape (spec §6.1). Fields mirror
// the wire JSON; vendor variance is absorbed by Harmonize, not by this
// struct.
type RawEvent struct {
	EventID      string         `json:"event_id"`
	BoutID       string         `json:"bout_id"`
	RoundID      string         `json:"round_id"`
	FighterID    string         `json:"fighter_id"`
	EventType    string         `json:"event_type"`
	Severity     float64        `json:"severity"`
	Confidence   float64        `json:"confidence"`
	TimestampMs  int64          `json:"timestamp_ms"`
	Source       string         `json:"source"`
	CameraID     *string        `json:"camera_id"`
	AngleDegrees *float64       `json:"angle_degrees"`
	Metadata     map[string]any `json:"metadata"`
}

// vendorEventTypes maps vendor-specific spellings onto the canonical
// taxonomy (spec §4.1 step 1). Canonical names map to themselves so a
// payload that already arrives canonical still round-trips.
var vendorEventTypes = map[string]models.EventType{
	"STRIKE_JAB": models.StrikeJab, "PUNCH_JAB": models.StrikeJab, "JAB_DETECTED": models.StrikeJab, "JAB": models.StrikeJab,
	"STRIKE_CROSS": models.StrikeCross, "PUNCH_CROSS": models.StrikeCross, "CROSS": models.StrikeCross,
	"STRIKE_HOOK": models.StrikeHook, "PUNCH_HOOK": models.StrikeHook, "HOOK": models.StrikeHook,
	"STRIKE_UPPERCUT": models.StrikeUppercut, "PUNCH_UPPERCUT": models.StrikeUppercut, "UPPERCUT": models.StrikeUppercut,
	"STRIKE_OVERHAND": models.StrikeOverhand, "PUNCH_OVERHAND": models.StrikeOverhand, "OVERHAND": models.StrikeOverhand,
	"STRIKE_ELBOW": models.StrikeElbow, "ELBOW": models.StrikeElbow, "ELBOW_STRIKE": models.StrikeElbow,
	"STRIKE_KNEE": models.StrikeKnee, "KNEE": models.StrikeKnee, "KNEE_STRIKE": models.StrikeKnee,
	"KICK_HEAD": models.KickHead, "HEAD_KICK": models.KickHead,
	"KICK_BODY": models.KickBody, "BODY_KICK": models.KickBody,
	"KICK_LEG": models.KickLeg, "LEG_KICK": models.KickLeg,
	"KICK_FRONT": models.KickFront, "FRONT_KICK": models.KickFront,
	"STRIKE_GROUND": models.StrikeGround, "GROUND_STRIKE": models.StrikeGround, "GNP": models.StrikeGround,
	"STRIKE_SIG": models.StrikeSig, "SIG_STRIKE": models.StrikeSig,
	"STRIKE_HIGHIMPACT": models.StrikeHighImpact, "HIGH_IMPACT_STRIKE": models.StrikeHighImpact,

	"KD_FLASH": models.KDFlash, "KNOCKDOWN_FLASH": models.KDFlash,
	"KD_HARD": models.KDHard, "KNOCKDOWN_HARD": models.KDHard,
	"KD_NF": models.KDNF, "KNOCKDOWN_NEAR_FINISH": models.KDNF,
	"ROCKED": models.Rocked,

	"TD_ATTEMPT": models.TDAttempt, "TAKEDOWN_ATTEMPT": models.TDAttempt,
	"TD_LAND": models.TDLand, "TAKEDOWN_LANDED": models.TDLand, "TAKEDOWN": models.TDLand,
	"TD_STUFFED": models.TDStuffed, "TAKEDOWN_STUFFED": models.TDStuffed, "TAKEDOWN_DEFENDED": models.TDStuffed,
	"SUB_ATTEMPT": models.SubAttempt, "SUBMISSION_ATTEMPT": models.SubAttempt,
	"SWEEP": models.Sweep,
	"GUARD_PASS": models.GuardPass, "GUARD_PASS_LANDED": models.GuardPass,

	"CONTROL_START": models.ControlStart,
	"CONTROL_END":   models.ControlEnd,
	"CONTROL_POSITION": models.ControlPosition,

	"MOMENTUM_SWING":   models.MomentumSwing,
	"AGGRESSION":       models.Aggression,
	"PRESSING":         models.Pressing,
	"FORWARD_MOVEMENT": models.ForwardMovement,
}

// cornerAliases maps vendor corner spellings onto the canonical Corner
// (spec §4.1 step 2).
var cornerAliases = map[string]models.Corner{
	"RED": models.Red, "FIGHTER1": models.Red, "FIGHTER_1": models.Red, "CORNER_RED": models.Red,
	"BLUE": models.Blue, "FIGHTER2": models.Blue, "FIGHTER_2": models.Blue, "CORNER_BLUE": models.Blue,
}

// Harmonize turns one RawEvent into a canonical models.CombatEvent, or
// returns an *errs.HarmonizationError describing why it could not.
// sourceHint supplies models.EventSource when raw.Source is empty.
func Harmonize(raw RawEvent, sourceHint models.EventSource) (models.CombatEvent, error) {
	eventType, ok := vendorEventTypes[strings.ToUpper(strings.TrimSpace(raw.EventType))]
	if !ok {
		return models.CombatEvent{}, errs.NewHarmonizationError(errs.UnknownEventType, "unrecognized event_type: "+raw.EventType)
	}

	corner, ok := cornerAliases[strings.ToUpper(strings.TrimSpace(raw.FighterID))]
	if !ok {
		return models.CombatEvent{}, errs.NewHarmonizationError(errs.MissingCorner, "missing or unrecognized fighter_id: "+raw.FighterID)
	}

	metadata := models.Metadata(raw.Metadata)
	if metadata == nil {
		metadata = models.Metadata{}
	}
	if _, hasQuality := metadata["quality"]; !hasQuality {
		metadata["quality"] = string(models.QualitySolid)
	}

	severity := raw.Severity
	if severity > 1 {
		severity = severity / 100
	}
	if severity < 0 || raw.Confidence < 0 {
		return models.CombatEvent{}, errs.NewHarmonizationError(errs.OutOfRange, "severity/confidence must be non-negative")
	}
	severity = clamp01(severity)
	confidence := clamp01(raw.Confidence)

	source := models.EventSource(raw.Source)
	if source == "" {
		source = sourceHint
	}

	eventID := raw.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	return models.CombatEvent{
		EventID:      eventID,
		BoutID:       raw.BoutID,
		RoundID:      raw.RoundID,
		FighterID:    corner,
		EventType:    eventType,
		Severity:     severity,
		Confidence:   confidence,
		TimestampMs:  raw.TimestampMs,
		Source:       source,
		CameraID:     raw.CameraID,
		AngleDegrees: raw.AngleDegrees,
		Metadata:     metadata,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HarmonizeBatch runs Harmonize over every raw event, partitioning results
// into accepted canonical events and the rejections that blocked the rest
// (spec §4.1's harmonize_batch).
func HarmonizeBatch(raws []RawEvent, sourceHint models.EventSource) ([]models.CombatEvent, []error) {
	var accepted []models.CombatEvent
	var rejected []error
	for _, raw := range raws {
		event, err := Harmonize(raw, sourceHint)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		accepted = append(accepted, event)
	}
	return accepted, rejected
}
