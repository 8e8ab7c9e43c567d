// Package models holds the canonical data shapes shared across the scoring
// pipeline: events, round state, verdicts, and audit entries. It carries no
// logic beyond small accessor helpers — every subsystem imports this package,
// never the reverse.
package models

import "time"

// Corner identifies a fighter's side of the bout.
type Corner string

const (
	Red  Corner = "RED"
	Blue Corner = "BLUE"
)

// EventSource identifies what produced a CombatEvent.
type EventSource string

const (
	SourceJudgeManual      EventSource = "JUDGE_MANUAL"
	SourceCVSystem         EventSource = "CV_SYSTEM"
	SourceAnalyticsDerived EventSource = "ANALYTICS_DERIVED"
)

// EventType is the closed taxonomy from spec §6.1.
type EventType string

const (
	StrikeJab       EventType = "STRIKE_JAB"
	StrikeCross     EventType = "STRIKE_CROSS"
	StrikeHook      EventType = "STRIKE_HOOK"
	StrikeUppercut  EventType = "STRIKE_UPPERCUT"
	StrikeOverhand  EventType = "STRIKE_OVERHAND"
	StrikeElbow     EventType = "STRIKE_ELBOW"
	StrikeKnee      EventType = "STRIKE_KNEE"
	KickHead        EventType = "KICK_HEAD"
	KickBody        EventType = "KICK_BODY"
	KickLeg         EventType = "KICK_LEG"
	KickFront       EventType = "KICK_FRONT"
	StrikeGround    EventType = "STRIKE_GROUND"
	StrikeSig       EventType = "STRIKE_SIG"
	StrikeHighImpact EventType = "STRIKE_HIGHIMPACT"

	KDFlash EventType = "KD_FLASH"
	KDHard  EventType = "KD_HARD"
	KDNF    EventType = "KD_NF"
	Rocked  EventType = "ROCKED"

	TDAttempt  EventType = "TD_ATTEMPT"
	TDLand     EventType = "TD_LAND"
	TDStuffed  EventType = "TD_STUFFED"
	SubAttempt EventType = "SUB_ATTEMPT"
	Sweep      EventType = "SWEEP"
	GuardPass  EventType = "GUARD_PASS"

	ControlStart    EventType = "CONTROL_START"
	ControlEnd      EventType = "CONTROL_END"
	ControlPosition EventType = "CONTROL_POSITION"

	MomentumSwing    EventType = "MOMENTUM_SWING"
	Aggression       EventType = "AGGRESSION"
	Pressing         EventType = "PRESSING"
	ForwardMovement  EventType = "FORWARD_MOVEMENT"
)

// StrikeTechniques is the set of event types that are "strikes" for scoring
// base-weight purposes (spec §4.5).
var StrikeTechniques = map[EventType]bool{
	StrikeJab: true, StrikeCross: true, StrikeHook: true, StrikeUppercut: true,
	StrikeOverhand: true, StrikeElbow: true, StrikeKnee: true, KickHead: true,
	KickBody: true, KickLeg: true, KickFront: true, StrikeGround: true,
}

// Quality is a strike's landed quality.
type Quality string

const (
	QualityLight Quality = "LIGHT"
	QualitySolid Quality = "SOLID"
)

// SubTier is a submission attempt's depth.
type SubTier string

const (
	SubLight      SubTier = "LIGHT"
	SubDeep       SubTier = "DEEP"
	SubNearFinish SubTier = "NEAR_FINISH"
)

// ControlType is a control-position kind.
type ControlType string

const (
	ControlTop  ControlType = "TOP"
	ControlBack ControlType = "BACK"
	ControlCage ControlType = "CAGE"
)

// Metadata is the free-form per-event refinement bag (spec §3). Typed
// accessors below narrow it for internal consumers without forcing a closed
// tagged union at the wire boundary.
type Metadata map[string]any

func (m Metadata) str(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Quality returns metadata["quality"], defaulting to SOLID per spec §4.1.3.
func (m Metadata) Quality() Quality {
	if s, ok := m.str("quality"); ok && s != "" {
		return Quality(s)
	}
	return QualitySolid
}

// Tier returns metadata["tier"] for SUB_ATTEMPT events.
func (m Metadata) Tier() SubTier {
	s, _ := m.str("tier")
	return SubTier(s)
}

// ControlKind returns metadata["control_type"] for control events.
func (m Metadata) ControlKind() ControlType {
	s, _ := m.str("control_type")
	return ControlType(s)
}

// Target returns metadata["target"]. LDI bookkeeping does not read it; it
// credits leg kicks to the opponent of the striking fighter.
func (m Metadata) Target() (Corner, bool) {
	s, ok := m.str("target")
	return Corner(s), ok
}

// DurationSeconds returns metadata["duration_seconds"] for legacy
// single-event control windows.
func (m Metadata) DurationSeconds() (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m["duration_seconds"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// StartStop returns metadata["type"] in {"start","stop"} for control windows
// expressed as a single toggled event rather than paired START/END.
func (m Metadata) StartStop() (string, bool) {
	return m.str("type")
}

// CombatEvent is the canonical unit of information (spec §3).
type CombatEvent struct {
	EventID      string      `json:"event_id"`
	BoutID       string      `json:"bout_id"`
	RoundID      string      `json:"round_id"`
	FighterID    Corner      `json:"fighter_id"`
	EventType    EventType   `json:"event_type"`
	Severity     float64     `json:"severity"`
	Confidence   float64     `json:"confidence"`
	TimestampMs  int64       `json:"timestamp_ms"`
	Source       EventSource `json:"source"`
	CameraID     *string     `json:"camera_id,omitempty"`
	AngleDegrees *float64    `json:"angle_degrees,omitempty"`
	Metadata     Metadata    `json:"metadata"`

	Deduplicated bool      `json:"deduplicated"`
	Canonical    bool      `json:"canonical"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Clone returns a deep-enough copy safe to mutate without aliasing the
// original event's metadata map.
func (e CombatEvent) Clone() CombatEvent {
	c := e
	if e.Metadata != nil {
		c.Metadata = make(Metadata, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
