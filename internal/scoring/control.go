package scoring

import "github.com/rawblock/combat-score-engine/pkg/models"

// ControlWindow is a derived control-position interval for one corner
// (spec §3, §4.5.1).
type ControlWindow struct {
	Corner      models.Corner
	Type        models.ControlType
	StartMs     int64
	EndMs       int64
	HasOffense  bool
	UnmatchedStart bool
}

func (w ControlWindow) durationSeconds() float64 {
	return float64(w.EndMs-w.StartMs) / 1000.0
}

// parseControlWindows extracts every control window from a round's events
// (spec §4.5.1). Two shapes are supported: paired CONTROL_START/
// CONTROL_END events matched per (corner, control_type) with a stack, and
// legacy single CONTROL_POSITION events carrying metadata.duration_seconds.
// roundEndMs closes any start left unmatched.
func parseControlWindows(events []models.CombatEvent, roundEndMs int64) []ControlWindow {
	type openKey struct {
		corner models.Corner
		kind   models.ControlType
	}
	stacks := make(map[openKey][]models.CombatEvent)
	var windows []ControlWindow

	for _, e := range events {
		switch e.EventType {
		case models.ControlStart:
			k := openKey{corner: e.FighterID, kind: e.Metadata.ControlKind()}
			stacks[k] = append(stacks[k], e)
		case models.ControlEnd:
			k := openKey{corner: e.FighterID, kind: e.Metadata.ControlKind()}
			stack := stacks[k]
			if len(stack) == 0 {
				continue // an END with no matching START is ignored
			}
			start := stack[len(stack)-1]
			stacks[k] = stack[:len(stack)-1]
			windows = append(windows, ControlWindow{
				Corner:  e.FighterID,
				Type:    k.kind,
				StartMs: start.TimestampMs,
				EndMs:   e.TimestampMs,
			})
		case models.ControlPosition:
			if durSec, ok := e.Metadata.DurationSeconds(); ok {
				startMs := e.TimestampMs - int64(durSec*1000)
				windows = append(windows, ControlWindow{
					Corner:  e.FighterID,
					Type:    e.Metadata.ControlKind(),
					StartMs: startMs,
					EndMs:   e.TimestampMs,
				})
			}
		}
	}

	// Any start left on a stack never saw a matching end; close it at
	// round end (spec §4.5.1).
	for k, stack := range stacks {
		for _, start := range stack {
			windows = append(windows, ControlWindow{
				Corner:         k.corner,
				Type:           k.kind,
				StartMs:        start.TimestampMs,
				EndMs:          roundEndMs,
				UnmatchedStart: true,
			})
		}
	}

	for i := range windows {
		windows[i].HasOffense = hasOffenseInWindow(events, windows[i])
	}
	return windows
}

// hasOffenseInWindow reports whether the controlling corner landed a SOLID
// strike, any submission attempt, or a SOLID ground strike within window
// (spec §4.5.1).
func hasOffenseInWindow(events []models.CombatEvent, w ControlWindow) bool {
	for _, e := range events {
		if e.FighterID != w.Corner {
			continue
		}
		if e.TimestampMs < w.StartMs || e.TimestampMs > w.EndMs {
			continue
		}
		switch {
		case e.EventType == models.SubAttempt:
			return true
		case e.EventType == models.StrikeGround && e.Metadata.Quality() == models.QualitySolid:
			return true
		case models.StrikeTechniques[e.EventType] && e.Metadata.Quality() == models.QualitySolid:
			return true
		}
	}
	return false
}

// controlContribution returns a window's point value under the profile's
// reward rate and offense modifier (spec §4.5).
func (p ScoringProfile) controlContribution(w ControlWindow) float64 {
	rate, ok := p.ControlRatePerSecond[w.Type]
	if !ok {
		return 0
	}
	base := rate * w.durationSeconds()
	if w.HasOffense {
		return base * p.ControlOffenseMultiplier
	}
	return base * 0.5
}
