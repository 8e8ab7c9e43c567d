// Package ingest implements the Ingestion Pipeline (spec §4.2): confidence
// filtering, temporal deduplication, multi-camera fusion, and
// momentum-swing synthesis over a round's harmonized event stream.
//
// Grounded on the teacher's realtime_risk.go signal-accumulation pipeline
// (filter → score → classify, one pass per incoming unit) for the
// admission procedure, and on cluster_engine.go's grouping sweep for
// multi-camera fusion. Stats are exported via prometheus counters instead
// of the teacher's raw atomic.Int64 fields, matching the pack-wide metrics
// convention used for everything the Round Manager exposes externally.
package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

// recentWindowCap bounds how many recently admitted events the
// deduplication check scans, per spec §4.2's "bounded to the last ~50
// admitted events for cost" rule.
const recentWindowCap = 50

// Stats tracks the pipeline's observational counters (spec §4.2, last
// paragraph). These are metrics only; nothing in the admission decision
// reads them back.
type Stats struct {
	TotalAdmitted          prometheus.Counter
	RejectedLowConfidence  prometheus.Counter
	RejectedDuplicates     prometheus.Counter
	MulticamFusions        prometheus.Counter
	MomentumSwingsDetected prometheus.Counter
}

// NewStats registers the pipeline's counters against reg.
func NewStats(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		TotalAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_admitted_total",
			Help: "Events admitted into a round's event list.",
		}),
		RejectedLowConfidence: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_rejected_low_confidence_total",
			Help: "Events rejected for confidence below threshold.",
		}),
		RejectedDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_rejected_duplicate_total",
			Help: "Events rejected as duplicates of a recently admitted event.",
		}),
		MulticamFusions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_multicam_fusions_total",
			Help: "Multi-camera groups collapsed to one canonical event.",
		}),
		MomentumSwingsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_momentum_swings_detected_total",
			Help: "Synthesized MOMENTUM_SWING events produced from a flurry.",
		}),
	}
}

// Admit runs the admission procedure for one harmonized candidate event
// against the events already admitted to its round (recent, newest last).
// On success it returns the event with Deduplicated and ProcessedAt set,
// ready to append to the round's event list. recent is truncated
// internally to the last recentWindowCap entries.
func (s *Stats) Admit(candidate models.CombatEvent, recent []models.CombatEvent, config models.CalibrationConfig, now time.Time) (models.CombatEvent, error) {
	if candidate.Confidence < config.ConfidenceThreshold {
		if s != nil {
			s.RejectedLowConfidence.Inc()
		}
		return models.CombatEvent{}, errs.NewAdmissionRejection(errs.LowConfidence, "confidence below configured threshold")
	}

	window := recent
	if len(window) > recentWindowCap {
		window = window[len(window)-recentWindowCap:]
	}
	for _, existing := range window {
		if existing.FighterID != candidate.FighterID || existing.EventType != candidate.EventType {
			continue
		}
		gap := candidate.TimestampMs - existing.TimestampMs
		if gap < 0 {
			gap = -gap
		}
		if gap < config.DeduplicationWindowMs {
			if s != nil {
				s.RejectedDuplicates.Inc()
			}
			return models.CombatEvent{}, errs.NewAdmissionRejection(errs.Duplicate, "duplicate of a recently admitted event")
		}
	}

	admitted := candidate.Clone()
	// Spec names this flag "deduplicated" but sets it true on every
	// successfully admitted event, not only ones that collided with a
	// duplicate check — it marks that the dedup pass ran, not its outcome.
	admitted.Deduplicated = true
	admitted.ProcessedAt = now
	if s != nil {
		s.TotalAdmitted.Inc()
	}
	return admitted, nil
}

func angleWeight(angle *float64) float64 {
	if angle == nil {
		return 0.8
	}
	a := *angle
	for a < 0 {
		a += 360
	}
	a = mod360(a)
	if (a >= 45 && a <= 135) || (a >= 225 && a <= 315) {
		return 1.0
	}
	return 0.7
}

func mod360(a float64) float64 {
	for a >= 360 {
		a -= 360
	}
	return a
}

func similar(a, b models.CombatEvent) bool {
	return a.FighterID == b.FighterID && a.EventType == b.EventType
}

// FuseMultiCamera groups a time-sorted batch of events by proximity and
// similarity and tags exactly one canonical winner per group (spec §4.2).
// Events are assumed already admitted; this only sets Canonical. The
// returned slice preserves the input order (which must be timestamp
// ascending) and has the same length as events.
func (s *Stats) FuseMultiCamera(events []models.CombatEvent, config models.CalibrationConfig) []models.CombatEvent {
	out := make([]models.CombatEvent, len(events))
	copy(out, events)

	i := 0
	for i < len(out) {
		j := i
		for j+1 < len(out) && out[j+1].TimestampMs-out[i].TimestampMs < config.MultiCamMergeWindowMs && similar(out[i], out[j+1]) {
			j++
		}
		groupEnd := j

		if groupEnd == i {
			out[i].Canonical = true
			i++
			continue
		}

		winner := i
		bestScore := out[i].Confidence * angleWeight(out[i].AngleDegrees)
		for k := i + 1; k <= groupEnd; k++ {
			score := out[k].Confidence * angleWeight(out[k].AngleDegrees)
			if score > bestScore {
				bestScore = score
				winner = k
			}
		}
		for k := i; k <= groupEnd; k++ {
			out[k].Canonical = k == winner
		}
		if s != nil {
			s.MulticamFusions.Inc()
		}
		i = groupEnd + 1
	}
	return out
}

const momentumTriggerMinStrikes = 3

// DetectMomentumSwings scans one fighter's significant-strike events
// (already filtered to STRIKE_SIG/STRIKE_HIGHIMPACT, time-sorted) and
// synthesizes MOMENTUM_SWING events for flurries (spec §4.2).
func (s *Stats) DetectMomentumSwings(fighterEvents []models.CombatEvent, boutID, roundID string, fighter models.Corner, config models.CalibrationConfig) []models.CombatEvent {
	var swings []models.CombatEvent

	i := 0
	for i < len(fighterEvents) {
		j := i
		for j+1 < len(fighterEvents) && fighterEvents[j+1].TimestampMs-fighterEvents[i].TimestampMs < config.MomentumSwingWindowMs {
			j++
		}
		count := j - i + 1
		if count < momentumTriggerMinStrikes {
			i++
			continue
		}

		window := fighterEvents[i : j+1]
		var severitySum, confidenceSum float64
		for _, e := range window {
			severitySum += e.Severity
			confidenceSum += e.Confidence
		}
		avgSeverity := severitySum / float64(count)
		avgConfidence := confidenceSum / float64(count)
		last := window[len(window)-1]

		swing := models.CombatEvent{
			BoutID:      boutID,
			RoundID:     roundID,
			FighterID:   fighter,
			EventType:   models.MomentumSwing,
			Severity:    minFloat(avgSeverity*1.2, 1.0),
			Confidence:  avgConfidence,
			TimestampMs: last.TimestampMs,
			Source:      models.SourceAnalyticsDerived,
			Metadata: models.Metadata{
				"strikes_in_flurry": count,
				"time_span_ms":      last.TimestampMs - window[0].TimestampMs,
				"trigger":           "flurry",
			},
			Canonical: true,
		}
		swings = append(swings, swing)
		if s != nil {
			s.MomentumSwingsDetected.Inc()
		}
		i = j + 1
	}
	return swings
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// SignificantStrikes filters events to the types momentum-swing detection
// scans (spec §4.2).
func SignificantStrikes(events []models.CombatEvent, fighter models.Corner) []models.CombatEvent {
	var out []models.CombatEvent
	for _, e := range events {
		if e.FighterID != fighter {
			continue
		}
		if e.EventType == models.StrikeSig || e.EventType == models.StrikeHighImpact {
			out = append(out, e)
		}
	}
	return out
}
