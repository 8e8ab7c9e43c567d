// Package calibration coordinates the process-wide CalibrationConfig (spec
// §3, §4.2, §4.4): threshold values the Round Manager reads for the
// Ingestion Pipeline on every event, updated rarely by a supervisor. The
// Scoring Engine takes its weights from a ScoringProfile instead.
//
// The teacher's equivalent shared-state pattern (a package-level watchlist
// map protected by a single mutex, read on every transaction) was
// deliberately not copied: a mutex-guarded map forces every scoring read to
// take a lock, and the config here is read far more often than it's
// written. Instead this uses atomic.Pointer for a copy-on-update snapshot —
// readers never block, writers replace the whole pointer. Grounded on the
// copy-on-write handoff in the teacher's poller.go (it swaps a whole
// snapshot into an atomic.Value between polling cycles rather than mutating
// fields in place).
package calibration

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rawblock/combat-score-engine/internal/audit"
	"github.com/rawblock/combat-score-engine/internal/bus"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

// Coordinator holds the live CalibrationConfig and arbitrates updates.
type Coordinator struct {
	current atomic.Pointer[models.CalibrationConfig]
	auditor *audit.Log
	bus     *bus.Bus
}

// New creates a Coordinator seeded with the spec-mandated defaults.
func New(auditor *audit.Log, fanout *bus.Bus) *Coordinator {
	c := &Coordinator{auditor: auditor, bus: fanout}
	initial := models.DefaultCalibrationConfig()
	c.current.Store(&initial)
	return c
}

// Current returns the live config snapshot. The returned value is a copy
// held by the pointer at call time; later updates do not mutate it.
func (c *Coordinator) Current() models.CalibrationConfig {
	return *c.current.Load()
}

// Update replaces the live config with next, bumping its version and
// recording who changed it. It audits the change and publishes it on the
// lifecycle topic so connected judges/supervisors see new thresholds take
// effect immediately (spec §4.2's "effective immediately for events
// admitted after the update" rule).
func (c *Coordinator) Update(ctx context.Context, boutID, actor string, next models.CalibrationConfig) (models.CalibrationConfig, error) {
	prev := c.Current()
	next.Version = prev.Version + 1
	next.ModifiedBy = actor
	next.LastModified = time.Now().UTC()

	c.current.Store(&next)

	if c.auditor != nil {
		_, err := c.auditor.Append(ctx, boutID, "", models.ActionConfigChanged, actor, map[string]any{
			"from_version": prev.Version,
			"to_version":   next.Version,
			"config":       next,
		})
		if err != nil {
			return next, err
		}
	}
	if c.bus != nil {
		c.bus.Publish(boutID, bus.TopicLifecycle, "calibration_updated", next)
	}
	return next, nil
}
