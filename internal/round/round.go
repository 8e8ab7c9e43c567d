// Package round implements the Round Manager (spec §4.3): the only
// component that mutates a RoundState. It owns the OPEN -> SCORING ->
// LOCKED lifecycle, serializes every mutating operation per round through
// a single-consumer command queue, and is responsible for audit-logging
// every operation the components it calls (Harmonizer, Ingestion Pipeline,
// Scoring Engine, Validator) perform.
//
// The per-round command queue is grounded on the teacher's websocket Hub
// (internal/api/websocket.go): one goroutine draining a buffered channel
// is the same shape as `for message := range h.broadcast`, generalized
// from broadcasting bytes to running arbitrary closures so every mutating
// call on a round is processed one at a time, in submission order, while
// different rounds run fully in parallel.
package round

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/combat-score-engine/internal/audit"
	"github.com/rawblock/combat-score-engine/internal/bus"
	"github.com/rawblock/combat-score-engine/internal/calibration"
	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/internal/harmonize"
	"github.com/rawblock/combat-score-engine/internal/ingest"
	"github.com/rawblock/combat-score-engine/internal/scoring"
	"github.com/rawblock/combat-score-engine/internal/validator"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

// defaultLockDeadline is lock_round's default deadline (spec §5): it is
// the only operation that intentionally blocks on the Validator.
const defaultLockDeadline = 2 * time.Second

// defaultCommandDeadline bounds every other mutating operation.
const defaultCommandDeadline = 2 * time.Second

// Store is the Round Manager's persistence dependency. internal/storage
// implements it against Postgres.
type Store interface {
	CreateRound(ctx context.Context, state models.RoundState) error
	LoadRoundState(ctx context.Context, roundID string) (models.RoundState, error)
	AppendRoundEvent(ctx context.Context, roundID string, sequenceIndex int, event models.CombatEvent) error
	LoadRoundEvents(ctx context.Context, roundID string) ([]models.CombatEvent, error)
	SaveVerdict(ctx context.Context, roundID string, status models.RoundStatus, verdict models.RoundVerdict) error
	LockRound(ctx context.Context, roundID string, lockedAt time.Time, eventHash string, verdict models.RoundVerdict) error
	RoundsForBout(ctx context.Context, boutID string) ([]models.RoundState, error)
}

// Manager coordinates every round across every bout. It is safe for
// concurrent use.
type Manager struct {
	store       Store
	auditor     *audit.Log
	fanout      *bus.Bus
	calibration *calibration.Coordinator
	ingestStats *ingest.Stats
	profile     scoring.ScoringProfile
	thresholds  validator.Thresholds

	mu     sync.Mutex
	rounds map[string]*roundActor
}

// New creates a Manager. profile and thresholds are the Scoring Engine and
// Validator configuration in force for every round this Manager opens.
func New(store Store, auditor *audit.Log, fanout *bus.Bus, calib *calibration.Coordinator, ingestStats *ingest.Stats, profile scoring.ScoringProfile, thresholds validator.Thresholds) *Manager {
	return &Manager{
		store:       store,
		auditor:     auditor,
		fanout:      fanout,
		calibration: calib,
		ingestStats: ingestStats,
		profile:     profile,
		thresholds:  thresholds,
		rounds:      make(map[string]*roundActor),
	}
}

// roundActor serializes every mutating call against one RoundState. The
// in-memory state it holds is the component's working copy; store calls
// keep it durable.
type roundActor struct {
	commands chan func()
	state    models.RoundState
}

func newRoundActor(initial models.RoundState) *roundActor {
	a := &roundActor{commands: make(chan func(), 64), state: initial}
	go a.run()
	return a
}

func (a *roundActor) run() {
	for cmd := range a.commands {
		cmd()
	}
}

// submit runs fn on the actor's single goroutine and waits for it to
// finish, or for ctx/deadline to elapse first.
func (a *roundActor) submit(ctx context.Context, deadline time.Duration, fn func()) error {
	done := make(chan struct{})
	select {
	case a.commands <- func() { fn(); close(done) }:
	case <-time.After(deadline):
		return &errs.TimeoutError{Op: "enqueue"}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		return &errs.TimeoutError{Op: "execute"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) actorFor(roundID string) (*roundActor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rounds[roundID]
	return a, ok
}

// OpenRound creates and persists a fresh RoundState (spec §4.3). roundStartMs
// and roundEndMs bound the round's expected timecode envelope for the
// Validator; callers typically derive roundEndMs from a standard round
// duration at open time and may not need to revise it.
func (m *Manager) OpenRound(ctx context.Context, boutID string, roundNum int, roundStartMs, roundEndMs int64) (models.RoundState, error) {
	state := models.RoundState{
		RoundID:      uuid.NewString(),
		BoutID:       boutID,
		RoundNum:     roundNum,
		Status:       models.RoundOpen,
		OpenedAt:     time.Now().UTC(),
		RoundStartMs: roundStartMs,
		RoundEndMs:   roundEndMs,
	}
	if err := m.store.CreateRound(ctx, state); err != nil {
		return models.RoundState{}, &errs.StorageError{Transient: true, Err: err}
	}

	m.mu.Lock()
	m.rounds[state.RoundID] = newRoundActor(state)
	m.mu.Unlock()

	if _, err := m.auditor.Append(ctx, boutID, state.RoundID, models.ActionRoundOpened, "system", map[string]any{
		"round_num": roundNum,
	}); err != nil {
		return state, err
	}
	m.fanout.PublishRound(boutID, state.RoundID, bus.TopicLifecycle, "lifecycle", map[string]any{
		"event": "round_opened", "round_id": state.RoundID,
	})
	return state, nil
}

// AppendEvent harmonizes and admits raw into roundID's event list (spec
// §4.3). If harmonization, admission or the event write fails, nothing is
// appended. The event is written before it is audited, so an audit failure
// leaves it in the round, unpublished, and returns it with the error.
func (m *Manager) AppendEvent(ctx context.Context, roundID string, raw harmonize.RawEvent, sourceHint models.EventSource) (models.CombatEvent, error) {
	a, ok := m.actorFor(roundID)
	if !ok {
		return models.CombatEvent{}, &errs.RoundNotFoundError{RoundID: roundID}
	}

	var result models.CombatEvent
	var opErr error
	err := a.submit(ctx, defaultCommandDeadline, func() {
		result, opErr = m.appendEventLocked(ctx, a, raw, sourceHint)
	})
	if err != nil {
		return models.CombatEvent{}, err
	}
	return result, opErr
}

// appendEventLocked runs on the round's own goroutine via submit.
func (m *Manager) appendEventLocked(ctx context.Context, a *roundActor, raw harmonize.RawEvent, sourceHint models.EventSource) (models.CombatEvent, error) {
	boutID, roundID := a.state.BoutID, a.state.RoundID

	if a.state.Status == models.RoundLocked {
		return models.CombatEvent{}, &errs.RoundLockedError{RoundID: roundID}
	}

	candidate, err := harmonize.Harmonize(raw, sourceHint)
	if err != nil {
		m.auditRejection(ctx, boutID, roundID, "harmonization_failed", err)
		return models.CombatEvent{}, err
	}
	candidate.BoutID = boutID
	candidate.RoundID = roundID

	config := m.calibration.Current()
	admitted, err := m.ingestStats.Admit(candidate, recentWindow(a.state.Events), config, time.Now())
	if err != nil {
		m.auditRejection(ctx, boutID, roundID, "admission_rejected", err)
		return models.CombatEvent{}, err
	}
	admitted.Canonical = true

	sequenceIndex := len(a.state.Events)
	if err := m.store.AppendRoundEvent(ctx, roundID, sequenceIndex, admitted); err != nil {
		return models.CombatEvent{}, &errs.StorageError{Transient: true, Err: err}
	}
	a.state.Events = append(a.state.Events, admitted)

	if _, err := m.auditor.Append(ctx, boutID, roundID, models.ActionEventAdmitted, "system", map[string]any{
		"event": admitted,
	}); err != nil {
		return admitted, err
	}
	m.fanout.PublishRound(boutID, roundID, topicFor(admitted.Source), msgTypeFor(admitted.Source), admitted)
	return admitted, nil
}

func (m *Manager) auditRejection(ctx context.Context, boutID, roundID, reason string, cause error) {
	_, _ = m.auditor.Append(ctx, boutID, roundID, models.ActionEventRejected, "system", map[string]any{
		"reason": reason,
		"error":  cause.Error(),
	})
}

// recentWindow bounds the duplicate-detection scan to the last 50 admitted
// events (spec §4.2).
func recentWindow(events []models.CombatEvent) []models.CombatEvent {
	const cap = 50
	if len(events) <= cap {
		return events
	}
	return events[len(events)-cap:]
}

func topicFor(source models.EventSource) bus.Topic {
	if source == models.SourceJudgeManual {
		return bus.TopicJudgeEvents
	}
	return bus.TopicCVEvents
}

func msgTypeFor(source models.EventSource) string {
	if source == models.SourceJudgeManual {
		return "judge_event"
	}
	return "cv_event"
}

// ComputeScore runs multi-camera fusion, momentum-swing synthesis, and the
// Scoring Engine over roundID's current event list (spec §4.3, §4.5).
func (m *Manager) ComputeScore(ctx context.Context, roundID string) (models.RoundVerdict, error) {
	a, ok := m.actorFor(roundID)
	if !ok {
		return models.RoundVerdict{}, &errs.RoundNotFoundError{RoundID: roundID}
	}

	var verdict models.RoundVerdict
	var opErr error
	err := a.submit(ctx, defaultCommandDeadline, func() {
		verdict, opErr = m.computeScoreLocked(ctx, a)
	})
	if err != nil {
		return models.RoundVerdict{}, err
	}
	return verdict, opErr
}

func (m *Manager) computeScoreLocked(ctx context.Context, a *roundActor) (models.RoundVerdict, error) {
	boutID, roundID := a.state.BoutID, a.state.RoundID
	if a.state.Status == models.RoundLocked {
		return models.RoundVerdict{}, &errs.RoundLockedError{RoundID: roundID}
	}

	config := m.calibration.Current()
	fused := m.ingestStats.FuseMultiCamera(a.state.Events, config)
	a.state.Events = fused

	for _, corner := range []models.Corner{models.Red, models.Blue} {
		strikes := ingest.SignificantStrikes(a.state.Events, corner)
		swings := m.ingestStats.DetectMomentumSwings(strikes, boutID, roundID, corner, config)
		for _, swing := range swings {
			swing.Canonical = true
			sequenceIndex := len(a.state.Events)
			if err := m.store.AppendRoundEvent(ctx, roundID, sequenceIndex, swing); err != nil {
				continue // synthesis is best-effort; scoring still proceeds on the events already admitted
			}
			a.state.Events = append(a.state.Events, swing)
			_, _ = m.auditor.Append(ctx, boutID, roundID, models.ActionEventAdmitted, "system", map[string]any{
				"event": swing, "synthesized": true,
			})
		}
	}

	verdict := scoring.ScoreRound(a.state.Events, m.profile)
	verdict.ConfigVersion = config.Version
	a.state.LastVerdict = &verdict

	wasOpen := a.state.Status == models.RoundOpen
	if wasOpen {
		a.state.Status = models.RoundScoring
	}
	if err := m.store.SaveVerdict(ctx, roundID, a.state.Status, verdict); err != nil {
		return models.RoundVerdict{}, &errs.StorageError{Transient: true, Err: err}
	}

	if _, err := m.auditor.Append(ctx, boutID, roundID, models.ActionScoreComputed, "system", map[string]any{
		"verdict": verdict,
	}); err != nil {
		return verdict, err
	}
	if wasOpen {
		m.fanout.PublishRound(boutID, roundID, bus.TopicLifecycle, "lifecycle", map[string]any{
			"event": "round_scoring", "round_id": roundID,
		})
	}
	m.fanout.PublishRound(boutID, roundID, bus.TopicScoreUpdates, "score_update", verdict)
	return verdict, nil
}

// LockRound transitions roundID to LOCKED (spec §4.3). It is idempotent:
// a second call on an already-locked round returns AlreadyLockedError
// without auditing again. A validator CRITICAL issue refuses the lock with
// LockRefusedError and leaves status at SCORING.
func (m *Manager) LockRound(ctx context.Context, roundID string) (models.RoundState, error) {
	a, ok := m.actorFor(roundID)
	if !ok {
		return models.RoundState{}, &errs.RoundNotFoundError{RoundID: roundID}
	}

	lockCtx, cancel := context.WithTimeout(ctx, defaultLockDeadline)
	defer cancel()

	var result models.RoundState
	var opErr error
	err := a.submit(lockCtx, defaultLockDeadline, func() {
		result, opErr = m.lockRoundLocked(ctx, a)
	})
	if err != nil {
		return models.RoundState{}, err
	}
	return result, opErr
}

func (m *Manager) lockRoundLocked(ctx context.Context, a *roundActor) (models.RoundState, error) {
	boutID, roundID := a.state.BoutID, a.state.RoundID

	if a.state.Status == models.RoundLocked {
		return a.state, &errs.AlreadyLockedError{RoundID: roundID}
	}

	if _, err := m.computeScoreLocked(ctx, a); err != nil {
		return a.state, err
	}

	report := validator.Validate(canonicalEvents(a.state.Events), a.state.RoundStartMs, a.state.RoundEndMs, m.thresholds)
	if _, err := m.auditor.Append(ctx, boutID, roundID, models.ActionValidationRun, "system", map[string]any{
		"report": report,
	}); err != nil {
		return a.state, err
	}
	if report.CriticalCount > 0 {
		return a.state, &errs.LockRefusedError{Report: &report}
	}

	eventHash := computeEventHash(a.state.Events)
	lockedAt := time.Now().UTC()
	if err := m.store.LockRound(ctx, roundID, lockedAt, eventHash, *a.state.LastVerdict); err != nil {
		return a.state, &errs.StorageError{Transient: true, Err: err}
	}
	a.state.Status = models.RoundLocked
	a.state.LockedAt = &lockedAt
	a.state.EventHash = eventHash

	if _, err := m.auditor.Append(ctx, boutID, roundID, models.ActionRoundLocked, "system", map[string]any{
		"event_hash": eventHash,
	}); err != nil {
		return a.state, err
	}

	payload := map[string]any{"event": "round_locked", "round_id": roundID}
	if summary, err := m.BoutSummary(ctx, boutID); err == nil {
		payload["bout_summary"] = summary
	}
	m.fanout.PublishRound(boutID, roundID, bus.TopicLifecycle, "lifecycle", payload)
	return a.state, nil
}

// BoutSummary returns the Bout summary projection (spec's Bout summary
// projection supplement): one RoundVerdict per locked round, ordered by
// round number, plus a running fighter-win tally. It is read-only and
// derived fresh from round_state on every call — there is no cache to
// invalidate.
func (m *Manager) BoutSummary(ctx context.Context, boutID string) (models.BoutSummary, error) {
	rounds, err := m.store.RoundsForBout(ctx, boutID)
	if err != nil {
		return models.BoutSummary{}, &errs.StorageError{Transient: true, Err: err}
	}

	summary := models.BoutSummary{BoutID: boutID}
	for _, r := range rounds {
		if r.Status != models.RoundLocked || r.LastVerdict == nil {
			continue
		}
		summary.Rounds = append(summary.Rounds, models.RoundSummary{
			RoundNum: r.RoundNum,
			Verdict:  *r.LastVerdict,
		})
		switch r.LastVerdict.Winner {
		case models.WinnerRed:
			summary.RedWins++
		case models.WinnerBlue:
			summary.BlueWins++
		case models.WinnerDraw:
			summary.Draws++
		}
	}
	return summary, nil
}

func canonicalEvents(events []models.CombatEvent) []models.CombatEvent {
	out := make([]models.CombatEvent, 0, len(events))
	for _, e := range events {
		if e.Canonical {
			out = append(out, e)
		}
	}
	return out
}

// computeEventHash implements spec §6.4's canonicalization: events sorted
// by timestamp_ms then event_id, each rendered as a JSON object with
// lexicographically sorted keys and millisecond-precision ISO-8601 UTC
// time fields, with no insignificant whitespace. Grounded on the same
// sorted-key signing scheme internal/audit uses for entry signatures.
func computeEventHash(events []models.CombatEvent) string {
	sorted := make([]models.CombatEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TimestampMs == sorted[j].TimestampMs {
			return sorted[i].EventID < sorted[j].EventID
		}
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	docs := make([]map[string]any, len(sorted))
	for i, e := range sorted {
		docs[i] = canonicalEventDoc(e)
	}
	// encoding/json sorts map[string]any keys on Marshal, satisfying the
	// lexicographic-key requirement without a separate sort step.
	b, err := json.Marshal(docs)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", docs))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalEventDoc(e models.CombatEvent) map[string]any {
	raw, _ := json.Marshal(e)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	doc["processed_at"] = e.ProcessedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	return doc
}

// LoadRound returns a round's current in-memory state. Used by the API
// layer for GET round_state. The read runs on the round's own actor
// goroutine, the same serialization every mutating operation uses, so it
// never observes a torn write.
func (m *Manager) LoadRound(ctx context.Context, roundID string) (models.RoundState, bool) {
	a, ok := m.actorFor(roundID)
	if !ok {
		return models.RoundState{}, false
	}
	var snapshot models.RoundState
	err := a.submit(ctx, defaultCommandDeadline, func() {
		snapshot = a.state
	})
	if err != nil {
		return models.RoundState{}, false
	}
	return snapshot, true
}

// Resume reloads a round and its events from the store into a fresh actor,
// replacing any actor already held for roundID.
func (m *Manager) Resume(ctx context.Context, roundID string) error {
	state, err := m.store.LoadRoundState(ctx, roundID)
	if err != nil {
		return &errs.StorageError{Transient: true, Err: err}
	}
	events, err := m.store.LoadRoundEvents(ctx, roundID)
	if err != nil {
		return &errs.StorageError{Transient: true, Err: err}
	}
	state.Events = events

	m.mu.Lock()
	m.rounds[roundID] = newRoundActor(state)
	m.mu.Unlock()
	return nil
}
