package round

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

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

// memStore is an in-memory fake of both round.Store and audit.Store, used
// so these tests never touch Postgres.
type memStore struct {
	mu sync.Mutex

	rounds     map[string]models.RoundState
	events     map[string][]models.CombatEvent
	auditLog   []models.AuditLogEntry
	auditByID  map[string]models.AuditLogEntry
}

func newMemStore() *memStore {
	return &memStore{
		rounds:    make(map[string]models.RoundState),
		events:    make(map[string][]models.CombatEvent),
		auditByID: make(map[string]models.AuditLogEntry),
	}
}

func (s *memStore) CreateRound(ctx context.Context, state models.RoundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[state.RoundID] = state
	return nil
}

func (s *memStore) LoadRoundState(ctx context.Context, roundID string) (models.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[roundID], nil
}

func (s *memStore) AppendRoundEvent(ctx context.Context, roundID string, sequenceIndex int, event models.CombatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[roundID] = append(s.events[roundID], event)
	return nil
}

func (s *memStore) LoadRoundEvents(ctx context.Context, roundID string) ([]models.CombatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[roundID], nil
}

func (s *memStore) SaveVerdict(ctx context.Context, roundID string, status models.RoundStatus, verdict models.RoundVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.rounds[roundID]
	state.Status = status
	state.LastVerdict = &verdict
	s.rounds[roundID] = state
	return nil
}

func (s *memStore) LockRound(ctx context.Context, roundID string, lockedAt time.Time, eventHash string, verdict models.RoundVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.rounds[roundID]
	state.Status = models.RoundLocked
	state.LockedAt = &lockedAt
	state.EventHash = eventHash
	state.LastVerdict = &verdict
	s.rounds[roundID] = state
	return nil
}

func (s *memStore) RoundsForBout(ctx context.Context, boutID string) ([]models.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoundState
	for _, r := range s.rounds {
		if r.BoutID == boutID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNum < out[j].RoundNum })
	return out, nil
}

func (s *memStore) InsertAuditEntry(ctx context.Context, entry models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLog = append(s.auditLog, entry)
	s.auditByID[entry.LogID] = entry
	return nil
}

func (s *memStore) AuditEntriesForBout(ctx context.Context, boutID string) ([]models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLogEntry
	for _, e := range s.auditLog {
		if e.BoutID == boutID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) AuditEntry(ctx context.Context, logID string) (models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auditByID[logID], nil
}

func (s *memStore) countActions(roundID string, action models.AuditAction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.auditLog {
		if e.RoundID == roundID && e.Action == action {
			count++
		}
	}
	return count
}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	reg := prometheus.NewRegistry()
	auditor := audit.New(store, nil)
	fanout := bus.New(reg)
	calib := calibration.New(auditor, fanout)
	ingestStats := ingest.NewStats(reg)
	mgr := New(store, auditor, fanout, calib, ingestStats, scoring.DefaultProfile(), validator.DefaultThresholds())
	return mgr, store
}

func rawStrike(fighter string, eventType models.EventType, tsMs int64, confidence, severity float64) harmonize.RawEvent {
	return harmonize.RawEvent{
		FighterID:   fighter,
		EventType:   string(eventType),
		TimestampMs: tsMs,
		Confidence:  confidence,
		Severity:    severity,
	}
}

func openRound(t *testing.T, mgr *Manager) models.RoundState {
	t.Helper()
	ctx := context.Background()
	state, err := mgr.OpenRound(ctx, "bout-1", 1, 0, 300000)
	require.NoError(t, err)
	require.Equal(t, models.RoundOpen, state.Status)
	return state
}

// Scenario 1 — duplicate suppression.
func TestScenario1_DuplicateSuppression(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	state := openRound(t, mgr)

	first, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("RED", models.StrikeHook, 10000, 0.9, 0.8), models.SourceJudgeManual)
	require.NoError(t, err)
	require.True(t, first.Canonical)

	_, err = mgr.AppendEvent(ctx, state.RoundID, rawStrike("RED", models.StrikeHook, 10050, 0.9, 0.8), models.SourceJudgeManual)
	require.Error(t, err)
	var rejection *errs.AdmissionRejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, errs.Duplicate, rejection.Code)

	require.Equal(t, 1, store.countActions(state.RoundID, models.ActionEventAdmitted))
	require.Equal(t, 1, store.countActions(state.RoundID, models.ActionEventRejected))

	verdict, err := mgr.ComputeScore(ctx, state.RoundID)
	require.NoError(t, err)
	require.InDelta(t, 2.5, verdict.Receipt.Red.Striking, 1e-9)
}

// Scenario 2 — multi-camera fusion.
func TestScenario2_MultiCameraFusion(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	state := openRound(t, mgr)

	angles := []float64{30, 90, 250}
	confidences := []float64{0.6, 0.9, 0.75}
	timestamps := []int64{20000, 20080, 20140}
	for i := 0; i < 3; i++ {
		raw := rawStrike("RED", models.StrikeCross, timestamps[i], confidences[i], 0.5)
		raw.AngleDegrees = &angles[i]
		_, err := mgr.AppendEvent(ctx, state.RoundID, raw, models.SourceCVSystem)
		require.NoError(t, err)
	}

	_, err := mgr.ComputeScore(ctx, state.RoundID)
	require.NoError(t, err)

	loaded, ok := mgr.LoadRound(ctx, state.RoundID)
	require.True(t, ok)
	canonicalCount := 0
	var canonicalTs int64
	for _, e := range loaded.Events {
		if e.Canonical {
			canonicalCount++
			canonicalTs = e.TimestampMs
		}
	}
	require.Equal(t, 1, canonicalCount)
	require.Equal(t, int64(20080), canonicalTs)
}

// Scenario 5 — draw with impact: impact advantage prevents the draw rule
// from firing and the higher-value knockdown (KD_HARD=25 vs KD_FLASH=15)
// tilts delta_round to BLUE despite equal striking totals.
func TestScenario5_DrawWithImpact_BlueWins(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	state := openRound(t, mgr)

	_, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("RED", models.KDFlash, 1000, 1.0, 0.8), models.SourceJudgeManual)
	require.NoError(t, err)
	_, err = mgr.AppendEvent(ctx, state.RoundID, rawStrike("BLUE", models.KDHard, 2000, 1.0, 0.8), models.SourceJudgeManual)
	require.NoError(t, err)

	verdict, err := mgr.ComputeScore(ctx, state.RoundID)
	require.NoError(t, err)
	require.Equal(t, models.WinnerBlue, verdict.Winner)
}

// Scenario 6 — lock refused on zero judge events.
func TestScenario6_LockRefused(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	state := openRound(t, mgr)

	for i := 0; i < 6; i++ {
		_, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("RED", models.StrikeJab, int64(i)*1000, 0.9, 0.5), models.SourceCVSystem)
		require.NoError(t, err)
	}

	_, err := mgr.LockRound(ctx, state.RoundID)
	require.Error(t, err)
	var refused *errs.LockRefusedError
	require.ErrorAs(t, err, &refused)

	loaded, ok := mgr.LoadRound(ctx, state.RoundID)
	require.True(t, ok)
	require.Equal(t, models.RoundScoring, loaded.Status)
	require.Equal(t, 0, store.countActions(state.RoundID, models.ActionRoundLocked))
}

// Lock idempotence: a second lock_round on an already-locked round returns
// AlreadyLockedError and appends no additional round_locked audit entry.
func TestLockRound_Idempotent(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	state := openRound(t, mgr)

	for i := 0; i < 2; i++ {
		_, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("RED", models.StrikeJab, int64(i)*1000, 0.9, 0.5), models.SourceJudgeManual)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("BLUE", models.StrikeJab, int64(i+10)*1000, 0.9, 0.5), models.SourceCVSystem)
		require.NoError(t, err)
	}

	locked, err := mgr.LockRound(ctx, state.RoundID)
	require.NoError(t, err)
	require.Equal(t, models.RoundLocked, locked.Status)
	require.NotEmpty(t, locked.EventHash)
	require.Equal(t, 1, store.countActions(state.RoundID, models.ActionRoundLocked))

	again, err := mgr.LockRound(ctx, state.RoundID)
	require.Error(t, err)
	var already *errs.AlreadyLockedError
	require.ErrorAs(t, err, &already)
	require.Equal(t, locked.EventHash, again.EventHash)
	require.Equal(t, 1, store.countActions(state.RoundID, models.ActionRoundLocked))
}

// Event-hash stability: recomputing the hash from a locked round's
// persisted ordered events yields the stored event_hash.
func TestEventHash_StableAcrossRecomputation(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	state := openRound(t, mgr)

	for i := 0; i < 2; i++ {
		_, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("RED", models.StrikeJab, int64(i)*1000, 0.9, 0.5), models.SourceJudgeManual)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := mgr.AppendEvent(ctx, state.RoundID, rawStrike("BLUE", models.StrikeJab, int64(i+10)*1000, 0.9, 0.5), models.SourceCVSystem)
		require.NoError(t, err)
	}

	locked, err := mgr.LockRound(ctx, state.RoundID)
	require.NoError(t, err)

	persisted, err := store.LoadRoundEvents(ctx, state.RoundID)
	require.NoError(t, err)
	require.Equal(t, locked.EventHash, computeEventHash(persisted))
}

// Bout summary projection: locking rounds across a bout accumulates into a
// running win tally, and an unlocked round contributes nothing.
func TestBoutSummary_AccumulatesAcrossLockedRounds(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	r1, err := mgr.OpenRound(ctx, "bout-summary", 1, 0, 300000)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := mgr.AppendEvent(ctx, r1.RoundID, rawStrike("RED", models.StrikeJab, int64(i)*1000, 0.9, 0.6), models.SourceJudgeManual)
		require.NoError(t, err)
	}
	_, err = mgr.LockRound(ctx, r1.RoundID)
	require.NoError(t, err)

	r2, err := mgr.OpenRound(ctx, "bout-summary", 2, 300000, 600000)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := mgr.AppendEvent(ctx, r2.RoundID, rawStrike("BLUE", models.StrikeJab, int64(i)*1000, 0.9, 0.6), models.SourceJudgeManual)
		require.NoError(t, err)
	}
	_, err = mgr.LockRound(ctx, r2.RoundID)
	require.NoError(t, err)

	_, err = mgr.OpenRound(ctx, "bout-summary", 3, 600000, 900000)
	require.NoError(t, err)

	summary, err := mgr.BoutSummary(ctx, "bout-summary")
	require.NoError(t, err)
	require.Equal(t, "bout-summary", summary.BoutID)
	require.Len(t, summary.Rounds, 2)
	require.Equal(t, 1, summary.RedWins)
	require.Equal(t, 1, summary.BlueWins)
	require.Equal(t, 0, summary.Draws)
	require.Equal(t, 1, summary.Rounds[0].RoundNum)
	require.Equal(t, 2, summary.Rounds[1].RoundNum)
}
