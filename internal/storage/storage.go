// Package storage is the pgx-backed persistence layer for the two
// surfaces spec §6.3 mandates: round_state/round_events and audit_log.
// Grounded nearly verbatim on the teacher's internal/db/postgres.go
// (pgxpool.New + Ping on Connect, a schema file executed verbatim on
// InitSchema, one INSERT or UPDATE method per concern, no transactions) with
// one addition the teacher doesn't need: transient errors are retried up
// to 3x with exponential backoff before surfacing to the caller (spec §7).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/combat-score-engine/pkg/models"
)

// Store is the pgx-backed implementation of both internal/audit.Store and
// internal/round's persistence dependency.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against connStr and verifies connectivity.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping failed: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql, the same load-verbatim-and-exec
// shape as the teacher's InitSchema.
func (s *Store) InitSchema(ctx context.Context, schemaPath string) error {
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("storage: failed to read schema file: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("storage: failed to execute schema: %w", err)
	}
	return nil
}

// withRetry runs op up to 3 additional times with exponential backoff when
// it returns a transient error, per spec §7's retry budget for audit and
// round persistence.
func withRetry(ctx context.Context, op func() error) error {
	const maxAttempts = 4 // the first try plus 3 retries
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// isTransient treats connection-level pgx errors as retryable; query
// errors (constraint violations, bad SQL) are not.
func isTransient(err error) bool {
	if err == nil || err == pgx.ErrNoRows {
		return false
	}
	// A PgError is the server rejecting the statement itself.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	return true
}

// InsertAuditEntry appends one row to audit_log. No method on Store ever
// updates or deletes from this table.
func (s *Store) InsertAuditEntry(ctx context.Context, entry models.AuditLogEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("storage: marshal audit data: %w", err)
	}
	sql := `
		INSERT INTO audit_log (log_id, bout_id, round_id, action, actor, timestamp, data, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, sql, entry.LogID, entry.BoutID, nullableString(entry.RoundID), string(entry.Action), entry.Actor, entry.Timestamp, data, entry.Signature)
		return err
	})
}

// AuditEntriesForBout returns every entry for a bout, unordered (callers
// order them, per internal/audit.ExportBundle).
func (s *Store) AuditEntriesForBout(ctx context.Context, boutID string) ([]models.AuditLogEntry, error) {
	sql := `
		SELECT log_id, bout_id, COALESCE(round_id, ''), action, actor, timestamp, data, signature
		FROM audit_log WHERE bout_id = $1
	`
	var entries []models.AuditLogEntry
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, sql, boutID)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = nil
		for rows.Next() {
			entry, err := scanAuditEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	return entries, err
}

// AuditEntry fetches one entry by log_id.
func (s *Store) AuditEntry(ctx context.Context, logID string) (models.AuditLogEntry, error) {
	sql := `
		SELECT log_id, bout_id, COALESCE(round_id, ''), action, actor, timestamp, data, signature
		FROM audit_log WHERE log_id = $1
	`
	var entry models.AuditLogEntry
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, sql, logID)
		var err error
		entry, err = scanAuditEntry(row)
		return err
	})
	return entry, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(row rowScanner) (models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	var action string
	var data []byte
	if err := row.Scan(&entry.LogID, &entry.BoutID, &entry.RoundID, &action, &entry.Actor, &entry.Timestamp, &data, &entry.Signature); err != nil {
		return models.AuditLogEntry{}, err
	}
	entry.Action = models.AuditAction(action)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entry.Data); err != nil {
			return models.AuditLogEntry{}, fmt.Errorf("storage: unmarshal audit data: %w", err)
		}
	}
	return entry, nil
}

// LatestCalibrationConfig reconstructs the most recent CalibrationConfig
// from the audit log's config_changed entries. Spec §6.3 mandates exactly
// two persistence surfaces, so CalibrationConfig is not given its own
// table: its last committed value is always recoverable by replaying
// audit history, the same "derive, don't duplicate" choice applied to the
// bout summary projection.
func (s *Store) LatestCalibrationConfig(ctx context.Context, boutID string) (models.CalibrationConfig, bool, error) {
	sql := `
		SELECT data FROM audit_log
		WHERE bout_id = $1 AND action = $2
		ORDER BY timestamp DESC LIMIT 1
	`
	var data []byte
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, sql, boutID, string(models.ActionConfigChanged))
		return row.Scan(&data)
	})
	if err == pgx.ErrNoRows {
		return models.CalibrationConfig{}, false, nil
	}
	if err != nil {
		return models.CalibrationConfig{}, false, err
	}

	var payload struct {
		Config models.CalibrationConfig `json:"config"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.CalibrationConfig{}, false, fmt.Errorf("storage: unmarshal calibration config: %w", err)
	}
	return payload.Config, true, nil
}

// CreateRound inserts a fresh round_state row. Called once per open_round.
func (s *Store) CreateRound(ctx context.Context, state models.RoundState) error {
	sql := `
		INSERT INTO round_state (round_id, bout_id, round_num, status, opened_at, round_start_ms, round_end_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, sql, state.RoundID, state.BoutID, state.RoundNum, string(state.Status), state.OpenedAt, state.RoundStartMs, state.RoundEndMs)
		return err
	})
}

// LoadRoundState returns a round's header fields (not its events).
func (s *Store) LoadRoundState(ctx context.Context, roundID string) (models.RoundState, error) {
	sql := `
		SELECT round_id, bout_id, round_num, status, opened_at, locked_at, COALESCE(event_hash, ''),
		       round_start_ms, round_end_ms, last_verdict
		FROM round_state WHERE round_id = $1
	`
	var state models.RoundState
	var status string
	var verdictData []byte
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, sql, roundID)
		return row.Scan(&state.RoundID, &state.BoutID, &state.RoundNum, &status, &state.OpenedAt,
			&state.LockedAt, &state.EventHash, &state.RoundStartMs, &state.RoundEndMs, &verdictData)
	})
	if err != nil {
		return models.RoundState{}, err
	}
	state.Status = models.RoundStatus(status)
	if len(verdictData) > 0 {
		var verdict models.RoundVerdict
		if err := json.Unmarshal(verdictData, &verdict); err != nil {
			return models.RoundState{}, fmt.Errorf("storage: unmarshal last_verdict: %w", err)
		}
		state.LastVerdict = &verdict
	}
	return state, nil
}

// RoundsForBout returns every round_state row for boutID, ordered by
// round_num, for the Bout summary projection. Events are not loaded —
// callers needing only the cached last_verdict get it from this row.
func (s *Store) RoundsForBout(ctx context.Context, boutID string) ([]models.RoundState, error) {
	sql := `
		SELECT round_id, bout_id, round_num, status, opened_at, locked_at, COALESCE(event_hash, ''),
		       round_start_ms, round_end_ms, last_verdict
		FROM round_state WHERE bout_id = $1 ORDER BY round_num ASC
	`
	var out []models.RoundState
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, sql, boutID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var state models.RoundState
			var status string
			var verdictData []byte
			if err := rows.Scan(&state.RoundID, &state.BoutID, &state.RoundNum, &status, &state.OpenedAt,
				&state.LockedAt, &state.EventHash, &state.RoundStartMs, &state.RoundEndMs, &verdictData); err != nil {
				return err
			}
			state.Status = models.RoundStatus(status)
			if len(verdictData) > 0 {
				var verdict models.RoundVerdict
				if err := json.Unmarshal(verdictData, &verdict); err != nil {
					return fmt.Errorf("storage: unmarshal last_verdict: %w", err)
				}
				state.LastVerdict = &verdict
			}
			out = append(out, state)
		}
		return rows.Err()
	})
	return out, err
}

// AppendRoundEvent inserts one admitted event at sequenceIndex. The
// (round_id, sequence_index) primary key rejects any attempt to write the
// same slot twice, so a retried append after a crash can't duplicate state.
func (s *Store) AppendRoundEvent(ctx context.Context, roundID string, sequenceIndex int, event models.CombatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("storage: marshal event: %w", err)
	}
	sql := `
		INSERT INTO round_events (round_id, sequence_index, event_id, payload)
		VALUES ($1, $2, $3, $4)
	`
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, sql, roundID, sequenceIndex, event.EventID, payload)
		return err
	})
}

// LoadRoundEvents returns a round's events in insertion order.
func (s *Store) LoadRoundEvents(ctx context.Context, roundID string) ([]models.CombatEvent, error) {
	sql := `SELECT payload FROM round_events WHERE round_id = $1 ORDER BY sequence_index ASC`
	var events []models.CombatEvent
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, sql, roundID)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = nil
		for rows.Next() {
			var payload []byte
			if err := rows.Scan(&payload); err != nil {
				return err
			}
			var event models.CombatEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("storage: unmarshal event: %w", err)
			}
			events = append(events, event)
		}
		return rows.Err()
	})
	return events, err
}

// SaveVerdict updates a round's status and cached verdict, used by
// compute_score (the OPEN -> SCORING transition included).
func (s *Store) SaveVerdict(ctx context.Context, roundID string, status models.RoundStatus, verdict models.RoundVerdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("storage: marshal verdict: %w", err)
	}
	sql := `UPDATE round_state SET status = $1, last_verdict = $2 WHERE round_id = $3`
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, sql, string(status), data, roundID)
		return err
	})
}

// LockRound persists the SCORING -> LOCKED transition with its event_hash
// and final verdict. Called exactly once per round; lock idempotence is
// enforced by the Round Manager checking status before calling this.
func (s *Store) LockRound(ctx context.Context, roundID string, lockedAt time.Time, eventHash string, verdict models.RoundVerdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("storage: marshal verdict: %w", err)
	}
	sql := `
		UPDATE round_state
		SET status = $1, locked_at = $2, event_hash = $3, last_verdict = $4
		WHERE round_id = $5
	`
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, sql, string(models.RoundLocked), lockedAt, eventHash, data, roundID)
		return err
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
