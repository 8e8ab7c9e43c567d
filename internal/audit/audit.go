// Package audit implements the tamper-evident Audit Log (spec §4.6): every
// mutating operation across the pipeline appends one signed, immutable
// entry here. There is deliberately no update or delete method on Log —
// append-only is enforced by the Go API surface, not by a runtime check.
//
// Grounded on the teacher's internal/db/postgres.go SaveAnalysisResult,
// which only ever inserts rows and never exposes an update path for a
// completed analysis, and on the audit action taxonomy shape found in the
// retrieval pack's Credo audit-models.go file. The signature scheme itself
// (SHA-256 over sorted-key canonical JSON) is new: the teacher has no
// signing step, so it is grounded on spec §6.4's canonicalization rules,
// reused verbatim from the event-hash rules specified for round state.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/internal/timeservice"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

const SignatureAlgo = "sha256-sorted-json-v1"

// Store is the persistence dependency for Log. internal/storage implements
// it against Postgres; tests use an in-memory fake.
type Store interface {
	InsertAuditEntry(ctx context.Context, entry models.AuditLogEntry) error
	AuditEntriesForBout(ctx context.Context, boutID string) ([]models.AuditLogEntry, error)
	AuditEntry(ctx context.Context, logID string) (models.AuditLogEntry, error)
}

// Log is the Audit Log component. It is safe for concurrent use.
type Log struct {
	store Store
	clock timeservice.Clock
}

// New creates a Log backed by store. clock may be nil. It is stored but
// not read: entry and bundle timestamps are always wall-clock UTC.
func New(store Store, clock timeservice.Clock) *Log {
	return &Log{store: store, clock: clock}
}

func (l *Log) now() time.Time {
	// Audit timestamps are always wall-clock UTC even when a bout-relative
	// clock is supplied for event stamping elsewhere; a signed record needs
	// an absolute, re-derivable point in time.
	return time.Now().UTC()
}

// Append writes one signed entry and returns it with its assigned ID,
// timestamp, and signature populated. This is the pipeline's "log"
// operation (spec §4.6).
func (l *Log) Append(ctx context.Context, boutID, roundID string, action models.AuditAction, actor string, data map[string]any) (models.AuditLogEntry, error) {
	entry := models.AuditLogEntry{
		LogID:     uuid.NewString(),
		BoutID:    boutID,
		RoundID:   roundID,
		Action:    action,
		Actor:     actor,
		Timestamp: l.now(),
		Data:      data,
	}
	entry.Signature = sign(entry)

	if err := l.store.InsertAuditEntry(ctx, entry); err != nil {
		return models.AuditLogEntry{}, &errs.StorageError{Transient: true, Err: err}
	}
	return entry, nil
}

// Verify recomputes an entry's signature and reports whether it still
// matches the stored value.
func (l *Log) Verify(ctx context.Context, logID string) (bool, error) {
	entry, err := l.store.AuditEntry(ctx, logID)
	if err != nil {
		return false, &errs.StorageError{Transient: true, Err: err}
	}
	return sign(entry) == entry.Signature, nil
}

// ExportBundle returns every entry for a bout, ordered by timestamp, with
// the signing algorithm declared alongside them (spec §4.6).
func (l *Log) ExportBundle(ctx context.Context, boutID string) (models.AuditBundle, error) {
	entries, err := l.store.AuditEntriesForBout(ctx, boutID)
	if err != nil {
		return models.AuditBundle{}, &errs.StorageError{Transient: true, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].LogID < entries[j].LogID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return models.AuditBundle{
		BoutID:        boutID,
		Entries:       entries,
		ExportedAt:    l.now(),
		SignatureAlgo: SignatureAlgo,
	}, nil
}

// VerifyBundle recomputes every entry's signature and returns the log_ids
// that fail to match, in bundle order. An empty result means the bundle is
// intact.
func VerifyBundle(bundle models.AuditBundle) []string {
	var tampered []string
	for _, entry := range bundle.Entries {
		if sign(entry) != entry.Signature {
			tampered = append(tampered, entry.LogID)
		}
	}
	return tampered
}

// sign computes the canonical SHA-256 signature of an entry's content
// fields (everything but the signature itself).
func sign(entry models.AuditLogEntry) string {
	payload := map[string]any{
		"log_id":    entry.LogID,
		"bout_id":   entry.BoutID,
		"round_id":  entry.RoundID,
		"action":    string(entry.Action),
		"actor":     entry.Actor,
		"timestamp": entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		"data":      entry.Data,
	}
	canonical := canonicalJSON(payload)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders v as JSON with every object's keys sorted, at every
// nesting depth, so the same logical content always signs to the same
// bytes regardless of map iteration order (spec §6.4).
func canonicalJSON(v any) []byte {
	normalized := normalize(v)
	b, err := json.Marshal(normalized)
	if err != nil {
		// Marshal only fails on unsupported types (channels, funcs); audit
		// payloads are always plain JSON-shaped data assembled by this
		// pipeline, so this path is unreachable in practice.
		return nil
	}
	// Struct values nested in data marshal in field order; decoding into
	// generic maps and marshaling again sorts their keys too. UseNumber
	// keeps numbers as written.
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil
	}
	return out
}

// normalize walks v, copying every map[string]any (visiting keys in sorted
// order) and every []any, recursing into nested maps and slices. Other
// values are returned as they are. encoding/json already sorts
// map[string]any keys on Marshal; normalize keeps the walk explicit and
// named rather than relying on that implicit behavior.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = normalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return t
	}
}
