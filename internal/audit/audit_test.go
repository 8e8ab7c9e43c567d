package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/combat-score-engine/pkg/models"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]models.AuditLogEntry
	byBout  map[string][]string
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string]models.AuditLogEntry),
		byBout:  make(map[string][]string),
	}
}

func (m *memStore) InsertAuditEntry(ctx context.Context, entry models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.LogID] = entry
	m.byBout[entry.BoutID] = append(m.byBout[entry.BoutID], entry.LogID)
	return nil
}

func (m *memStore) AuditEntriesForBout(ctx context.Context, boutID string) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLogEntry
	for _, id := range m.byBout[boutID] {
		out = append(out, m.entries[id])
	}
	return out, nil
}

func (m *memStore) AuditEntry(ctx context.Context, logID string) (models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[logID], nil
}

func TestAppendAssignsSignatureAndVerifies(t *testing.T) {
	store := newMemStore()
	log := New(store, nil)

	entry, err := log.Append(context.Background(), "bout-1", "round-1", models.ActionRoundOpened, "judge-1", map[string]any{"round_num": 1})
	require.NoError(t, err)
	require.NotEmpty(t, entry.LogID)
	require.NotEmpty(t, entry.Signature)

	ok, err := log.Verify(context.Background(), entry.LogID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDetectsTamper(t *testing.T) {
	store := newMemStore()
	log := New(store, nil)

	entry, err := log.Append(context.Background(), "bout-1", "round-1", models.ActionEventAdmitted, "cv-system", map[string]any{"event_type": "strike_jab"})
	require.NoError(t, err)

	tampered := store.entries[entry.LogID]
	tampered.Actor = "someone-else"
	store.entries[entry.LogID] = tampered

	ok, err := log.Verify(context.Background(), entry.LogID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignatureIsStableAcrossMapKeyOrder(t *testing.T) {
	a := map[string]any{"z": 1, "a": 2, "m": map[string]any{"y": 1, "b": 2}}
	b := map[string]any{"m": map[string]any{"b": 2, "y": 1}, "a": 2, "z": 1}

	require.Equal(t, canonicalJSON(a), canonicalJSON(b))
}

func TestExportBundleOrdersByTimestamp(t *testing.T) {
	store := newMemStore()
	log := New(store, nil)
	ctx := context.Background()

	_, err := log.Append(ctx, "bout-1", "round-1", models.ActionRoundOpened, "judge-1", nil)
	require.NoError(t, err)
	_, err = log.Append(ctx, "bout-1", "round-1", models.ActionRoundLocked, "judge-1", nil)
	require.NoError(t, err)

	bundle, err := log.ExportBundle(ctx, "bout-1")
	require.NoError(t, err)
	require.Len(t, bundle.Entries, 2)
	require.Equal(t, SignatureAlgo, bundle.SignatureAlgo)
	require.Equal(t, models.ActionRoundOpened, bundle.Entries[0].Action)
	require.Equal(t, models.ActionRoundLocked, bundle.Entries[1].Action)

	require.Empty(t, VerifyBundle(bundle))
}
