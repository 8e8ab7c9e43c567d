package calibration

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/combat-score-engine/internal/audit"
	"github.com/rawblock/combat-score-engine/internal/bus"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

type nullStore struct{}

func (nullStore) InsertAuditEntry(ctx context.Context, entry models.AuditLogEntry) error {
	return nil
}
func (nullStore) AuditEntriesForBout(ctx context.Context, boutID string) ([]models.AuditLogEntry, error) {
	return nil, nil
}
func (nullStore) AuditEntry(ctx context.Context, logID string) (models.AuditLogEntry, error) {
	return models.AuditLogEntry{}, nil
}

func newTestCoordinator() *Coordinator {
	auditor := audit.New(nullStore{}, nil)
	fanout := bus.New(prometheus.NewRegistry())
	return New(auditor, fanout)
}

func TestCurrentReturnsDefaults(t *testing.T) {
	c := newTestCoordinator()
	cfg := c.Current()
	require.Equal(t, models.DefaultCalibrationConfig().KDThreshold, cfg.KDThreshold)
	require.Equal(t, int64(1), cfg.Version)
}

func TestUpdateBumpsVersionAndIsVisibleImmediately(t *testing.T) {
	c := newTestCoordinator()
	next := c.Current()
	next.KDThreshold = 0.7

	updated, err := c.Update(context.Background(), "bout-1", "supervisor-1", next)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, "supervisor-1", updated.ModifiedBy)

	require.Equal(t, 0.7, c.Current().KDThreshold)
	require.Equal(t, int64(2), c.Current().Version)
}
