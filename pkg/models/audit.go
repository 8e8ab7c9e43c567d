package models

import "time"

// AuditAction enumerates the audit action taxonomy (spec §3). Free-form in
// the wire format but drawn from this closed set in practice — mirrors the
// AuditEvent enum shape used for tri-publisher audit categorization in the
// wider retrieval pack.
type AuditAction string

const (
	ActionRoundOpened          AuditAction = "round_opened"
	ActionEventAdmitted        AuditAction = "event_admitted"
	ActionEventRejected        AuditAction = "event_rejected"
	ActionScoreComputed        AuditAction = "score_computed"
	ActionRoundLocked          AuditAction = "round_locked"
	ActionValidationRun        AuditAction = "validation_run"
	ActionConfigChanged        AuditAction = "config_changed"
	ActionSupervisorAnnotation AuditAction = "supervisor_annotation"
)

// AuditLogEntry is one append-only audit record (spec §3).
type AuditLogEntry struct {
	LogID     string         `json:"log_id"`
	BoutID    string         `json:"bout_id"`
	RoundID   string         `json:"round_id,omitempty"`
	Action    AuditAction    `json:"action"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Signature string         `json:"signature"`
}

// AuditBundle is the export_bundle result (spec §4.6).
type AuditBundle struct {
	BoutID           string          `json:"bout_id"`
	Entries          []AuditLogEntry `json:"entries"`
	ExportedAt       time.Time       `json:"exported_at"`
	SignatureAlgo    string          `json:"signature_algorithm"`
}

// CalibrationConfig carries process-wide mutable scoring/ingestion
// thresholds (spec §3).
type CalibrationConfig struct {
	KDThreshold               float64 `json:"kd_threshold"`
	RockedThreshold           float64 `json:"rocked_threshold"`
	HighImpactStrikeThreshold float64 `json:"highimpact_strike_threshold"`
	MomentumSwingWindowMs     int64   `json:"momentum_swing_window_ms"`
	MultiCamMergeWindowMs     int64   `json:"multicam_merge_window_ms"`
	ConfidenceThreshold       float64 `json:"confidence_threshold"`
	DeduplicationWindowMs     int64   `json:"deduplication_window_ms"`

	Version      int64     `json:"version"`
	ModifiedBy   string    `json:"modified_by"`
	LastModified time.Time `json:"last_modified"`
}

// DefaultCalibrationConfig returns the spec-mandated defaults (spec §4.2,
// §4.4).
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		KDThreshold:               0.5,
		RockedThreshold:           0.5,
		HighImpactStrikeThreshold: 0.6,
		MomentumSwingWindowMs:     15000,
		MultiCamMergeWindowMs:     150,
		ConfidenceThreshold:       0.4,
		DeduplicationWindowMs:     1000,
		Version:                   1,
		ModifiedBy:                "system",
	}
}
