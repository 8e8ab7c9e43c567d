package harmonize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

func TestHarmonizeMapsVendorEventType(t *testing.T) {
	event, err := Harmonize(RawEvent{
		BoutID: "bout-1", FighterID: "fighter1", EventType: "jab_detected",
		Severity: 0.8, Confidence: 0.9, TimestampMs: 1000,
	}, models.SourceCVSystem)

	require.NoError(t, err)
	require.Equal(t, models.StrikeJab, event.EventType)
	require.Equal(t, models.Red, event.FighterID)
	require.Equal(t, models.SourceCVSystem, event.Source)
	require.Equal(t, models.QualitySolid, event.Metadata.Quality())
}

func TestHarmonizeUnknownEventType(t *testing.T) {
	_, err := Harmonize(RawEvent{FighterID: "RED", EventType: "not_a_real_type"}, models.SourceJudgeManual)
	require.Error(t, err)
	var hErr *errs.HarmonizationError
	require.ErrorAs(t, err, &hErr)
	require.Equal(t, errs.UnknownEventType, hErr.Code)
}

func TestHarmonizeMissingCorner(t *testing.T) {
	_, err := Harmonize(RawEvent{FighterID: "", EventType: "STRIKE_JAB"}, models.SourceJudgeManual)
	require.Error(t, err)
	var hErr *errs.HarmonizationError
	require.ErrorAs(t, err, &hErr)
	require.Equal(t, errs.MissingCorner, hErr.Code)
}

func TestHarmonizeSeverityAsPercentage(t *testing.T) {
	event, err := Harmonize(RawEvent{
		FighterID: "BLUE", EventType: "STRIKE_CROSS", Severity: 80, Confidence: 1.0,
	}, models.SourceJudgeManual)
	require.NoError(t, err)
	require.InDelta(t, 0.8, event.Severity, 1e-9)
}

func TestHarmonizeNegativeSeverityOutOfRange(t *testing.T) {
	_, err := Harmonize(RawEvent{FighterID: "RED", EventType: "STRIKE_JAB", Severity: -1}, models.SourceJudgeManual)
	require.Error(t, err)
	var hErr *errs.HarmonizationError
	require.ErrorAs(t, err, &hErr)
	require.Equal(t, errs.OutOfRange, hErr.Code)
}

func TestHarmonizeAssignsEventIDWhenAbsent(t *testing.T) {
	event, err := Harmonize(RawEvent{FighterID: "RED", EventType: "STRIKE_JAB", Confidence: 1.0}, models.SourceJudgeManual)
	require.NoError(t, err)
	require.NotEmpty(t, event.EventID)
}

func TestHarmonizeBatchPartitionsAcceptedAndRejected(t *testing.T) {
	raws := []RawEvent{
		{FighterID: "RED", EventType: "STRIKE_JAB", Confidence: 1.0},
		{FighterID: "RED", EventType: "bogus"},
		{FighterID: "BLUE", EventType: "STRIKE_CROSS", Confidence: 1.0},
	}
	accepted, rejected := HarmonizeBatch(raws, models.SourceJudgeManual)
	require.Len(t, accepted, 2)
	require.Len(t, rejected, 1)
}
