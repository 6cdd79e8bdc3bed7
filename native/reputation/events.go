package reputation

import (
	"encoding/hex"
	"strconv"

	"veilmarket/core/types"
)

const (
	// EventTypeScoreUpdated is emitted whenever a plaintext score changes.
	EventTypeScoreUpdated = "reputation.scoreUpdated"
	// EventTypeScoreApplied is emitted when an externally computed private
	// score clears a pending record.
	EventTypeScoreApplied = "reputation.scoreApplied"
)

// NewScoreUpdatedEvent returns the canonical payload for a score change.
func NewScoreUpdatedEvent(rec *Record) *types.Event {
	return newRecordEvent(EventTypeScoreUpdated, rec)
}

// NewScoreAppliedEvent returns the canonical payload emitted when a private
// score result is applied.
func NewScoreAppliedEvent(rec *Record) *types.Event {
	return newRecordEvent(EventTypeScoreApplied, rec)
}

func newRecordEvent(eventType string, rec *Record) *types.Event {
	attrs := make(map[string]string)
	if rec == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["user"] = hex.EncodeToString(rec.User[:])
	attrs["totalOrders"] = strconv.FormatUint(rec.TotalOrders, 10)
	attrs["successfulOrders"] = strconv.FormatUint(rec.SuccessfulOrders, 10)
	attrs["disputesWon"] = strconv.FormatUint(rec.DisputesWon, 10)
	attrs["disputesLost"] = strconv.FormatUint(rec.DisputesLost, 10)
	attrs["score"] = strconv.FormatUint(rec.Score, 10)
	attrs["scorePending"] = strconv.FormatBool(rec.ScorePending)
	return &types.Event{Type: eventType, Attributes: attrs}
}
