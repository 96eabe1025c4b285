// Package derive computes a reporting unit's public-facing health record
// from its recent heartbeat history. Every engine is a pure function:
// the same event window, previous record, and reference time always
// produce the same output, so replaying a recompute job is harmless.
package derive

import (
	"time"

	"github.com/pulsedir/beacon/internal/db"
)

// Confidence tiers, ordered green > yellow > red.
const (
	ConfidenceGreen  = "green"
	ConfidenceYellow = "yellow"
	ConfidenceRed    = "red"
)

// Params tunes the engines. Values are pulled from config and passed in
// explicitly; nothing here is ambient state.
type Params struct {
	// Window is how far back event history feeds the engines.
	Window time.Duration `toml:"window"`
	// FreshWindow is how recent the newest event must be for its status
	// to count as current evidence.
	FreshWindow time.Duration `toml:"fresh_window"`
	// StaleAfter is the age past which confidence drops to red.
	StaleAfter time.Duration `toml:"stale_after"`
	// CoverageCap bounds how much "observed online" time one heartbeat
	// vouches for.
	CoverageCap time.Duration `toml:"coverage_cap"`
	// MinEventsForQuality is the evidence floor below which the quality
	// score is absent rather than misleading.
	MinEventsForQuality int `toml:"min_events_for_quality"`
	// MinEventsForAnomaly is the history floor for spike detection.
	MinEventsForAnomaly int `toml:"min_events_for_anomaly"`
}

// DefaultParams returns engine settings tuned for agents reporting about
// once a minute.
func DefaultParams() Params {
	return Params{
		Window:              24 * time.Hour,
		FreshWindow:         5 * time.Minute,
		StaleAfter:          15 * time.Minute,
		CoverageCap:         5 * time.Minute,
		MinEventsForQuality: 12,
		MinEventsForAnomaly: 10,
	}
}

// Recompute runs the engines in their fixed order (status, confidence,
// uptime, quality, anomaly; later engines consume earlier outputs) and
// assembles the full health record for one unit. events must be the
// unit's window history in ascending received order; prev may be nil for
// a unit with no record yet.
func Recompute(params Params, events []db.HeartbeatEvent, prev *db.HealthRecord, now time.Time) db.HealthRecord {
	now = now.UTC()

	status := deriveStatus(params, events, now)
	confidence := deriveConfidence(params, events, now)
	uptime := deriveUptime(params, events, now)
	quality := deriveQuality(params, events, confidence, uptime)
	anomaly, anomalyAt := deriveAnomaly(params, events, prev)

	record := db.HealthRecord{
		Status:     status,
		Confidence: confidence,
		UptimePct:  uptime,
		Quality:    quality,
		Anomaly:    anomaly,
		AnomalyAt:  anomalyAt,
	}

	if len(events) > 0 {
		latest := events[len(events)-1]
		seen := latest.ReceivedAt.UTC()
		reported := latest.ReportedAt.UTC()
		record.LastSeenAt = &seen
		record.LastReportedAt = &reported
	} else if prev != nil {
		// No events left in the window: the last-seen timestamps are the
		// only memory of the unit ever having reported.
		record.LastSeenAt = prev.LastSeenAt
		record.LastReportedAt = prev.LastReportedAt
	}

	if len(events) > 0 {
		record.UnitID = events[0].UnitID
	} else if prev != nil {
		record.UnitID = prev.UnitID
	}

	return record
}
