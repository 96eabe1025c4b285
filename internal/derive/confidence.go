package derive

import (
	"time"

	"github.com/pulsedir/beacon/internal/db"
)

// deriveConfidence grades how much the current status should be trusted.
// Green needs a fresh latest event plus a consistent trail behind it;
// red means the unit has gone quiet past the stale threshold. More
// evidence never lowers the tier.
func deriveConfidence(params Params, events []db.HeartbeatEvent, now time.Time) string {
	if len(events) == 0 {
		return ConfidenceRed
	}

	latest := events[len(events)-1]
	age := now.Sub(latest.ReceivedAt.UTC())

	if age > params.StaleAfter {
		return ConfidenceRed
	}
	if age > params.FreshWindow {
		return ConfidenceYellow
	}

	// Fresh, but a single report after a long silence is still thin
	// evidence. Require a trail within the last hour to call it green.
	trailStart := now.Add(-time.Hour)
	trail := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ReceivedAt.UTC().Before(trailStart) {
			break
		}
		trail++
	}
	if trail >= 5 {
		return ConfidenceGreen
	}

	return ConfidenceYellow
}
