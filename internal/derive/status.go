package derive

import (
	"time"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/envelope"
)

// deriveStatus picks the effective status from the most recent event. A
// fresh signed report always wins; with no event inside the fresh window
// the status degrades to unknown, never to offline. Absence of evidence
// is not evidence of absence.
func deriveStatus(params Params, events []db.HeartbeatEvent, now time.Time) string {
	if len(events) == 0 {
		return envelope.StatusUnknown
	}

	latest := events[len(events)-1]
	if now.Sub(latest.ReceivedAt.UTC()) > params.FreshWindow {
		return envelope.StatusUnknown
	}

	return latest.Status
}
