package derive

import (
	"time"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/envelope"
)

// deriveUptime computes the percentage of the window the unit was
// observed online. Each online heartbeat vouches for the stretch until
// the next event, capped at CoverageCap so a lone report before a long
// silence cannot claim hours of uptime.
func deriveUptime(params Params, events []db.HeartbeatEvent, now time.Time) float64 {
	if len(events) == 0 {
		return 0
	}

	windowStart := now.Add(-params.Window)
	windowEnd := now

	var covered time.Duration
	for i, ev := range events {
		if ev.Status != envelope.StatusOnline {
			continue
		}

		from := ev.ReceivedAt.UTC()
		if from.Before(windowStart) {
			from = windowStart
		}

		until := from.Add(params.CoverageCap)
		if i+1 < len(events) {
			next := events[i+1].ReceivedAt.UTC()
			if next.Before(until) {
				until = next
			}
		}
		if until.After(windowEnd) {
			until = windowEnd
		}

		if until.After(from) {
			covered += until.Sub(from)
		}
	}

	pct := 100 * float64(covered) / float64(windowEnd.Sub(windowStart))
	if pct > 100 {
		pct = 100
	}
	return pct
}
