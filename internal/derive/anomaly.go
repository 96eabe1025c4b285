package derive

import (
	"math"
	"time"

	"github.com/pulsedir/beacon/internal/db"
)

// deriveAnomaly flags a player-count spike: the newest sample sitting
// far above the mean of the history before it. Detection is best effort
// and purely statistical; with thin history the flag stays down and any
// previous anomaly timestamp is retained for the record.
func deriveAnomaly(params Params, events []db.HeartbeatEvent, prev *db.HealthRecord) (bool, *time.Time) {
	var prevAt *time.Time
	if prev != nil {
		prevAt = prev.AnomalyAt
	}

	samples := make([]float64, 0, len(events))
	var latest *db.HeartbeatEvent
	for i := range events {
		if events[i].PlayerCount == nil {
			continue
		}
		samples = append(samples, float64(*events[i].PlayerCount))
		latest = &events[i]
	}
	if len(samples) < params.MinEventsForAnomaly || latest == nil {
		return false, prevAt
	}

	history := samples[:len(samples)-1]
	current := samples[len(samples)-1]

	var sum float64
	for _, s := range history {
		sum += s
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, s := range history {
		d := s - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(history)))

	// The absolute floor keeps a jump from 0 to 3 players on a dead
	// server from tripping the detector.
	threshold := mean + 4*stddev + 5
	if current <= threshold {
		return false, prevAt
	}

	at := latest.ReceivedAt.UTC()
	return true, &at
}
