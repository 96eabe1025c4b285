package derive

import (
	"math"

	"github.com/pulsedir/beacon/internal/db"
)

// activityReference is the average player count that earns full marks on
// the activity component of the quality score.
const activityReference = 100.0

// deriveQuality blends uptime, player activity, and confidence into a
// single 0-100 score. With fewer events than the evidence floor the
// score is absent (nil), never a misleading low number. Each component
// is monotone: improving any input never lowers the score.
func deriveQuality(params Params, events []db.HeartbeatEvent, confidence string, uptimePct float64) *int {
	if len(events) < params.MinEventsForQuality {
		return nil
	}

	uptimeComponent := uptimePct / 100

	var playerSum, playerSamples float64
	for _, ev := range events {
		if ev.PlayerCount == nil {
			continue
		}
		playerSum += float64(*ev.PlayerCount)
		playerSamples++
	}
	activityComponent := 0.0
	if playerSamples > 0 {
		avg := playerSum / playerSamples
		// Log scale so small servers are not crushed by the reference size.
		activityComponent = math.Log1p(avg) / math.Log1p(activityReference)
		if activityComponent > 1 {
			activityComponent = 1
		}
	}

	confidenceComponent := 0.2
	switch confidence {
	case ConfidenceGreen:
		confidenceComponent = 1.0
	case ConfidenceYellow:
		confidenceComponent = 0.6
	}

	score := int(math.Round(100 * (0.5*uptimeComponent + 0.3*activityComponent + 0.2*confidenceComponent)))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return &score
}
