// Derives the sensor's up/down status from how long ago it last said it was alive
package liveness

import (
	"time"
)

// absence of an alive signal for this long means the sensor is down
const Threshold = 120 * time.Second

type Status struct {
	Known        bool  `json:"known"` // false if no alive was ever recorded
	Up           bool  `json:"up"`
	SecondsSince int64 `json:"seconds_since_last_alive"`
}

// pure function. needs to be re-evaluated periodically since "now" advances on its own.
func Derive(lastAlive *time.Time, now time.Time) Status {
	if lastAlive == nil || lastAlive.IsZero() {
		return Status{}
	}

	secondsSince := floorSeconds(now.Sub(*lastAlive))

	return Status{
		Known:        true,
		Up:           secondsSince < int64(Threshold/time.Second),
		SecondsSince: secondsSince,
	}
}

// rounds toward negative infinity, so a last alive slightly in the future (clock skew)
// gives -1 rather than 0
func floorSeconds(d time.Duration) int64 {
	seconds := int64(d / time.Second)
	if d%time.Second < 0 {
		seconds--
	}

	return seconds
}

func (s Status) String() string {
	switch {
	case !s.Known:
		return "unknown"
	case s.Up:
		return "up"
	default:
		return "down"
	}
}

// Transition tracks status changes across evaluations so a caller can act once per
// up->down edge instead of on every tick
type Transition struct {
	last Status
}

// returns true only on the evaluation where the status first turns down
func (t *Transition) WentDown(current Status) bool {
	wentDown := current.Known && !current.Up && (!t.last.Known || t.last.Up)

	t.last = current

	return wentDown
}
