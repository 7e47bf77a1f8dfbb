// Structure of data for recorded door sensor signals
package dmdomain

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindAlive Kind = "alive"
	KindAlert Kind = "alert"
)

var Kinds = []Kind{KindAlive, KindAlert}

func ParseKind(input string) (Kind, error) {
	switch Kind(input) {
	case KindAlive, KindAlert:
		return Kind(input), nil
	default:
		return "", fmt.Errorf("unknown kind: %s", input)
	}
}

const (
	// how the sensor's home clock shows a timestamp, e.g. "01/01/2024 10:00:00"
	DisplayLayout = "02/01/2006 15:04:05"

	DefaultTimezone = "America/Sao_Paulo"
)

// Event is one line of a kind's log. Immutable once appended.
type Event struct {
	Kind      Kind      `json:"kind"`
	Seq       int64     `json:"seq"` // 1-based line number in the kind's log
	Timestamp time.Time `json:"at"`
}

func (e Event) Display(loc *time.Location) string {
	return FormatDisplay(e.Timestamp, loc)
}

func FormatDisplay(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return ts.In(loc).Format(DisplayLayout)
}

// serialized form of a log line. the display string is never stored, it's derived.
func FormatLine(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// accepts the current RFC 3339 line format and the legacy display format the older
// server wrote (which carries no zone, so we interpret it in loc)
func ParseLine(line string, loc *time.Location) (time.Time, error) {
	line = strings.TrimSpace(line)

	if ts, err := time.Parse(time.RFC3339Nano, line); err == nil {
		return ts, nil
	}

	if loc == nil {
		loc = time.UTC
	}

	ts, err := time.ParseInLocation(DisplayLayout, line, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", line)
	}

	return ts, nil
}

func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %s: %w", name, err)
	}

	return loc, nil
}
