package dmdomain

import (
	"time"
)

// pushed over the live channel on every recorded event. "type" and "body" are what the
// mobile app has always consumed, "seq" and "at" let newer clients de-duplicate.
type LiveMessage struct {
	Type Kind      `json:"type"`
	Body string    `json:"body"`
	Seq  int64     `json:"seq"`
	At   time.Time `json:"at"`
}

func NewLiveMessage(ev Event, loc *time.Location) LiveMessage {
	return LiveMessage{
		Type: ev.Kind,
		Body: ev.Display(loc),
		Seq:  ev.Seq,
		At:   ev.Timestamp,
	}
}

func (l LiveMessage) AsEvent() Event {
	return Event{
		Kind:      l.Type,
		Seq:       l.Seq,
		Timestamp: l.At,
	}
}

// response of the history query
type History struct {
	Alives      []string `json:"alives"`
	Alerts      []string `json:"alerts"`
	AliveEvents []Event  `json:"alive_events"`
	AlertEvents []Event  `json:"alert_events"`
}

func NewHistory(alives []Event, alerts []Event, loc *time.Location) History {
	displays := func(events []Event) []string {
		out := []string{}
		for _, ev := range events {
			out = append(out, ev.Display(loc))
		}
		return out
	}

	if alives == nil {
		alives = []Event{}
	}
	if alerts == nil {
		alerts = []Event{}
	}

	return History{
		Alives:      displays(alives),
		Alerts:      displays(alerts),
		AliveEvents: alives,
		AlertEvents: alerts,
	}
}

// query for the history endpoint. zero value is not the default, use DefaultHistoryQuery()
type HistoryQuery struct {
	Alives      bool
	AlivesLimit int
	Alerts      bool
	AlertsLimit int
}

func DefaultHistoryQuery() HistoryQuery {
	return HistoryQuery{
		Alives:      true,
		AlivesLimit: 1,
		Alerts:      true,
		AlertsLimit: 10,
	}
}
