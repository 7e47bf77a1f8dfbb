package dmclient

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/doormonitor/pkg/liveness"
	"github.com/function61/gokit/logex"
)

type State int

const (
	StateInitial State = iota
	StateSynced
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateSynced:
		return "synced"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// fixed pause before a reconnect attempt, no backoff
const DefaultReconnectDelay = 1 * time.Second

type Source interface {
	History(ctx context.Context, q dmdomain.HistoryQuery) (*dmdomain.History, error)
	Subscribe(ctx context.Context) (Feed, error)
}

// Session keeps in-memory tails of both logs in sync with the server: one history fetch per
// (re)connect, then incremental live events. events are merged by sequence number so an
// event seen both in the history response and on the live channel is kept once.
type Session struct {
	source         Source
	query          dmdomain.HistoryQuery
	ReconnectDelay time.Duration
	logl           *logex.Leveled

	mu     sync.Mutex
	state  State
	alives []dmdomain.Event
	alerts []dmdomain.Event
}

func NewSession(source Source, query dmdomain.HistoryQuery, logger *log.Logger) *Session {
	return &Session{
		source:         source,
		query:          query,
		ReconnectDelay: DefaultReconnectDelay,
		logl:           logex.Levels(logger),
		state:          StateInitial,
		alives:         []dmdomain.Event{},
		alerts:         []dmdomain.Event{},
	}
}

// runs until ctx is cancelled
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.syncAndFollow(ctx); err != nil {
			s.logl.Error.Printf("sync: %v", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateReconnecting)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.ReconnectDelay):
		}
	}
}

// subscribe before fetching history so nothing recorded during the fetch is lost. the
// overlap is taken care of by merge().
func (s *Session) syncAndFollow(ctx context.Context) error {
	feed, err := s.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer feed.Close()

	// unblock Next() on cancellation
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			feed.Close()
		case <-stop:
		}
	}()

	history, err := s.source.History(ctx, s.query)
	if err != nil {
		return err
	}

	s.ApplyHistory(*history)

	s.setState(StateLive)

	for {
		msg, err := feed.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.ApplyLive(msg)
	}
}

func (s *Session) ApplyHistory(history dmdomain.History) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.query.Alives {
		s.alives = merge(s.alives, history.AliveEvents, s.query.AlivesLimit)
	}
	if s.query.Alerts {
		s.alerts = merge(s.alerts, history.AlertEvents, s.query.AlertsLimit)
	}

	s.state = StateSynced
}

func (s *Session) ApplyLive(msg dmdomain.LiveMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := msg.AsEvent()

	switch ev.Kind {
	case dmdomain.KindAlive:
		if s.query.Alives {
			s.alives = merge(s.alives, []dmdomain.Event{ev}, s.query.AlivesLimit)
		}
	case dmdomain.KindAlert:
		if s.query.Alerts {
			s.alerts = merge(s.alerts, []dmdomain.Event{ev}, s.query.AlertsLimit)
		}
	default:
		s.logl.Error.Printf("unknown live message type: %s", msg.Type)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Alives() []dmdomain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]dmdomain.Event{}, s.alives...)
}

func (s *Session) Alerts() []dmdomain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]dmdomain.Event{}, s.alerts...)
}

// re-evaluate this every second while displayed, "now" moves without new events
func (s *Session) Status(now time.Time) liveness.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.alives) == 0 {
		return liveness.Derive(nil, now)
	}

	last := s.alives[len(s.alives)-1].Timestamp

	return liveness.Derive(&last, now)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

// union of both, de-duplicated, ordered by sequence and trimmed to the newest limit events
func merge(existing []dmdomain.Event, incoming []dmdomain.Event, limit int) []dmdomain.Event {
	byKey := map[int64]dmdomain.Event{}

	for _, ev := range existing {
		byKey[dedupKey(ev)] = ev
	}
	for _, ev := range incoming {
		byKey[dedupKey(ev)] = ev
	}

	merged := []dmdomain.Event{}
	for _, ev := range byKey {
		merged = append(merged, ev)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Seq != merged[j].Seq {
			return merged[i].Seq < merged[j].Seq
		}
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	if limit < 0 {
		limit = 0
	}
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}

	return merged
}

// older servers don't send sequence numbers, the instant is the next best identity
func dedupKey(ev dmdomain.Event) int64 {
	if ev.Seq > 0 {
		return ev.Seq
	}

	return -ev.Timestamp.UnixNano()
}
