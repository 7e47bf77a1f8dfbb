// Process-owned state of the door monitor: event logs, live subscribers and push devices.
// Handlers get an *App passed in; there are no package-level singletons.
package dmstate

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/doormonitor/pkg/eventlog"
	"github.com/function61/doormonitor/pkg/hub"
	"github.com/function61/doormonitor/pkg/liveness"
	"github.com/function61/doormonitor/pkg/pushnotify"
	"github.com/function61/gokit/logex"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	devicesFilename = "devices.json"

	// don't let a hung provider keep dispatch goroutines around forever
	dispatchTimeout = 30 * time.Second
)

// extra best-effort channel for alerts, in addition to device push (e.g. an SNS topic)
type AlertPublisherFn func(ctx context.Context, ev dmdomain.Event) error

type Config struct {
	DataDir        string
	Location       *time.Location
	PushSender     pushnotify.Sender
	AlertPublisher AlertPublisherFn // optional
}

type App struct {
	Logs       *eventlog.Store
	Hub        *hub.Hub
	Devices    *pushnotify.Devices
	Dispatcher *pushnotify.Dispatcher
	Location   *time.Location
	Logger     *log.Logger

	alertPublisher AlertPublisherFn
	metrics        *metrics
	logl           *logex.Leveled
	dispatches     sync.WaitGroup
	recordMu       sync.Mutex // spans append + broadcast, so subscribers see events in log order
}

func New(conf Config, logger *log.Logger) (*App, error) {
	loc := conf.Location
	if loc == nil {
		loc = time.UTC
	}

	logs, err := eventlog.New(conf.DataDir, loc, prefixed("eventlog", logger))
	if err != nil {
		return nil, err
	}

	devices := pushnotify.NewDevices(DevicesPath(conf.DataDir))

	liveHub := hub.New()

	a := &App{
		Logs:           logs,
		Hub:            liveHub,
		Devices:        devices,
		Dispatcher:     pushnotify.NewDispatcher(devices, conf.PushSender, prefixed("pushnotify", logger)),
		Location:       loc,
		Logger:         logger,
		alertPublisher: conf.AlertPublisher,
		metrics: newMetrics(func() float64 {
			return float64(liveHub.Subscribers())
		}),
		logl: logex.Levels(logger),
	}

	liveHub.OnSkipped(a.metrics.broadcastSkipped.Inc)

	return a, nil
}

// append, then broadcast. the broadcast only happens for a successfully stored event.
// alerts additionally trigger push dispatch, which runs detached from the caller.
func (a *App) Record(kind dmdomain.Kind, now time.Time) (dmdomain.Event, error) {
	ev, delivered, err := a.appendAndBroadcast(kind, now)
	if err != nil {
		a.metrics.storageFailures.WithLabelValues(string(kind)).Inc()
		a.logl.Error.Printf("record %s: %v", kind, err)
		return dmdomain.Event{}, err
	}

	a.metrics.eventsRecorded.WithLabelValues(string(kind)).Inc()

	a.logl.Debug.Printf("%s #%d broadcast to %d subscriber(s)", kind, ev.Seq, delivered)

	if kind == dmdomain.KindAlert {
		a.dispatchDetached(ev)
	}

	return ev, nil
}

// appended before = broadcast before, across both kinds
func (a *App) appendAndBroadcast(kind dmdomain.Kind, now time.Time) (dmdomain.Event, int, error) {
	a.recordMu.Lock()
	defer a.recordMu.Unlock()

	ev, err := a.Logs.Append(kind, now)
	if err != nil {
		return dmdomain.Event{}, 0, err
	}

	return ev, a.Hub.Broadcast(dmdomain.NewLiveMessage(ev, a.Location)), nil
}

func (a *App) History(q dmdomain.HistoryQuery) (dmdomain.History, error) {
	alives := []dmdomain.Event{}
	alerts := []dmdomain.Event{}

	if q.Alives {
		var err error
		alives, err = a.Logs.ReadLast(dmdomain.KindAlive, q.AlivesLimit)
		if err != nil {
			return dmdomain.History{}, err
		}
	}

	if q.Alerts {
		var err error
		alerts, err = a.Logs.ReadLast(dmdomain.KindAlert, q.AlertsLimit)
		if err != nil {
			return dmdomain.History{}, err
		}
	}

	return dmdomain.NewHistory(alives, alerts, a.Location), nil
}

func (a *App) RegisterDevice(token string) (pushnotify.RegisterResult, error) {
	result, err := a.Devices.Register(token)
	if err != nil {
		return result, err
	}

	a.logl.Info.Printf("device %s: %s", token, result)

	return result, nil
}

func (a *App) LivenessStatus(now time.Time) (liveness.Status, error) {
	last, found, err := a.Logs.Last(dmdomain.KindAlive)
	if err != nil {
		return liveness.Status{}, err
	}

	if !found {
		return liveness.Derive(nil, now), nil
	}

	return liveness.Derive(&last.Timestamp, now), nil
}

// pushes an "offline" notification once per up->down edge
func (a *App) NotifyIfWentOffline(ctx context.Context, tr *liveness.Transition, now time.Time) (bool, error) {
	status, err := a.LivenessStatus(now)
	if err != nil {
		return false, err
	}

	if !tr.WentDown(status) {
		return false, nil
	}

	a.logl.Info.Printf("sensor went offline, last alive %d s ago", status.SecondsSince)

	result, err := a.Dispatcher.Dispatch(ctx, pushnotify.Notification{
		Title: "Door sensor offline",
		Body:  fmt.Sprintf("No alive signal for %s", time.Duration(status.SecondsSince)*time.Second),
	})
	if err != nil {
		return true, err
	}

	a.observeDispatch(result)

	return true, nil
}

func DevicesPath(dataDir string) string {
	return filepath.Join(dataDir, devicesFilename)
}

// for tests and graceful shutdown
func (a *App) WaitDispatches() {
	a.dispatches.Wait()
}

func (a *App) MetricsRegistry() *prometheus.Registry {
	return a.metrics.registry
}

func (a *App) dispatchDetached(ev dmdomain.Event) {
	a.dispatches.Add(1)

	go func() {
		defer a.dispatches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		result, err := a.Dispatcher.Dispatch(ctx, AlertNotification(ev, a.Location))
		if err != nil {
			a.logl.Error.Printf("dispatch alert #%d: %v", ev.Seq, err)
		} else {
			a.observeDispatch(result)
		}

		if a.alertPublisher != nil {
			if err := a.alertPublisher(ctx, ev); err != nil {
				a.logl.Error.Printf("publish alert #%d: %v", ev.Seq, err)
			}
		}
	}()
}

func (a *App) observeDispatch(result pushnotify.Result) {
	a.metrics.pushBatches.Add(float64(result.Batches))
	a.metrics.pushBatchFailures.Add(float64(result.FailedBatches))
}

func AlertNotification(ev dmdomain.Event, loc *time.Location) pushnotify.Notification {
	return pushnotify.Notification{
		Title: "Door alert",
		Body:  "Door opened at " + ev.Display(loc),
	}
}

// nil logger (tests) stays nil, logex.Levels() turns it into a discard logger
func prefixed(prefix string, logger *log.Logger) *log.Logger {
	if logger == nil {
		return nil
	}

	return logex.Prefix(prefix, logger)
}
