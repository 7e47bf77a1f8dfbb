package dmstate

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/doormonitor/pkg/liveness"
	"github.com/function61/doormonitor/pkg/pushnotify"
	"github.com/function61/gokit/assert"
)

var t0 = time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)

func TestRecordAliveThenHistory(t *testing.T) {
	app, _ := newTestApp(t, nil)

	for i := 0; i < 4; i++ {
		_, err := app.Record(dmdomain.KindAlive, t0.Add(time.Duration(i)*time.Minute))
		assert.Ok(t, err)
	}

	history, err := app.History(dmdomain.HistoryQuery{
		Alives:      true,
		AlivesLimit: 1,
		Alerts:      true,
		AlertsLimit: 10,
	})
	assert.Ok(t, err)

	assert.EqualJson(t, history, `{
  "alives": [
    "01/01/2024 10:03:00"
  ],
  "alerts": [],
  "alive_events": [
    {
      "kind": "alive",
      "seq": 4,
      "at": "2024-01-01T13:03:00Z"
    }
  ],
  "alert_events": []
}`)

	history, err = app.History(dmdomain.HistoryQuery{Alives: true, AlivesLimit: 3})
	assert.Ok(t, err)
	assert.EqualJson(t, history.Alives, `[
  "01/01/2024 10:01:00",
  "01/01/2024 10:02:00",
  "01/01/2024 10:03:00"
]`)
}

func TestRecordBroadcastsToConnectedSubscribers(t *testing.T) {
	app, _ := newTestApp(t, nil)

	sub := app.Hub.Subscribe()
	defer app.Hub.Unsubscribe(sub)

	_, err := app.Record(dmdomain.KindAlive, t0)
	assert.Ok(t, err)

	assert.EqualJson(t, <-sub.Messages(), `{
  "type": "alive",
  "body": "01/01/2024 10:00:00",
  "seq": 1,
  "at": "2024-01-01T13:00:00Z"
}`)
}

func TestConcurrentRecordsReachSubscribersInLogOrder(t *testing.T) {
	app, _ := newTestApp(t, nil)

	sub := app.Hub.Subscribe()

	received := make(chan []int64, 1)
	go func() {
		seqs := []int64{}
		for msg := range sub.Messages() {
			seqs = append(seqs, msg.Seq)
		}
		received <- seqs
	}()

	recorders := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		recorders.Add(1)
		go func(i int) {
			defer recorders.Done()

			_, err := app.Record(dmdomain.KindAlive, t0.Add(time.Duration(i)*time.Second))
			assert.Ok(t, err)
		}(i)
	}
	recorders.Wait()

	app.Hub.Unsubscribe(sub)

	seqs := <-received
	assert.Assert(t, len(seqs) > 0)

	// a slow reader may get some skipped, but never out of order
	for i := 1; i < len(seqs); i++ {
		assert.Assert(t, seqs[i] > seqs[i-1])
	}
}

func TestRecordAlertDispatchesAndPublishes(t *testing.T) {
	var publishedSeq int64
	app, sender := newTestApp(t, func(_ context.Context, ev dmdomain.Event) error {
		publishedSeq = ev.Seq
		return nil
	})

	_, err := app.RegisterDevice("ExponentPushToken[phone]")
	assert.Ok(t, err)

	_, err = app.Record(dmdomain.KindAlert, t0)
	assert.Ok(t, err)

	app.WaitDispatches()

	assert.EqualJson(t, sender.sent(), `[
  {
    "to": "ExponentPushToken[phone]",
    "title": "Door alert",
    "body": "Door opened at 01/01/2024 10:00:00",
    "sound": "default"
  }
]`)
	assert.Assert(t, publishedSeq == 1)
}

func TestAliveDoesNotDispatch(t *testing.T) {
	app, sender := newTestApp(t, nil)

	_, err := app.RegisterDevice("ExponentPushToken[phone]")
	assert.Ok(t, err)

	_, err = app.Record(dmdomain.KindAlive, t0)
	assert.Ok(t, err)

	app.WaitDispatches()

	assert.Assert(t, len(sender.sent()) == 0)
}

func TestDispatchFailureDoesNotFailRecord(t *testing.T) {
	app, sender := newTestApp(t, nil)
	sender.err = errors.New("provider down")

	_, err := app.RegisterDevice("ExponentPushToken[phone]")
	assert.Ok(t, err)

	ev, err := app.Record(dmdomain.KindAlert, t0)
	assert.Ok(t, err)
	assert.Assert(t, ev.Seq == 1)

	app.WaitDispatches()
}

func TestLivenessStatus(t *testing.T) {
	app, _ := newTestApp(t, nil)

	status, err := app.LivenessStatus(t0)
	assert.Ok(t, err)
	assert.EqualString(t, status.String(), "unknown")

	_, err = app.Record(dmdomain.KindAlive, t0)
	assert.Ok(t, err)

	status, err = app.LivenessStatus(t0.Add(60 * time.Second))
	assert.Ok(t, err)
	assert.EqualString(t, status.String(), "up")
	assert.Assert(t, status.SecondsSince == 60)

	status, err = app.LivenessStatus(t0.Add(121 * time.Second))
	assert.Ok(t, err)
	assert.EqualString(t, status.String(), "down")
}

func TestNotifyIfWentOffline(t *testing.T) {
	app, sender := newTestApp(t, nil)

	_, err := app.RegisterDevice("ExponentPushToken[phone]")
	assert.Ok(t, err)
	_, err = app.Record(dmdomain.KindAlive, t0)
	assert.Ok(t, err)

	tr := &liveness.Transition{}
	ctx := context.Background()

	notifiedAtT0Plus := func(plus time.Duration) bool {
		notified, err := app.NotifyIfWentOffline(ctx, tr, t0.Add(plus))
		assert.Ok(t, err)
		return notified
	}

	assert.Assert(t, !notifiedAtT0Plus(time.Minute))
	assert.Assert(t, notifiedAtT0Plus(2*time.Minute))
	assert.Assert(t, !notifiedAtT0Plus(3*time.Minute))

	assert.Assert(t, len(sender.sent()) == 1)
	assert.EqualString(t, sender.sent()[0].Body, "No alive signal for 2m0s")
}

func newTestApp(t *testing.T, publisher AlertPublisherFn) (*App, *fakeSender) {
	t.Helper()

	dir, err := ioutil.TempDir("", "dmstate")
	assert.Ok(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	saoPaulo, err := dmdomain.LoadLocation("America/Sao_Paulo")
	assert.Ok(t, err)

	sender := &fakeSender{}

	app, err := New(Config{
		DataDir:        dir,
		Location:       saoPaulo,
		PushSender:     sender,
		AlertPublisher: publisher,
	}, nil)
	assert.Ok(t, err)

	return app, sender
}

type fakeSender struct {
	mu       sync.Mutex
	messages []pushnotify.Message
	err      error
}

func (f *fakeSender) Send(_ context.Context, batch []pushnotify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.messages = append(f.messages, batch...)
	return nil
}

func (f *fakeSender) sent() []pushnotify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]pushnotify.Message{}, f.messages...)
}
