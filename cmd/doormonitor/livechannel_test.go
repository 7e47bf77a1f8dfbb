package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/function61/doormonitor/pkg/dmclient"
	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/assert"
	"github.com/gorilla/websocket"
)

func TestLiveChannelReceivesRecordedEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed, err := dmclient.New(env.server.URL, "user", "pass").Subscribe(ctx)
	assert.Ok(t, err)
	defer feed.Close()

	assert.Assert(t, env.app.Hub.Subscribers() == 1)

	code, _ := env.get("/alive?user=user&pass=pass")
	assert.Assert(t, code == 200)
	env.clock.advance(time.Second)
	code, _ = env.get("/alert?user=user&pass=pass")
	assert.Assert(t, code == 200)

	first, err := feed.Next()
	assert.Ok(t, err)
	assert.EqualJson(t, first, `{
  "type": "alive",
  "body": "01/01/2024 10:00:00",
  "seq": 1,
  "at": "2024-01-01T13:00:00Z"
}`)

	second, err := feed.Next()
	assert.Ok(t, err)
	assert.Assert(t, second.Type == dmdomain.KindAlert)
	assert.EqualString(t, second.Body, "01/01/2024 10:00:01")

	env.app.WaitDispatches()
}

func TestFeedCloseFromManyGoroutines(t *testing.T) {
	env := newTestEnv(t, nil)

	feed, err := dmclient.New(env.server.URL, "user", "pass").Subscribe(context.Background())
	assert.Ok(t, err)

	closers := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		closers.Add(1)
		go func() {
			defer closers.Done()
			_ = feed.Close()
		}()
	}
	closers.Wait()

	_, err = feed.Next()
	assert.Assert(t, err != nil)
}

func TestLiveChannelRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := dmclient.New(env.server.URL, "user", "wrong").Subscribe(context.Background())
	assert.Assert(t, err != nil)
	assert.Assert(t, strings.Contains(err.Error(), "403 Forbidden"))

	assert.Assert(t, env.app.Hub.Subscribers() == 0)
}

func TestLiveChannelCommands(t *testing.T) {
	env := newTestEnv(t, func(conf *config) {
		conf.WsCommands = true
	})

	conn := dialLive(t, env)

	// the sender is a subscriber too, so it sees its own signal come back
	assert.Ok(t, conn.WriteMessage(websocket.TextMessage, []byte("alive\n")))

	msg := dmdomain.LiveMessage{}
	assert.Ok(t, conn.ReadJSON(&msg))
	assert.Assert(t, msg.Type == dmdomain.KindAlive)
	assert.Assert(t, msg.Seq == 1)

	last, found, err := env.app.Logs.Last(dmdomain.KindAlive)
	assert.Ok(t, err)
	assert.Assert(t, found)
	assert.Assert(t, last.Timestamp.Equal(t0))
}

func TestLiveChannelCommandsDisabledByDefault(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := dialLive(t, env)

	assert.Ok(t, conn.WriteMessage(websocket.TextMessage, []byte("alert")))

	code, _ := env.get("/alive?user=user&pass=pass")
	assert.Assert(t, code == 200)

	msg := dmdomain.LiveMessage{}
	assert.Ok(t, conn.ReadJSON(&msg))
	assert.Assert(t, msg.Type == dmdomain.KindAlive)

	alerts, err := env.app.Logs.ReadLast(dmdomain.KindAlert, 10)
	assert.Ok(t, err)
	assert.Assert(t, len(alerts) == 0)
}

func TestLiveChannelUnsubscribesOnDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := dialLive(t, env)
	assert.Assert(t, env.app.Hub.Subscribers() == 1)

	assert.Ok(t, conn.Close())

	deadline := time.Now().Add(5 * time.Second)
	for env.app.Hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// recording with nobody listening is fine
	code, _ := env.get("/alert?user=user&pass=pass")
	assert.Assert(t, code == 200)
	env.app.WaitDispatches()
}

func dialLive(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	wsUrl := "ws://" + strings.TrimPrefix(env.server.URL, "http://") + "/ws?user=user&pass=pass"

	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	assert.Ok(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}
