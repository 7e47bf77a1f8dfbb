package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/gorilla/websocket"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the mobile app doesn't send a meaningful Origin
	},
}

// server pushes one JSON message per recorded event. nothing is required from the client;
// if enabled, the legacy "alive" / "alert" text commands record a signal.
func (a *restApi) handleLiveChannel(w http.ResponseWriter, r *http.Request) {
	// subscribe before the handshake completes so that the client, once connected, can't
	// miss an event recorded right after
	sub := a.app.Hub.Subscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.app.Hub.Unsubscribe(sub)
		a.logl.Error.Printf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	a.logl.Debug.Printf("client connected: %s", r.RemoteAddr)

	go func() {
		defer a.app.Hub.Unsubscribe(sub)

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				a.logl.Debug.Printf("client disconnected: %s (%v)", r.RemoteAddr, err)
				return
			}

			a.handleLiveCommand(strings.TrimSpace(string(message)))
		}
	}()

	for msg := range sub.Messages() {
		if err := conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout)); err != nil {
			break
		}

		if err := conn.WriteJSON(msg); err != nil {
			a.logl.Error.Printf("write to %s: %v", r.RemoteAddr, err)
			break
		}
	}

	a.app.Hub.Unsubscribe(sub)
}

func (a *restApi) handleLiveCommand(command string) {
	if !a.conf.WsCommands {
		a.logl.Debug.Printf("ignoring live channel command %q", command)
		return
	}

	kind, err := dmdomain.ParseKind(command)
	if err != nil {
		a.logl.Error.Printf("live channel command: %v", err)
		return
	}

	if _, err := a.app.Record(kind, a.now()); err != nil {
		a.logl.Error.Printf("live channel command %s: %v", kind, err)
	}
}
