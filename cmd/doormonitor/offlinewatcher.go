package main

import (
	"context"
	"log"
	"time"

	"github.com/function61/doormonitor/pkg/dmstate"
	"github.com/function61/doormonitor/pkg/liveness"
	"github.com/function61/gokit/logex"
)

const offlineCheckInterval = 1 * time.Minute

// like a dead man's switch: the sensor is expected to check in with an alive signal, and
// when it stops doing so, devices get one push notification (re-armed by the next alive)
func runOfflineWatcher(ctx context.Context, app *dmstate.App, interval time.Duration, logger *log.Logger) error {
	logl := logex.Levels(logger)

	transition := &liveness.Transition{}

	check := func(now time.Time) {
		notified, err := app.NotifyIfWentOffline(ctx, transition, now)
		if err != nil {
			logl.Error.Printf("check: %v", err)
			return
		}

		if notified {
			logl.Info.Println("offline notification sent")
		}
	}

	check(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			check(now)
		}
	}
}
