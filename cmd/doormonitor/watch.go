package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/function61/doormonitor/pkg/dmclient"
	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/spf13/cobra"
)

func watchEntry() *cobra.Command {
	q := dmdomain.HistoryQuery{
		Alives:      true,
		AlivesLimit: 5,
		Alerts:      true,
		AlertsLimit: 20,
	}
	baseUrl := defaultBaseUrl()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the sensor live, like the mobile app does",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := logex.StandardLogger()

			exitIfError(watch(
				ossignal.InterruptOrTerminateBackgroundCtx(logger),
				baseUrl,
				q,
				os.Stdout))
		},
	}

	addUrlFlag(cmd, &baseUrl)
	cmd.Flags().IntVarP(&q.AlertsLimit, "alerts", "", q.AlertsLimit, "How many alerts to keep on screen")

	return cmd
}

func watch(ctx context.Context, baseUrl string, q dmdomain.HistoryQuery, out io.Writer) error {
	client, err := clientFromEnv(baseUrl)
	if err != nil {
		return err
	}

	// session errors would garble the screen
	sess := dmclient.NewSession(client, q, nil)

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- sess.Run(ctx)
	}()

	// status depends on wall clock, so redraw every second even without new events
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-sessionDone:
			return err
		case now := <-ticker.C:
			fmt.Fprint(out, "\033[H\033[2J") // clear screen
			fmt.Fprint(out, renderWatchScreen(sess, now, time.Local))
		}
	}
}

func renderWatchScreen(sess *dmclient.Session, now time.Time, loc *time.Location) string {
	lines := []string{}

	status := sess.Status(now)
	if status.Known {
		lines = append(lines, fmt.Sprintf("Sensor: %s (last alive %d s ago)", status, status.SecondsSince))
	} else {
		lines = append(lines, "Sensor: no alive signal yet")
	}
	lines = append(lines, "Connection: "+sess.State().String(), "", "Alives")

	for _, ev := range sess.Alives() {
		lines = append(lines, "  "+ev.Display(loc))
	}

	lines = append(lines, "", "Alerts")

	for _, ev := range sess.Alerts() {
		lines = append(lines, "  "+ev.Display(loc))
	}

	return strings.Join(lines, "\n") + "\n"
}
