package main

import (
	"context"
	"fmt"
	"time"

	"github.com/function61/doormonitor/pkg/dmclient"
	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/envvar"
	"github.com/function61/gokit/ossignal"
	"github.com/scylladb/termtables"
	"github.com/spf13/cobra"
)

func historyEntry() *cobra.Command {
	q := dmdomain.DefaultHistoryQuery()
	baseUrl := defaultBaseUrl()

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent alives and alerts",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(historyList(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				baseUrl,
				q))
		},
	}

	addUrlFlag(cmd, &baseUrl)
	cmd.Flags().IntVarP(&q.AlivesLimit, "alives", "", q.AlivesLimit, "How many alives to show")
	cmd.Flags().IntVarP(&q.AlertsLimit, "alerts", "", q.AlertsLimit, "How many alerts to show")

	return cmd
}

func historyList(ctx context.Context, baseUrl string, q dmdomain.HistoryQuery) error {
	client, err := clientFromEnv(baseUrl)
	if err != nil {
		return err
	}

	q.Alives = q.AlivesLimit > 0
	q.Alerts = q.AlertsLimit > 0

	history, err := client.History(ctx, q)
	if err != nil {
		return err
	}

	view := termtables.CreateTable()
	view.AddHeaders("Kind", "#", "Time")

	for _, events := range [][]dmdomain.Event{history.AliveEvents, history.AlertEvents} {
		for _, ev := range events {
			view.AddRow(string(ev.Kind), ev.Seq, ev.Timestamp.Local().Format(time.RFC3339))
		}
	}

	fmt.Println(view.Render())

	return nil
}

func clientFromEnv(baseUrl string) (*dmclient.Client, error) {
	user, err := envvar.Required("DM_USER")
	if err != nil {
		return nil, err
	}

	pass, err := envvar.Required("DM_PASS")
	if err != nil {
		return nil, err
	}

	return dmclient.New(baseUrl, user, pass), nil
}

func defaultBaseUrl() string {
	return stringFromEnv("DM_URL", "http://localhost:3000")
}

func addUrlFlag(cmd *cobra.Command, baseUrl *string) {
	cmd.Flags().StringVarP(baseUrl, "url", "u", *baseUrl, "Server base URL")
}
