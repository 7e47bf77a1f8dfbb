package main

import (
	"context"
	"fmt"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/ossignal"
	"github.com/spf13/cobra"
)

// what the sensor firmware does, handy for testing without hardware
func pingEntry() *cobra.Command {
	baseUrl := defaultBaseUrl()

	cmd := &cobra.Command{
		Use:   "ping [alive|alert]",
		Short: "Send a signal as if you were the sensor",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			kind, err := dmdomain.ParseKind(args[0])
			exitIfError(err)

			exitIfError(ping(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				baseUrl,
				kind))
		},
	}

	addUrlFlag(cmd, &baseUrl)

	return cmd
}

func ping(ctx context.Context, baseUrl string, kind dmdomain.Kind) error {
	client, err := clientFromEnv(baseUrl)
	if err != nil {
		return err
	}

	response, err := client.Record(ctx, kind)
	if err != nil {
		return err
	}

	fmt.Println(response)

	return nil
}
