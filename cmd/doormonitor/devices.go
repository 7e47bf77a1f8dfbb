package main

import (
	"context"
	"fmt"

	"github.com/function61/doormonitor/pkg/dmstate"
	"github.com/function61/doormonitor/pkg/pushnotify"
	"github.com/function61/gokit/ossignal"
	"github.com/scylladb/termtables"
	"github.com/spf13/cobra"
)

func deviceEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage push notification devices",
	}

	baseUrl := defaultBaseUrl()

	register := &cobra.Command{
		Use:   "register [token]",
		Short: "Register a device for alert push notifications",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(deviceRegister(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				baseUrl,
				args[0]))
		},
	}

	addUrlFlag(register, &baseUrl)

	cmd.AddCommand(register)

	dataDir := stringFromEnv("DM_DATA_DIR", "logs")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List registered devices (reads the server's data directory)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(deviceList(dataDir))
		},
	}

	ls.Flags().StringVarP(&dataDir, "data-dir", "d", dataDir, "Server data directory")

	cmd.AddCommand(ls)

	return cmd
}

func deviceRegister(ctx context.Context, baseUrl string, token string) error {
	// fail fast instead of bothering the server
	if err := pushnotify.ValidateToken(token); err != nil {
		return err
	}

	client, err := clientFromEnv(baseUrl)
	if err != nil {
		return err
	}

	response, err := client.Register(ctx, token)
	if err != nil {
		return err
	}

	fmt.Println(response)

	return nil
}

func deviceList(dataDir string) error {
	tokens, err := pushnotify.NewDevices(dmstate.DevicesPath(dataDir)).List()
	if err != nil {
		return err
	}

	view := termtables.CreateTable()
	view.AddHeaders("#", "Token")

	for i, token := range tokens {
		view.AddRow(i+1, token)
	}

	fmt.Println(view.Render())

	return nil
}
