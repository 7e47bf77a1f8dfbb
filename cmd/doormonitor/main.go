package main

import (
	"fmt"
	"log"
	"os"

	"github.com/function61/doormonitor/pkg/dmstate"
	"github.com/function61/doormonitor/pkg/pushnotify"
	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/spf13/cobra"
)

func main() {
	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Door sensor monitor",
		Version: dynversion.Version,
	}

	app.AddCommand(serverEntry())

	app.AddCommand(historyEntry())

	app.AddCommand(watchEntry())

	app.AddCommand(pingEntry())

	app.AddCommand(deviceEntry())

	exitIfError(app.Execute())
}

func serverEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP API and live channel",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := logex.StandardLogger()

			conf, err := configFromEnv()
			exitIfError(err)

			exitIfError(runStandaloneRestApi(
				ossignal.InterruptOrTerminateBackgroundCtx(logger),
				conf,
				logger))
		},
	}
}

func newApp(conf *config, logger *log.Logger) (*dmstate.App, error) {
	var alertPublisher dmstate.AlertPublisherFn
	if conf.AlertTopic != "" {
		var err error
		alertPublisher, err = newSnsAlertPublisher(conf)
		if err != nil {
			return nil, err
		}
	}

	return dmstate.New(dmstate.Config{
		DataDir:        conf.DataDir,
		Location:       conf.Location,
		PushSender:     pushnotify.NewExpoSender(conf.ExpoAccessToken),
		AlertPublisher: alertPublisher,
	}, logger)
}

func exitIfError(err error) {
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
