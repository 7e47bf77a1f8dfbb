package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/envvar"
)

type config struct {
	Addr                 string
	DataDir              string
	User                 string
	Pass                 string
	Location             *time.Location
	RegisterRequiresAuth bool // off by default: the mobile app registers without credentials
	WsCommands           bool // let live channel clients record signals by sending "alive" / "alert"
	NotifyOffline        bool
	ExpoAccessToken      string
	AlertTopic           string // SNS topic ARN, optional
	AwsRegion            string
}

func configFromEnv() (*config, error) {
	user, err := envvar.Required("DM_USER")
	if err != nil {
		return nil, err
	}

	pass, err := envvar.Required("DM_PASS")
	if err != nil {
		return nil, err
	}

	loc, err := dmdomain.LoadLocation(os.Getenv("DM_TIMEZONE"))
	if err != nil {
		return nil, err
	}

	registerRequiresAuth, err := boolFromEnv("DM_REGISTER_REQUIRES_AUTH", false)
	if err != nil {
		return nil, err
	}

	wsCommands, err := boolFromEnv("DM_WS_COMMANDS", false)
	if err != nil {
		return nil, err
	}

	notifyOffline, err := boolFromEnv("DM_NOTIFY_OFFLINE", false)
	if err != nil {
		return nil, err
	}

	return &config{
		Addr:                 stringFromEnv("DM_ADDR", ":3000"),
		DataDir:              stringFromEnv("DM_DATA_DIR", "logs"),
		User:                 user,
		Pass:                 pass,
		Location:             loc,
		RegisterRequiresAuth: registerRequiresAuth,
		WsCommands:           wsCommands,
		NotifyOffline:        notifyOffline,
		ExpoAccessToken:      os.Getenv("EXPO_ACCESS_TOKEN"),
		AlertTopic:           os.Getenv("ALERT_TOPIC"),
		AwsRegion:            stringFromEnv("AWS_REGION", "us-east-1"),
	}, nil
}

func stringFromEnv(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	fromEnvStr := os.Getenv(key)
	if fromEnvStr == "" {
		return fallback, nil
	}

	value, err := strconv.ParseBool(fromEnvStr)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}

	return value, nil
}
