package pushnotify

import (
	"context"
	"fmt"

	"github.com/function61/gokit/ezhttp"
	"github.com/function61/gokit/jsonfile"
)

const ExpoPushEndpoint = "https://exp.host/--/api/v2/push/send"

type expoTicket struct {
	Status  string `json:"status"` // "ok" | "error"
	Id      string `json:"id"`
	Message string `json:"message"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

type ExpoSender struct {
	endpoint    string
	accessToken string // optional, only needed when "enhanced push security" is on
}

func NewExpoSender(accessToken string) *ExpoSender {
	return &ExpoSender{
		endpoint:    ExpoPushEndpoint,
		accessToken: accessToken,
	}
}

func NewExpoSenderWithEndpoint(endpoint string, accessToken string) *ExpoSender {
	return &ExpoSender{
		endpoint:    endpoint,
		accessToken: accessToken,
	}
}

func (e *ExpoSender) Send(ctx context.Context, batch []Message) error {
	opts := []ezhttp.ConfigPiece{
		ezhttp.SendJson(&batch),
	}
	if e.accessToken != "" {
		opts = append(opts, ezhttp.AuthBearer(e.accessToken))
	}

	resp, err := ezhttp.Post(ctx, e.endpoint, opts...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tickets := expoResponse{}
	if err := jsonfile.Unmarshal(resp.Body, &tickets, false); err != nil {
		return fmt.Errorf("expo response: %w", err)
	}

	failed := 0
	firstFailure := ""
	for _, ticket := range tickets.Data {
		if ticket.Status != "error" {
			continue
		}

		if failed == 0 {
			firstFailure = ticket.Message
		}
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tickets failed, first: %s", failed, len(batch), firstFailure)
	}

	return nil
}
