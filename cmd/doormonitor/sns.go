package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/doormonitor/pkg/dmstate"
	"github.com/function61/gokit/stringutils"
)

// alerts also go to an SNS topic (email / SMS subscribers) when ALERT_TOPIC is set
func newSnsAlertPublisher(conf *config) (dmstate.AlertPublisherFn, error) {
	awsSession, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	snsSvc := sns.New(awsSession, aws.NewConfig().WithRegion(conf.AwsRegion))

	return func(ctx context.Context, ev dmdomain.Event) error {
		subject, messagePerProtocolJson, err := snsAlertMessage(ev, conf)
		if err != nil {
			return err
		}

		_, err = snsSvc.PublishWithContext(ctx, &sns.PublishInput{
			TopicArn:         aws.String(conf.AlertTopic),
			Subject:          aws.String(subject),
			Message:          aws.String(messagePerProtocolJson),
			MessageStructure: aws.String("json"),
		})
		return err
	}, nil
}

func snsAlertMessage(ev dmdomain.Event, conf *config) (string, string, error) {
	notification := dmstate.AlertNotification(ev, conf.Location)

	messageText := notification.Title + "\n\n" + notification.Body

	messagePerProtocol := struct {
		Default string `json:"default"` // email etc.
		Sms     string `json:"sms"`
	}{
		Default: stringutils.Truncate(messageText, 4*1024),
		Sms:     stringutils.Truncate(notification.Body, 160-7), // -7 for "ALERT >" prefix in SMS messages
	}

	messagePerProtocolJson, err := json.Marshal(&messagePerProtocol)
	if err != nil {
		return "", "", err
	}

	return notification.Title, string(messagePerProtocolJson), nil
}
