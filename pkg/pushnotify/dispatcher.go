// Forwards alerts to registered mobile devices through a push provider.
//
// Delivery is at-most-once and best-effort: a failed batch is logged and dropped, never
// retried.
package pushnotify

import (
	"context"
	"log"

	"github.com/function61/gokit/logex"
)

// the provider accepts at most this many messages per request
const MaxBatchSize = 100

type Message struct {
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, batch []Message) error
}

type TokenSource interface {
	List() ([]string, error)
}

type Notification struct {
	Title string
	Body  string
}

type Result struct {
	Messages      int
	Batches       int
	FailedBatches int
}

type Dispatcher struct {
	tokens    TokenSource
	sender    Sender
	batchSize int
	logl      *logex.Leveled
}

func NewDispatcher(tokens TokenSource, sender Sender, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		tokens:    tokens,
		sender:    sender,
		batchSize: MaxBatchSize,
		logl:      logex.Levels(logger),
	}
}

// one message per registered token, sent in provider-sized batches. a batch failure does
// not abort the remaining batches. only a token load failure is returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, notification Notification) (Result, error) {
	tokens, err := d.tokens.List()
	if err != nil {
		return Result{}, err
	}

	messages := []Message{}
	for _, token := range tokens {
		messages = append(messages, Message{
			To:    token,
			Title: notification.Title,
			Body:  notification.Body,
			Sound: "default",
		})
	}

	result := Result{Messages: len(messages)}

	for _, batch := range chunk(messages, d.batchSize) {
		result.Batches++

		if err := d.sender.Send(ctx, batch); err != nil {
			result.FailedBatches++

			d.logl.Error.Printf("batch %d (%d messages): %v", result.Batches, len(batch), err)
		}
	}

	d.logl.Debug.Printf(
		"dispatched %d message(s) in %d batch(es), %d failed",
		result.Messages,
		result.Batches,
		result.FailedBatches)

	return result, nil
}

func chunk(messages []Message, size int) [][]Message {
	batches := [][]Message{}

	for len(messages) > 0 {
		n := size
		if len(messages) < n {
			n = len(messages)
		}

		batches = append(batches, messages[:n])
		messages = messages[n:]
	}

	return batches
}
