package pushnotify

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/jsonfile"
)

func TestIsPushToken(t *testing.T) {
	tcs := []struct {
		input string
		valid bool
	}{
		{"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]", true},
		{"ExpoPushToken[abc-123_DEF]", true},
		{"8a3c1e2f-0b9d-4c7e-a1f2-3d4e5f6a7b8c", true},
		{"ExponentPushToken[]", false},
		{"ExponentPushToken[has space]", false},
		{"ExponentPushToken[abc", false},
		{"hello", false},
		{"", false},
	}

	for _, tc := range tcs {
		tc := tc // pin
		t.Run(tc.input, func(t *testing.T) {
			assert.Assert(t, IsPushToken(tc.input) == tc.valid)
			assert.Assert(t, (ValidateToken(tc.input) == nil) == tc.valid)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	devices := NewDevices(filepath.Join(tempDir(t), "devices.json"))

	result, err := devices.Register("ExponentPushToken[aaaa]")
	assert.Ok(t, err)
	assert.EqualString(t, result.String(), "registered")

	result, err = devices.Register("ExponentPushToken[aaaa]")
	assert.Ok(t, err)
	assert.EqualString(t, result.String(), "duplicate")

	tokens, err := devices.List()
	assert.Ok(t, err)
	assert.EqualJson(t, tokens, `[
  "ExponentPushToken[aaaa]"
]`)
}

func TestRegisterMalformedLeavesSetUnchanged(t *testing.T) {
	path := filepath.Join(tempDir(t), "devices.json")
	devices := NewDevices(path)

	_, err := devices.Register("ExponentPushToken[aaaa]")
	assert.Ok(t, err)

	before, err := ioutil.ReadFile(path)
	assert.Ok(t, err)

	_, err = devices.Register("not-a-token")
	assert.Assert(t, errors.Is(err, ErrMalformedToken))

	after, err := ioutil.ReadFile(path)
	assert.Ok(t, err)
	assert.EqualString(t, string(after), string(before))
}

func TestListWithoutFile(t *testing.T) {
	tokens, err := NewDevices(filepath.Join(tempDir(t), "devices.json")).List()
	assert.Ok(t, err)
	assert.Assert(t, len(tokens) == 0)
}

func TestDispatchBatchesAndToleratesFailures(t *testing.T) {
	tokens := staticTokens{}
	for i := 0; i < 250; i++ {
		tokens = append(tokens, fmt.Sprintf("ExponentPushToken[%d]", i))
	}

	sender := &recordingSender{failOnBatch: 2}

	result, err := NewDispatcher(tokens, sender, nil).Dispatch(context.Background(), Notification{
		Title: "Door opened",
		Body:  "01/01/2024 10:00:00",
	})
	assert.Ok(t, err)

	assert.EqualJson(t, result, `{
  "Messages": 250,
  "Batches": 3,
  "FailedBatches": 1
}`)

	// third batch was still attempted after the second one failed
	assert.Assert(t, len(sender.batchSizes) == 3)
	assert.EqualJson(t, sender.batchSizes, `[
  100,
  100,
  50
]`)
	assert.EqualString(t, sender.first.To, "ExponentPushToken[0]")
	assert.EqualString(t, sender.first.Title, "Door opened")
}

func TestDispatchWithNoDevices(t *testing.T) {
	sender := &recordingSender{}

	result, err := NewDispatcher(staticTokens{}, sender, nil).Dispatch(context.Background(), Notification{})
	assert.Ok(t, err)
	assert.Assert(t, result.Batches == 0)
	assert.Assert(t, len(sender.batchSizes) == 0)
}

func TestExpoSender(t *testing.T) {
	var received []Message
	var authorization string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")

		assert.Ok(t, jsonfile.Unmarshal(r.Body, &received, true))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"status":"ok","id":"1"},{"status":"error","message":"\"ExponentPushToken[b]\" is not a registered push notification recipient"}]}`)
	}))
	defer server.Close()

	err := NewExpoSenderWithEndpoint(server.URL, "secret").Send(context.Background(), []Message{
		{To: "ExponentPushToken[a]", Body: "hello"},
		{To: "ExponentPushToken[b]", Body: "hello"},
	})

	assert.EqualString(t, err.Error(), `1 of 2 tickets failed, first: "ExponentPushToken[b]" is not a registered push notification recipient`)
	assert.EqualString(t, authorization, "Bearer secret")
	assert.Assert(t, len(received) == 2)
}

type staticTokens []string

func (s staticTokens) List() ([]string, error) {
	return s, nil
}

type recordingSender struct {
	failOnBatch int
	batchSizes  []int
	first       Message
}

func (r *recordingSender) Send(_ context.Context, batch []Message) error {
	if len(r.batchSizes) == 0 {
		r.first = batch[0]
	}

	r.batchSizes = append(r.batchSizes, len(batch))

	if len(r.batchSizes) == r.failOnBatch {
		return errors.New("provider unavailable")
	}

	return nil
}

func tempDir(t *testing.T) string {
	t.Helper()

	dir, err := ioutil.TempDir("", "pushnotify")
	assert.Ok(t, err)

	t.Cleanup(func() { os.RemoveAll(dir) })

	return dir
}
