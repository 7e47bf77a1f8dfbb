// Client for the door monitor HTTP API and its live channel
package dmclient

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/ezhttp"
	"github.com/function61/gokit/jsonfile"
	"github.com/gorilla/websocket"
)

type Client struct {
	baseUrl string
	user    string
	pass    string
	dialer  *websocket.Dialer
}

func New(baseUrl string, user string, pass string) *Client {
	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		user:    user,
		pass:    pass,
		dialer:  websocket.DefaultDialer,
	}
}

func (c *Client) History(ctx context.Context, q dmdomain.HistoryQuery) (*dmdomain.History, error) {
	resp, err := ezhttp.Get(ctx, c.url("/", url.Values{
		"alives":      {strconv.FormatBool(q.Alives)},
		"alivesLimit": {strconv.Itoa(q.AlivesLimit)},
		"alerts":      {strconv.FormatBool(q.Alerts)},
		"alertsLimit": {strconv.Itoa(q.AlertsLimit)},
		"view":        {"json"},
	}))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	history := &dmdomain.History{}
	if err := jsonfile.Unmarshal(resp.Body, history, false); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return history, nil
}

func (c *Client) Record(ctx context.Context, kind dmdomain.Kind) (string, error) {
	return c.getText(ctx, c.url("/"+string(kind), nil))
}

// returns the server's verdict ("registered" / "duplicate") as text
func (c *Client) Register(ctx context.Context, token string) (string, error) {
	return c.getText(ctx, c.url("/register", url.Values{
		"token": {token},
	}))
}

func (c *Client) Subscribe(ctx context.Context) (Feed, error) {
	wsUrl := c.url("/ws", nil)
	switch {
	case strings.HasPrefix(wsUrl, "https://"):
		wsUrl = "wss://" + strings.TrimPrefix(wsUrl, "https://")
	case strings.HasPrefix(wsUrl, "http://"):
		wsUrl = "ws://" + strings.TrimPrefix(wsUrl, "http://")
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsUrl, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return &wsFeed{conn}, nil
}

func (c *Client) getText(ctx context.Context, endpoint string) (string, error) {
	resp, err := ezhttp.Get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}

	query.Set("user", c.user)
	query.Set("pass", c.pass)

	return c.baseUrl + path + "?" + query.Encode()
}

// stream of live messages. Next() blocks until a message arrives or the connection breaks.
type Feed interface {
	Next() (dmdomain.LiveMessage, error)
	Close() error
}

const closeWriteTimeout = 1 * time.Second

type wsFeed struct {
	conn *websocket.Conn
}

func (w *wsFeed) Next() (dmdomain.LiveMessage, error) {
	msg := dmdomain.LiveMessage{}
	if err := w.conn.ReadJSON(&msg); err != nil {
		return msg, err
	}

	return msg, nil
}

// safe to call concurrently and more than once
func (w *wsFeed) Close() error {
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))

	return w.conn.Close()
}
