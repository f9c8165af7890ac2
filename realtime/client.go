package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"example.com/playchat/store"
)

// Client is a cancellable remote subscription: the counterpart of
// store.Subscription for clients connected through the relay.
type Client struct {
	ws     *websocket.Conn
	filter store.Filter
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type DialOption func(*Client)

func WithDialLogger(logger *slog.Logger) DialOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to the relay's realtime endpoint and invokes fn, serially,
// for every change event matching the filter. endpoint is the ws:// or
// wss:// URL of the endpoint.
func Dial(ctx context.Context, endpoint, token string, filter store.Filter, fn func(store.ChangeEvent), opts ...DialOption) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	q := u.Query()
	q.Set("access_token", token)
	q.Set("collection", filter.Collection)
	if filter.Field != "" {
		q.Set("field", filter.Field)
		q.Set("value", filter.Value)
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		ws:     ws,
		filter: filter,
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop(fn)
	go c.pingLoop()

	return c, nil
}

// Filter returns the filter the subscription was dialed with.
func (c *Client) Filter() store.Filter {
	return c.filter
}

// Close cancels the subscription. Closing twice is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
	})
	return nil
}

func (c *Client) readLoop(fn func(store.ChangeEvent)) {
	defer c.Close()

	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var wire wireEvent
		if err := c.ws.ReadJSON(&wire); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("unexpected close", slog.String("err", err.Error()))
			}
			return
		}

		event, err := wire.decode()
		if err != nil {
			c.logger.Error("decode event", slog.String("err", err.Error()))
			continue
		}

		fn(event)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
