package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"example.com/playchat/auth"
	"example.com/playchat/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Peers only send control
	// frames; anything bigger is a protocol violation.
	maxMessageSize = 512

	// Events buffered per connection before drops.
	sendBuffer = 32
)

// Handler returns the websocket endpoint streaming change events. The
// subscription filter comes from the query string (collection, field,
// value); the session token from the Authorization header or the
// access_token query parameter.
func Handler(s store.Store, identity auth.Identity, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origins are restricted by the CORS policy of the surrounding mux.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if token == "" {
			token = bearerToken(r)
		}

		session, err := identity.Session(r.Context(), token)
		if err != nil || session == nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		filter := store.Filter{
			Collection: r.URL.Query().Get("collection"),
			Field:      r.URL.Query().Get("field"),
			Value:      r.URL.Query().Get("value"),
		}
		if filter.Collection == "" {
			http.Error(w, "collection is required", http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("upgrade", slog.String("err", err.Error()))
			return
		}

		c := &conn{
			ws:     ws,
			events: make(chan store.ChangeEvent, sendBuffer),
			done:   make(chan struct{}),
			logger: logger.With(slog.String("user_id", session.UserID)),
		}

		sub := s.Subscribe(filter, c.enqueue)

		go c.writeLoop()
		// The read loop only consumes control frames; it returns when the
		// peer goes away, which releases the subscription.
		c.readLoop()
		sub.Cancel()
		c.close()
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

type conn struct {
	ws     *websocket.Conn
	events chan store.ChangeEvent
	done   chan struct{}
	logger *slog.Logger
}

func (c *conn) enqueue(event store.ChangeEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	default:
		c.logger.Warn("connection buffer full, dropping event",
			slog.String("collection", event.Collection))
	}
}

func (c *conn) close() {
	close(c.done)
	c.ws.Close()
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("unexpected close", slog.String("err", err.Error()))
			}
			return
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.events:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(&event); err != nil {
				c.logger.Debug("write event", slog.String("err", err.Error()))
				return
			}

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
