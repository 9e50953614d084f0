package gateway

import (
	"sync"
	"time"

	"tradebitcoin-stream/internal/auth"
	"tradebitcoin-stream/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one authenticated websocket connection. Outbound messages go
// through the buffered send channel; a full buffer means the client is too
// far behind and the message is skipped.
type Client struct {
	id       string
	identity *auth.Identity
	conn     *websocket.Conn
	send     chan models.ServerEvent
	logger   *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, identity *auth.Identity, conn *websocket.Conn, bufferSize int, logger *logrus.Logger) *Client {
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan models.ServerEvent, bufferSize),
		done:     make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"conn_id": id,
			"user_id": identity.ID,
		}),
	}
}

// Send queues an event for delivery. Returns false when the client has
// disconnected or its buffer is full.
func (c *Client) Send(ev models.ServerEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// close marks the client dead and closes the socket. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads client events until the connection drops, then triggers
// disconnect cleanup.
func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.handleDisconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Connection read error")
			}
			return
		}
		g.handleEvent(c, message)
	}
}

// writePump serializes queued events onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// clientTable is the explicit handle-to-connection map the broadcaster uses
// to resolve a subscription's connection handle to a live transport.
type clientTable struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

func newClientTable() *clientTable {
	return &clientTable{clients: make(map[string]*Client)}
}

func (t *clientTable) add(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c.id] = c
}

func (t *clientTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

func (t *clientTable) get(id string) *Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients[id]
}

func (t *clientTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

func (t *clientTable) all() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}
