package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"tradebitcoin-stream/internal/accounts"
	"tradebitcoin-stream/internal/adapter"
	"tradebitcoin-stream/internal/auth"
	"tradebitcoin-stream/internal/config"
	"tradebitcoin-stream/internal/metrics"
	"tradebitcoin-stream/internal/models"
	"tradebitcoin-stream/internal/pubsub"
	"tradebitcoin-stream/internal/symbols"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 15 * time.Second

// Gateway multiplexes per-(exchange account, symbol, channel) subscriptions
// from many websocket clients onto a smaller number of upstream exchange
// connections and fans the resulting market data back out.
type Gateway struct {
	cfg      *config.Config
	logger   *logrus.Logger
	verifier auth.Verifier
	gate     *Gate
	catalog  *symbols.Catalog

	registry    *Registry
	mux         *Multiplexer
	broadcaster *Broadcaster
	clients     *clientTable

	upgrader websocket.Upgrader

	connSeq  atomic.Int64
	stopping atomic.Bool
}

func New(
	cfg *config.Config,
	verifier auth.Verifier,
	store accounts.Store,
	factory adapter.Factory,
	publisher *pubsub.Publisher,
	catalog *symbols.Catalog,
	logger *logrus.Logger,
) *Gateway {
	clients := newClientTable()
	registry := NewRegistry(logger)
	broadcaster := NewBroadcaster(registry, clients, publisher, logger)

	return &Gateway{
		cfg:         cfg,
		logger:      logger,
		verifier:    verifier,
		gate:        NewGate(store, logger),
		catalog:     catalog,
		registry:    registry,
		mux:         NewMultiplexer(factory, broadcaster, cfg.Gateway, logger),
		broadcaster: broadcaster,
		clients:     clients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an HTTP request into an authenticated gateway connection.
// Identity must resolve before the upgrade; a failed resolution rejects the
// connection outright.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if g.stopping.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	identity, err := g.verifier.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		metrics.AuthFailures.Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	id := fmt.Sprintf("conn-%d", g.connSeq.Add(1))
	client := newClient(id, identity, conn, g.cfg.Gateway.SendBufferSize, g.logger)
	g.clients.add(client)

	metrics.ClientConnections.Set(float64(g.clients.len()))
	metrics.ClientConnectionsTotal.Inc()
	client.logger.Info("Client connected")

	client.Send(models.ServerEvent{
		Event: models.EventConnected,
		Data:  models.ConnectedEvent{Message: "connected to market data stream"},
	})

	go client.writePump()
	client.readPump(g)
}

// handleEvent dispatches one decoded client event. Malformed requests get an
// error event; the connection stays open.
func (g *Gateway) handleEvent(c *Client, raw []byte) {
	var ev models.ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		g.sendError(c, "malformed request")
		return
	}

	switch ev.Event {
	case models.EventSubscribe:
		var req models.SubscribeRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			g.sendError(c, "malformed subscribe request")
			return
		}
		g.handleSubscribe(c, &req)

	case models.EventUnsubscribe:
		var req models.UnsubscribeRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			g.sendError(c, "malformed unsubscribe request")
			return
		}
		g.handleUnsubscribe(c, &req)

	default:
		g.sendError(c, fmt.Sprintf("unknown event %q", ev.Event))
	}
}

// handleSubscribe validates, authorizes and registers one subscription,
// establishing the upstream connection when this is the key's first
// subscriber. A failed establishment leaves no registry entry behind.
func (g *Gateway) handleSubscribe(c *Client, req *models.SubscribeRequest) {
	symbol := strings.ToUpper(req.Symbol)

	if req.ExchangeAccountID == "" || symbol == "" {
		metrics.SubscriptionsTotal.WithLabelValues("rejected").Inc()
		g.sendError(c, "exchangeAccountId and symbol are required")
		return
	}
	if len(req.Channels) == 0 {
		metrics.SubscriptionsTotal.WithLabelValues("rejected").Inc()
		g.sendError(c, "at least one channel is required")
		return
	}
	for _, ch := range req.Channels {
		if !models.ValidChannel(ch) {
			metrics.SubscriptionsTotal.WithLabelValues("rejected").Inc()
			g.sendError(c, fmt.Sprintf("unsupported channel %q", ch))
			return
		}
	}
	if !g.catalog.IsSupported(symbol) {
		metrics.SubscriptionsTotal.WithLabelValues("rejected").Inc()
		g.sendError(c, fmt.Sprintf("symbol %s is not supported", symbol))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := g.gate.Authorize(ctx, c.identity, req.ExchangeAccountID); err != nil {
		metrics.SubscriptionsTotal.WithLabelValues("denied").Inc()
		g.sendError(c, err.Error())
		return
	}

	sub := NewSubscription(c.identity.ID, req.ExchangeAccountID, symbol, c.id, req.Channels)
	key := sub.Key()
	g.registry.Add(sub)

	if err := g.mux.Ensure(ctx, key, req.Channels); err != nil {
		// Unwind this attempt's registry entry; a concurrent successful
		// establishment for the same key keeps its own entries.
		if _, n := g.registry.Remove(c.identity.ID, c.id, key); n == 0 {
			g.teardownIfDrained(key)
		}
		metrics.SubscriptionsTotal.WithLabelValues("failed").Inc()
		metrics.ActiveSubscriptions.Set(float64(g.registry.Count()))
		g.sendError(c, err.Error())
		return
	}

	metrics.SubscriptionsTotal.WithLabelValues("ok").Inc()
	metrics.ActiveSubscriptions.Set(float64(g.registry.Count()))
	c.logger.Infof("Subscribed: %s %s %v", req.ExchangeAccountID, symbol, req.Channels)

	c.Send(models.ServerEvent{
		Event: models.EventSubscribed,
		Data: models.SubscribeAck{
			ExchangeAccountID: req.ExchangeAccountID,
			Symbol:            symbol,
			Channels:          req.Channels,
			Message:           "subscribed to market data",
		},
	})
}

// handleUnsubscribe removes this connection's subscription for the key.
// A channel subset narrows the subscription (remove plus re-add with the
// remainder); omitting channels drops it entirely. Draining the key tears
// the upstream connection down.
func (g *Gateway) handleUnsubscribe(c *Client, req *models.UnsubscribeRequest) {
	symbol := strings.ToUpper(req.Symbol)

	if req.ExchangeAccountID == "" || symbol == "" {
		g.sendError(c, "exchangeAccountId and symbol are required")
		return
	}

	key := ConnKey{ExchangeAccountID: req.ExchangeAccountID, Symbol: symbol}
	removed, remaining := g.registry.Remove(c.identity.ID, c.id, key)

	dropped := unionChannels(removed)
	if len(req.Channels) > 0 && len(removed) > 0 {
		remainder := subtractChannels(dropped, req.Channels)
		if len(remainder) > 0 {
			g.registry.Add(NewSubscription(c.identity.ID, req.ExchangeAccountID, symbol, c.id, remainder))
			remaining++
		}
		dropped = req.Channels
	}

	if remaining == 0 {
		g.teardownIfDrained(key)
	}

	metrics.ActiveSubscriptions.Set(float64(g.registry.Count()))
	c.logger.Infof("Unsubscribed: %s %s %v", req.ExchangeAccountID, symbol, dropped)

	c.Send(models.ServerEvent{
		Event: models.EventUnsubscribed,
		Data: models.SubscribeAck{
			ExchangeAccountID: req.ExchangeAccountID,
			Symbol:            symbol,
			Channels:          dropped,
			Message:           "unsubscribed from market data",
		},
	})
}

// handleDisconnect runs once per dropped connection: every subscription tied
// to the connection is removed, and upstream connections left without
// subscribers are torn down.
func (g *Gateway) handleDisconnect(c *Client) {
	g.clients.remove(c.id)

	drained := g.registry.RemoveAllForConnection(c.id)
	for _, key := range drained {
		g.teardownIfDrained(key)
	}

	metrics.ClientConnections.Set(float64(g.clients.len()))
	metrics.ActiveSubscriptions.Set(float64(g.registry.Count()))
	c.logger.Infof("Client disconnected (%d keys drained)", len(drained))
}

// Shutdown tears down every upstream connection regardless of subscriber
// counts, clears the registry and closes all client connections. Used for
// graceful process exit only.
func (g *Gateway) Shutdown(ctx context.Context) {
	if !g.stopping.CompareAndSwap(false, true) {
		return
	}

	g.logger.Info("Shutting down gateway...")

	g.mux.TeardownAll(ctx)
	g.registry.Clear()

	for _, c := range g.clients.all() {
		c.close()
	}

	metrics.ActiveSubscriptions.Set(0)
	g.logger.Info("Gateway shutdown complete")
}

// Stats is a snapshot of the gateway's live state
type Stats struct {
	Clients             int `json:"clients"`
	Subscriptions       int `json:"subscriptions"`
	UpstreamConnections int `json:"upstream_connections"`
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Clients:             g.clients.len(),
		Subscriptions:       g.registry.Count(),
		UpstreamConnections: g.mux.Count(),
	}
}

// teardownIfDrained closes the key's upstream unless a subscribe that raced
// ahead of us re-registered the key after our registry removal. The registry
// check runs inside the multiplexer's lock, so the loser of the race sees the
// winner's entry.
func (g *Gateway) teardownIfDrained(key ConnKey) {
	g.mux.Teardown(key, func() bool {
		return len(g.registry.ForKey(key)) == 0
	})
}

func (g *Gateway) sendError(c *Client, message string) {
	c.Send(models.ServerEvent{
		Event: models.EventError,
		Data:  models.ErrorEvent{Message: message},
	})
}

// unionChannels merges the channel sets of subs into a sorted slice
func unionChannels(subs []*Subscription) []string {
	set := make(map[string]bool)
	for _, sub := range subs {
		for ch := range sub.Channels {
			set[ch] = true
		}
	}
	out := make([]string, 0, len(set))
	for _, ch := range models.AllChannels {
		if set[ch] {
			out = append(out, ch)
		}
	}
	return out
}

// subtractChannels returns the channels of base not present in drop
func subtractChannels(base, drop []string) []string {
	dropSet := make(map[string]bool, len(drop))
	for _, ch := range drop {
		dropSet[ch] = true
	}
	var out []string
	for _, ch := range base {
		if !dropSet[ch] {
			out = append(out, ch)
		}
	}
	return out
}
