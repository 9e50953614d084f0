package gateway

import (
	"context"
	"time"

	"tradebitcoin-stream/internal/metrics"
	"tradebitcoin-stream/internal/models"
	"tradebitcoin-stream/internal/pubsub"

	"github.com/sirupsen/logrus"
)

// Broadcaster fans a normalized message out to the subset of a key's
// subscribers whose channel set includes the message's channel.
type Broadcaster struct {
	registry  *Registry
	clients   *clientTable
	publisher *pubsub.Publisher // optional Redis mirror
	logger    *logrus.Logger
}

func NewBroadcaster(registry *Registry, clients *clientTable, publisher *pubsub.Publisher, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		clients:   clients,
		publisher: publisher,
		logger:    logger,
	}
}

// Broadcast delivers msg to every subscriber of key covering channel.
// A key with no subscribers is a normal no-op: a poll completing after the
// last unsubscribe simply finds nobody. Stale connection handles are skipped
// silently; disconnect cleanup owns removing their subscriptions. The
// broadcaster never mutates the registry.
func (b *Broadcaster) Broadcast(key ConnKey, channel string, msg *models.MarketData) {
	if b.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.publisher.PublishMarketData(ctx, msg); err != nil {
			b.logger.WithError(err).Debugf("Redis mirror publish failed for %s", key)
		}
		cancel()
	}

	subs := b.registry.ForKey(key)
	if len(subs) == 0 {
		return
	}

	ev := models.ServerEvent{Event: models.EventMarketData, Data: msg}

	for _, sub := range subs {
		if !sub.HasChannel(channel) {
			continue
		}

		client := b.clients.get(sub.ConnID)
		if client == nil {
			// Raced with disconnect cleanup
			metrics.RecordBroadcast(channel, false)
			continue
		}

		metrics.RecordBroadcast(channel, client.Send(ev))
	}
}
