package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"tradebitcoin-stream/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Publisher mirrors normalized market-data messages onto Redis channels so
// sibling services (alerting, bots) can consume the same stream the websocket
// clients see.
type Publisher struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, prefix string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// PublishMarketData publishes msg on "<prefix><type>:<symbol>"
func (p *Publisher) PublishMarketData(ctx context.Context, msg *models.MarketData) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("%s%s:%s", p.prefix, msg.Type, msg.Symbol)
	return p.client.Publish(ctx, channel, data).Err()
}
