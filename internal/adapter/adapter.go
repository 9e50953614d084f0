package adapter

import (
	"context"

	"tradebitcoin-stream/internal/models"
)

// Adapter abstracts one exchange account's live data access. Implementations
// live per exchange; the gateway only depends on this interface and calls it
// exclusively through the connection multiplexer.
type Adapter interface {
	// SubscribeTicker registers a push callback for ticker updates on symbol
	SubscribeTicker(symbol string, fn func(*models.Ticker)) error

	// SubscribeOrderBook registers a push callback for order book snapshots
	SubscribeOrderBook(symbol string, fn func(*models.OrderBook)) error

	// SubscribeTrades registers a push callback for executed trades. The
	// payload may carry one trade or a batch; it is forwarded downstream
	// unmodified.
	SubscribeTrades(symbol string, fn func([]models.Trade)) error

	// GetCandlesticks fetches recent candles, newest last
	GetCandlesticks(ctx context.Context, symbol, interval string, limit int) ([]models.Candlestick, error)

	// Close tears down the upstream link and stops all callbacks
	Close() error
}

// Factory acquires an adapter for an exchange account
type Factory func(ctx context.Context, exchangeAccountID string) (Adapter, error)
