package gateway

import (
	"context"
	"fmt"
	"time"

	"tradebitcoin-stream/internal/metrics"
	"tradebitcoin-stream/internal/models"
)

// wireChannel registers one channel stream on the upstream connection.
// Each channel is wired once per key, at establishment. Ticker, order book
// and trades ride the adapter's push callbacks; candlesticks are polled
// because push candles are not universally supported by adapters.
func (m *Multiplexer) wireChannel(up *upstream, channel string) error {
	switch channel {
	case models.ChannelTicker:
		return up.adapter.SubscribeTicker(up.key.Symbol, func(t *models.Ticker) {
			m.forward(up.key, models.ChannelTicker, t)
		})

	case models.ChannelOrderBook:
		return up.adapter.SubscribeOrderBook(up.key.Symbol, func(b *models.OrderBook) {
			m.forward(up.key, models.ChannelOrderBook, b)
		})

	case models.ChannelTrades:
		// Batch vs. single-trade payloads are forwarded unmodified in the
		// data field; consumers handle the shape.
		return up.adapter.SubscribeTrades(up.key.Symbol, func(trades []models.Trade) {
			m.forward(up.key, models.ChannelTrades, trades)
		})

	case models.ChannelCandlesticks:
		m.startCandlePoller(up)
		return nil

	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
}

// startCandlePoller polls candlesticks on a fixed interval. The first poll
// runs immediately so subscribers get data without waiting a full interval.
func (m *Multiplexer) startCandlePoller(up *upstream) {
	go func() {
		m.pollCandles(up)

		ticker := time.NewTicker(m.cfg.CandlePollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-up.stopPoll:
				return
			case <-ticker.C:
				m.pollCandles(up)
			}
		}
	}()
}

// pollCandles runs one candlestick fetch. Failures are logged and the next
// tick retries independently; a failed poll never cancels the poller.
func (m *Multiplexer) pollCandles(up *upstream) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CandlePollInterval)
	defer cancel()

	if err := m.pollLimiter.Wait(ctx); err != nil {
		return
	}

	start := time.Now()
	candles, err := up.adapter.GetCandlesticks(ctx, up.key.Symbol, m.cfg.CandleInterval, m.cfg.CandleLimit)
	metrics.CandlePollLatency.Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		metrics.CandlePollErrors.Inc()
		m.logger.WithError(err).Warnf("Candlestick poll failed for %s", up.key)
		return
	}

	m.forward(up.key, models.ChannelCandlesticks, candles)
}

// forward normalizes an adapter payload into a MarketData message and hands
// it to the broadcaster. Timestamp is taken here, at normalization time.
func (m *Multiplexer) forward(key ConnKey, channel string, data interface{}) {
	m.sink.Broadcast(key, channel, &models.MarketData{
		Type:              channel,
		Symbol:            key.Symbol,
		ExchangeAccountID: key.ExchangeAccountID,
		Data:              data,
		Timestamp:         time.Now().UnixMilli(),
	})
}
