package models

// Channel names a client may subscribe to
const (
	ChannelTicker       = "ticker"
	ChannelOrderBook    = "orderbook"
	ChannelTrades       = "trades"
	ChannelCandlesticks = "candlesticks"
)

// AllChannels lists every supported channel name
var AllChannels = []string{ChannelTicker, ChannelOrderBook, ChannelTrades, ChannelCandlesticks}

// ValidChannel reports whether name is a supported channel
func ValidChannel(name string) bool {
	switch name {
	case ChannelTicker, ChannelOrderBook, ChannelTrades, ChannelCandlesticks:
		return true
	}
	return false
}

// MarketData is the normalized message fanned out to subscribers.
// Timestamp is milliseconds since epoch at normalization time, not at the
// exchange's original production time.
type MarketData struct {
	Type              string      `json:"type"` // ticker, orderbook, trades, candlesticks
	Symbol            string      `json:"symbol"`
	ExchangeAccountID string      `json:"exchangeAccountId"`
	Data              interface{} `json:"data"`
	Timestamp         int64       `json:"timestamp"`
}
