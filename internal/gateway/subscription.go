package gateway

import "sort"

// ConnKey identifies one upstream data stream shared by every client
// interested in the same exchange account and symbol.
type ConnKey struct {
	ExchangeAccountID string
	Symbol            string
}

func (k ConnKey) String() string {
	return k.ExchangeAccountID + ":" + k.Symbol
}

// Subscription is one client connection's registered interest in a ConnKey's
// set of channels. Subscriptions are never mutated in place; channel changes
// are modeled as remove plus re-add.
type Subscription struct {
	UserID            string
	ExchangeAccountID string
	Symbol            string
	Channels          map[string]bool
	ConnID            string
}

// NewSubscription builds a subscription from a validated subscribe request
func NewSubscription(userID, accountID, symbol, connID string, channels []string) *Subscription {
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	return &Subscription{
		UserID:            userID,
		ExchangeAccountID: accountID,
		Symbol:            symbol,
		Channels:          set,
		ConnID:            connID,
	}
}

// Key returns the subscription's connection key
func (s *Subscription) Key() ConnKey {
	return ConnKey{ExchangeAccountID: s.ExchangeAccountID, Symbol: s.Symbol}
}

// HasChannel reports whether the subscription covers channel
func (s *Subscription) HasChannel(channel string) bool {
	return s.Channels[channel]
}

// ChannelList returns the channel set as a sorted slice
func (s *Subscription) ChannelList() []string {
	out := make([]string, 0, len(s.Channels))
	for ch := range s.Channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
