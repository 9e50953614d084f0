package models

import "encoding/json"

// Client -> server event names
const (
	EventSubscribe   = "subscribe-market-data"
	EventUnsubscribe = "unsubscribe-market-data"
)

// Server -> client event names
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventMarketData   = "market-data"
	EventError        = "error"
)

// ClientEvent is the envelope for every message a client sends
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope for every message the gateway sends
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SubscribeRequest is the payload of a subscribe-market-data event
type SubscribeRequest struct {
	ExchangeAccountID string   `json:"exchangeAccountId"`
	Symbol            string   `json:"symbol"`
	Channels          []string `json:"channels"`
}

// UnsubscribeRequest is the payload of an unsubscribe-market-data event.
// Channels is optional; when omitted the whole subscription for the key is dropped.
type UnsubscribeRequest struct {
	ExchangeAccountID string   `json:"exchangeAccountId"`
	Symbol            string   `json:"symbol"`
	Channels          []string `json:"channels,omitempty"`
}

// ConnectedEvent acknowledges an authenticated connection
type ConnectedEvent struct {
	Message string `json:"message"`
}

// SubscribeAck acknowledges a successful subscribe or unsubscribe
type SubscribeAck struct {
	ExchangeAccountID string   `json:"exchangeAccountId"`
	Symbol            string   `json:"symbol"`
	Channels          []string `json:"channels"`
	Message           string   `json:"message"`
}

// ErrorEvent reports a request failure; the connection stays open
type ErrorEvent struct {
	Message string `json:"message"`
}
