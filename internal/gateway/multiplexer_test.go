package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradebitcoin-stream/internal/adapter"
	"tradebitcoin-stream/internal/config"
	"tradebitcoin-stream/internal/models"
)

// fakeAdapter records subscriptions and closes
type fakeAdapter struct {
	closed     atomic.Int64
	polls      atomic.Int64
	pollFail   atomic.Bool
	tickerFns  []func(*models.Ticker)
	bookFns    []func(*models.OrderBook)
	tradeFns   []func([]models.Trade)
	failWiring bool
	mu         sync.Mutex
}

func (f *fakeAdapter) SubscribeTicker(symbol string, fn func(*models.Ticker)) error {
	if f.failWiring {
		return fmt.Errorf("wiring refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickerFns = append(f.tickerFns, fn)
	return nil
}

func (f *fakeAdapter) SubscribeOrderBook(symbol string, fn func(*models.OrderBook)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookFns = append(f.bookFns, fn)
	return nil
}

func (f *fakeAdapter) SubscribeTrades(symbol string, fn func([]models.Trade)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeFns = append(f.tradeFns, fn)
	return nil
}

func (f *fakeAdapter) GetCandlesticks(ctx context.Context, symbol, interval string, limit int) ([]models.Candlestick, error) {
	f.polls.Add(1)
	if f.pollFail.Load() {
		return nil, fmt.Errorf("exchange rate limited")
	}
	return []models.Candlestick{{Symbol: symbol, Interval: interval}}, nil
}

func (f *fakeAdapter) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeAdapter) pushTicker(t *models.Ticker) {
	f.mu.Lock()
	fns := append([]func(*models.Ticker){}, f.tickerFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

func (f *fakeAdapter) pushTrades(trades []models.Trade) {
	f.mu.Lock()
	fns := append([]func([]models.Trade){}, f.tradeFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(trades)
	}
}

// recordingSink collects broadcast messages
type recordingSink struct {
	messages chan *models.MarketData
}

func newRecordingSink() *recordingSink {
	return &recordingSink{messages: make(chan *models.MarketData, 256)}
}

func (s *recordingSink) Broadcast(key ConnKey, channel string, msg *models.MarketData) {
	s.messages <- msg
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		AdapterMode:        "simulated",
		CandlePollInterval: time.Hour, // immediate first poll only
		CandleInterval:     "1m",
		CandleLimit:        100,
		SendBufferSize:     64,
		PollRate:           1000,
		PollBurst:          1000,
	}
}

func TestMultiplexerSingleUpstreamPerKey(t *testing.T) {
	var established atomic.Int64
	ad := &fakeAdapter{}
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		established.Add(1)
		time.Sleep(10 * time.Millisecond) // widen the establishment window
		return ad, nil
	}

	m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Ensure(context.Background(), key, []string{"ticker"})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ensure failed: %v", err)
		}
	}

	if got := established.Load(); got != 1 {
		t.Fatalf("expected exactly 1 establishment for %d concurrent subscribes, got %d", n, got)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 live upstream, got %d", m.Count())
	}
}

func TestMultiplexerTeardown(t *testing.T) {
	ad := &fakeAdapter{}
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		return ad, nil
	}

	m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

	if err := m.Ensure(context.Background(), key, []string{"ticker"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	t.Run("closes the adapter exactly once", func(t *testing.T) {
		m.Teardown(key, nil)
		if got := ad.closed.Load(); got != 1 {
			t.Fatalf("expected 1 close, got %d", got)
		}
		if m.Has(key) {
			t.Fatal("key still present after teardown")
		}
	})

	t.Run("second teardown is a no-op", func(t *testing.T) {
		m.Teardown(key, nil)
		if got := ad.closed.Load(); got != 1 {
			t.Fatalf("expected close count to stay at 1, got %d", got)
		}
	})
}

func TestMultiplexerEstablishmentFailure(t *testing.T) {
	t.Run("adapter acquisition failure leaves no entry", func(t *testing.T) {
		factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
			return nil, fmt.Errorf("exchange unreachable")
		}
		m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
		key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

		if err := m.Ensure(context.Background(), key, []string{"ticker"}); err == nil {
			t.Fatal("expected ensure to fail")
		}
		if m.Has(key) {
			t.Fatal("failed establishment left an entry")
		}
	})

	t.Run("wiring failure unwinds the adapter", func(t *testing.T) {
		ad := &fakeAdapter{failWiring: true}
		factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
			return ad, nil
		}
		m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
		key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

		if err := m.Ensure(context.Background(), key, []string{"ticker"}); err == nil {
			t.Fatal("expected ensure to fail")
		}
		if ad.closed.Load() != 1 {
			t.Fatalf("expected partially-wired adapter to be closed, close count %d", ad.closed.Load())
		}
		if m.Has(key) {
			t.Fatal("failed establishment left an entry")
		}
	})

	t.Run("retry after failure can succeed", func(t *testing.T) {
		var attempts atomic.Int64
		ad := &fakeAdapter{}
		factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
			if attempts.Add(1) == 1 {
				return nil, fmt.Errorf("transient")
			}
			return ad, nil
		}
		m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
		key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

		if err := m.Ensure(context.Background(), key, []string{"ticker"}); err == nil {
			t.Fatal("expected first ensure to fail")
		}
		if err := m.Ensure(context.Background(), key, []string{"ticker"}); err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if !m.Has(key) {
			t.Fatal("expected live upstream after retry")
		}
	})
}

func TestMultiplexerForwardsTickerPush(t *testing.T) {
	ad := &fakeAdapter{}
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		return ad, nil
	}
	sink := newRecordingSink()
	m := NewMultiplexer(factory, sink, testGatewayConfig(), testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

	if err := m.Ensure(context.Background(), key, []string{"ticker"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	before := time.Now().UnixMilli()
	ad.pushTicker(&models.Ticker{Symbol: "BTCUSDT"})

	select {
	case msg := <-sink.messages:
		if msg.Type != models.ChannelTicker {
			t.Fatalf("expected ticker message, got %s", msg.Type)
		}
		if msg.Symbol != "BTCUSDT" || msg.ExchangeAccountID != "acc1" {
			t.Fatalf("unexpected message identity: %+v", msg)
		}
		if msg.Timestamp < before {
			t.Fatalf("timestamp %d predates normalization", msg.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("no message forwarded")
	}
}

func TestMultiplexerCandlePollImmediate(t *testing.T) {
	ad := &fakeAdapter{}
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		return ad, nil
	}
	sink := newRecordingSink()
	m := NewMultiplexer(factory, sink, testGatewayConfig(), testLogger())
	key := ConnKey{ExchangeAccountID: "acc2", Symbol: "ETHUSDT"}

	// Poll interval is an hour in the test config; only the immediate
	// first poll can produce this message.
	if err := m.Ensure(context.Background(), key, []string{"candlesticks"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	select {
	case msg := <-sink.messages:
		if msg.Type != models.ChannelCandlesticks {
			t.Fatalf("expected candlesticks message, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no immediate candlestick poll")
	}

	if ad.polls.Load() != 1 {
		t.Fatalf("expected exactly 1 poll, got %d", ad.polls.Load())
	}

	m.Teardown(key, nil)
}

func TestMultiplexerCandlePollFailureRetries(t *testing.T) {
	ad := &fakeAdapter{}
	ad.pollFail.Store(true)
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		return ad, nil
	}
	sink := newRecordingSink()
	cfg := testGatewayConfig()
	cfg.CandlePollInterval = 20 * time.Millisecond
	m := NewMultiplexer(factory, sink, cfg, testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

	if err := m.Ensure(context.Background(), key, []string{"candlesticks"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	defer m.Teardown(key, nil)

	// The poller must keep ticking through consecutive failures
	deadline := time.Now().Add(2 * time.Second)
	for ad.polls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("poller stalled after failure, %d polls", ad.polls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case msg := <-sink.messages:
		t.Fatalf("failed poll broadcast a message: %+v", msg)
	default:
	}

	// Once the adapter recovers, the next tick delivers
	ad.pollFail.Store(false)
	select {
	case msg := <-sink.messages:
		if msg.Type != models.ChannelCandlesticks {
			t.Fatalf("expected candlesticks message, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no candlestick message after the adapter recovered")
	}
}

func TestMultiplexerForwardsTradesBatch(t *testing.T) {
	ad := &fakeAdapter{}
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		return ad, nil
	}
	sink := newRecordingSink()
	m := NewMultiplexer(factory, sink, testGatewayConfig(), testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

	if err := m.Ensure(context.Background(), key, []string{"trades"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	defer m.Teardown(key, nil)

	batch := []models.Trade{
		{ID: "t-1", Symbol: "BTCUSDT", Side: "buy"},
		{ID: "t-2", Symbol: "BTCUSDT", Side: "sell"},
	}
	ad.pushTrades(batch)

	select {
	case msg := <-sink.messages:
		if msg.Type != models.ChannelTrades {
			t.Fatalf("expected trades message, got %s", msg.Type)
		}
		trades, ok := msg.Data.([]models.Trade)
		if !ok {
			t.Fatalf("expected trade batch payload, got %T", msg.Data)
		}
		if len(trades) != 2 || trades[0].ID != "t-1" || trades[1].ID != "t-2" {
			t.Fatalf("batch not passed through unmodified: %+v", trades)
		}
	case <-time.After(time.Second):
		t.Fatal("no trades message forwarded")
	}
}

func TestTeardownSkippedWhenKeyResubscribed(t *testing.T) {
	ad := &fakeAdapter{}
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		return ad, nil
	}
	m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
	r := NewRegistry(testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}
	drained := func() bool { return len(r.ForKey(key)) == 0 }

	r.Add(NewSubscription("user-1", "acc1", "BTCUSDT", "conn-1", []string{"ticker"}))
	if err := m.Ensure(context.Background(), key, []string{"ticker"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	// conn-1's unsubscribe drains the key...
	if _, n := r.Remove("user-1", "conn-1", key); n != 0 {
		t.Fatalf("expected drained key, %d remaining", n)
	}

	// ...but conn-2's subscribe completes before the teardown runs
	r.Add(NewSubscription("user-2", "acc1", "BTCUSDT", "conn-2", []string{"ticker"}))
	if err := m.Ensure(context.Background(), key, []string{"ticker"}); err != nil {
		t.Fatalf("concurrent ensure failed: %v", err)
	}

	m.Teardown(key, drained)

	if !m.Has(key) {
		t.Fatal("upstream torn down while a subscriber is registered")
	}
	if got := ad.closed.Load(); got != 0 {
		t.Fatalf("adapter closed %d time(s) while a subscriber is registered", got)
	}

	// Once the key truly drains the teardown proceeds
	r.Remove("user-2", "conn-2", key)
	m.Teardown(key, drained)
	if m.Has(key) {
		t.Fatal("key still present after drained teardown")
	}
	if got := ad.closed.Load(); got != 1 {
		t.Fatalf("expected 1 close, got %d", got)
	}
}

func TestTeardownAllBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	factory := func(ctx context.Context, accountID string) (adapter.Adapter, error) {
		<-release
		return &fakeAdapter{}, nil
	}
	m := NewMultiplexer(factory, newRecordingSink(), testGatewayConfig(), testLogger())
	key := ConnKey{ExchangeAccountID: "acc1", Symbol: "BTCUSDT"}

	go func() {
		_ = m.Ensure(context.Background(), key, []string{"ticker"})
	}()

	// The in-flight entry lands in the table before the factory blocks
	deadline := time.Now().Add(time.Second)
	for !m.Has(key) {
		if time.Now().After(deadline) {
			t.Fatal("establishment never registered")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.TeardownAll(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TeardownAll blocked past its context deadline")
	}

	close(release)
}
