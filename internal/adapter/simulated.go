package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tradebitcoin-stream/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Simulated is an in-process adapter that generates random-walk market data.
// It backs local development (ADAPTER_MODE=simulated) and the gateway tests.
type Simulated struct {
	accountID string
	interval  time.Duration
	logger    *logrus.Logger

	rng       *rand.Rand
	lastPrice map[string]decimal.Decimal
	mu        sync.Mutex

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSimulated creates a simulated adapter pushing updates every interval
func NewSimulated(accountID string, interval time.Duration, logger *logrus.Logger) *Simulated {
	return &Simulated{
		accountID: accountID,
		interval:  interval,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		lastPrice: make(map[string]decimal.Decimal),
		stopChan:  make(chan struct{}),
	}
}

// SimulatedFactory returns a Factory producing one Simulated adapter per call
func SimulatedFactory(interval time.Duration, logger *logrus.Logger) Factory {
	return func(ctx context.Context, exchangeAccountID string) (Adapter, error) {
		return NewSimulated(exchangeAccountID, interval, logger), nil
	}
}

// nextPrice advances the random walk for symbol
func (s *Simulated) nextPrice(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.lastPrice[symbol]
	if !ok {
		price = decimal.NewFromFloat(100 + s.rng.Float64()*50000)
	}

	drift := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.002)
	price = price.Add(price.Mul(drift))
	if price.LessThanOrEqual(decimal.Zero) {
		price = decimal.NewFromFloat(1)
	}
	s.lastPrice[symbol] = price
	return price
}

func (s *Simulated) run(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *Simulated) SubscribeTicker(symbol string, fn func(*models.Ticker)) error {
	s.run(func() {
		price := s.nextPrice(symbol)
		spread := price.Mul(decimal.NewFromFloat(0.0005))
		fn(&models.Ticker{
			Symbol:    symbol,
			LastPrice: price,
			BidPrice:  price.Sub(spread),
			AskPrice:  price.Add(spread),
			High24h:   price.Mul(decimal.NewFromFloat(1.04)),
			Low24h:    price.Mul(decimal.NewFromFloat(0.96)),
			Volume24h: decimal.NewFromInt(int64(s.rng.Intn(100000))),
			UpdatedAt: time.Now(),
		})
	})
	return nil
}

func (s *Simulated) SubscribeOrderBook(symbol string, fn func(*models.OrderBook)) error {
	s.run(func() {
		price := s.nextPrice(symbol)
		book := &models.OrderBook{
			Symbol:    symbol,
			UpdatedAt: time.Now(),
		}
		step := price.Mul(decimal.NewFromFloat(0.0001))
		for i := 1; i <= 10; i++ {
			offset := step.Mul(decimal.NewFromInt(int64(i)))
			qty := decimal.NewFromFloat(s.rng.Float64() * 5)
			book.Bids = append(book.Bids, models.OrderBookLevel{Price: price.Sub(offset), Quantity: qty})
			book.Asks = append(book.Asks, models.OrderBookLevel{Price: price.Add(offset), Quantity: qty})
		}
		fn(book)
	})
	return nil
}

func (s *Simulated) SubscribeTrades(symbol string, fn func([]models.Trade)) error {
	s.run(func() {
		price := s.nextPrice(symbol)
		count := 1 + s.rng.Intn(3)
		trades := make([]models.Trade, 0, count)
		for i := 0; i < count; i++ {
			side := "buy"
			if s.rng.Intn(2) == 0 {
				side = "sell"
			}
			trades = append(trades, models.Trade{
				ID:        fmt.Sprintf("sim-%d", time.Now().UnixNano()+int64(i)),
				Symbol:    symbol,
				Price:     price,
				Quantity:  decimal.NewFromFloat(s.rng.Float64()),
				Side:      side,
				Timestamp: time.Now(),
			})
		}
		fn(trades)
	})
	return nil
}

func (s *Simulated) GetCandlesticks(ctx context.Context, symbol, interval string, limit int) ([]models.Candlestick, error) {
	select {
	case <-s.stopChan:
		return nil, fmt.Errorf("adapter closed")
	default:
	}

	step, err := time.ParseDuration(interval)
	if err != nil {
		step = time.Minute
	}

	candles := make([]models.Candlestick, 0, limit)
	openTime := time.Now().Truncate(step).Add(-step * time.Duration(limit-1))
	price := s.nextPrice(symbol)

	for i := 0; i < limit; i++ {
		wick := price.Mul(decimal.NewFromFloat(0.001))
		candles = append(candles, models.Candlestick{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  openTime,
			CloseTime: openTime.Add(step),
			Open:      price,
			High:      price.Add(wick),
			Low:       price.Sub(wick),
			Close:     price,
			Volume:    decimal.NewFromInt(int64(s.rng.Intn(1000))),
			IsClosed:  i < limit-1,
		})
		openTime = openTime.Add(step)
	}

	return candles, nil
}

// Close stops every generator goroutine. Safe to call more than once.
func (s *Simulated) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}
