package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebitcoin-stream/internal/adapter"
	"tradebitcoin-stream/internal/config"
	"tradebitcoin-stream/internal/metrics"
	"tradebitcoin-stream/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// broadcaster is the downstream consumer of normalized messages
type broadcaster interface {
	Broadcast(key ConnKey, channel string, msg *models.MarketData)
}

// upstream is the live link to the exchange adapter backing one ConnKey.
// Exclusively owned by the Multiplexer; never handed to clients.
type upstream struct {
	key           ConnKey
	adapter       adapter.Adapter
	channels      map[string]bool
	establishedAt time.Time

	// ready is closed once establishment settles; err holds the outcome
	ready chan struct{}
	err   error

	// stopPoll cancels the candlestick poller
	stopPoll  chan struct{}
	closeOnce sync.Once
	logger    *logrus.Logger
}

// close tears down the adapter link and the candle poller. Idempotent.
func (u *upstream) close() {
	u.closeOnce.Do(func() {
		close(u.stopPoll)
		if u.adapter != nil {
			if err := u.adapter.Close(); err != nil {
				u.logger.WithError(err).Warnf("Adapter close failed for %s", u.key)
			}
		}
	})
}

// Multiplexer guarantees at most one upstream connection per ConnKey no
// matter how many clients subscribe, and tears the connection down when the
// last subscriber leaves.
type Multiplexer struct {
	factory adapter.Factory
	sink    broadcaster
	cfg     config.GatewayConfig
	logger  *logrus.Logger

	// pollLimiter paces candlestick polls across all keys so a fleet of
	// pollers cannot stampede an adapter's REST side
	pollLimiter *rate.Limiter

	conns map[ConnKey]*upstream
	mu    sync.Mutex
}

func NewMultiplexer(factory adapter.Factory, sink broadcaster, cfg config.GatewayConfig, logger *logrus.Logger) *Multiplexer {
	return &Multiplexer{
		factory:     factory,
		sink:        sink,
		cfg:         cfg,
		logger:      logger,
		pollLimiter: rate.NewLimiter(rate.Limit(cfg.PollRate), cfg.PollBurst),
		conns:       make(map[ConnKey]*upstream),
	}
}

// Ensure establishes the upstream connection for key if none exists, wiring
// one channel stream per requested channel. Concurrent calls for the same key
// coalesce into the single in-flight establishment: the entry is cached under
// the key before any blocking work, and later callers wait on it.
func (m *Multiplexer) Ensure(ctx context.Context, key ConnKey, channels []string) error {
	m.mu.Lock()
	if up, ok := m.conns[key]; ok {
		m.mu.Unlock()
		select {
		case <-up.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		return up.err
	}

	up := &upstream{
		key:      key,
		channels: make(map[string]bool, len(channels)),
		ready:    make(chan struct{}),
		stopPoll: make(chan struct{}),
		logger:   m.logger,
	}
	for _, ch := range channels {
		up.channels[ch] = true
	}
	m.conns[key] = up
	m.mu.Unlock()

	err := m.establish(ctx, up, channels)
	if err != nil {
		// No partial connection survives a failed attempt
		m.mu.Lock()
		delete(m.conns, key)
		m.mu.Unlock()

		up.err = fmt.Errorf("upstream establishment for %s failed: %w", key, err)
		up.close()
		close(up.ready)

		metrics.UpstreamEstablishments.WithLabelValues("error").Inc()
		return up.err
	}

	up.establishedAt = time.Now()
	close(up.ready)

	metrics.UpstreamEstablishments.WithLabelValues("ok").Inc()
	metrics.UpstreamConnections.Set(float64(m.Count()))
	m.logger.Infof("Upstream connection established: %s (channels: %v)", key, channels)
	return nil
}

// establish acquires the adapter and wires the requested channel streams
func (m *Multiplexer) establish(ctx context.Context, up *upstream, channels []string) error {
	ad, err := m.factory(ctx, up.key.ExchangeAccountID)
	if err != nil {
		return fmt.Errorf("adapter acquisition: %w", err)
	}
	up.adapter = ad

	for _, ch := range channels {
		if err := m.wireChannel(up, ch); err != nil {
			return fmt.Errorf("wiring channel %s: %w", ch, err)
		}
	}
	return nil
}

// Teardown closes the upstream connection for key and removes it from the
// live-connection table. A miss is a no-op, not an error: an explicit
// unsubscribe and a disconnect can race to the same drained key.
//
// drained reports whether the key still has no subscribers. It runs under the
// table lock, so a subscribe that re-registered the key between the caller's
// registry removal and this call keeps its upstream. nil skips the check.
func (m *Multiplexer) Teardown(key ConnKey, drained func() bool) {
	m.mu.Lock()
	if drained != nil && !drained() {
		m.mu.Unlock()
		m.logger.Debugf("Teardown for %s skipped, key was resubscribed", key)
		return
	}
	up, ok := m.conns[key]
	if ok {
		delete(m.conns, key)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debugf("Teardown for absent key %s, skipping", key)
		return
	}

	// Wait for an in-flight establishment to settle before closing
	<-up.ready
	if up.err == nil {
		up.close()
		m.logger.Infof("Upstream connection closed: %s", key)
	}
	metrics.UpstreamConnections.Set(float64(m.Count()))
}

// TeardownAll closes every live upstream connection, used on server shutdown.
// An establishment still in flight when ctx expires is abandoned rather than
// waited for.
func (m *Multiplexer) TeardownAll(ctx context.Context) {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[ConnKey]*upstream)
	m.mu.Unlock()

	for key, up := range conns {
		select {
		case <-up.ready:
		default:
			select {
			case <-up.ready:
			case <-ctx.Done():
				m.logger.Warnf("Shutdown deadline reached before %s settled", key)
				continue
			}
		}
		if up.err == nil {
			up.close()
		}
		m.logger.Infof("Upstream connection closed: %s", key)
	}
	metrics.UpstreamConnections.Set(0)
}

// Count returns the number of live upstream connections
func (m *Multiplexer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Has reports whether a live upstream connection exists for key
func (m *Multiplexer) Has(key ConnKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[key]
	return ok
}
