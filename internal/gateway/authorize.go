package gateway

import (
	"context"
	"errors"
	"fmt"

	"tradebitcoin-stream/internal/accounts"
	"tradebitcoin-stream/internal/auth"

	"github.com/sirupsen/logrus"
)

// Gate verifies that the calling identity owns an exchange account before a
// subscription is allowed. Ownership is checked at subscribe time only, not
// re-checked for the subscription's lifetime.
type Gate struct {
	store  accounts.Store
	logger *logrus.Logger
}

func NewGate(store accounts.Store, logger *logrus.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// Authorize returns nil when identity owns the exchange account. Denial is a
// request-level failure; it never aborts the transport connection.
func (g *Gate) Authorize(ctx context.Context, identity *auth.Identity, exchangeAccountID string) error {
	_, err := g.store.FindExchangeAccount(ctx, exchangeAccountID, identity.ID)
	if errors.Is(err, accounts.ErrNotFound) {
		return fmt.Errorf("exchange account %s not found or not owned by caller", exchangeAccountID)
	}
	if err != nil {
		g.logger.WithError(err).Warn("Account ownership lookup failed")
		return fmt.Errorf("authorization check failed: %w", err)
	}
	return nil
}
