package accounts

import (
	"context"
	"errors"
	"testing"
)

func TestStaticStoreFindExchangeAccount(t *testing.T) {
	store := NewStaticStore(
		ExchangeAccount{ID: "acc1", UserID: "user-a", Exchange: "binance", Label: "Main"},
	)
	ctx := context.Background()

	t.Run("owner finds account", func(t *testing.T) {
		acc, err := store.FindExchangeAccount(ctx, "acc1", "user-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acc.Exchange != "binance" || !acc.IsActive {
			t.Fatalf("unexpected account: %+v", acc)
		}
	})

	t.Run("wrong owner", func(t *testing.T) {
		if _, err := store.FindExchangeAccount(ctx, "acc1", "user-b"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		if _, err := store.FindExchangeAccount(ctx, "missing", "user-a"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("add registers new account", func(t *testing.T) {
		store.Add(ExchangeAccount{ID: "acc2", UserID: "user-b", Exchange: "coinbase"})
		if _, err := store.FindExchangeAccount(ctx, "acc2", "user-b"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
