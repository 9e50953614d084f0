package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no account matches the lookup
var ErrNotFound = errors.New("exchange account not found")

// ExchangeAccount is one row of the web application's exchange_accounts table
type ExchangeAccount struct {
	ID        string
	UserID    string
	Exchange  string // binance, coinbase, kraken
	Label     string
	IsActive  bool
	CreatedAt time.Time
}

// Store looks up exchange accounts for ownership checks
type Store interface {
	FindExchangeAccount(ctx context.Context, accountID, userID string) (*ExchangeAccount, error)
}

// PostgresStore reads the exchange_accounts table owned by the web
// application's ORM. The gateway never writes to it.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(connStr string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &PostgresStore{db: db, logger: logger}, nil
}

// FindExchangeAccount returns the active account with accountID owned by
// userID, or ErrNotFound.
func (s *PostgresStore) FindExchangeAccount(ctx context.Context, accountID, userID string) (*ExchangeAccount, error) {
	query := `
		SELECT id, user_id, exchange, label, is_active, created_at
		FROM exchange_accounts
		WHERE id = $1 AND user_id = $2 AND is_active = true`

	var acc ExchangeAccount
	err := s.db.QueryRowContext(ctx, query, accountID, userID).Scan(
		&acc.ID, &acc.UserID, &acc.Exchange, &acc.Label, &acc.IsActive, &acc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}

	return &acc, nil
}

// Close releases the database pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
