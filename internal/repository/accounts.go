package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type AccountsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error)
	TouchLastUsed(ctx context.Context, accountID int64, at time.Time) error
}

type AccountsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAccountsRepository(db *sqlx.DB) *AccountsRepositoryImpl {
	return &AccountsRepositoryImpl{db: db}
}

var _ AccountsRepository = (*AccountsRepositoryImpl)(nil)

// GetByAPIKey returns nil, nil when no account holds the key.
func (r *AccountsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error) {
	var a model.Account
	err := r.db.GetContext(ctx, &a, `
		SELECT id, name, api_key, tier, status, created_at, last_used_at
		  FROM accounts
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountsRepositoryImpl) TouchLastUsed(ctx context.Context, accountID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET last_used_at = ? WHERE id = ?`, at, accountID)
	return err
}
