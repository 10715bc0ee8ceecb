package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/scissor-app/scissor/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountProvider is the read-only boundary to the account system. The core
// never creates or authenticates accounts; it only needs owner ids and the
// optional custom domain used for routing.
type AccountProvider interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByCustomDomain(ctx context.Context, domain string) (*models.Account, error)
}

type accountRepository struct {
	db *PostgresDB
}

func NewAccountRepository(db *PostgresDB) AccountProvider {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT id, custom_domain FROM accounts WHERE id = $1`

	a := &models.Account{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.CustomDomain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return a, nil
}

func (r *accountRepository) GetByCustomDomain(ctx context.Context, domain string) (*models.Account, error) {
	query := `SELECT id, custom_domain FROM accounts WHERE custom_domain = $1`

	a := &models.Account{}
	err := r.db.Pool.QueryRow(ctx, query, domain).Scan(&a.ID, &a.CustomDomain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by domain: %w", err)
	}

	return a, nil
}
