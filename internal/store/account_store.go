package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liamwears/reelstream/internal/models"
)

const accountColumns = `id, username, email, password_hash, role, provider, provider_id, created_at, updated_at`

// AccountStore persists accounts in Postgres
type AccountStore struct {
	db *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore
func NewAccountStore(db *pgxpool.Pool) *AccountStore {
	return &AccountStore{db: db}
}

// Create inserts a new account. Unique violations surface as *pgconn.PgError.
func (s *AccountStore) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (username, email, password_hash, role, provider, provider_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns

	created, err := scanAccount(s.db.QueryRow(ctx, query,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.Provider,
		account.ProviderID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return created, nil
}

// Get retrieves an account by ID
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(s.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves an account by its email address
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(s.db.QueryRow(ctx, query, email))
}

// GetByProviderID finds an account by its OAuth provider and provider ID
func (s *AccountStore) GetByProviderID(ctx context.Context, provider models.Provider, providerID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE provider = $1 AND provider_id = $2`
	return scanAccount(s.db.QueryRow(ctx, query, provider, providerID))
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.Provider,
		&account.ProviderID,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}
