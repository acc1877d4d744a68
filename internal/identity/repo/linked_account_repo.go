package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/havenlist/service-identity/internal/identity/entity"
)

// LinkedAccountRepo provides data access for third-party identity bindings.
// Rows are created once per (provider, provider_account_id) pair and never
// updated.
type LinkedAccountRepo struct {
	db sqlx.ExtContext
}

func NewLinkedAccountRepo(db sqlx.ExtContext) *LinkedAccountRepo {
	return &LinkedAccountRepo{db: db}
}

// EnsureTable creates the linked_accounts table if not exists (idempotent).
func (r *LinkedAccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS linked_accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  provider_account_id TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL,
  UNIQUE (provider, provider_account_id)
);
CREATE INDEX IF NOT EXISTS idx_linked_accounts_user ON linked_accounts(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *LinkedAccountRepo) Create(ctx context.Context, a *entity.LinkedAccount) error {
	const q = `INSERT INTO linked_accounts (id, user_id, provider, provider_account_id, created_at)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.ExecContext(ctx, q, a.ID, a.UserID, a.Provider, a.ProviderAccountID, a.CreatedAt)
	return err
}

// GetByProviderAccount returns the binding for a provider-assigned account
// id, or sql.ErrNoRows.
func (r *LinkedAccountRepo) GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*entity.LinkedAccount, error) {
	const q = `SELECT id, user_id, provider, provider_account_id, created_at
		FROM linked_accounts WHERE provider=$1 AND provider_account_id=$2`
	var a entity.LinkedAccount
	if err := sqlx.GetContext(ctx, r.db, &a, q, provider, providerAccountID); err != nil {
		return nil, err
	}
	return &a, nil
}
