package personalkeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, scope models.Scope) (*models.StoredPersonalKey, error) {
	k := models.StoredPersonalKey{Scope: scope}
	err := r.db.QueryRowContext(ctx, `
		SELECT public_key, encrypted_private_key, iv FROM personal_keys
		WHERE account_id = ? AND organization_id = ?
	`, scope.AccountID, scope.OrganizationID).Scan(&k.PublicKeyPEM, &k.EncryptedPrivateKey, &k.IV)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get personal key: %w", err)
	}
	return &k, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, key models.StoredPersonalKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO personal_keys (account_id, organization_id, public_key, encrypted_private_key, iv)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, organization_id) DO UPDATE SET
			public_key = excluded.public_key,
			encrypted_private_key = excluded.encrypted_private_key,
			iv = excluded.iv
	`, key.AccountID, key.OrganizationID, key.PublicKeyPEM, key.EncryptedPrivateKey, key.IV)
	if err != nil {
		return fmt.Errorf("save personal key: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, scope models.Scope) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM personal_keys WHERE account_id = ? AND organization_id = ?`,
		scope.AccountID, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("delete personal key: %w", err)
	}
	return nil
}
