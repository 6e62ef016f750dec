// Package personalkeys stores the at-rest personal key pair, one row per
// account scope.
package personalkeys

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound when the scope has no stored pair.
	Get(ctx context.Context, scope models.Scope) (*models.StoredPersonalKey, error)
	Save(ctx context.Context, key models.StoredPersonalKey) error
	Delete(ctx context.Context, scope models.Scope) error
}
