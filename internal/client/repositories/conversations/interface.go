// Package conversations persists cached conversation rows of the local cache.
package conversations

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
)

// Repository is the conversation table. Rows are keyed by
// (account, organization, id); UpsertMany is idempotent on that key.
type Repository interface {
	Get(ctx context.Context, scope models.Scope, id string) (*models.Conversation, error)
	UpsertMany(ctx context.Context, rows []models.Conversation) error
	List(ctx context.Context, scope models.Scope, offset, limit int) ([]models.Conversation, error)
	Delete(ctx context.Context, scope models.Scope, id string) error
	Truncate(ctx context.Context, scope models.Scope) error
}
