// Package messages persists cached message rows. Content stays ciphertext;
// deletions are recorded as tombstones rather than row removal.
package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
)

type Repository interface {
	Get(ctx context.Context, scope models.Scope, id string) (*models.Message, error)
	UpsertMany(ctx context.Context, rows []models.Message) error
	// Tombstone marks the given messages of a conversation deleted at `at`.
	Tombstone(ctx context.Context, scope models.Scope, conversationID string, ids []string, at time.Time) error
	// LatestUserMessage returns the newest message authored by a user, or
	// common.ErrorNotFound. System placeholders are ignored.
	LatestUserMessage(ctx context.Context, scope models.Scope, conversationID string) (*models.Message, error)
	ListByConversation(ctx context.Context, scope models.Scope, conversationID string, offset, limit int) ([]models.Message, error)
	Delete(ctx context.Context, scope models.Scope, id string) error
	Truncate(ctx context.Context, scope models.Scope) error
}
