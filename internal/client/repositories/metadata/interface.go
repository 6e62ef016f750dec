// Package metadata stores small per-account key/value settings of the local
// cache, such as the salt and verifier of the account secret.
package metadata

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
)

// Repository is a scoped key/value store. Get returns (nil, nil) for a
// missing key.
type Repository interface {
	Get(ctx context.Context, scope models.Scope, key string) ([]byte, error)
	Set(ctx context.Context, scope models.Scope, key string, value []byte) error
	Delete(ctx context.Context, scope models.Scope, key string) error
	List(ctx context.Context, scope models.Scope) (map[string][]byte, error)
	Clear(ctx context.Context, scope models.Scope) error
}
