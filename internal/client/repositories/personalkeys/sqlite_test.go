package personalkeys

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/chatkeeper/internal/client/cachetest"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveGetDelete(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()
	scope := models.Scope{AccountID: "acc", OrganizationID: "org"}

	_, err := r.Get(ctx, scope)
	require.ErrorIs(t, err, common.ErrorNotFound)

	k := models.StoredPersonalKey{
		Scope:               scope,
		PublicKeyPEM:        []byte("-----BEGIN PUBLIC KEY-----"),
		EncryptedPrivateKey: []byte{1, 2, 3},
		IV:                  []byte{4, 5, 6},
	}
	require.NoError(t, r.Save(ctx, k))

	k.EncryptedPrivateKey = []byte{7, 8}
	require.NoError(t, r.Save(ctx, k))

	got, err := r.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, k, *got)

	_, err = r.Get(ctx, models.Scope{AccountID: "acc"})
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, r.Delete(ctx, scope))
	_, err = r.Get(ctx, scope)
	require.ErrorIs(t, err, common.ErrorNotFound)
}
