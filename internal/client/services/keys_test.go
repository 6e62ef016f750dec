package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/convert"
	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyService_EnsurePersonalKeysWithoutStoredPair(t *testing.T) {
	d := newDevice(t, "acc-1")

	_, err := d.svc.EnsurePersonalKeys(context.Background())
	require.ErrorIs(t, err, common.ErrPrecondition)
}

func TestKeyService_EnsurePersonalKeysRehydratesOnce(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	pair := d.withPersonalKeys(t)

	// A new process: same store and secret, empty vault.
	vault := keyvault.New()
	svc := NewKeyService(d.remote, d.keys, vault, d.sess, logging.Nop())
	require.False(t, vault.Ready())

	got, err := svc.EnsurePersonalKeys(ctx)
	require.NoError(t, err)
	assert.True(t, pair.PrivateKey.Equal(got.PrivateKey))
	assert.True(t, vault.Ready())

	// Once loaded the store is no longer consulted.
	require.NoError(t, d.keys.Delete(ctx, d.sess.Scope()))
	_, err = svc.EnsurePersonalKeys(ctx)
	require.NoError(t, err)
}

func TestKeyService_EnsurePersonalKeysWrongSecret(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	d.withPersonalKeys(t)

	d.sess.SetSecret(common.GenerateRandByteArray(cryptox.AccountSecretSize))
	svc := NewKeyService(d.remote, d.keys, keyvault.New(), d.sess, logging.Nop())

	_, err := svc.EnsurePersonalKeys(ctx)
	require.ErrorIs(t, err, common.ErrDecryptionFailure)
}

func TestKeyService_EnsurePersonalKeysLocked(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	d.withPersonalKeys(t)
	d.sess.Lock()

	svc := NewKeyService(d.remote, d.keys, keyvault.New(), d.sess, logging.Nop())
	_, err := svc.EnsurePersonalKeys(ctx)
	require.ErrorIs(t, err, common.ErrPrecondition)
}

func TestKeyService_CreatePersonalKeys(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")

	pair, err := d.svc.CreatePersonalKeys(ctx)
	require.NoError(t, err)

	require.Len(t, d.remote.registered, 1)
	pub, err := cryptox.ParsePublicKeyPEM([]byte(d.remote.registered[0]))
	require.NoError(t, err)
	assert.True(t, pair.PublicKey.Equal(pub))

	got, ok := d.vault.Personal()
	require.True(t, ok)
	assert.True(t, pair.PrivateKey.Equal(got.PrivateKey))

	stored, err := d.keys.Get(ctx, d.sess.Scope())
	require.NoError(t, err)
	assert.NotContains(t, string(stored.EncryptedPrivateKey), "PRIVATE KEY")

	_, err = d.svc.CreatePersonalKeys(ctx)
	require.ErrorIs(t, err, common.ErrAlreadyInitialized)
}

func TestKeyService_WrapUnwrapRoundTrip(t *testing.T) {
	d := newDevice(t, "acc-1")
	priv := testPersonalKey(t)

	sym := symmetricItem("c-sym")
	m, err := d.svc.Wrap(&priv.PublicKey, sym)
	require.NoError(t, err)
	got, err := d.svc.Unwrap(priv, m)
	require.NoError(t, err)
	assert.Equal(t, sym.Key, got.Key)
	assert.Equal(t, sym.IV, got.IV)

	convPriv, err := cryptox.GenerateKeyPair(1024)
	require.NoError(t, err)
	asym := models.KeyPairItem{
		ConversationID: "c-pub",
		Kind:           models.ConversationPublic,
		PublicKey:      &convPriv.PublicKey,
		PrivateKey:     convPriv,
	}
	m, err = d.svc.Wrap(&priv.PublicKey, asym)
	require.NoError(t, err)
	got, err = d.svc.Unwrap(priv, m)
	require.NoError(t, err)
	assert.True(t, convPriv.Equal(got.PrivateKey))
	assert.True(t, got.Valid())
}

func TestKeyService_UnwrapRejectsWrongSizes(t *testing.T) {
	d := newDevice(t, "acc-1")
	priv := testPersonalKey(t)

	item := symmetricItem("c-1")
	item.Key = item.Key[:16]
	m, err := d.svc.Wrap(&priv.PublicKey, item)
	require.NoError(t, err)

	_, err = d.svc.Unwrap(priv, m)
	require.ErrorIs(t, err, common.ErrDecryptionFailure)
}

func TestKeyService_RecoverReplacesVault(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	pair := d.withPersonalKeys(t)

	stale := symmetricItem("c-stale")
	require.True(t, d.vault.Put(stale))

	a, b := symmetricItem("c-a"), symmetricItem("c-b")
	d.remote.members = []api.Member{
		memberFor(t, d.svc, pair.PublicKey, a),
		memberFor(t, d.svc, pair.PublicKey, b),
	}

	n, err := d.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"c-a", "c-b"}, d.vault.ConversationIDs())

	got, ok := d.vault.Get("c-a")
	require.True(t, ok)
	assert.Equal(t, a.Key, got.Key)
}

func TestKeyService_RecoverKeepsKeysChangedByLiveEvents(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	pair := d.withPersonalKeys(t)

	ejected := symmetricItem("c-ejected")
	require.True(t, d.vault.Put(ejected))

	a := symmetricItem("c-a")
	live := memberFor(t, d.svc, pair.PublicKey, symmetricItem("c-live"))
	d.remote.members = []api.Member{
		memberFor(t, d.svc, pair.PublicKey, a),
		memberFor(t, d.svc, pair.PublicKey, ejected),
	}
	// A member-added and an eject arrive while the records are in flight.
	d.remote.onList = func() {
		added, err := d.svc.AddMemberKey(ctx, convert.Member(live))
		require.NoError(t, err)
		require.True(t, added)
		d.vault.Remove("c-ejected")
	}

	n, err := d.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"c-a", "c-live"}, d.vault.ConversationIDs())
}

func TestKeyService_RecoverCorruptBlobLeavesVaultUnchanged(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	pair := d.withPersonalKeys(t)

	existing := symmetricItem("c-existing")
	require.True(t, d.vault.Put(existing))

	good := memberFor(t, d.svc, pair.PublicKey, symmetricItem("c-good"))
	bad := memberFor(t, d.svc, pair.PublicKey, symmetricItem("c-bad"))
	bad.EncryptedConversationKey = "bm90IGEgcmVhbCBibG9i"
	d.remote.members = []api.Member{good, bad}

	_, err := d.svc.Recover(ctx)
	require.ErrorIs(t, err, common.ErrDecryptionFailure)
	assert.Contains(t, err.Error(), "c-bad")

	assert.Equal(t, []string{"c-existing"}, d.vault.ConversationIDs())
	_, ok := d.vault.Get("c-good")
	assert.False(t, ok)
}

func TestKeyService_RecoverRemoteFailure(t *testing.T) {
	d := newDevice(t, "acc-1")
	d.withPersonalKeys(t)
	d.remote.listErr = assert.AnError

	_, err := d.svc.Recover(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestKeyService_AddMemberKeyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "acc-1")
	pair := d.withPersonalKeys(t)

	first := symmetricItem("c-1")
	added, err := d.svc.AddMemberKey(ctx, convert.Member(memberFor(t, d.svc, pair.PublicKey, first)))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = d.svc.AddMemberKey(ctx, convert.Member(memberFor(t, d.svc, pair.PublicKey, symmetricItem("c-1"))))
	require.NoError(t, err)
	assert.False(t, added)

	got, _ := d.vault.Get("c-1")
	assert.Equal(t, first.Key, got.Key)
}
