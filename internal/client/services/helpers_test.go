package services

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"sync"
	"testing"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/cachetest"
	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/personalkeys"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/stretchr/testify/require"
)

var (
	personalOnce sync.Once
	personalKey  *rsa.PrivateKey
)

// testPersonalKey is shared by every test; RSA generation is slow.
func testPersonalKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	personalOnce.Do(func() {
		k, err := cryptox.GenerateKeyPair(cryptox.DefaultKeyBits)
		if err != nil {
			panic(err)
		}
		personalKey = k
	})
	return personalKey
}

type fakeKeyRemote struct {
	mu         sync.Mutex
	members    []api.Member
	listErr    error
	registered []string
	// onList runs before the records are returned, outside the lock.
	onList func()
}

func (f *fakeKeyRemote) ListMembersByUser(context.Context) ([]api.Member, error) {
	if f.onList != nil {
		f.onList()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members, f.listErr
}

func (f *fakeKeyRemote) RegisterPublicKey(_ context.Context, pem string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, pem)
	return nil
}

// countingKeys counts saves of the personal key row.
type countingKeys struct {
	personalkeys.Repository

	mu    sync.Mutex
	saves int
}

func (c *countingKeys) Save(ctx context.Context, key models.StoredPersonalKey) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.Repository.Save(ctx, key)
}

func (c *countingKeys) Saves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

type device struct {
	db     *sql.DB
	sess   *session.Session
	vault  *keyvault.Vault
	keys   *countingKeys
	remote *fakeKeyRemote
	svc    *KeyService
}

// newDevice returns an unlocked device of the given account with an empty
// local cache.
func newDevice(t *testing.T, account string) *device {
	t.Helper()

	db := cachetest.Open(t)
	sess := session.New(models.Scope{AccountID: account, OrganizationID: "org-1"}, session.StaticTokenSource("token"))
	sess.SetSecret(common.GenerateRandByteArray(cryptox.AccountSecretSize))

	d := &device{
		db:     db,
		sess:   sess,
		vault:  keyvault.New(),
		keys:   &countingKeys{Repository: personalkeys.NewSQLiteRepository(db)},
		remote: &fakeKeyRemote{},
	}
	d.svc = NewKeyService(d.remote, d.keys, d.vault, d.sess, logging.Nop())
	return d
}

// withPersonalKeys installs the shared personal key on the device.
func (d *device) withPersonalKeys(t *testing.T) models.PersonalKeyPair {
	t.Helper()
	priv := testPersonalKey(t)
	pair := models.PersonalKeyPair{PublicKey: &priv.PublicKey, PrivateKey: priv}
	require.NoError(t, d.svc.InstallPersonalKeys(context.Background(), pair))
	return pair
}

func symmetricItem(conversationID string) models.KeyPairItem {
	return models.KeyPairItem{
		ConversationID: conversationID,
		Kind:           models.ConversationGroup,
		Key:            common.GenerateRandByteArray(32),
		IV:             common.GenerateRandByteArray(cryptox.IVSize),
	}
}

// memberFor wraps item for pub and returns it as a remote member record.
func memberFor(t *testing.T, svc *KeyService, pub *rsa.PublicKey, item models.KeyPairItem) api.Member {
	t.Helper()
	m, err := svc.Wrap(pub, item)
	require.NoError(t, err)
	return api.Member{
		ID:                              "m-" + item.ConversationID,
		ConversationID:                  item.ConversationID,
		UserID:                          "user-1",
		Role:                            string(models.RoleUser),
		ConversationKind:                string(item.Kind),
		EncryptedConversationKey:        m.EncryptedConversationKey,
		EncryptedConversationIV:         m.EncryptedConversationIV,
		ConversationPublicKey:           m.ConversationPublicKey,
		EncryptedConversationPrivateKey: m.EncryptedConversationPrivateKey,
	}
}
