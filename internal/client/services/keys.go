package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/convert"
	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/personalkeys"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
)

const (
	conversationKeySize = 32
	conversationIVSize  = cryptox.IVSize
)

// KeyRemote is the part of the conversation service key handling needs.
type KeyRemote interface {
	ListMembersByUser(ctx context.Context) ([]api.Member, error)
	RegisterPublicKey(ctx context.Context, publicKeyPEM string) error
}

// KeyService owns the personal key pair and the key recovery pipeline.
type KeyService struct {
	remote KeyRemote
	keys   personalkeys.Repository
	vault  *keyvault.Vault
	sess   *session.Session
	log    logging.Logger
	oaep   cryptox.OAEPParams

	// loadMu serializes rehydration so it runs once per process.
	loadMu sync.Mutex
}

func NewKeyService(remote KeyRemote, keys personalkeys.Repository, vault *keyvault.Vault,
	sess *session.Session, log logging.Logger) *KeyService {
	return &KeyService{
		remote: remote,
		keys:   keys,
		vault:  vault,
		sess:   sess,
		log:    log.With("component", "keys"),
		oaep:   cryptox.DefaultOAEP,
	}
}

// EnsurePersonalKeys returns the personal key pair, rehydrating it from
// at-rest storage on first use. Once in the vault it is never derived again.
func (s *KeyService) EnsurePersonalKeys(ctx context.Context) (models.PersonalKeyPair, error) {
	if pair, ok := s.vault.Personal(); ok {
		return pair, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if pair, ok := s.vault.Personal(); ok {
		return pair, nil
	}

	stored, err := s.keys.Get(ctx, s.sess.Scope())
	if errors.Is(err, common.ErrorNotFound) {
		return models.PersonalKeyPair{}, fmt.Errorf("%w: no personal key pair on this device", common.ErrPrecondition)
	}
	if err != nil {
		return models.PersonalKeyPair{}, err
	}

	secret, err := s.sess.Secret()
	if err != nil {
		return models.PersonalKeyPair{}, err
	}
	defer common.WipeByteArray(secret)

	privPEM, err := cryptox.DecryptCBC(secret, stored.IV, stored.EncryptedPrivateKey)
	if err != nil {
		return models.PersonalKeyPair{}, fmt.Errorf("open personal key: %w", err)
	}
	defer common.WipeByteArray(privPEM)

	priv, err := cryptox.ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return models.PersonalKeyPair{}, fmt.Errorf("%w: personal key: %v", common.ErrDecryptionFailure, err)
	}
	pub, err := cryptox.ParsePublicKeyPEM(stored.PublicKeyPEM)
	if err != nil || !priv.PublicKey.Equal(pub) {
		return models.PersonalKeyPair{}, fmt.Errorf("%w: stored public key does not match", common.ErrDecryptionFailure)
	}

	pair := models.PersonalKeyPair{PublicKey: pub, PrivateKey: priv}
	s.vault.SetPersonal(pair)
	s.log.Debug(ctx, "personal key pair rehydrated")
	return pair, nil
}

// CreatePersonalKeys generates the personal key pair of a first device,
// stores it encrypted at rest, publishes the public key and installs the
// pair in the vault.
func (s *KeyService) CreatePersonalKeys(ctx context.Context) (models.PersonalKeyPair, error) {
	if _, err := s.keys.Get(ctx, s.sess.Scope()); err == nil {
		return models.PersonalKeyPair{}, common.ErrAlreadyInitialized
	} else if !errors.Is(err, common.ErrorNotFound) {
		return models.PersonalKeyPair{}, err
	}

	priv, err := cryptox.GenerateKeyPair(cryptox.DefaultKeyBits)
	if err != nil {
		return models.PersonalKeyPair{}, err
	}
	pair := models.PersonalKeyPair{PublicKey: &priv.PublicKey, PrivateKey: priv}

	pubPEM, err := cryptox.EncodePublicKeyPEM(pair.PublicKey)
	if err != nil {
		return models.PersonalKeyPair{}, err
	}
	if err := s.InstallPersonalKeys(ctx, pair); err != nil {
		return models.PersonalKeyPair{}, err
	}
	if err := s.remote.RegisterPublicKey(ctx, string(pubPEM)); err != nil {
		return models.PersonalKeyPair{}, fmt.Errorf("register public key: %w", err)
	}

	s.log.Info(ctx, "personal key pair created")
	return pair, nil
}

// InstallPersonalKeys persists pair re-encrypted under the account secret
// and makes it the vault's personal pair.
func (s *KeyService) InstallPersonalKeys(ctx context.Context, pair models.PersonalKeyPair) error {
	secret, err := s.sess.Secret()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	pubPEM, err := cryptox.EncodePublicKeyPEM(pair.PublicKey)
	if err != nil {
		return err
	}
	privPEM, err := cryptox.EncodePrivateKeyPEM(pair.PrivateKey)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(privPEM)

	ct, iv, err := cryptox.SealAtRest(secret, privPEM)
	if err != nil {
		return err
	}

	err = s.keys.Save(ctx, models.StoredPersonalKey{
		Scope:               s.sess.Scope(),
		PublicKeyPEM:        pubPEM,
		EncryptedPrivateKey: ct,
		IV:                  iv,
	})
	if err != nil {
		return err
	}

	s.vault.SetPersonal(pair)
	return nil
}

// Recover rebuilds every conversation key from the user's member records.
// A single undecryptable record aborts the whole recovery and leaves the
// vault untouched; on success the vault content is replaced in one step.
// Keys added or removed by live events while the records were fetched are
// kept as they are.
func (s *KeyService) Recover(ctx context.Context) (int, error) {
	pair, err := s.EnsurePersonalKeys(ctx)
	if err != nil {
		return 0, err
	}

	mark := s.vault.Mark()
	members, err := s.remote.ListMembersByUser(ctx)
	if err != nil {
		return 0, fmt.Errorf("list member records: %w", err)
	}

	items := make([]models.KeyPairItem, 0, len(members))
	for _, m := range members {
		item, err := s.Unwrap(pair.PrivateKey, convert.Member(m))
		if err != nil {
			return 0, fmt.Errorf("recover key of conversation %s: %w", m.ConversationID, err)
		}
		items = append(items, item)
	}

	s.vault.ReplaceAllSince(mark, items)
	s.log.Debug(ctx, "conversation keys recovered", "count", len(items))
	return len(items), nil
}

// AddMemberKey unwraps the key of a single member record, as delivered by
// a live "member added" event, and stores it unless a key already exists.
func (s *KeyService) AddMemberKey(ctx context.Context, member models.ConversationMember) (bool, error) {
	pair, err := s.EnsurePersonalKeys(ctx)
	if err != nil {
		return false, err
	}
	item, err := s.Unwrap(pair.PrivateKey, member)
	if err != nil {
		return false, err
	}
	return s.vault.Put(item), nil
}

// Unwrap decrypts the conversation key material wrapped in member. Every
// failure wraps common.ErrDecryptionFailure.
func (s *KeyService) Unwrap(priv *rsa.PrivateKey, member models.ConversationMember) (models.KeyPairItem, error) {
	item := models.KeyPairItem{ConversationID: member.ConversationID, Kind: member.Kind}

	if member.Kind.Asymmetric() {
		pub, err := cryptox.ParsePublicKeyPEM([]byte(member.ConversationPublicKey))
		if err != nil {
			return item, fmt.Errorf("%w: conversation public key: %v", common.ErrDecryptionFailure, err)
		}
		privPEM, err := cryptox.UnwrapKey(priv, s.oaep, member.EncryptedConversationPrivateKey)
		if err != nil {
			return item, err
		}
		convPriv, err := cryptox.ParsePrivateKeyPEM(privPEM)
		common.WipeByteArray(privPEM)
		if err != nil {
			return item, fmt.Errorf("%w: conversation private key: %v", common.ErrDecryptionFailure, err)
		}
		item.PublicKey, item.PrivateKey = pub, convPriv
		return item, nil
	}

	key, err := cryptox.UnwrapKey(priv, s.oaep, member.EncryptedConversationKey)
	if err != nil {
		return item, err
	}
	iv, err := cryptox.UnwrapKey(priv, s.oaep, member.EncryptedConversationIV)
	if err != nil {
		return item, err
	}
	if len(key) != conversationKeySize || len(iv) != conversationIVSize {
		return item, fmt.Errorf("%w: unexpected key material size %d/%d", common.ErrDecryptionFailure, len(key), len(iv))
	}
	item.Key, item.IV = key, iv
	return item, nil
}

// Wrap is the inverse of Unwrap: it wraps item for the owner of pub.
func (s *KeyService) Wrap(pub *rsa.PublicKey, item models.KeyPairItem) (models.ConversationMember, error) {
	m := models.ConversationMember{ConversationID: item.ConversationID, Kind: item.Kind}

	if item.Kind.Asymmetric() {
		pubPEM, err := cryptox.EncodePublicKeyPEM(item.PublicKey)
		if err != nil {
			return m, err
		}
		privPEM, err := cryptox.EncodePrivateKeyPEM(item.PrivateKey)
		if err != nil {
			return m, err
		}
		wrapped, err := cryptox.WrapKey(pub, s.oaep, privPEM)
		if err != nil {
			return m, err
		}
		m.ConversationPublicKey, m.EncryptedConversationPrivateKey = string(pubPEM), wrapped
		return m, nil
	}

	key, err := cryptox.WrapKey(pub, s.oaep, item.Key)
	if err != nil {
		return m, err
	}
	iv, err := cryptox.WrapKey(pub, s.oaep, item.IV)
	if err != nil {
		return m, err
	}
	m.EncryptedConversationKey, m.EncryptedConversationIV = key, iv
	return m, nil
}
