package services

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/messages"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
)

// MessageService is the read path over cached messages and the matching
// content encryption for the write path.
type MessageService struct {
	repo  messages.Repository
	vault *keyvault.Vault
	sess  *session.Session
	log   logging.Logger
	oaep  cryptox.OAEPParams
}

func NewMessageService(repo messages.Repository, vault *keyvault.Vault, sess *session.Session, log logging.Logger) *MessageService {
	return &MessageService{
		repo:  repo,
		vault: vault,
		sess:  sess,
		log:   log.With("component", "messages"),
		oaep:  cryptox.DefaultOAEP,
	}
}

// List returns a page of cached messages of a conversation with their
// content decrypted. A message that fails to decrypt is skipped and logged;
// a conversation without a key is a precondition error.
func (s *MessageService) List(ctx context.Context, conversationID string, offset, limit int) ([]models.DecryptedMessage, error) {
	key, ok := s.vault.Get(conversationID)
	if !ok {
		return nil, fmt.Errorf("%w: no key for conversation %s", common.ErrPrecondition, conversationID)
	}

	rows, err := s.repo.ListByConversation(ctx, s.sess.Scope(), conversationID, offset, limit)
	if err != nil {
		return nil, err
	}

	result := make([]models.DecryptedMessage, 0, len(rows))
	for _, m := range rows {
		dm := models.DecryptedMessage{Message: m}

		switch {
		case m.Deleted():
		case m.Origin == models.OriginSystem:
			dm.Text = m.Content
		default:
			text, err := s.decrypt(key, m.Content)
			if err != nil {
				s.log.Warn(ctx, "skipping undecryptable message", "message_id", m.ID, "error", err)
				continue
			}
			dm.Text = text
		}

		result = append(result, dm)
	}

	return result, nil
}

// Encrypt produces the content of a new message for conversationID.
func (s *MessageService) Encrypt(conversationID, plaintext string) (string, error) {
	key, ok := s.vault.Get(conversationID)
	if !ok {
		return "", fmt.Errorf("%w: no key for conversation %s", common.ErrPrecondition, conversationID)
	}

	if key.Kind.Asymmetric() {
		return cryptox.WrapKey(key.PublicKey, s.oaep, []byte(plaintext))
	}

	ct, err := cryptox.EncryptCBC(key.Key, key.IV, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (s *MessageService) decrypt(key models.KeyPairItem, content string) (string, error) {
	if key.Kind.Asymmetric() {
		pt, err := cryptox.UnwrapKey(key.PrivateKey, s.oaep, content)
		return string(pt), err
	}

	ct, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
	}
	pt, err := cryptox.DecryptCBC(key.Key, key.IV, ct)
	return string(pt), err
}
