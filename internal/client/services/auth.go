package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
)

const (
	metaSalt     = "salt"
	metaVerifier = "verifier"
)

// AuthService manages the account-bound local secret. The secret encrypts
// the personal private key at rest and is derived from a passphrase; only
// its salt and verifier are stored.
type AuthService struct {
	meta metadata.Repository
	sess *session.Session
	log  logging.Logger
}

func NewAuthService(meta metadata.Repository, sess *session.Session, log logging.Logger) *AuthService {
	return &AuthService{meta: meta, sess: sess, log: log.With("component", "auth")}
}

// IsSetUp reports whether a passphrase was configured for the account.
func (a *AuthService) IsSetUp(ctx context.Context) (bool, error) {
	salt, err := a.meta.Get(ctx, a.sess.Scope(), metaSalt)
	if err != nil {
		return false, err
	}
	return salt != nil, nil
}

// Setup configures the passphrase of the account and unlocks the session.
// It refuses to overwrite an existing setup, which would orphan the stored
// personal key.
func (a *AuthService) Setup(ctx context.Context, passphrase []byte) error {
	ok, err := a.IsSetUp(ctx)
	if err != nil {
		return err
	}
	if ok {
		return common.ErrAlreadyInitialized
	}

	salt := common.GenerateRandByteArray(32)
	secret := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(secret)

	scope := a.sess.Scope()
	if err := a.meta.Set(ctx, scope, metaSalt, salt); err != nil {
		return err
	}
	if err := a.meta.Set(ctx, scope, metaVerifier, cryptox.MakeVerifier(secret)); err != nil {
		return err
	}

	a.sess.SetSecret(secret)
	a.log.Info(ctx, "local secret configured")
	return nil
}

// Unlock derives the secret from passphrase and verifies it against the
// stored verifier. It returns common.ErrLocalDataNotAvailable when Setup never
// ran and common.ErrorUnauthorized on a wrong passphrase.
func (a *AuthService) Unlock(ctx context.Context, passphrase []byte) error {
	scope := a.sess.Scope()

	salt, err := a.meta.Get(ctx, scope, metaSalt)
	if err != nil {
		return fmt.Errorf("read salt: %w", err)
	}
	verifier, err := a.meta.Get(ctx, scope, metaVerifier)
	if err != nil {
		return fmt.Errorf("read verifier: %w", err)
	}
	if salt == nil || verifier == nil {
		return common.ErrLocalDataNotAvailable
	}

	candidate := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(candidate)

	if subtle.ConstantTimeCompare(verifier, cryptox.MakeVerifier(candidate)) == 0 {
		return common.ErrorUnauthorized
	}

	a.sess.SetSecret(candidate)
	return nil
}

// Reset wipes the local auth metadata of the account and locks the session.
func (a *AuthService) Reset(ctx context.Context) error {
	a.sess.Lock()
	return a.meta.Clear(ctx, a.sess.Scope())
}
