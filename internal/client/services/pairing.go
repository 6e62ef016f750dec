package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 2 * time.Minute
)

var errStillPending = errors.New("pairing peer not ready")

// PairingRemote is the relay the two devices exchange pairing messages
// through.
type PairingRemote interface {
	Init(ctx context.Context, identity string) error
	Knowledge(ctx context.Context, identity, publicKeyPEM string) error
	Check(ctx context.Context, identity string) (*api.CheckResponse, error)
	Transfer(ctx context.Context, req api.TransferRequest) error
	Download(ctx context.Context, identity string) (*api.DownloadResponse, error)
}

// PairingSession is the state device B keeps between the knowledge
// exchange and the download. Its key pair is single-use.
type PairingSession struct {
	Identity   string
	PrivateKey *rsa.PrivateKey
	OAEP       cryptox.OAEPParams

	mu   sync.Mutex
	used bool
}

type PairingOption func(*PairingService)

// WithPolling overrides the interval and the overall bound of the transfer
// and download polls.
func WithPolling(interval, timeout time.Duration) PairingOption {
	return func(p *PairingService) {
		p.interval = interval
		p.timeout = timeout
	}
}

// PairingService moves the personal key pair from an existing device (A)
// to a new one (B). The relay only sees the pairing identity and RSA-OAEP
// ciphertext.
type PairingService struct {
	remote   PairingRemote
	keys     *KeyService
	log      logging.Logger
	interval time.Duration
	timeout  time.Duration
	keyBits  int
}

func NewPairingService(remote PairingRemote, keys *KeyService, log logging.Logger, opts ...PairingOption) *PairingService {
	p := &PairingService{
		remote:   remote,
		keys:     keys,
		log:      log.With("component", "pairing"),
		interval: DefaultPollInterval,
		timeout:  DefaultPollTimeout,
		keyBits:  cryptox.DefaultKeyBits,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initiate runs on device A. It registers a fresh pairing identity and
// returns the mnemonic to hand to device B out of band.
func (p *PairingService) Initiate(ctx context.Context) (string, error) {
	if _, err := p.keys.EnsurePersonalKeys(ctx); err != nil {
		return "", err
	}

	mnemonic, err := cryptox.NewMnemonic()
	if err != nil {
		return "", err
	}
	identity, err := cryptox.PairingIdentity(mnemonic)
	if err != nil {
		return "", err
	}
	if err := p.remote.Init(ctx, identity); err != nil {
		return "", fmt.Errorf("pair init: %w", err)
	}

	p.log.Info(ctx, "pairing initiated")
	return mnemonic, nil
}

// BeginKnowledgeExchange runs on device B. It creates the single-use
// pairing key pair and publishes its public half under the identity
// derived from mnemonic.
func (p *PairingService) BeginKnowledgeExchange(ctx context.Context, mnemonic string) (*PairingSession, error) {
	identity, err := cryptox.PairingIdentity(mnemonic)
	if err != nil {
		return nil, err
	}

	priv, err := cryptox.GenerateKeyPair(p.keyBits)
	if err != nil {
		return nil, err
	}
	pubPEM, err := cryptox.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := p.remote.Knowledge(ctx, identity, string(pubPEM)); err != nil {
		return nil, fmt.Errorf("pair knowledge: %w", err)
	}

	return &PairingSession{Identity: identity, PrivateKey: priv, OAEP: cryptox.DefaultOAEP}, nil
}

// Transfer runs on device A. It waits until device B's pairing key is
// visible, then uploads the personal key pair encrypted under it.
func (p *PairingService) Transfer(ctx context.Context, mnemonic string) error {
	pair, err := p.keys.EnsurePersonalKeys(ctx)
	if err != nil {
		return err
	}
	identity, err := cryptox.PairingIdentity(mnemonic)
	if err != nil {
		return err
	}

	check, err := poll(ctx, p.backoff(), func(ctx context.Context) (*api.CheckResponse, string, error) {
		resp, err := p.remote.Check(ctx, identity)
		if err != nil {
			return nil, "", err
		}
		return resp, resp.Status, nil
	})
	if err != nil {
		return fmt.Errorf("pair check: %w", err)
	}

	peer, err := cryptox.ParsePublicKeyPEM([]byte(check.PublicKey))
	if err != nil {
		return fmt.Errorf("%w: peer pairing key: %v", common.ErrProtocol, err)
	}

	pubPEM, err := cryptox.EncodePublicKeyPEM(pair.PublicKey)
	if err != nil {
		return err
	}
	privPEM, err := cryptox.EncodePrivateKeyPEM(pair.PrivateKey)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(privPEM)

	encPub, err := cryptox.WrapKey(peer, cryptox.DefaultOAEP, pubPEM)
	if err != nil {
		return err
	}
	encPriv, err := cryptox.WrapKey(peer, cryptox.DefaultOAEP, privPEM)
	if err != nil {
		return err
	}

	err = p.remote.Transfer(ctx, api.TransferRequest{
		PairingIdentity:     identity,
		EncryptedPublicKey:  encPub,
		EncryptedPrivateKey: encPriv,
	})
	if err != nil {
		return fmt.Errorf("pair transfer: %w", err)
	}

	p.log.Info(ctx, "personal key pair transferred")
	return nil
}

// Download runs on device B. It waits for the transfer, decrypts the
// personal key pair and installs it. A session can complete only once.
func (p *PairingService) Download(ctx context.Context, ps *PairingSession) error {
	if ps == nil || ps.PrivateKey == nil {
		return fmt.Errorf("%w: no pairing session", common.ErrProtocol)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.used {
		return fmt.Errorf("%w: pairing session already completed", common.ErrProtocol)
	}

	resp, err := poll(ctx, p.backoff(), func(ctx context.Context) (*api.DownloadResponse, string, error) {
		resp, err := p.remote.Download(ctx, ps.Identity)
		if err != nil {
			return nil, "", err
		}
		return resp, resp.Status, nil
	})
	if err != nil {
		return fmt.Errorf("pair download: %w", err)
	}

	pubPEM, err := cryptox.UnwrapKey(ps.PrivateKey, ps.OAEP, resp.EncryptedPublicKey)
	if err != nil {
		return err
	}
	privPEM, err := cryptox.UnwrapKey(ps.PrivateKey, ps.OAEP, resp.EncryptedPrivateKey)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(privPEM)

	pub, err := cryptox.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return fmt.Errorf("%w: transferred public key: %v", common.ErrDecryptionFailure, err)
	}
	priv, err := cryptox.ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return fmt.Errorf("%w: transferred private key: %v", common.ErrDecryptionFailure, err)
	}
	if !priv.PublicKey.Equal(pub) {
		return fmt.Errorf("%w: transferred key halves do not match", common.ErrDecryptionFailure)
	}

	if err := p.keys.InstallPersonalKeys(ctx, models.PersonalKeyPair{PublicKey: pub, PrivateKey: priv}); err != nil {
		return err
	}

	ps.used = true
	ps.PrivateKey = nil
	p.log.Info(ctx, "personal key pair received")
	return nil
}

func (p *PairingService) backoff() retry.Backoff {
	return retry.WithMaxDuration(p.timeout, retry.NewConstant(p.interval))
}

// poll calls fetch until it reports READY. PENDING is retried on b; any
// other status, or running out of b, is a protocol error.
func poll[T any](ctx context.Context, b retry.Backoff, fetch func(context.Context) (T, string, error)) (T, error) {
	var result T
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		r, status, err := fetch(ctx)
		if err != nil {
			return err
		}
		switch status {
		case api.PairingReady:
			result = r
			return nil
		case api.PairingPending:
			return retry.RetryableError(errStillPending)
		default:
			return fmt.Errorf("%w: unexpected pairing status %q", common.ErrProtocol, status)
		}
	})
	if errors.Is(err, errStillPending) {
		return result, fmt.Errorf("%w: timed out waiting for peer", common.ErrProtocol)
	}
	return result, err
}
