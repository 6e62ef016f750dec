package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/client"
	"github.com/dmitrijs2005/chatkeeper/internal/client/config"
	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/services"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/client/store"
	"github.com/dmitrijs2005/chatkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/sethvargo/go-retry"
)

// App holds the wired client of one account. Network links are opened on
// first use, so commands that stay local never touch the backend.
type App struct {
	cfg *config.Config
	log logging.Logger
	out io.Writer

	store    *store.Store
	sess     *session.Session
	vault    *keyvault.Vault
	grpc     *client.GRPCClient
	realtime *client.Realtime
	api      *api.API
	metrics  *metrics.Metrics

	auth     *services.AuthService
	keys     *services.KeyService
	pairing  *services.PairingService
	messages *services.MessageService
}

// NewApp opens the cache and wires every component for cfg.
func NewApp(ctx context.Context, cfg *config.Config, out, logOut io.Writer) (*App, error) {
	log, err := logging.New(cfg.LogFormat, cfg.LogLevel, logOut)
	if err != nil {
		return nil, err
	}

	tokens := session.NewFileTokenSource(cfg.TokenFile)
	scope, err := resolveScope(ctx, cfg, tokens)
	if err != nil {
		return nil, err
	}
	sess := session.New(scope, tokens)

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	grpcClient, err := client.NewGRPCClient(cfg.ServerEndpointAddr, sess)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log.With("account", scope.AccountID),
		out:     out,
		store:   st,
		sess:    sess,
		vault:   keyvault.New(),
		grpc:    grpcClient,
		api:     api.New(grpcClient, tokens),
		metrics: metrics.New(),
	}

	a.realtime = client.NewRealtime(cfg.RealtimeURL, sess,
		client.WithRealtimeLogger(a.log),
		client.WithReconnectBackoff(a.reconnectBackoff))

	a.auth = services.NewAuthService(st.Metadata, sess, a.log)
	a.keys = services.NewKeyService(a.api, st.PersonalKeys, a.vault, sess, a.log)
	a.pairing = services.NewPairingService(
		api.NewPairingClient(cfg.PairingBaseURL, cfg.APIKey, tokens), a.keys, a.log,
		services.WithPolling(cfg.PairingPollInterval, cfg.PairingTimeout))
	a.messages = services.NewMessageService(st.Messages, a.vault, sess, a.log)

	return a, nil
}

// Close releases the links and the cache.
func (a *App) Close() error {
	a.sess.Lock()
	return errors.Join(a.realtime.Close(), a.grpc.Close(), a.store.Close())
}

func (a *App) reconnectBackoff() retry.Backoff {
	b := retry.NewExponential(500 * time.Millisecond)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithMaxDuration(a.cfg.ReconnectMaxWait, b)
}

// newSyncer wires the subscription manager and the orchestrator.
func (a *App) newSyncer(onEvent func(syncer.Event)) (*syncer.Manager, *syncer.Orchestrator) {
	manager := syncer.NewManager(a.realtime, a.store.Repositories, a.keys, a.api, a.vault, a.sess, a.log,
		syncer.WithManagerMetrics(a.metrics))
	orch := syncer.NewOrchestrator(a.store, a.api, a.keys, manager, a.sess, a.log,
		syncer.WithInterval(a.cfg.SyncInterval),
		syncer.WithEventHandler(onEvent),
		syncer.WithMetrics(a.metrics))
	return manager, orch
}

// resolveScope reads the identity from the auth token. Configured account
// and organization ids take precedence; with both set the token is optional.
func resolveScope(ctx context.Context, cfg *config.Config, tokens session.TokenSource) (models.Scope, error) {
	scope := models.Scope{AccountID: cfg.AccountID, OrganizationID: cfg.OrganizationID}
	if scope.AccountID != "" && scope.OrganizationID != "" {
		return scope, nil
	}

	token, err := tokens.Token(ctx)
	if err != nil {
		return models.Scope{}, fmt.Errorf("resolve account: %w", err)
	}
	fromToken, err := session.IdentityFromToken(token)
	if err != nil {
		return models.Scope{}, err
	}

	if scope.AccountID == "" {
		scope.AccountID = fromToken.AccountID
	}
	if scope.OrganizationID == "" {
		scope.OrganizationID = fromToken.OrganizationID
	}
	return scope, nil
}
