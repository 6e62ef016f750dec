package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/client"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/go-resty/resty/v2"
)

// Pairing statuses answered by check and download.
const (
	PairingPending = "PENDING"
	PairingReady   = "READY"
)

type CheckResponse struct {
	Status    string `json:"status"`
	PublicKey string `json:"publicKey,omitempty"`
}

type TransferRequest struct {
	PairingIdentity     string `json:"pairingIdentity"`
	EncryptedPublicKey  string `json:"encryptedPublicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
}

type DownloadResponse struct {
	Status              string `json:"status"`
	EncryptedPublicKey  string `json:"encryptedPublicKey,omitempty"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey,omitempty"`
}

// PairingClient calls the pairing endpoints. The backend only relays
// opaque identifiers and ciphertext.
type PairingClient struct {
	httpClient *resty.Client
	baseURL    string
	apiKey     string
	tokens     session.TokenSource
}

func NewPairingClient(baseURL, apiKey string, tokens session.TokenSource) *PairingClient {
	return &PairingClient{
		httpClient: resty.New().
			SetHeader("User-Agent", "chatkeeper/1.0").
			SetTimeout(30 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
	}
}

func (c *PairingClient) Init(ctx context.Context, identity string) error {
	return c.post(ctx, "/pair/init", map[string]string{"pairingIdentity": identity}, nil)
}

func (c *PairingClient) Knowledge(ctx context.Context, identity, publicKeyPEM string) error {
	return c.post(ctx, "/pair/knowledge", map[string]string{
		"pairingIdentity": identity,
		"publicKey":       publicKeyPEM,
	}, nil)
}

func (c *PairingClient) Check(ctx context.Context, identity string) (*CheckResponse, error) {
	var result CheckResponse
	if err := c.post(ctx, "/pair/check", map[string]string{"pairingIdentity": identity}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *PairingClient) Transfer(ctx context.Context, req TransferRequest) error {
	return c.post(ctx, "/pair/transfer", req, nil)
}

func (c *PairingClient) Download(ctx context.Context, identity string) (*DownloadResponse, error) {
	var result DownloadResponse
	if err := c.post(ctx, "/pair/download", map[string]string{"pairingIdentity": identity}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *PairingClient) post(ctx context.Context, path string, body, result any) error {
	return client.DoWithAuthRetry(ctx, c.tokens, func(ctx context.Context) error {
		return c.doPost(ctx, path, body, result)
	})
}

func (c *PairingClient) doPost(ctx context.Context, path string, body, result any) error {
	if c.tokens == nil {
		return fmt.Errorf("%w: no auth token source", common.ErrPrecondition)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("%w: empty auth token", common.ErrPrecondition)
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader(common.AccessTokenHeaderName, token).
		SetHeader(common.APIKeyHeaderName, c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(c.baseURL + path)
	if err != nil {
		return &client.TransportError{Kind: client.KindNetwork, Op: path, Retryable: true, Err: err}
	}

	if resp.IsError() {
		cause := fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
		switch {
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			return &client.TransportError{Kind: client.KindUnauthorized, Op: path, Retryable: true, Err: cause}
		case resp.StatusCode() >= http.StatusInternalServerError:
			return &client.TransportError{Kind: client.KindNetwork, Op: path, Retryable: true, Err: cause}
		default:
			return &client.TransportError{Kind: client.KindRemote, Op: path, Err: cause}
		}
	}

	return nil
}
