package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTokens struct {
	refreshes  int
	refreshErr error
}

func (c *countingTokens) Token(context.Context) (string, error) { return "t", nil }

func (c *countingTokens) Refresh(context.Context) (string, error) {
	c.refreshes++
	return "t2", c.refreshErr
}

func unauthorized() error {
	return &TransportError{Kind: KindUnauthorized, Op: "op", Retryable: true, Err: errors.New("401")}
}

func TestWithAuthRetry_RefreshesOnceAndRetries(t *testing.T) {
	tokens := &countingTokens{}
	calls := 0

	res, err := WithAuthRetry(context.Background(), tokens, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", unauthorized()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestWithAuthRetry_RetriesExactlyOnce(t *testing.T) {
	tokens := &countingTokens{}
	calls := 0

	err := DoWithAuthRetry(context.Background(), tokens, func(ctx context.Context) error {
		calls++
		return unauthorized()
	})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestWithAuthRetry_OtherErrorsAreNotRetried(t *testing.T) {
	tokens := &countingTokens{}
	calls := 0

	err := DoWithAuthRetry(context.Background(), tokens, func(ctx context.Context) error {
		calls++
		return &TransportError{Kind: KindNetwork, Retryable: true, Err: errors.New("down")}
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, calls)
	assert.Zero(t, tokens.refreshes)
}

func TestWithAuthRetry_RefreshFailure(t *testing.T) {
	tokens := &countingTokens{refreshErr: errors.New("idp down")}
	calls := 0

	err := DoWithAuthRetry(context.Background(), tokens, func(ctx context.Context) error {
		calls++
		return unauthorized()
	})
	require.ErrorContains(t, err, "idp down")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestTransportError_Strings(t *testing.T) {
	err := &TransportError{Kind: KindNetwork, Op: "listMessages", Err: errors.New("eof")}
	assert.Equal(t, "transport network error in listMessages: eof", err.Error())
	assert.Equal(t, "unauthorized", KindUnauthorized.String())
	assert.False(t, IsRetryable(errors.New("x")))
}
