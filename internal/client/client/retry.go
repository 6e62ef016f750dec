package client

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
)

// WithAuthRetry runs fn. If it fails with an unauthorized TransportError the
// token source is refreshed and fn runs once more; its second result is
// returned as is.
func WithAuthRetry[T any](ctx context.Context, tokens session.TokenSource, fn func(ctx context.Context) (T, error)) (T, error) {
	res, err := fn(ctx)
	if err == nil || !IsUnauthorized(err) || !IsRetryable(err) || tokens == nil {
		return res, err
	}

	if _, rerr := tokens.Refresh(ctx); rerr != nil {
		var zero T
		return zero, fmt.Errorf("refresh credentials: %w (after %w)", rerr, err)
	}

	return fn(ctx)
}

// DoWithAuthRetry is WithAuthRetry for calls without a result.
func DoWithAuthRetry(ctx context.Context, tokens session.TokenSource, fn func(ctx context.Context) error) error {
	_, err := WithAuthRetry(ctx, tokens, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
