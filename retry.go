package rediswire

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// DialWithRetry dials with the given backoff policy, for callers that
// want reconnect behavior. The client core itself never retries:
// connection faults poison the affected client and are reported as is.
//
// Handshake rejections (*AuthError, *SelectError) are permanent - the
// server will keep rejecting the same credentials - so they stop the
// retry loop immediately.
//
// Example:
//
//	c, err := rediswire.DialWithRetry(ctx,
//		backoff.NewExponentialBackOff(),
//		rediswire.WithAddr("localhost:6379"))
func DialWithRetry(ctx context.Context, policy backoff.BackOff, opts ...Option) (*Client, error) {
	var client *Client

	operation := func() error {
		c, err := Dial(ctx, opts...)
		if err != nil {
			var authErr *AuthError
			var selErr *SelectError
			if errors.As(err, &authErr) || errors.As(err, &selErr) || errors.Is(err, ErrInvalidConfig) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return client, nil
}
