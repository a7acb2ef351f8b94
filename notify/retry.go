package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often an outbound delivery is attempted.
type RetryPolicy struct {
	Tries           uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetry = RetryPolicy{Tries: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 5 * time.Second}

func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.Tries
	if tries == 0 {
		tries = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	return err
}
