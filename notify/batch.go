package notify

import (
	"context"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type BatchResult struct {
	Sent   int
	Failed int
	// Errors keeps the first few failures for the caller's log line.
	Errors []error
}

const maxBatchErrors = 5

// BatchSender sends mail in fixed-size batches, spacing batches to stay under
// the relay's rate limits.
type BatchSender struct {
	sender  EmailSender
	size    int
	limiter *rate.Limiter
	retry   RetryPolicy
}

func NewBatchSender(sender EmailSender, size int, delay time.Duration, retry RetryPolicy) *BatchSender {
	if size <= 0 {
		size = 50
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &BatchSender{
		sender:  sender,
		size:    size,
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
	}
}

// SendAll delivers every email, one batch at a time. It stops early only when
// ctx is done; individual failures are counted and skipped.
func (b *BatchSender) SendAll(ctx context.Context, emails []Email) (BatchResult, error) {
	var res BatchResult
	for start := 0; start < len(emails); start += b.size {
		if err := b.limiter.Wait(ctx); err != nil {
			return res, err
		}
		end := start + b.size
		if end > len(emails) {
			end = len(emails)
		}
		logger.Get().Debug("sending email batch",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("total", len(emails)))

		for _, email := range emails[start:end] {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			err := b.retry.do(ctx, func() error { return b.sender.Send(ctx, email) })
			if err != nil {
				res.Failed++
				if len(res.Errors) < maxBatchErrors {
					res.Errors = append(res.Errors, err)
				}
				metrics.DeliveriesTotal.WithLabelValues(ChannelEmail.String(), "failed").Inc()
				logger.Get().Warn("email delivery failed",
					zap.String("to", email.To),
					zap.Error(err))
				continue
			}
			res.Sent++
			metrics.DeliveriesTotal.WithLabelValues(ChannelEmail.String(), "sent").Inc()
		}
	}
	return res, nil
}
