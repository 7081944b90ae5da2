package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/mail"
	"github.com/sandeepkv93/reading-diary/internal/observability"
)

// CodeDelivery hands messages to the mail driver without blocking the caller.
type CodeDelivery interface {
	Dispatch(ctx context.Context, msg mail.Message)
	DispatchCode(ctx context.Context, email, code string)
}

// DeliveryDispatcher sends each message on its own goroutine bounded by
// MAIL_DELIVERY_TIMEOUT. Failures are logged and counted, never returned.
type DeliveryDispatcher struct {
	sender  mail.Sender
	from    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDeliveryDispatcher(sender mail.Sender, cfg *config.Config, logger *slog.Logger) *DeliveryDispatcher {
	timeout := cfg.MailDeliveryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DeliveryDispatcher{sender: sender, from: cfg.MailFrom, timeout: timeout, logger: logger}
}

func (d *DeliveryDispatcher) DispatchCode(ctx context.Context, email, code string) {
	d.Dispatch(ctx, mail.VerificationCodeMessage(d.from, email, code))
}

func (d *DeliveryDispatcher) Dispatch(ctx context.Context, msg mail.Message) {
	// The request context ends when the handler returns; keep its values only.
	base := context.WithoutCancel(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.deliver(base, msg)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.deliver(base, msg)
	}()
}

func (d *DeliveryDispatcher) deliver(ctx context.Context, msg mail.Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.sender.Send(ctx, msg)
	driver := d.sender.Driver()
	observability.RecordMailDeliveryDuration(ctx, driver, time.Since(start))
	if err != nil {
		observability.RecordMailDelivery(ctx, driver, "error")
		d.logger.WarnContext(ctx, "mail delivery failed",
			"driver", driver,
			"to", msg.To,
			"subject", msg.Subject,
			"error", err,
		)
		return
	}
	observability.RecordMailDelivery(ctx, driver, "success")
}

// Close stops accepting background work and waits for in-flight deliveries
// until ctx expires.
func (d *DeliveryDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
