// Package notify is the outbound notification boundary. Delivery is
// best-effort and fire-and-forget: failures are retried out of band, logged,
// and never surface into the request path.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Sender delivers a single email. Implementations may block; callers above
// the AsyncNotifier never do.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier is the application-facing contract: typed, fire-and-forget
// notifications.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
	SendWelcome(ctx context.Context, email string)
	SendWelcomeBack(ctx context.Context, email string)
	SendPasswordReset(ctx context.Context, email, userName, resetURL string)
}

// AsyncNotifier dispatches each notification on its own goroutine with
// capped exponential backoff and jitter (three retries), mirroring how the
// delivery worker behaves. Close waits for in-flight sends, which matters in
// tests and at graceful shutdown; dropped sends on hard kill are acceptable
// by contract.
type AsyncNotifier struct {
	sender  Sender
	logger  logging.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncNotifier(sender Sender, logger logging.Logger, timeout time.Duration) *AsyncNotifier {
	return &AsyncNotifier{
		sender:  sender,
		logger:  logger.With("module", "notify"),
		timeout: timeout,
	}
}

func (n *AsyncNotifier) dispatch(kind, to, subject, body string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		backoff := retry.WithMaxRetries(3, retry.WithJitter(500*time.Millisecond, retry.NewExponential(time.Second)))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := n.sender.Send(ctx, to, subject, body); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			n.logger.Error(ctx, "notification delivery failed", "kind", kind, "to", to, "error", err)
			return
		}
		n.logger.Info(ctx, "notification sent", "kind", kind, "to", to)
	}()
}

// SendOTP delivers the registration passcode. Unlike the other notifications
// it reports the first synchronous attempt's outcome so the OTP workflow can
// log it; the request path still acknowledges regardless.
func (n *AsyncNotifier) SendOTP(ctx context.Context, email, code string) error {
	subject := "Your OTP for Registration"
	body := fmt.Sprintf("Your OTP code is %s. It will expire in 5 minutes.", code)
	if err := n.sender.Send(ctx, email, subject, body); err != nil {
		return err
	}
	return nil
}

func (n *AsyncNotifier) SendWelcome(ctx context.Context, email string) {
	n.dispatch("welcome_register", email, "Welcome to WebChat!",
		"Hi,\n\nYou have registered successfully!\nThanks for joining us.\n\n— Team WebChat")
}

func (n *AsyncNotifier) SendWelcomeBack(ctx context.Context, email string) {
	n.dispatch("welcome_login", email, "Welcome back to WebChat!",
		"Hi,\n\nYou have logged in successfully!\nThanks for joining us.\n\n— Team WebChat")
}

func (n *AsyncNotifier) SendPasswordReset(ctx context.Context, email, userName, resetURL string) {
	body := fmt.Sprintf("Hello %s,\n\nClick the link below to reset your password:\n%s\n\n— Team WebChat", userName, resetURL)
	n.dispatch("password_reset", email, "Password reset mail", body)
}

// Close waits for in-flight notifications to finish.
func (n *AsyncNotifier) Close() {
	n.wg.Wait()
}
