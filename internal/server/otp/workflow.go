package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/logging"
	"golang.org/x/time/rate"
)

// Verification failures. ErrCodeExpired covers both "never requested" and
// "already expired or consumed"; the caller cannot tell them apart on purpose.
var (
	ErrCodeRequired = errors.New("OTP is required")
	ErrCodeExpired  = errors.New("OTP expired or not sent")
	ErrCodeMismatch = errors.New("invalid OTP")

	ErrAlreadyRegistered = errors.New("email already registered")
	ErrRateLimited       = errors.New("too many OTP requests")
)

// ExistenceChecker answers whether an account already owns an email.
type ExistenceChecker interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// Sender dispatches the code to the address. Implementations are best-effort:
// the workflow never fails a request over a delivery error.
type Sender interface {
	SendOTP(ctx context.Context, email, code string) error
}

// Workflow implements RequestCode / VerifyCode / ConsumeCode over an injected
// Store. Emails are case-normalized before every store access.
type Workflow struct {
	store    Store
	users    ExistenceChecker
	sender   Sender
	logger   logging.Logger
	ttl      time.Duration
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*limiterEntry

	generate func() (string, error)
}

// maxTrackedLimiters bounds the per-email limiter map. Once it fills up,
// idle entries are swept before admitting new ones.
const maxTrackedLimiters = 1024

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewWorkflow(store Store, users ExistenceChecker, sender Sender, logger logging.Logger, ttl, requestInterval time.Duration) *Workflow {
	return &Workflow{
		store:    store,
		users:    users,
		sender:   sender,
		logger:   logger.With("module", "otp"),
		ttl:      ttl,
		interval: requestInterval,
		limiters: make(map[string]*limiterEntry),
		generate: common.MakeOTPCode,
	}
}

// NormalizeEmail is the canonical form used for uniqueness checks and store keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (w *Workflow) allow(email string) bool {
	if w.interval <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if len(w.limiters) >= maxTrackedLimiters {
		w.evictIdle(now)
	}
	e, ok := w.limiters[email]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(w.interval), 1)}
		w.limiters[email] = e
	}
	e.seen = now
	return e.lim.Allow()
}

// evictIdle drops limiters whose last request is more than one interval old.
// A limiter idle that long has fully refilled and behaves exactly like a
// fresh one, so nothing is lost. Caller holds w.mu.
func (w *Workflow) evictIdle(now time.Time) {
	for email, e := range w.limiters {
		if now.Sub(e.seen) > w.interval {
			delete(w.limiters, email)
		}
	}
}

// RequestCode generates a fresh code for the email, overwriting any prior
// live entry, and dispatches it through the sender. Delivery failure is
// reported to the caller (who still acknowledges the request) but the code
// stays live: a late email may yet arrive.
func (w *Workflow) RequestCode(ctx context.Context, email string) (delivered bool, err error) {
	email = NormalizeEmail(email)

	exists, err := w.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, common.ErrorInternal
	}
	if exists {
		return false, ErrAlreadyRegistered
	}

	if !w.allow(email) {
		return false, ErrRateLimited
	}

	code, err := w.generate()
	if err != nil {
		return false, common.ErrorInternal
	}
	w.store.Set(email, code, w.ttl)

	if err := w.sender.SendOTP(ctx, email, code); err != nil {
		w.logger.Error(ctx, "failed to send OTP", "email", email, "error", err)
		return false, nil
	}
	return true, nil
}

// VerifyCode compares the submitted code against the live entry by value.
// Codes are fixed-width strings, so leading zeros survive the comparison.
func (w *Workflow) VerifyCode(email, submitted string) error {
	email = NormalizeEmail(email)

	if strings.TrimSpace(submitted) == "" {
		return ErrCodeRequired
	}
	code, ok := w.store.Get(email)
	if !ok {
		return ErrCodeExpired
	}
	if code != strings.TrimSpace(submitted) {
		return ErrCodeMismatch
	}
	return nil
}

// ConsumeCode deletes the live entry. Called only after a verified
// registration commits.
func (w *Workflow) ConsumeCode(email string) {
	w.store.Delete(NormalizeEmail(email))
}
