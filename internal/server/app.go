// Package server initializes and runs the chat application server. It wires
// the database, the notification workers, and the HTTP endpoint, and handles
// graceful shutdown on OS signals.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/dmitrijs2005/webchat/internal/server/config"
	"github.com/dmitrijs2005/webchat/internal/server/httpapi"
	"github.com/dmitrijs2005/webchat/internal/server/notify"
	"github.com/dmitrijs2005/webchat/internal/server/otp"
	"github.com/dmitrijs2005/webchat/internal/server/services"
	"github.com/dmitrijs2005/webchat/internal/server/shared/db"
)

const (
	shutdownTimeout      = 10 * time.Second
	sendTimeout          = 30 * time.Second
	otpSweepInterval     = time.Minute
	revokedPurgePeriod   = time.Hour
	notifierCloseTimeout = 15 * time.Second
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	handler  http.Handler
	notifier *notify.AsyncNotifier
	otpStore *otp.MemoryStore

	conn interface {
		Close() error
	}
	revoked func(ctx context.Context) (int64, error)
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conn, rm, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	sender := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
	notifier := notify.NewAsyncNotifier(sender, logger, sendTimeout)

	otpStore := otp.NewMemoryStore()
	wf := otp.NewWorkflow(otpStore, rm.Users(conn), notifier, logger, cfg.OTPValidityDuration, cfg.OTPRequestInterval)

	userSvc := services.NewUserService(conn, rm, wf, notifier, logger, cfg)
	chatSvc := services.NewChatService(conn, rm, logger)

	app := &App{
		config:   cfg,
		logger:   logger,
		handler:  httpapi.NewServer(userSvc, chatSvc, wf, logger, cfg).Handler(),
		notifier: notifier,
		otpStore: otpStore,
		conn:     conn,
		revoked: func(ctx context.Context) (int64, error) {
			return rm.RevokedTokens(conn).PurgeExpired(ctx, time.Now())
		},
	}
	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runMaintenance expires stale OTP entries and purges revoked-token rows
// whose underlying tokens can no longer be presented anyway.
func (app *App) runMaintenance(ctx context.Context) {
	sweep := time.NewTicker(otpSweepInterval)
	purge := time.NewTicker(revokedPurgePeriod)
	defer sweep.Stop()
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if removed := app.otpStore.Sweep(); removed > 0 {
				app.logger.Debug(ctx, "expired OTP entries removed", "count", removed)
			}
		case <-purge.C:
			removed, err := app.revoked(ctx)
			if err != nil {
				app.logger.Error(ctx, "revoked token purge failed", "error", err)
				continue
			}
			if removed > 0 {
				app.logger.Debug(ctx, "expired revoked tokens purged", "count", removed)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)
	go app.runMaintenance(ctx)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "http server error", "error", err)
		}
	case <-ctx.Done():
		app.logger.Info(ctx, "Shutting down...")
		shutdownCtx, release := context.WithTimeout(context.Background(), shutdownTimeout)
		defer release()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}

	app.closeNotifier(context.Background())
	if err := app.conn.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}

func (app *App) closeNotifier(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		app.notifier.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(notifierCloseTimeout):
		app.logger.Warn(ctx, "notifier close timed out, pending notifications dropped")
	}
}
