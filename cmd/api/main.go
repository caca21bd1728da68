package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/workspace-service/internal/api/http"
	"github.com/spec-kit/workspace-service/internal/api/http/handlers"
	"github.com/spec-kit/workspace-service/internal/auth"
	"github.com/spec-kit/workspace-service/internal/config"
	"github.com/spec-kit/workspace-service/internal/events"
	"github.com/spec-kit/workspace-service/internal/mail"
	"github.com/spec-kit/workspace-service/internal/observability"
	"github.com/spec-kit/workspace-service/internal/persistence"
	"github.com/spec-kit/workspace-service/internal/repository"
	"github.com/spec-kit/workspace-service/internal/service"
	"github.com/spec-kit/workspace-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()
	store := redis.Store()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, metrics))

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), auth.WithIssuer(cfg.Auth.JWTIssuer))
	revocations := auth.NewRevocationStore(store, logger.Named("revocation"))
	ephemeral := auth.NewEphemeralStore(store, auth.EphemeralConfig{
		VerificationTTL: cfg.Auth.VerificationTTL(),
		ResetTTL:        cfg.Auth.PasswordResetTTL(),
		Retention:       cfg.Auth.ExpiredTokenRetention(),
	}, logger.Named("ephemeral"))

	sessions := service.NewSessionService(service.SessionDependencies{
		Users:       userRepo,
		Hasher:      auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:      tokens,
		Revocations: revocations,
		Ephemeral:   ephemeral,
		Mailer:      newMailer(cfg.Mail, logger),
		Composer: mail.Composer{
			From:      mail.Address{Name: cfg.Mail.FromName, Email: cfg.Mail.FromEmail},
			PublicURL: cfg.App.PublicURL,
			ResetPath: cfg.App.ResetPath,
		},
		Dispatcher: dispatcher,
		Logger:     logger.Named("session"),
	})
	gate := auth.NewAccessGate(tokens, revocations, userRepo, logger.Named("gate"), metrics)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	binder := handlers.NewBinder()
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:        handlers.NewAuthHandler(sessions, binder),
		Users:       handlers.NewUsersHandler(sessions),
		Gate:        gate,
		Metrics:     metrics,
		AuthRateRPM: cfg.RateLimit.AuthRPM,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func newMailer(cfg config.MailConfig, logger *zap.Logger) mail.Sender {
	if cfg.SMTPHost == "" {
		logger.Warn("MAIL_SMTP_HOST not set; emails are logged instead of sent")
		return mail.NewLogSender(logger.Named("mail"))
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Timeout:  cfg.Timeout(),
	}, logger.Named("mail"))
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
