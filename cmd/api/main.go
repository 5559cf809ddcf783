// Package main is the entrypoint for the Phone Checker API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phonechecker/phonechecker/api"
	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/cache"
	"github.com/phonechecker/phonechecker/internal/config"
	"github.com/phonechecker/phonechecker/internal/handler"
	"github.com/phonechecker/phonechecker/internal/ledger"
	"github.com/phonechecker/phonechecker/internal/metrics"
	"github.com/phonechecker/phonechecker/internal/middleware"
	"github.com/phonechecker/phonechecker/internal/notify"
	"github.com/phonechecker/phonechecker/internal/phone"
	"github.com/phonechecker/phonechecker/internal/repository"
	"github.com/phonechecker/phonechecker/internal/server"
	"github.com/phonechecker/phonechecker/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if cfg.RunMigrations {
		if err := repository.Migrate(ctx, cfg.DatabaseURL); err != nil {
			logger.Error("failed to run migrations",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	loc, err := cfg.Location()
	if err != nil {
		// Validate already checked the zone.
		loc = time.UTC
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Error("failed to create token issuer", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; tokens will not survive a restart")
	}

	notifier, closeNotifier, err := newNotifier(cfg)
	if err != nil {
		logger.Error("failed to create notifier", "error", err)
		os.Exit(1)
	}

	recorder := metrics.NewInMemory()
	l := ledger.New(repo, ledger.Limits{
		GuestDaily: cfg.GuestDailyLimit,
		BulkUser:   cfg.BulkLimitUser,
		BulkGuest:  cfg.BulkLimitGuest,
	}, loc)
	delivery := service.NewDelivery(notifier, cfg.NotifyTimeout, recorder, logger)

	checks := service.NewCheckService(repo, l, newValidator(cfg), delivery, recorder, logger)
	accounts := service.NewAccountService(repo, tokens, delivery, service.AccountConfig{
		DefaultCredits: cfg.DefaultCredits,
		ActivationTTL:  cfg.ActivationCodeTTL,
	}, recorder, logger).WithLimiters(
		cacheClient.NewAttemptLimiter("login", cfg.LoginMaxAttempts, cfg.LoginAttemptWindow),
		cacheClient.NewAttemptLimiter("activate", cfg.ActivationMaxAttempts, cfg.ActivationAttemptWindow),
	)
	dashboard := service.NewDashboardService(repo, l)

	apiHandler := handler.NewAPI(checks, accounts, dashboard, handler.APIConfig{
		AuthEnforce: cfg.AuthEnforce,
		Location:    loc,
	}, logger)

	r := setupRouter(routes{
		h:       handler.New(api.Spec),
		health:  handler.NewHealthHandler(repo, cacheClient, logger),
		metrics: handler.NewMetricsHandler(recorder),
		api:     apiHandler,
	}, tokens, cacheClient, recorder, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// LIFO: the notifier closes first, the pool last.
	srv.OnShutdown("postgres", func(ctx context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(ctx context.Context) error {
		return cacheClient.Close()
	})
	srv.OnShutdown("notifier", func(ctx context.Context) error {
		return closeNotifier()
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"validator", cfg.Validator,
		"notifier", cfg.Notifier,
		"auth_enforce", cfg.AuthEnforce,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newValidator selects the validation delegate.
func newValidator(cfg *config.Config) phone.Validator {
	if cfg.Validator == config.ValidatorRemote {
		return phone.NewRemote(cfg.ValidatorURL, cfg.ValidatorDefaultRegion, cfg.ValidatorTimeout)
	}
	return phone.NewLibPhoneNumber(cfg.ValidatorDefaultRegion)
}

// newNotifier selects the messaging delegate and returns its closer.
func newNotifier(cfg *config.Config) (notify.Notifier, func() error, error) {
	if cfg.Notifier == config.NotifierTelegram {
		t := notify.NewTelegram(notify.TelegramConfig{
			APIURL:      cfg.TelegramAPIURL,
			Token:       cfg.TelegramBotToken,
			RPS:         cfg.TelegramRPS,
			MaxAttempts: cfg.TelegramMaxAttempts,
			Timeout:     cfg.NotifyTimeout,
		})
		return t, func() error { return nil }, nil
	}

	l, err := notify.NewLog(cfg.NotifyLogPath)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routes struct {
	h       *handler.Handler
	health  *handler.HealthHandler
	metrics *handler.MetricsHandler
	api     http.Handler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(rt routes, tokens *auth.TokenIssuer, limiter middleware.BurstChecker, recorder metrics.Recorder, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Already checked by config.Load.
	proxies, _ := cfg.ProxyPrefixes()

	r.Use(middleware.RealIP(proxies))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.Get("/healthz", rt.health.Healthz)
	r.Get("/readyz", rt.health.Readyz)
	r.Get("/metrics", rt.metrics.Metrics)
	r.Get("/openapi.yaml", rt.h.OpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
		r.Use(middleware.RateLimitIP(middleware.RateLimitConfig{
			Logger:  logger,
			Limiter: limiter,
			Metrics: recorder,
			Enabled: cfg.RateLimitEnabled,
			RPS:     cfg.RateLimitRPS,
			Burst:   cfg.RateLimitBurst,
		}))
		r.Use(middleware.Authenticate(tokens, cfg.AuthEnforce, logger))

		for _, path := range []string{"/api", "/api/", "/api/index.php"} {
			r.Method(http.MethodGet, path, rt.api)
			r.Method(http.MethodPost, path, rt.api)
			r.Method(http.MethodOptions, path, rt.api)
		}
	})

	r.NotFound(rt.h.NotFound)
	r.MethodNotAllowed(rt.h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
