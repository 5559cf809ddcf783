package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/cache"
	"github.com/phonechecker/phonechecker/internal/metrics"
	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/repository"
)

// Messages returned on success.
const (
	RegistrationMessage = "Registration successful. Check your Telegram for activation code."
	ActivationMessage   = "Account activated successfully"
)

// Account defaults.
const (
	DefaultCredits       = 50000
	DefaultActivationTTL = 30 * time.Second
)

// AccountStore persists users.
type AccountStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetPendingActivation(ctx context.Context, username, code string) (*model.User, error)
	ActivateUser(ctx context.Context, id, code string, now time.Time) error
}

// AttemptLimiter locks a key after too many failures.
type AttemptLimiter interface {
	Check(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
}

// AccountConfig holds account policy.
type AccountConfig struct {
	DefaultCredits int64
	ActivationTTL  time.Duration
}

// AccountService handles registration, activation and login.
type AccountService struct {
	store      AccountStore
	tokens     *auth.TokenIssuer
	delivery   *Delivery
	cfg        AccountConfig
	logins     AttemptLimiter
	activation AttemptLimiter
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewAccountService creates an AccountService without attempt limiting.
func NewAccountService(store AccountStore, tokens *auth.TokenIssuer, d *Delivery, cfg AccountConfig, recorder metrics.Recorder, logger *slog.Logger) *AccountService {
	if cfg.DefaultCredits <= 0 {
		cfg.DefaultCredits = DefaultCredits
	}
	if cfg.ActivationTTL <= 0 {
		cfg.ActivationTTL = DefaultActivationTTL
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		store:    store,
		tokens:   tokens,
		delivery: d,
		cfg:      cfg,
		metrics:  recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLimiters enables attempt limiting for login and activation.
func (s *AccountService) WithLimiters(logins, activation AttemptLimiter) *AccountService {
	s.logins = logins
	s.activation = activation
	return s
}

// WithClock replaces the time source.
func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

// RegisterInput defines input for Register.
type RegisterInput struct {
	Username         string
	Password         string
	TelegramUsername string
}

// Registration is the result of Register.
type Registration struct {
	UserID            string
	ActivationExpires time.Time
}

// Register creates an inactive account and sends its activation code.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*Registration, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, ErrCredentialsRequired
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	handle, err := NormalizeTelegramUsername(input.TelegramUsername)
	if err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := auth.GenerateActivationCode()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.ActivationTTL)
	user := &model.User{
		ID:                ulid.Make().String(),
		Username:          username,
		PasswordHash:      hash,
		IsActive:          false,
		ActivationCode:    &code,
		ActivationExpires: &expires,
		Credits:           s.cfg.DefaultCredits,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if handle != "" {
		user.TelegramUsername = &handle
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.metrics.IncRegistration()

	s.delivery.ActivationCode(ctx, user.ID, handle, code, s.cfg.ActivationTTL)

	return &Registration{UserID: user.ID, ActivationExpires: expires}, nil
}

// LoginResult is the result of Login.
type LoginResult struct {
	UserID   string
	Username string
	Credits  int64
	Token    string
}

// Login verifies credentials and issues a bearer token.
func (s *AccountService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrCredentialsRequired
	}

	key := limiterKey(username)
	if s.locked(ctx, s.logins, key) {
		s.metrics.IncLogin(metrics.LoginLocked)
		return nil, ErrTooManyLogins
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("get user: %w", err)
		}
		auth.BurnVerify(password)
		s.fail(ctx, s.logins, key)
		s.metrics.IncLogin(metrics.LoginInvalid)
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.fail(ctx, s.logins, key)
		s.metrics.IncLogin(metrics.LoginInvalid)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.metrics.IncLogin(metrics.LoginInactive)
		return nil, ErrAccountNotActivated
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.reset(ctx, s.logins, key)
	s.metrics.IncLogin(metrics.LoginSuccess)

	return &LoginResult{
		UserID:   user.ID,
		Username: user.Username,
		Credits:  user.Credits,
		Token:    token,
	}, nil
}

// Activate consumes a pending activation code. A code works once and only
// before it expires.
func (s *AccountService) Activate(ctx context.Context, username, code string) error {
	username = strings.TrimSpace(username)
	code = strings.TrimSpace(code)
	if username == "" || code == "" {
		return ErrActivationRequired
	}

	key := limiterKey(username)
	if s.locked(ctx, s.activation, key) {
		return ErrTooManyActivations
	}

	user, err := s.store.GetPendingActivation(ctx, username, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.fail(ctx, s.activation, key)
			return ErrInvalidActivationCode
		}
		return fmt.Errorf("get pending activation: %w", err)
	}

	now := s.now().UTC()
	if user.ActivationExpired(now) {
		return ErrActivationCodeExpired
	}

	if err := s.store.ActivateUser(ctx, user.ID, code, now); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Used or expired between the read and the update.
			return ErrInvalidActivationCode
		}
		return fmt.Errorf("activate user: %w", err)
	}

	s.reset(ctx, s.activation, key)
	s.logger.Info("account activated", "user_id", user.ID)
	return nil
}

func limiterKey(username string) string {
	return auth.QuickHash(strings.ToLower(username))
}

// locked reports whether key is locked. Limiter outages fail open.
func (s *AccountService) locked(ctx context.Context, l AttemptLimiter, key string) bool {
	if l == nil {
		return false
	}
	err := l.Check(ctx, key)
	switch {
	case err == nil:
		return false
	case errors.Is(err, cache.ErrTooManyAttempts):
		return true
	default:
		s.logger.Warn("attempt limiter unavailable", "error", err)
		return false
	}
}

func (s *AccountService) fail(ctx context.Context, l AttemptLimiter, key string) {
	if l == nil {
		return
	}
	if err := l.RecordFailure(ctx, key); err != nil && !errors.Is(err, cache.ErrTooManyAttempts) {
		s.logger.Warn("attempt limiter unavailable", "error", err)
	}
}

func (s *AccountService) reset(ctx context.Context, l AttemptLimiter, key string) {
	if l == nil {
		return
	}
	if err := l.Reset(ctx, key); err != nil {
		s.logger.Warn("attempt limiter unavailable", "error", err)
	}
}
