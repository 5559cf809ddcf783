package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/phonechecker/phonechecker/internal/ledger"
	"github.com/phonechecker/phonechecker/internal/metrics"
	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/phone"
)

// Bulk completion notice.
const (
	BulkNotificationTitle  = "Bulk Check Completed"
	bulkNotificationFormat = "Your bulk phone number check has been completed successfully. %d numbers processed."
)

// CheckStore persists checks and the notifications they raise.
type CheckStore interface {
	CreatePhoneCheck(ctx context.Context, check *model.PhoneCheck) error
	CreateNotification(ctx context.Context, n *model.Notification) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// CheckService validates phone numbers against the ledger.
type CheckService struct {
	store     CheckStore
	ledger    *ledger.Ledger
	validator phone.Validator
	delivery  *Delivery
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewCheckService creates a CheckService.
func NewCheckService(store CheckStore, l *ledger.Ledger, v phone.Validator, d *Delivery, recorder metrics.Recorder, logger *slog.Logger) *CheckService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckService{
		store:     store,
		ledger:    l,
		validator: v,
		delivery:  d,
		metrics:   recorder,
		logger:    logger,
	}
}

// BulkResult is the outcome of a bulk check. Numbers the validator could
// not process are left out of Results.
type BulkResult struct {
	TotalProcessed int             `json:"total_processed"`
	Results        []*phone.Result `json:"results"`
}

// Check validates one number. One unit is reserved up front and refunded
// when the validator produces no result or the check cannot be recorded.
func (s *CheckService) Check(ctx context.Context, id ledger.Identity, number string) (*phone.Result, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrPhoneRequired
	}

	ok, err := s.ledger.Reserve(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.IncRateLimited(id.Kind())
		return nil, ErrRateLimited
	}

	result, err := s.validate(ctx, number)
	if err != nil {
		s.metrics.IncCheck(metrics.ModeSingle, metrics.OutcomeNoResult)
		s.refund(ctx, id)
		return nil, ErrValidationFailed
	}

	if err := s.record(ctx, id, number, result); err != nil {
		s.refund(ctx, id)
		return nil, err
	}
	s.metrics.IncCheck(metrics.ModeSingle, outcome(result))

	return result, nil
}

// BulkCheck validates numbers serially. The batch must fit MaxBulk and pass
// the same gate as a single check; afterwards the number of results is
// debited in one step.
func (s *CheckService) BulkCheck(ctx context.Context, id ledger.Identity, numbers []string) (*BulkResult, error) {
	if len(numbers) == 0 {
		return nil, ErrPhoneListRequired
	}
	if err := s.ledger.CheckBulkSize(id, len(numbers)); err != nil {
		return nil, err
	}

	ok, err := s.ledger.Allow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.IncRateLimited(id.Kind())
		return nil, ErrBulkRateLimited
	}

	results := make([]*phone.Result, 0, len(numbers))
	for _, raw := range numbers {
		if err := ctx.Err(); err != nil {
			// Stop validating; what was processed still gets settled.
			s.logger.Warn("bulk check interrupted", "processed", len(results), "error", err)
			break
		}

		number := strings.TrimSpace(raw)
		result, err := s.validate(ctx, number)
		if err != nil {
			s.metrics.IncCheck(metrics.ModeBulk, metrics.OutcomeNoResult)
			continue
		}
		if err := s.record(ctx, id, number, result); err != nil {
			s.logger.Error("failed to record phone check", "error", err)
			continue
		}
		s.metrics.IncCheck(metrics.ModeBulk, outcome(result))
		results = append(results, result)
	}

	settleCtx := context.WithoutCancel(ctx)
	if err := s.ledger.Settle(settleCtx, id, len(results)); err != nil {
		return nil, err
	}

	if id.IsUser() {
		s.notifyBulkComplete(settleCtx, id.UserID, len(results))
	}

	return &BulkResult{TotalProcessed: len(results), Results: results}, nil
}

// refund gives back the unit Check reserved. It must happen even when the
// client has gone away.
func (s *CheckService) refund(ctx context.Context, id ledger.Identity) {
	if err := s.ledger.Refund(context.WithoutCancel(ctx), id, 1); err != nil {
		s.logger.Error("refund failed", "identity", id.Kind(), "error", err)
	}
}

func (s *CheckService) validate(ctx context.Context, number string) (*phone.Result, error) {
	start := time.Now()
	result, err := s.validator.Validate(ctx, number)
	s.metrics.ObserveValidationDuration(time.Since(start))

	if err == nil && result == nil {
		err = phone.ErrNoResult
	}
	if err != nil && !errors.Is(err, phone.ErrNoResult) {
		s.logger.Warn("validator error", "error", err)
	}
	return result, err
}

func (s *CheckService) record(ctx context.Context, id ledger.Identity, number string, result *phone.Result) error {
	check := &model.PhoneCheck{
		ID:              ulid.Make().String(),
		IPAddress:       id.IP,
		PhoneNumber:     number,
		Country:         optional(result.CountryName()),
		RegionCode:      optional(result.RegionCode()),
		NetworkOperator: optional(result.CarrierName()),
		NumberType:      optional(result.TypeName()),
		IsValid:         result.Valid,
		CreatedAt:       s.ledger.Now().UTC(),
	}
	if id.IsUser() {
		check.UserID = &id.UserID
	}

	if err := s.store.CreatePhoneCheck(ctx, check); err != nil {
		return fmt.Errorf("record phone check: %w", err)
	}
	return nil
}

func (s *CheckService) notifyBulkComplete(ctx context.Context, userID string, processed int) {
	message := fmt.Sprintf(bulkNotificationFormat, processed)

	n := &model.Notification{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Title:     BulkNotificationTitle,
		Message:   message,
		CreatedAt: s.ledger.Now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Error("failed to store notification", "user_id", userID, "error", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load user for notification", "user_id", userID, "error", err)
		return
	}
	s.delivery.Notification(ctx, userID, user.TelegramHandle(), BulkNotificationTitle, message)
}

func outcome(r *phone.Result) string {
	if r.Valid {
		return metrics.OutcomeValid
	}
	return metrics.OutcomeInvalid
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
