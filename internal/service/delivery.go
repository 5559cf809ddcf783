package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phonechecker/phonechecker/internal/metrics"
	"github.com/phonechecker/phonechecker/internal/notify"
)

// DefaultNotifyTimeout bounds a single delivery.
const DefaultNotifyTimeout = 10 * time.Second

// Delivery sends messages through a Notifier and absorbs every failure:
// delivery problems are logged and counted but never fail the request.
type Delivery struct {
	notifier notify.Notifier
	timeout  time.Duration
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewDelivery wraps n.
func NewDelivery(n notify.Notifier, timeout time.Duration, recorder metrics.Recorder, logger *slog.Logger) *Delivery {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Delivery{notifier: n, timeout: timeout, metrics: recorder, logger: logger}
}

// ActivationCode sends a freshly issued code.
func (d *Delivery) ActivationCode(ctx context.Context, userID, handle, code string, ttl time.Duration) {
	d.deliver(ctx, userID, handle, "activation", func(ctx context.Context) (*notify.Receipt, error) {
		return d.notifier.SendActivationCode(ctx, handle, code, ttl)
	})
}

// Notification sends a titled message.
func (d *Delivery) Notification(ctx context.Context, userID, handle, title, message string) {
	d.deliver(ctx, userID, handle, "notification", func(ctx context.Context) (*notify.Receipt, error) {
		return d.notifier.SendNotification(ctx, handle, title, message)
	})
}

func (d *Delivery) deliver(ctx context.Context, userID, handle, kind string, send func(context.Context) (*notify.Receipt, error)) {
	if handle == "" {
		d.logger.Info("no telegram handle", "user_id", userID, "kind", kind)
		d.metrics.IncNotification(metrics.NotificationSkipped)
		return
	}

	// A client that hangs up must not abort a send already under way.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	receipt, err := send(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, notify.ErrNoHandle) {
			level = slog.LevelInfo
		}
		d.logger.Log(ctx, level, "telegram delivery failed",
			"user_id", userID,
			"kind", kind,
			"error", err,
		)
		d.metrics.IncNotification(metrics.NotificationFailed)
		return
	}

	d.logger.Debug("telegram message sent",
		"user_id", userID,
		"kind", kind,
		"chat_id", receipt.ChatID,
		"message_id", receipt.MessageID,
	)
	d.metrics.IncNotification(metrics.NotificationSent)
}
