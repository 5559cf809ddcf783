package service_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/ledger"
	"github.com/phonechecker/phonechecker/internal/metrics"
	"github.com/phonechecker/phonechecker/internal/service"
	"github.com/phonechecker/phonechecker/internal/testutil"
)

type fixture struct {
	store     *testutil.MemStore
	validator *testutil.FakeValidator
	notifier  *testutil.FakeNotifier
	metrics   *metrics.InMemoryRecorder
	tokens    *auth.TokenIssuer
	ledger    *ledger.Ledger
	checks    *service.CheckService
	accounts  *service.AccountService
	dashboard *service.DashboardService
	now       time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, noResult ...string) *fixture {
	t.Helper()

	f := &fixture{
		store:     testutil.NewMemStore(),
		validator: testutil.NewFakeValidator(noResult...),
		notifier:  &testutil.FakeNotifier{},
		metrics:   metrics.NewInMemory(),
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	f.tokens = tokens

	clock := func() time.Time { return f.now }
	logger := discardLogger()

	f.ledger = ledger.New(f.store, ledger.DefaultLimits(), time.UTC).WithClock(clock)
	delivery := service.NewDelivery(f.notifier, time.Second, f.metrics, logger)
	f.checks = service.NewCheckService(f.store, f.ledger, f.validator, delivery, f.metrics, logger)
	f.accounts = service.NewAccountService(f.store, tokens, delivery, service.AccountConfig{
		DefaultCredits: 50000,
		ActivationTTL:  30 * time.Second,
	}, f.metrics, logger).WithClock(clock)
	f.dashboard = service.NewDashboardService(f.store, f.ledger)

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}
