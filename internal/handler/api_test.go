package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonechecker/phonechecker/api"
	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/handler"
	"github.com/phonechecker/phonechecker/internal/ledger"
	"github.com/phonechecker/phonechecker/internal/metrics"
	"github.com/phonechecker/phonechecker/internal/middleware"
	"github.com/phonechecker/phonechecker/internal/service"
	"github.com/phonechecker/phonechecker/internal/testutil"
)

// httptest.NewRequest sets RemoteAddr to 192.0.2.1:1234.
const testIP = "192.0.2.1"

var loadSpec = sync.OnceValues(func() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(api.Spec)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
})

// assertSchema validates raw JSON against a named component schema.
func assertSchema(t *testing.T, name string, raw []byte) {
	t.Helper()

	doc, err := loadSpec()
	require.NoError(t, err)

	ref, ok := doc.Components.Schemas[name]
	require.True(t, ok, "schema %s not found", name)

	var value any
	require.NoError(t, json.Unmarshal(raw, &value))
	assert.NoError(t, ref.Value.VisitJSON(value), "response does not match %s: %s", name, raw)
}

type apiFixture struct {
	store     *testutil.MemStore
	validator *testutil.FakeValidator
	notifier  *testutil.FakeNotifier
	tokens    *auth.TokenIssuer
	api       *handler.API
	now       time.Time
}

func newAPIFixture(t *testing.T, enforce bool, noResult ...string) *apiFixture {
	t.Helper()

	f := &apiFixture{
		store:     testutil.NewMemStore(),
		validator: testutil.NewFakeValidator(noResult...),
		notifier:  &testutil.FakeNotifier{},
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	f.tokens = tokens

	clock := func() time.Time { return f.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewInMemory()

	l := ledger.New(f.store, ledger.DefaultLimits(), time.UTC).WithClock(clock)
	delivery := service.NewDelivery(f.notifier, time.Second, recorder, logger)

	checks := service.NewCheckService(f.store, l, f.validator, delivery, recorder, logger)
	accounts := service.NewAccountService(f.store, tokens, delivery, service.AccountConfig{}, recorder, logger).WithClock(clock)
	dashboard := service.NewDashboardService(f.store, l)

	f.api = handler.NewAPI(checks, accounts, dashboard, handler.APIConfig{
		AuthEnforce: enforce,
		Location:    time.UTC,
	}, logger)
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type response struct {
	code int
	raw  []byte
	env  envelope
}

func (f *apiFixture) do(t *testing.T, method, target, body string, mutate ...func(*http.Request)) response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}

	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)

	res := response{code: rec.Code, raw: rec.Body.Bytes()}
	if len(res.raw) > 0 {
		require.NoError(t, json.Unmarshal(res.raw, &res.env), "body: %s", res.raw)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	return res
}

func (f *apiFixture) post(t *testing.T, endpoint, body string, mutate ...func(*http.Request)) response {
	t.Helper()
	return f.do(t, http.MethodPost, "/api?endpoint="+endpoint, body, mutate...)
}

func (f *apiFixture) addUser(t *testing.T, name string, credits int64) string {
	t.Helper()
	u := testutil.NewTestUser(t, name, credits)
	f.store.AddUser(u)
	return u.ID
}

// bearer attaches verified claims for userID, as the auth middleware does.
func (f *apiFixture) bearer(t *testing.T, userID string) func(*http.Request) {
	t.Helper()
	token, err := f.tokens.Issue(userID, "someone")
	require.NoError(t, err)
	claims, err := f.tokens.Verify(token)
	require.NoError(t, err)

	return func(r *http.Request) {
		*r = *r.WithContext(auth.ContextWithClaims(r.Context(), claims))
	}
}

func requireError(t *testing.T, res response, code int, message string) {
	t.Helper()
	require.Equal(t, code, res.code, "body: %s", res.raw)
	assert.False(t, res.env.Success)
	assert.Equal(t, message, res.env.Error)
	assertSchema(t, "ErrorEnvelope", res.raw)
}

func requireSuccess(t *testing.T, res response, schema string) {
	t.Helper()
	require.Equal(t, http.StatusOK, res.code, "body: %s", res.raw)
	assert.True(t, res.env.Success)
	assertSchema(t, "SuccessEnvelope", res.raw)
	if schema != "" {
		assertSchema(t, schema, res.env.Data)
	}
}

func TestAPI_Options(t *testing.T) {
	f := newAPIFixture(t, false)

	res := f.do(t, http.MethodOptions, "/api?endpoint=check", "")

	assert.Equal(t, http.StatusOK, res.code)
	assert.Empty(t, res.raw)
}

func TestAPI_InvalidEndpoint(t *testing.T) {
	f := newAPIFixture(t, false)

	for _, target := range []string{"/api", "/api?endpoint=", "/api?endpoint=delete_everything"} {
		res := f.do(t, http.MethodPost, target, `{}`)
		requireError(t, res, http.StatusNotFound, "Invalid endpoint")
	}
}

func TestAPI_Check_Guest(t *testing.T) {
	f := newAPIFixture(t, false)

	res := f.post(t, "check", `{"phone_number":"  +966501234567 "}`)

	requireSuccess(t, res, "PhoneResult")
	var result map[string]any
	require.NoError(t, json.Unmarshal(res.env.Data, &result))
	assert.Equal(t, true, result["valid"])

	checks := f.store.Checks()
	require.Len(t, checks, 1)
	assert.Equal(t, "+966501234567", checks[0].PhoneNumber)
	assert.Equal(t, testIP, checks[0].IPAddress)
	assert.Nil(t, checks[0].UserID)
	assert.Equal(t, 1, f.store.IPLimit(testIP).ChecksToday)
}

func TestAPI_Check_ParseFailureIsAResult(t *testing.T) {
	f := newAPIFixture(t, false)

	res := f.post(t, "check", `{"phone_number":"12345"}`)

	requireSuccess(t, res, "PhoneResult")
	var result map[string]any
	require.NoError(t, json.Unmarshal(res.env.Data, &result))
	assert.Equal(t, false, result["success"])
	assert.NotEmpty(t, result["error"])
}

func TestAPI_Check_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		setup   func(f *apiFixture)
		code    int
		message string
	}{
		{"missing number", `{}`, nil, http.StatusBadRequest, "Phone number is required"},
		{"malformed body", `{"phone_number":`, nil, http.StatusBadRequest, "Phone number is required"},
		{"guest at daily limit", `{"phone_number":"+966501234567"}`, func(f *apiFixture) {
			f.store.SetIPLimit(testIP, 50, f.now)
		}, http.StatusBadRequest, "Rate limit exceeded"},
		{"no result", `{"phone_number":"+966000"}`, nil, http.StatusBadRequest, "Failed to validate phone number"},
		{"store failure", `{"phone_number":"+966501234567"}`, func(f *apiFixture) {
			f.store.Err = errors.New("connection reset by peer")
		}, http.StatusInternalServerError, "Server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, false, "+966000")
			if tt.setup != nil {
				tt.setup(f)
			}

			res := f.post(t, "check", tt.body)

			requireError(t, res, tt.code, tt.message)
		})
	}
}

func TestAPI_Check_NumericUserID(t *testing.T) {
	f := newAPIFixture(t, false)
	u := testutil.NewTestUser(t, "numeric", 10)
	u.ID = "42"
	f.store.AddUser(u)

	res := f.post(t, "check", `{"phone_number":966501234567,"user_id":42}`)

	requireSuccess(t, res, "PhoneResult")
	assert.Equal(t, int64(9), f.store.User("42").Credits)
	assert.Nil(t, f.store.IPLimit(testIP), "user checks do not touch the guest counter")
	assert.Equal(t, []string{"966501234567"}, f.validator.Calls())
}

func TestAPI_Check_UserWithoutCredits(t *testing.T) {
	f := newAPIFixture(t, false)
	id := f.addUser(t, "broke", 0)

	res := f.post(t, "check", fmt.Sprintf(`{"phone_number":"+966501234567","user_id":%q}`, id))

	requireError(t, res, http.StatusBadRequest, "Rate limit exceeded")
	assert.Empty(t, f.validator.Calls())
}

func TestAPI_BulkCheck_User(t *testing.T) {
	f := newAPIFixture(t, false, "+966000")
	id := f.addUser(t, "bulker", 100)

	body := fmt.Sprintf(`{"user_id":%q,"phone_numbers":["+966501234567","+966000",""]}`, id)
	res := f.post(t, "bulk_check", body)

	requireSuccess(t, res, "BulkCheckResult")
	var result service.BulkResult
	require.NoError(t, json.Unmarshal(res.env.Data, &result))
	assert.Equal(t, 2, result.TotalProcessed, "the no-result number is dropped")
	assert.Len(t, result.Results, 2)
	assert.Equal(t, int64(98), f.store.User(id).Credits)

	notifications := f.store.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, service.BulkNotificationTitle, notifications[0].Title)
	assert.Contains(t, notifications[0].Message, "2 numbers processed")

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "bulker_tg", sent[0].Handle)
}

func TestAPI_BulkCheck_Errors(t *testing.T) {
	tooMany := make([]string, 101)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("%q", fmt.Sprintf("+9665%08d", i))
	}

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing array", `{}`, "Phone numbers array is required"},
		{"not an array", `{"phone_numbers":"+966501234567"}`, "Phone numbers array is required"},
		{"empty array", `{"phone_numbers":[]}`, "Phone numbers array is required"},
		{"over guest cap", `{"phone_numbers":[` + strings.Join(tooMany, ",") + `]}`, "Bulk limit exceeded. Maximum: 100 numbers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, false)

			res := f.post(t, "bulk_check", tt.body)

			requireError(t, res, http.StatusBadRequest, tt.message)
			assert.Empty(t, f.validator.Calls())
		})
	}
}

func TestAPI_BulkCheck_GuestGate(t *testing.T) {
	f := newAPIFixture(t, false)
	f.store.SetIPLimit(testIP, 50, f.now)

	res := f.post(t, "bulk_check", `{"phone_numbers":["+966501234567"]}`)

	requireError(t, res, http.StatusBadRequest, "Rate limit exceeded for bulk operation")
}

func TestAPI_AccountLifecycle(t *testing.T) {
	f := newAPIFixture(t, false)

	res := f.post(t, "register", `{"username":"alice","password":"s3cret-pass","telegram_username":"@alice_tg"}`)
	requireSuccess(t, res, "Registration")

	var reg struct {
		UserID            string `json:"user_id"`
		Message           string `json:"message"`
		ActivationExpires string `json:"activation_expires"`
	}
	require.NoError(t, json.Unmarshal(res.env.Data, &reg))
	assert.Equal(t, service.RegistrationMessage, reg.Message)
	assert.Equal(t, "2025-06-01 12:00:30", reg.ActivationExpires)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice_tg", sent[0].Handle)
	code := sent[0].Code
	require.Len(t, code, 6)

	res = f.post(t, "login", `{"username":"alice","password":"s3cret-pass"}`)
	requireError(t, res, http.StatusBadRequest, "Account not activated")

	res = f.post(t, "activate", `{"username":"alice","code":"000000"}`)
	requireError(t, res, http.StatusBadRequest, "Invalid activation code")

	res = f.post(t, "activate", fmt.Sprintf(`{"username":"alice","code":%q}`, code))
	requireSuccess(t, res, "Message")
	assert.JSONEq(t, `{"message":"Account activated successfully"}`, string(res.env.Data))

	res = f.post(t, "activate", fmt.Sprintf(`{"username":"alice","code":%q}`, code))
	requireError(t, res, http.StatusBadRequest, "Invalid activation code")

	res = f.post(t, "login", `{"username":"alice","password":"s3cret-pass"}`)
	requireSuccess(t, res, "Login")

	var login struct {
		UserID  string `json:"user_id"`
		Credits int64  `json:"credits"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(res.env.Data, &login))
	assert.Equal(t, reg.UserID, login.UserID)
	assert.Equal(t, int64(service.DefaultCredits), login.Credits)

	claims, err := f.tokens.Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, claims.Subject)
}

func TestAPI_Activate_Expired(t *testing.T) {
	f := newAPIFixture(t, false)
	f.store.AddUser(testutil.NewPendingUser(t, "slowpoke", "123456", f.now.Add(-time.Second)))

	res := f.post(t, "activate", `{"username":"slowpoke","code":"123456"}`)

	requireError(t, res, http.StatusBadRequest, "Activation code expired")
}

func TestAPI_AccountErrors(t *testing.T) {
	tests := []struct {
		endpoint string
		body     string
		message  string
	}{
		{"register", `{"username":"bob"}`, "Username and password are required"},
		{"register", `not json`, "Username and password are required"},
		{"register", `{"username":"ab","password":"pw"}`, "Username must be between 3 and 50 characters"},
		{"register", `{"username":"taken","password":"pw"}`, "Username already exists"},
		{"register", `{"username":"carol","password":"pw","telegram_username":"no"}`, "Invalid Telegram username"},
		{"login", `{"username":"taken"}`, "Username and password are required"},
		{"login", `{"username":"taken","password":"wrong"}`, "Invalid credentials"},
		{"login", `{"username":"ghost","password":"wrong"}`, "Invalid credentials"},
		{"activate", `{"username":"taken"}`, "Username and activation code are required"},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint+" "+tt.message, func(t *testing.T) {
			f := newAPIFixture(t, false)
			f.addUser(t, "taken", 10)

			res := f.post(t, tt.endpoint, tt.body)

			requireError(t, res, http.StatusBadRequest, tt.message)
		})
	}
}

func TestAPI_Register_DuplicateCreatesNoRow(t *testing.T) {
	f := newAPIFixture(t, false)

	requireSuccess(t, f.post(t, "register", `{"username":"dup","password":"pw"}`), "Registration")
	res := f.post(t, "register", `{"username":"dup","password":"other"}`)

	requireError(t, res, http.StatusBadRequest, "Username already exists")
	assert.Equal(t, 1, f.store.UserCount())
}

func TestAPI_Stats(t *testing.T) {
	f := newAPIFixture(t, false)
	id := f.addUser(t, "stats", 500)
	requireSuccess(t, f.post(t, "check", fmt.Sprintf(`{"phone_number":"+966501234567","user_id":%q}`, id)), "")

	res := f.do(t, http.MethodGet, "/api?endpoint=stats&user_id="+id, "")
	requireSuccess(t, res, "Stats")
	assert.JSONEq(t, `{"credits":499,"total_checks":1,"today_checks":1}`, string(res.env.Data))

	// The body is consulted when the query has no user_id.
	res = f.post(t, "stats", fmt.Sprintf(`{"user_id":%q}`, id))
	requireSuccess(t, res, "Stats")

	requireError(t, f.do(t, http.MethodGet, "/api?endpoint=stats", ""), http.StatusBadRequest, "User ID required")
	requireError(t, f.do(t, http.MethodGet, "/api?endpoint=stats&user_id=nobody", ""), http.StatusBadRequest, "User not found")
}

func TestAPI_Notifications(t *testing.T) {
	f := newAPIFixture(t, false)
	id := f.addUser(t, "reader", 500)

	res := f.do(t, http.MethodGet, "/api?endpoint=notifications&user_id="+id, "")
	requireSuccess(t, res, "NotificationList")
	assert.JSONEq(t, `[]`, string(res.env.Data))

	for range 2 {
		requireSuccess(t, f.post(t, "bulk_check", fmt.Sprintf(`{"user_id":%q,"phone_numbers":["+966501234567"]}`, id)), "")
	}

	res = f.do(t, http.MethodGet, "/api?endpoint=notifications&user_id="+id, "")
	requireSuccess(t, res, "NotificationList")
	var list []struct {
		ID     string `json:"id"`
		IsRead bool   `json:"is_read"`
	}
	require.NoError(t, json.Unmarshal(res.env.Data, &list))
	require.Len(t, list, 2)
	assert.False(t, list[0].IsRead)

	res = f.post(t, "mark_read", fmt.Sprintf(`{"user_id":%q,"notification_id":%q}`, id, list[0].ID))
	requireSuccess(t, res, "MarkRead")
	assert.JSONEq(t, `{"updated":1}`, string(res.env.Data))

	res = f.do(t, http.MethodPost, "/api?endpoint=mark_read&user_id="+id, `{}`)
	requireSuccess(t, res, "MarkRead")
	assert.JSONEq(t, `{"updated":1}`, string(res.env.Data), "only the unread one remains")

	requireError(t, f.post(t, "mark_read", `{}`), http.StatusBadRequest, "User ID required")
	requireError(t, f.do(t, http.MethodGet, "/api?endpoint=notifications", ""), http.StatusBadRequest, "User ID required")
}

func TestAPI_Enforce(t *testing.T) {
	f := newAPIFixture(t, true)
	id := f.addUser(t, "owner", 10)
	other := f.addUser(t, "other", 10)

	t.Run("guest checks stay open", func(t *testing.T) {
		requireSuccess(t, f.post(t, "check", `{"phone_number":"+966501234567"}`), "PhoneResult")
	})

	t.Run("user check without token", func(t *testing.T) {
		res := f.post(t, "check", fmt.Sprintf(`{"phone_number":"+966501234567","user_id":%q}`, id))
		requireError(t, res, http.StatusForbidden, "Forbidden")
	})

	t.Run("stats with another user's token", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api?endpoint=stats&user_id="+id, "", f.bearer(t, other))
		requireError(t, res, http.StatusForbidden, "Forbidden")
	})

	t.Run("stats with own token", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api?endpoint=stats&user_id="+id, "", f.bearer(t, id))
		requireSuccess(t, res, "Stats")
	})

	t.Run("bulk with own token", func(t *testing.T) {
		body := fmt.Sprintf(`{"user_id":%q,"phone_numbers":["+966501234567"]}`, id)
		requireSuccess(t, f.post(t, "bulk_check", body, f.bearer(t, id)), "BulkCheckResult")
	})

	t.Run("login stays open", func(t *testing.T) {
		res := f.post(t, "login", `{"username":"owner","password":"`+testutil.TestPassword+`"}`)
		requireSuccess(t, res, "Login")
	})
}

func TestAPI_ServerErrorHidesDetails(t *testing.T) {
	f := newAPIFixture(t, false)
	f.store.Err = errors.New("pq: password authentication failed for user admin")

	res := f.do(t, http.MethodGet, "/api?endpoint=stats&user_id=someone", "")

	requireError(t, res, http.StatusInternalServerError, "Server error")
	assert.NotContains(t, string(res.raw), "password")
}

func TestAPI_Check_GuestLimitIgnoresForwardedHeaders(t *testing.T) {
	f := newAPIFixture(t, false)
	h := middleware.RealIP(nil)(f.api)

	passed := 0
	for i := 1; i <= 60; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api?endpoint=check", strings.NewReader(`{"phone_number":"+966501234567"}`))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code == http.StatusOK {
			passed++
			continue
		}
		require.Equal(t, http.StatusBadRequest, rec.Code, "check %d: %s", i, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	}

	assert.Equal(t, 50, passed)
	require.NotNil(t, f.store.IPLimit(testIP))
	assert.Equal(t, 50, f.store.IPLimit(testIP).ChecksToday)
	assert.Nil(t, f.store.IPLimit("10.0.0.1"))
}

func TestAPI_Check_TrustedProxyForwardsClient(t *testing.T) {
	f := newAPIFixture(t, false)
	h := middleware.RealIP([]netip.Prefix{netip.MustParsePrefix(testIP + "/32")})(f.api)

	req := httptest.NewRequest(http.MethodPost, "/api?endpoint=check", strings.NewReader(`{"phone_number":"+966501234567"}`))
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, f.store.IPLimit(testIP), "the proxy itself is not charged")
	require.NotNil(t, f.store.IPLimit("198.51.100.20"))
	assert.Equal(t, 1, f.store.IPLimit("198.51.100.20").ChecksToday)
}
