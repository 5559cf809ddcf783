package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/handler/dto"
	"github.com/phonechecker/phonechecker/internal/ledger"
	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/service"
)

// Endpoint names accepted in ?endpoint=.
const (
	EndpointCheck         = "check"
	EndpointBulkCheck     = "bulk_check"
	EndpointRegister      = "register"
	EndpointLogin         = "login"
	EndpointActivate      = "activate"
	EndpointStats         = "stats"
	EndpointNotifications = "notifications"
	EndpointMarkRead      = "mark_read"
)

var errForbidden = errors.New("forbidden")

// APIConfig configures the dispatcher.
type APIConfig struct {
	// AuthEnforce requires a bearer token whose subject matches user_id
	// for user-attributed operations.
	AuthEnforce bool
	// Location formats activation expiry timestamps.
	Location *time.Location
}

// API dispatches /api requests on the endpoint query parameter.
type API struct {
	checks    *service.CheckService
	accounts  *service.AccountService
	dashboard *service.DashboardService
	enforce   bool
	loc       *time.Location
	logger    *slog.Logger
	routes    map[string]endpointFunc
}

type endpointFunc func(w http.ResponseWriter, r *http.Request, req dto.Request)

// NewAPI creates the dispatcher.
func NewAPI(checks *service.CheckService, accounts *service.AccountService, dashboard *service.DashboardService, cfg APIConfig, logger *slog.Logger) *API {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &API{
		checks:    checks,
		accounts:  accounts,
		dashboard: dashboard,
		enforce:   cfg.AuthEnforce,
		loc:       cfg.Location,
		logger:    logger,
	}
	a.routes = map[string]endpointFunc{
		EndpointCheck:         a.check,
		EndpointBulkCheck:     a.bulkCheck,
		EndpointRegister:      a.register,
		EndpointLogin:         a.login,
		EndpointActivate:      a.activate,
		EndpointStats:         a.stats,
		EndpointNotifications: a.notifications,
		EndpointMarkRead:      a.markRead,
	}
	return a
}

// ServeHTTP handles GET, POST and OPTIONS /api?endpoint=...
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	route, ok := a.routes[r.URL.Query().Get("endpoint")]
	if !ok {
		writeError(w, http.StatusNotFound, "Invalid endpoint")
		return
	}

	route(w, r, dto.DecodeRequest(r.Body))
}

// check handles endpoint=check.
func (a *API) check(w http.ResponseWriter, r *http.Request, req dto.Request) {
	id := identity(r, string(req.UserID))
	if err := a.authorize(r, id.UserID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	result, err := a.checks.Check(r.Context(), id, string(req.PhoneNumber))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, result)
}

// bulkCheck handles endpoint=bulk_check.
func (a *API) bulkCheck(w http.ResponseWriter, r *http.Request, req dto.Request) {
	id := identity(r, string(req.UserID))
	if err := a.authorize(r, id.UserID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	result, err := a.checks.BulkCheck(r.Context(), id, req.PhoneNumbers)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	a.logger.Info("bulk_check_completed",
		"identity", id.Kind(),
		"submitted", len(req.PhoneNumbers),
		"processed", result.TotalProcessed,
	)
	writeSuccess(w, result)
}

// register handles endpoint=register.
func (a *API) register(w http.ResponseWriter, r *http.Request, req dto.Request) {
	reg, err := a.accounts.Register(r.Context(), service.RegisterInput{
		Username:         req.Username,
		Password:         req.Password,
		TelegramUsername: req.TelegramUsername,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	a.logger.Info("user_registered", "user_id", reg.UserID)
	writeSuccess(w, dto.NewRegisterResponse(reg.UserID, service.RegistrationMessage, reg.ActivationExpires, a.loc))
}

// login handles endpoint=login.
func (a *API) login(w http.ResponseWriter, r *http.Request, req dto.Request) {
	res, err := a.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, dto.LoginResponse{
		UserID:   res.UserID,
		Username: res.Username,
		Credits:  res.Credits,
		Token:    res.Token,
	})
}

// activate handles endpoint=activate.
func (a *API) activate(w http.ResponseWriter, r *http.Request, req dto.Request) {
	if err := a.accounts.Activate(r.Context(), req.Username, string(req.Code)); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, dto.MessageResponse{Message: service.ActivationMessage})
}

// stats handles endpoint=stats.
func (a *API) stats(w http.ResponseWriter, r *http.Request, req dto.Request) {
	userID := dashboardUserID(r, req)
	if err := a.authorize(r, userID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	stats, err := a.dashboard.Stats(r.Context(), userID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, stats)
}

// notifications handles endpoint=notifications.
func (a *API) notifications(w http.ResponseWriter, r *http.Request, req dto.Request) {
	userID := dashboardUserID(r, req)
	if err := a.authorize(r, userID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	list, err := a.dashboard.Notifications(r.Context(), userID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	writeSuccess(w, list)
}

// markRead handles endpoint=mark_read.
func (a *API) markRead(w http.ResponseWriter, r *http.Request, req dto.Request) {
	userID := dashboardUserID(r, req)
	if err := a.authorize(r, userID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	updated, err := a.dashboard.MarkRead(r.Context(), userID, string(req.NotificationID))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, dto.MarkReadResponse{Updated: updated})
}

// authorize rejects a user-attributed request whose bearer token belongs
// to someone else. It is a no-op unless enforcement is on.
func (a *API) authorize(r *http.Request, userID string) error {
	if !a.enforce || userID == "" {
		return nil
	}
	if auth.UserIDFromContext(r.Context()) != userID {
		return errForbidden
	}
	return nil
}

func (a *API) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var input *service.InputError
	var bulk *ledger.BulkLimitError

	switch {
	case errors.As(err, &input):
		writeError(w, http.StatusBadRequest, input.Error())
	case errors.As(err, &bulk):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Bulk limit exceeded. Maximum: %d numbers", bulk.Max))
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	default:
		a.logger.Error("internal_error",
			"endpoint", r.URL.Query().Get("endpoint"),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

// identity attributes a check to userID when given, otherwise to the
// client address.
func identity(r *http.Request, userID string) ledger.Identity {
	return ledger.Identity{UserID: userID, IP: clientIP(r)}
}

// clientIP returns the host part of RemoteAddr. middleware.RealIP rewrites
// it from forwarding headers only for trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func dashboardUserID(r *http.Request, req dto.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return string(req.UserID)
}
