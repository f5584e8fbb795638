package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tbeaudouin05/snapcal-api/api/grpcserver"
	diaryapp "github.com/tbeaudouin05/snapcal-api/api/services/diary/app"
	entitlementapp "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/app"
	stripeapp "github.com/tbeaudouin05/snapcal-api/api/services/stripe/app"
	usersapp "github.com/tbeaudouin05/snapcal-api/api/services/users/app"
)

// HealthChecker is the part of the gRPC health service /healthz relies on.
type HealthChecker interface {
	Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error)
}

// Deps are the services behind the HTTP API.
type Deps struct {
	Users     usersapp.Service
	Access    entitlementapp.Service
	Billing   stripeapp.Service
	Diary     diaryapp.Service
	Health    HealthChecker
	JWTSecret []byte
}

type handlers struct {
	Deps
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewRouter returns the central HTTP router for the API using the grpc-gateway mux.
func NewRouter(d Deps) (http.Handler, error) {
	mux := runtime.NewServeMux(
		runtime.WithRoutingErrorHandler(routingErrorHandler),
	)
	h := handlers{Deps: d}
	metricsHandler := promhttp.Handler()

	routes := []route{
		{http.MethodPost, "/api/auth/register", h.register},
		{http.MethodPost, "/api/auth/login", h.login},
		{http.MethodGet, "/api/access", h.authenticated(h.access)},
		{http.MethodPost, "/api/billing/checkout", h.authenticated(h.checkout)},
		{http.MethodPost, "/api/billing/cancel", h.authenticated(h.cancel)},
		{http.MethodPost, "/api/receive-stripe-webhook", h.stripeWebhook},
		{http.MethodPost, "/api/diary/entries", h.authenticated(h.entitled(h.addEntry))},
		{http.MethodGet, "/api/diary/entries", h.authenticated(h.entitled(h.listEntries))},
		{http.MethodDelete, "/api/diary/entries/{id}", h.authenticated(h.entitled(h.deleteEntry))},
		{http.MethodGet, "/healthz", h.healthz},
		{http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			metricsHandler.ServeHTTP(w, r)
		}},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func routingErrorHandler(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, status int) {
	writeError(w, status, http.StatusText(status))
}

func (h handlers) healthz(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.Health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	body, err := protojson.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusOK
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stripeapp.ErrInvalidSignature),
		errors.Is(err, stripeapp.ErrBadEvent),
		errors.Is(err, usersapp.ErrInvalidInput),
		errors.Is(err, diaryapp.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, usersapp.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, stripeapp.ErrNotFound),
		errors.Is(err, entitlementapp.ErrNotFound),
		errors.Is(err, diaryapp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usersapp.ErrEmailTaken),
		errors.Is(err, stripeapp.ErrNoSubscription):
		return http.StatusConflict
	case errors.Is(err, stripeapp.ErrUpstreamUnavailable),
		errors.Is(err, stripeapp.ErrGateway),
		errors.Is(err, stripeapp.ErrCheckoutNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError logs server-side failures and hides their details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
