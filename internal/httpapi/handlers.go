// Package httpapi exposes the HR services over HTTP/JSON.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/hr"
	"rhgestor.org/internal/obs"
)

const serviceName = "rhgestor-api"

// ReadyProbe checks that the database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Services are the domain collaborators behind the routes.
type Services struct {
	Authorizer  *auth.Authorizer
	Accounts    *auth.AccountService
	Employees   *hr.EmployeeService
	Annotations *hr.AnnotationService
	Documents   *hr.DocumentService
	Settings    *hr.SettingsService
}

// Options tune transport behavior.
type Options struct {
	Logger         *zap.Logger
	Metrics        *obs.Metrics
	Ready          readinessChecker
	Version        string
	Development    bool
	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
	Now            func() time.Time
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	svc     Services
	logger  *zap.Logger
	metrics *obs.Metrics
	ready   readinessChecker
	version string
	dev     bool
	now     func() time.Time

	rateBurst  int
	ratePerSec int
	maxBody    int64
	origins    []string
	proxies    []netip.Prefix
}

func New(svc Services, opts Options) *API {
	a := &API{
		router:     mux.NewRouter(),
		svc:        svc,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		ready:      opts.Ready,
		version:    opts.Version,
		dev:        opts.Development,
		now:        opts.Now,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		maxBody:    opts.MaxBodyBytes,
		origins:    opts.AllowedOrigins,
		proxies:    opts.TrustedProxies,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.metrics == nil {
		a.metrics = obs.NewMetrics(nil)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(captureRoute)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// public
	api.HandleFunc("/admin-users/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/admin-users/forgot-password", a.handleForgotPassword).Methods(http.MethodPost)
	api.HandleFunc("/admin-users/reset-password/{token}", a.handleResetPassword).Methods(http.MethodPost)

	p := api.NewRoute().Subrouter()
	p.Use(a.withAuth)

	p.HandleFunc("/admin-users/me", a.handleMe).Methods(http.MethodGet)
	p.HandleFunc("/admin-users/change-password", a.handleChangePassword).Methods(http.MethodPut)
	p.HandleFunc("/admin-users/register", a.handleRegister).Methods(http.MethodPost)
	p.HandleFunc("/admin-users", a.handleListAdminUsers).Methods(http.MethodGet)
	p.HandleFunc("/admin-users/{id:[0-9]+}", a.handleGetAdminUser).Methods(http.MethodGet)
	p.HandleFunc("/admin-users/{id:[0-9]+}", a.handleUpdateAdminUser).Methods(http.MethodPut)
	p.HandleFunc("/admin-users/{id:[0-9]+}", a.handleDeleteAdminUser).Methods(http.MethodDelete)
	p.HandleFunc("/admin-users/{id:[0-9]+}/permissions", a.handleUpdatePermissions).Methods(http.MethodPut)

	p.HandleFunc("/employees", a.handleCreateEmployee).Methods(http.MethodPost)
	p.HandleFunc("/employees", a.handleListEmployees).Methods(http.MethodGet)
	p.HandleFunc("/employees/export/{format}", a.handleExportEmployees).Methods(http.MethodGet)
	p.HandleFunc("/employees/{id:[0-9]+}", a.handleGetEmployee).Methods(http.MethodGet)
	p.HandleFunc("/employees/{id:[0-9]+}", a.handleUpdateEmployee).Methods(http.MethodPut)
	p.HandleFunc("/employees/{id:[0-9]+}", a.handleDeleteEmployee).Methods(http.MethodDelete)
	p.HandleFunc("/employees/{id:[0-9]+}/history", a.handleEmployeeHistory).Methods(http.MethodGet)

	p.HandleFunc("/employees/{employeeId:[0-9]+}/annotations", a.handleCreateAnnotation).Methods(http.MethodPost)
	p.HandleFunc("/employees/{employeeId:[0-9]+}/annotations", a.handleListAnnotations).Methods(http.MethodGet)
	p.HandleFunc("/employees/{employeeId:[0-9]+}/annotations/{annotationId:[0-9]+}", a.handleUpdateAnnotation).Methods(http.MethodPut)
	p.HandleFunc("/employees/{employeeId:[0-9]+}/annotations/{annotationId:[0-9]+}", a.handleDeleteAnnotation).Methods(http.MethodDelete)
	p.HandleFunc("/annotations/search", a.handleListAnnotations).Methods(http.MethodGet)

	p.HandleFunc("/employees/{employeeId:[0-9]+}/documents", a.handleUploadDocuments).Methods(http.MethodPost)
	p.HandleFunc("/employees/{employeeId:[0-9]+}/documents", a.handleListDocuments).Methods(http.MethodGet)
	p.HandleFunc("/employees/{employeeId:[0-9]+}/documents/{documentId:[0-9]+}", a.handleDeleteDocument).Methods(http.MethodDelete)
	p.HandleFunc("/documents/search", a.handleListDocuments).Methods(http.MethodGet)

	p.HandleFunc("/settings", a.handleListSettings).Methods(http.MethodGet)
	p.HandleFunc("/settings", a.handleUpsertSetting).Methods(http.MethodPost)
	p.HandleFunc("/settings/{key}", a.handleGetSetting).Methods(http.MethodGet)
	p.HandleFunc("/settings/{key}", a.handleDeleteSetting).Methods(http.MethodDelete)
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = a.metrics.Instrument(h, routeTemplate)
	h = withRouteHolder(h)
	h = Logging(h, a.logger)
	h = Recover(h, a.logger)
	h = ClientIP(h, a.proxies)
	return RequestID(h)
}

// The router hands matched routes to handlers on a derived request, so the
// template is passed back to the metrics wrapper through a holder.
type routeHolder struct{ template string }

type routeHolderKey struct{}

func withRouteHolder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), routeHolderKey{}, &routeHolder{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func captureRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(routeHolderKey{}).(*routeHolder); ok {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					h.template = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// routeTemplate names the matched route for metric labels.
func routeTemplate(r *http.Request) string {
	if h, ok := r.Context().Value(routeHolderKey{}).(*routeHolder); ok {
		return h.template
	}
	return ""
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
