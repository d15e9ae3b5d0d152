package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"kasa/internal/auth"
	"kasa/internal/log"
	"kasa/internal/middleware/ratelimit"
	"kasa/internal/middleware/security"
	"kasa/internal/middleware/trace"
	"kasa/internal/services"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config holds the server settings that do not come from the services.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	// TrustedProxies are CIDRs, beyond loopback and private ranges, whose
	// forwarded headers are believed.
	TrustedProxies []string
	// Checks run on /readyz, keyed by the name reported in the response.
	Checks map[string]ReadinessCheck
	Logger *log.Logger
}

type Server struct {
	http.Server
	ledger *services.LedgerService
	auth   *services.AuthService
	tokens *auth.TokenIssuer
	logger *log.Logger
	events *log.StructuredLogger
	checks map[string]ReadinessCheck

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime        time.Time
	registrations atomic.Int64
	logins        atomic.Int64
	failedLogins  atomic.Int64
	monthViews    atomic.Int64
	monthEdits    atomic.Int64
	itemsAdded    atomic.Int64
	itemsRemoved  atomic.Int64
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, ledger *services.LedgerService, authSvc *services.AuthService, tokens *auth.TokenIssuer) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, fmt.Errorf("trusted proxies: %w", err)
		}
	}

	limiterCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitPerMinute > 0 {
		limiterCfg.RequestsPerMinute = cfg.RateLimitPerMinute
	}

	s := &Server{
		ledger:           ledger,
		auth:             authSvc,
		tokens:           tokens,
		logger:           logger,
		events:           log.NewStructuredLogger(logger),
		checks:           cfg.Checks,
		rateLimiter:      ratelimit.NewLimiter(limiterCfg),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP, logger),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}

	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Accounts
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.requireAuth(s.handleMe))

	// Ledger
	mux.HandleFunc("GET /api/months", s.requireAuth(s.handleListMonths))
	mux.HandleFunc("GET /api/months/{month}", s.requireAuth(s.handleViewMonth))
	mux.HandleFunc("PUT /api/months/{month}", s.requireAuth(s.handleEditMonth))
	mux.HandleFunc("POST /api/months/{month}/{kind}", s.requireAuth(s.handleAddItem))
	mux.HandleFunc("DELETE /api/months/{month}/{kind}/{id}", s.requireAuth(s.handleRemoveItem))
	mux.HandleFunc("GET /api/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /api/record", s.requireAuth(s.handleRecord))

	var h http.Handler = mux
	h = s.rateLimiter.Middleware(detector.ExtractClientIP, isWrite, s.onRateLimit)(h)
	h = detector.Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(logger)(h)
	h = s.traceMiddleware.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// isWrite selects the requests counted by the rate limiter. Login and
// register are POSTs, so password guessing is limited too.
func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	TooManyRequestsError("rate limit exceeded, try again later").Write(w)
}

// requireAuth resolves the bearer token to a username and stores it in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			UnauthorizedError("missing bearer token").Write(w)
			return
		}
		username, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, r, "authenticate", err)
			return
		}

		logger := log.FromContext(r.Context()).With(log.FieldUsername, username)
		ctx := context.WithValue(r.Context(), log.LoggerContextKey, logger)
		next(w, r.WithContext(withUsername(ctx, username)))
	}
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any, len(s.checks)+1)

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			s.logger.WarnContext(ctx, "Readiness check failed", "check", name, log.FieldError, err)
			continue
		}
		checks[name] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	JSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	m := s.appMetrics

	w.WriteHeader(http.StatusOK)

	writeMetric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	writeMetric(w, "http_client_errors_total", "counter", "Responses with a 4xx status", traceMetrics.ClientErrors)
	writeMetric(w, "http_server_errors_total", "counter", "Responses with a 5xx status", traceMetrics.ServerErrors)
	writeMetric(w, "http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	writeMetric(w, "registrations_total", "counter", "Users registered", m.registrations.Load())
	writeMetric(w, "logins_total", "counter", "Successful logins", m.logins.Load())
	writeMetric(w, "logins_failed_total", "counter", "Rejected logins", m.failedLogins.Load())
	writeMetric(w, "month_views_total", "counter", "Month composites served", m.monthViews.Load())
	writeMetric(w, "month_edits_total", "counter", "Month edits reconciled", m.monthEdits.Load())
	writeMetric(w, "items_added_total", "counter", "Items added through item endpoints", m.itemsAdded.Load())
	writeMetric(w, "items_removed_total", "counter", "Items removed through item endpoints", m.itemsRemoved.Load())
	writeMetric(w, "rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	writeMetric(w, "active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	writeMetric(w, "suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	writeMetric(w, "invalid_forwarded_ip_total", "counter", "Malformed forwarded client IPs", securityMetrics.InvalidIPAttempts)
	writeMetric(w, "uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(m.uptime).Seconds()))
}

func writeMetric(w http.ResponseWriter, name, kind, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n\n", name, value)
}
