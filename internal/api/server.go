// Package api exposes the reservation engine over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"spacehire/internal/access"
	"spacehire/internal/apperr"
	"spacehire/internal/booking"
	"spacehire/internal/ledger"
	"spacehire/internal/metrics"
	"spacehire/internal/timechange"
)

// Services are the engine operations the API calls.
type Services struct {
	Bookings    *booking.Service
	TimeChanges *timechange.Service
	Ledger      *ledger.Ledger
	Access      *access.Service
}

// Check reports whether a dependency is ready.
type Check func(ctx context.Context) error

type Config struct {
	AllowedOrigins []string
	// WebhookSecret authenticates payment processor callbacks. When empty,
	// callbacks require an admin identity.
	WebhookSecret   string
	RateLimitPerSec float64
	RateLimitBurst  int
}

type Server struct {
	router  *httprouter.Router
	svc     Services
	auth    *Authenticator
	idem    *Idempotency
	limiter *RateLimiter
	checks  map[string]Check
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

func NewServer(cfg Config, svc Services, auth *Authenticator, idem *Idempotency, checks map[string]Check, logger zerolog.Logger) *Server {
	s := &Server{
		router:  httprouter.New(),
		svc:     svc,
		auth:    auth,
		idem:    idem,
		limiter: NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		checks:  checks,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apperr.NotFound("no route for %s %s", r.Method, r.URL.Path))
	})
	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
		writeError(w, apperr.Internal(nil, "panic"))
	}
	s.routes()
	return s
}

// Handler returns the router behind CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", idempotencyHeader, "X-User-ID", "X-User-Role"},
		ExposedHeaders: []string{"Idempotent-Replayed", "Retry-After"},
		MaxAge:         600,
	}).Handler(s.router)
}

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", s.public("healthz", s.handleHealth))
	r.GET("/readyz", s.public("readyz", s.handleReady))

	r.GET("/spaces/:id", s.user("get_space", s.handleGetSpace))
	r.GET("/spaces/:id/slots", s.user("space_slots", s.handleSlots))
	r.GET("/spaces/:id/bookings", s.user("space_bookings", s.handleListBookings))
	r.DELETE("/spaces/:id", s.mutate("delete_space", s.handleDeleteSpace))

	r.POST("/bookings", s.mutate("create_booking", s.handleCreateBooking))
	r.GET("/bookings/:id", s.user("get_booking", s.handleGetBooking))
	r.POST("/bookings/:id/respond", s.mutate("respond_booking", s.handleRespondBooking))
	r.POST("/bookings/:id/cancel", s.mutate("cancel_booking", s.handleCancelBooking))
	r.POST("/bookings/:id/complete", s.mutate("complete_booking", s.handleCompleteBooking))
	r.POST("/bookings/:id/payment/retry", s.mutate("retry_payment", s.handleRetryPayment))
	r.POST("/bookings/:id/accrue", s.mutate("accrue_booking", s.handleAccrueBooking))
	r.POST("/bookings/:id/check-in", s.mutate("check_in", s.handleCheckIn))
	r.POST("/bookings/:id/check-out", s.mutate("check_out", s.handleCheckOut))
	r.POST("/bookings/:id/time-changes", s.mutate("propose_time_change", s.handleProposeTimeChange))
	r.GET("/bookings/:id/time-changes", s.user("list_time_changes", s.handleListTimeChanges))
	r.POST("/time-changes/:id/respond", s.mutate("respond_time_change", s.handleRespondTimeChange))

	r.POST("/payments/webhook", s.public("payment_webhook", s.handlePaymentWebhook))
	r.GET("/payouts/:id", s.user("get_payout", s.handleGetPayout))
	r.POST("/payouts/:id/retry", s.mutate("retry_payout", s.handleRetryPayout))

	r.GET("/admin/blocklist", s.user("list_blocked", s.handleListBlocked))
	r.POST("/admin/blocklist", s.mutate("block_user", s.handleBlockUser))
	r.DELETE("/admin/blocklist/:userId", s.mutate("unblock_user", s.handleUnblockUser))
}

// public routes are rate limited by IP only.
func (s *Server) public(route string, h httprouter.Handle) httprouter.Handle {
	return s.instrument(route, s.limiter.Limit(h))
}

func (s *Server) user(route string, h httprouter.Handle) httprouter.Handle {
	return s.instrument(route, s.authenticate(s.limiter.Limit(h)))
}

func (s *Server) mutate(route string, h httprouter.Handle) httprouter.Handle {
	return s.instrument(route, s.authenticate(s.limiter.Limit(s.idem.Wrap(h))))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (s *Server) instrument(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next(sw, r, ps)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		metrics.IncHTTPRequest(route, strconv.Itoa(sw.status))

		ev := s.logger.Debug()
		if sw.status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("route", route).Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", sw.status).Dur("took", time.Since(started)).Msg("request")
	}
}

// fail logs internal causes and renders the error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if e := apperr.As(err); e.Kind == apperr.KindInternal {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, err)
}

func pathID(ps httprouter.Params, name string) (int64, error) {
	id, err := strconv.ParseInt(ps.ByName(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s %q", name, ps.ByName(name))
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}
