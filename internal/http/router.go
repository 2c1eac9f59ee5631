package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/travel-bookings-and-payments/internal/idempotency"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(JWTMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/bookings", h.CreateBooking)
	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Post("/v1/bookings/{id}/confirm", h.ConfirmBooking)
	r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
	r.Post("/v1/bookings/{id}/payment", h.ProcessPayment)
	r.Get("/v1/bookings/reference/{reference}", h.GetBookingByReference)
	r.Get("/v1/bookings/saga/{sagaID}", h.GetBookingBySagaID)
	r.Get("/v1/users/{userID}/bookings", h.GetUserBookings)
	r.Post("/v1/payments/refund", h.RefundPayment)
	r.Post("/v1/payments/{id}/reconcile", h.ReconcilePayment)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
